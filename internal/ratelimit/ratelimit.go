package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jalsetu/apiserver/config"
	"github.com/redis/go-redis/v9"
)

// tokenBucket refills one token per interval up to capacity and takes one
// token per call. Returns {allowed, remaining, retry_after_ms}.
var tokenBucket = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local interval_ms = tonumber(ARGV[3])
local ttl_seconds = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])
if tokens == nil or last_refill == nil then
	tokens = capacity
	last_refill = now_ms
end

local elapsed = math.max(0, now_ms - last_refill)
local intervals = math.floor(elapsed / interval_ms)
if intervals > 0 then
	tokens = math.min(capacity, tokens + intervals)
	last_refill = last_refill + intervals * interval_ms
end

local allowed = 0
local retry_after_ms = 0
if tokens > 0 then
	allowed = 1
	tokens = tokens - 1
else
	retry_after_ms = math.max(0, interval_ms - (now_ms - last_refill))
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
redis.call('EXPIRE', key, ttl_seconds)
return {allowed, tokens, retry_after_ms}
`)

// Decision is the outcome of one rate-limit check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Allower decides whether a request identified by key may proceed.
type Allower interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Limiter is a Redis-backed token bucket shared by every API replica.
type Limiter struct {
	client   *redis.Client
	capacity int
	interval time.Duration
	prefix   string
}

func NewLimiter(client *redis.Client, cfg config.RateLimitConfig) *Limiter {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = 20
	}
	interval := cfg.RefillInterval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Limiter{client: client, capacity: capacity, interval: interval, prefix: cfg.Prefix}
}

func (l *Limiter) Capacity() int {
	return l.capacity
}

func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	ttl := time.Duration(l.capacity) * l.interval
	if ttl < time.Second {
		ttl = time.Second
	}
	args := []any{
		time.Now().UnixMilli(),
		l.capacity,
		l.interval.Milliseconds(),
		int64(math.Ceil(ttl.Seconds())),
	}

	result, err := tokenBucket.Run(ctx, l.client, []string{l.prefix + ":" + key}, args...).Int64Slice()
	if err != nil {
		return Decision{}, err
	}
	if len(result) != 3 {
		return Decision{}, fmt.Errorf("unexpected limiter result %v", result)
	}
	return Decision{
		Allowed:    result[0] == 1,
		Remaining:  int(result[1]),
		RetryAfter: time.Duration(result[2]) * time.Millisecond,
	}, nil
}

// Middleware limits requests per client IP and route. A nil allower or a
// Redis failure lets the request through.
func Middleware(allower Allower, capacity int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if allower == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientIP(r) + ":" + r.Method + " " + r.URL.Path
			decision, err := allower.Allow(r.Context(), key)
			if err != nil {
				slog.WarnContext(r.Context(), "rate limiter unavailable", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(capacity))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			if !decision.Allowed {
				secs := int(math.Ceil(decision.RetryAfter.Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP relies on chi's RealIP middleware having rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "unknown"
	}
	return host
}
