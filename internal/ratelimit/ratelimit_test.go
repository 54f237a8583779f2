package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeAllower struct {
	keys      []string
	remaining int
	err       error
}

func (f *fakeAllower) Allow(_ context.Context, key string) (Decision, error) {
	f.keys = append(f.keys, key)
	if f.err != nil {
		return Decision{}, f.err
	}
	if f.remaining == 0 {
		return Decision{Allowed: false, RetryAfter: 2500 * time.Millisecond}, nil
	}
	f.remaining--
	return Decision{Allowed: true, Remaining: f.remaining}, nil
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestMiddleware_BlocksWhenEmpty(t *testing.T) {
	allower := &fakeAllower{remaining: 1}
	handler := Middleware(allower, 1)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req.RemoteAddr = "10.0.0.1:5555"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("first request status = %d", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("remaining header = %q", rec.Header().Get("X-RateLimit-Remaining"))
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "3" {
		t.Fatalf("Retry-After = %q", rec.Header().Get("Retry-After"))
	}
	if allower.keys[0] != "10.0.0.1:POST /api/auth/login" {
		t.Fatalf("key = %q", allower.keys[0])
	}
}

func TestMiddleware_FailsOpen(t *testing.T) {
	handler := Middleware(&fakeAllower{err: errors.New("redis down")}, 5)(okHandler())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want pass-through", rec.Code)
	}
}

func TestMiddleware_NilAllower(t *testing.T) {
	handler := Middleware(nil, 5)(okHandler())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
}
