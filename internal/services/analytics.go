package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jalsetu/apiserver/types"
)

const (
	analyticsCacheKey = "analytics:summary"
	analyticsCacheTTL = 60 * time.Second
)

// AnalyticsRepository runs the dashboard aggregates.
type AnalyticsRepository interface {
	ReportStatusCounts(ctx context.Context) (map[types.ReportStatus]int, error)
	AverageResolutionHours(ctx context.Context) (float64, error)
	TechnicianWorkload(ctx context.Context) ([]types.TechnicianWorkload, error)
	ScheduleCounts(ctx context.Context) (types.ScheduleCounts, error)
}

// Cache stores short-lived serialized values.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type AnalyticsService struct {
	repo  AnalyticsRepository
	cache Cache
}

// NewAnalyticsService builds the service. cache may be nil.
func NewAnalyticsService(repo AnalyticsRepository, cache Cache) *AnalyticsService {
	return &AnalyticsService{repo: repo, cache: cache}
}

func (s *AnalyticsService) Summary(ctx context.Context, actor types.Account) (types.Analytics, error) {
	if actor.Role() != types.RoleOfficer && actor.Role() != types.RoleController {
		return types.Analytics{}, ErrForbidden
	}

	if cached, ok := s.cached(ctx); ok {
		return cached, nil
	}

	counts, err := s.repo.ReportStatusCounts(ctx)
	if err != nil {
		return types.Analytics{}, err
	}
	hours, err := s.repo.AverageResolutionHours(ctx)
	if err != nil {
		return types.Analytics{}, err
	}
	technicians, err := s.repo.TechnicianWorkload(ctx)
	if err != nil {
		return types.Analytics{}, err
	}
	schedules, err := s.repo.ScheduleCounts(ctx)
	if err != nil {
		return types.Analytics{}, err
	}

	summary := types.Analytics{
		ReportsByStatus:        make(map[types.ReportStatus]int, len(types.ReportStatuses())),
		AverageResolutionHours: hours,
		Technicians:            technicians,
		Schedules:              schedules,
	}
	for _, status := range types.ReportStatuses() {
		summary.ReportsByStatus[status] = counts[status]
		summary.TotalReports += counts[status]
	}

	s.store(ctx, summary)
	return summary, nil
}

func (s *AnalyticsService) cached(ctx context.Context) (types.Analytics, bool) {
	if s.cache == nil {
		return types.Analytics{}, false
	}
	raw, ok, err := s.cache.Get(ctx, analyticsCacheKey)
	if err != nil {
		slog.WarnContext(ctx, "analytics cache read failed", "error", err)
		return types.Analytics{}, false
	}
	if !ok {
		return types.Analytics{}, false
	}
	var summary types.Analytics
	if err := json.Unmarshal(raw, &summary); err != nil {
		return types.Analytics{}, false
	}
	return summary, true
}

func (s *AnalyticsService) store(ctx context.Context, summary types.Analytics) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(summary)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, analyticsCacheKey, raw, analyticsCacheTTL); err != nil {
		slog.WarnContext(ctx, "analytics cache write failed", "error", err)
	}
}
