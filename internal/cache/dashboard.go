package cache

import (
	"context"
	"strings"
	"time"

	"github.com/andresuchdata/controltower/internal/config"
	"github.com/andresuchdata/controltower/internal/domain"
)

const (
	dashboardPrefix     = "dashboard:risk_summary"
	defaultDashboardTTL = time.Minute
	latestSummary       = "latest"
)

// DashboardCache holds the API's risk summary cards between pipeline runs.
// An empty evalDate addresses the latest evaluation.
type DashboardCache interface {
	GetRiskSummary(ctx context.Context, evalDate string) (*domain.RiskSummary, bool, error)
	SetRiskSummary(ctx context.Context, evalDate string, summary *domain.RiskSummary) error
	InvalidateAll(ctx context.Context) error
}

// NewDashboardCache returns a redis-backed cache, or a noop one when caching
// is disabled.
func NewDashboardCache(cfg config.CacheConfig) (DashboardCache, error) {
	if !cfg.Enabled {
		return NewNoopDashboardCache(), nil
	}
	ttl := time.Duration(cfg.DashboardTTLSeconds) * time.Second
	kv, err := openKeyspace[domain.RiskSummary](cfg, dashboardPrefix, ttl, defaultDashboardTTL)
	if err != nil {
		return nil, err
	}
	return &redisDashboardCache{kv: kv}, nil
}

func NewNoopDashboardCache() DashboardCache {
	return noopDashboardCache{}
}

type redisDashboardCache struct {
	kv *keyspace[domain.RiskSummary]
}

func summaryKey(evalDate string) string {
	if d := strings.TrimSpace(evalDate); d != "" {
		return d
	}
	return latestSummary
}

func (c *redisDashboardCache) GetRiskSummary(ctx context.Context, evalDate string) (*domain.RiskSummary, bool, error) {
	s, ok, err := c.kv.get(ctx, summaryKey(evalDate))
	if err != nil || !ok {
		return nil, false, err
	}
	return &s, true, nil
}

func (c *redisDashboardCache) SetRiskSummary(ctx context.Context, evalDate string, summary *domain.RiskSummary) error {
	if summary == nil {
		return nil
	}
	return c.kv.set(ctx, summaryKey(evalDate), *summary)
}

func (c *redisDashboardCache) InvalidateAll(ctx context.Context) error {
	return c.kv.purge(ctx)
}

type noopDashboardCache struct{}

func (noopDashboardCache) GetRiskSummary(context.Context, string) (*domain.RiskSummary, bool, error) {
	return nil, false, nil
}

func (noopDashboardCache) SetRiskSummary(context.Context, string, *domain.RiskSummary) error {
	return nil
}

func (noopDashboardCache) InvalidateAll(context.Context) error { return nil }
