package cache

import (
	"context"
	"time"

	"github.com/andresuchdata/controltower/internal/config"
)

const (
	paramsPrefix     = "forecast:params"
	defaultParamsTTL = 14 * 24 * time.Hour
)

// ParamsCache remembers the best tuned hyperparameters per model and horizon
// so untuned runs can reuse them.
type ParamsCache interface {
	GetParams(ctx context.Context, modelID, horizonKey string) (map[string]float64, bool, error)
	SetParams(ctx context.Context, modelID, horizonKey string, params map[string]float64) error
	InvalidateAll(ctx context.Context) error
}

func NewParamsCache(cfg config.CacheConfig) (ParamsCache, error) {
	if !cfg.Enabled {
		return NewNoopParamsCache(), nil
	}
	ttl := time.Duration(cfg.ParamsTTLHours) * time.Hour
	kv, err := openKeyspace[map[string]float64](cfg, paramsPrefix, ttl, defaultParamsTTL)
	if err != nil {
		return nil, err
	}
	return &redisParamsCache{kv: kv}, nil
}

func NewNoopParamsCache() ParamsCache {
	return noopParamsCache{}
}

type redisParamsCache struct {
	kv *keyspace[map[string]float64]
}

func paramsKey(modelID, horizonKey string) string {
	return modelID + ":" + horizonKey
}

func (c *redisParamsCache) GetParams(ctx context.Context, modelID, horizonKey string) (map[string]float64, bool, error) {
	return c.kv.get(ctx, paramsKey(modelID, horizonKey))
}

func (c *redisParamsCache) SetParams(ctx context.Context, modelID, horizonKey string, params map[string]float64) error {
	return c.kv.set(ctx, paramsKey(modelID, horizonKey), params)
}

func (c *redisParamsCache) InvalidateAll(ctx context.Context) error {
	return c.kv.purge(ctx)
}

type noopParamsCache struct{}

func (noopParamsCache) GetParams(context.Context, string, string) (map[string]float64, bool, error) {
	return nil, false, nil
}

func (noopParamsCache) SetParams(context.Context, string, string, map[string]float64) error {
	return nil
}

func (noopParamsCache) InvalidateAll(context.Context) error { return nil }
