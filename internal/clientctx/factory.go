package clientctx

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

type Config struct {
	DatabaseURL string
	Table       string
	RedisURL    string
	CacheTTL    time.Duration
}

// NewSource creates a postgres-backed source when configured, otherwise an
// empty static one. A redis URL adds a cache in front of it.
func NewSource(ctx context.Context, cfg Config, logger *zap.Logger) (Source, error) {
	var src Source
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		src = NewStaticSource()
	} else {
		pg, err := NewPostgresSource(ctx, cfg.DatabaseURL, cfg.Table)
		if err != nil {
			return nil, err
		}
		src = pg
	}

	if strings.TrimSpace(cfg.RedisURL) == "" {
		return src, nil
	}
	cache, err := NewRedisCache(ctx, cfg.RedisURL, cfg.CacheTTL, src, logger)
	if err != nil {
		_ = src.Close()
		return nil, err
	}
	return cache, nil
}
