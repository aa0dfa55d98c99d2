package analytics

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/memberly/internal/analytics/service"
	"github.com/smallbiznis/memberly/internal/analytics/store"
	"github.com/smallbiznis/memberly/internal/clock"
	"github.com/smallbiznis/memberly/internal/config"
)

// Module wires the analytics engine. The cache store is redis-backed when a
// redis address is configured and falls back to the database table otherwise.
var Module = fx.Module("analytics",
	fx.Provide(
		newStore,
		service.New,
	),
)

func newStore(cfg config.Config, db *gorm.DB, clk clock.Clock, log *zap.Logger) store.Store {
	if cfg.RedisAddr == "" {
		return store.NewTableStore(db, clk)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	log.Named("analytics").Info("using redis analytics cache", zap.String("addr", cfg.RedisAddr))
	return store.NewRedisStore(client, clk, cfg.AnalyticsCacheTTL)
}
