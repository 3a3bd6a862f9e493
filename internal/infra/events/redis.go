package events

import (
	"context"
	"fmt"

	"github.com/fastprodman/caseledger/internal/config"
	"github.com/redis/go-redis/v9"
)

// OpenRedis connects and pings. Callers own Close.
func OpenRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	err := rdb.Ping(ctx).Err()
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return rdb, nil
}
