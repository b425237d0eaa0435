// Package redisstore backs the rate limiter and the slot lock with Redis.
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultPoolSize    = 50
	defaultDialTimeout = 5 * time.Second
	defaultIOTimeout   = 2 * time.Second
	pingTimeout        = 5 * time.Second
)

// ClientConfig holds connection settings.
type ClientConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// NewClient opens a client and pings it.
func NewClient(ctx context.Context, cfg ClientConfig) (*redis.Client, error) {
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = defaultPoolSize
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     poolSize,
		DialTimeout:  defaultDialTimeout,
		ReadTimeout:  defaultIOTimeout,
		WriteTimeout: defaultIOTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnect, cfg.Addr, err)
	}
	return client, nil
}
