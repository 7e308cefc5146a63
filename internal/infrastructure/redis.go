package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/krobus00/market-gateway/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	defaultRedisMaxRetry    = 5
	defaultRedisPingTimeout = 3 * time.Second
)

// NewRedisClient parses the cache DSN and waits until the server answers PING.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if strings.TrimSpace(cfg.CacheDSN) == "" {
		return nil, errors.New("redis cache_dsn is required")
	}

	options, err := redis.ParseURL(cfg.CacheDSN)
	if err != nil {
		return nil, fmt.Errorf("parse redis cache_dsn: %w", err)
	}

	client := redis.NewClient(options)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var lastErr error
	for attempt := 0; attempt <= defaultRedisMaxRetry; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, defaultRedisPingTimeout)
		lastErr = client.Ping(pingCtx).Err()
		cancel()
		if lastErr == nil {
			logrus.WithField("addr", options.Addr).Info("redis connection established")
			return client, nil
		}

		if attempt == defaultRedisMaxRetry {
			break
		}

		waitDuration := backoffWithJitter(attempt, defaultBackoffFactor, defaultMinJitter, defaultMaxJitter, rng)
		logrus.WithFields(logrus.Fields{
			"attempt":  attempt + 1,
			"retry_in": waitDuration.String(),
			"dsn":      maskDSN(cfg.CacheDSN),
		}).Warnf("redis ping failed: %v", lastErr)

		select {
		case <-time.After(waitDuration):
		case <-ctx.Done():
			_ = client.Close()
			return nil, ctx.Err()
		}
	}

	_ = client.Close()
	return nil, fmt.Errorf("connect redis: %w", lastErr)
}
