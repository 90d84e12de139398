package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

// Connect creates a client for cfg and pings it until it answers, retrying
// with exponential backoff. The whole attempt is bounded by ConnectTimeout.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	if cfg.ConnectionURL == "" {
		return nil, ErrEmptyConnectionURL
	}
	if !strings.HasPrefix(cfg.ConnectionURL, "redis://") && !strings.HasPrefix(cfg.ConnectionURL, "rediss://") {
		return nil, fmt.Errorf("%w: unsupported scheme", ErrFailedToParseRedisConnString)
	}

	opts, err := redis.ParseURL(cfg.ConnectionURL)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseRedisConnString, err)
	}

	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	client := redis.NewClient(opts)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.RetryInterval
	b.MaxElapsedTime = 0
	retries := uint64(max(cfg.RetryAttempts, 1) - 1)

	err = backoff.Retry(func() error {
		return client.Ping(ctx).Err()
	}, backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx))
	if err != nil {
		_ = client.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.Join(ErrRedisNotReady, ctxErr)
		}
		return nil, errors.Join(ErrRedisNotReady, err)
	}
	return client, nil
}

// Healthcheck returns a readiness probe that pings client.
func Healthcheck(client redis.UniversalClient) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return errors.Join(ErrHealthcheckFailed, err)
		}
		return nil
	}
}
