package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/loginflow"
	"github.com/dmitrymomot/loginflow/core/logger"
	"github.com/dmitrymomot/loginflow/pkg/broadcast"
)

// Mirror copies snapshots from a hub subscription into Redis: the latest
// snapshot under a key and every snapshot on a pub/sub channel, so other
// processes can observe runs they do not own.
type Mirror struct {
	client  redis.UniversalClient
	key     string
	channel string
	ttl     time.Duration
	logger  *slog.Logger
}

// MirrorOption configures a Mirror.
type MirrorOption func(*Mirror)

func WithMirrorLogger(l *slog.Logger) MirrorOption {
	return func(m *Mirror) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewMirror creates a mirror writing to the key and channel of cfg.
func NewMirror(client redis.UniversalClient, cfg Config, opts ...MirrorOption) *Mirror {
	m := &Mirror{
		client:  client,
		key:     cfg.MirrorKey,
		channel: cfg.MirrorChannel,
		ttl:     cfg.MirrorTTL,
		logger:  logger.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run forwards every snapshot of sub until ctx is done or sub is closed.
// A failed write is logged and the mirror keeps going.
func (m *Mirror) Run(ctx context.Context, sub broadcast.Subscription[loginflow.State]) error {
	defer sub.Close()

	for {
		s, err := sub.Next(ctx)
		if err != nil {
			if errors.Is(err, broadcast.ErrChannelClosed) || errors.Is(err, broadcast.ErrSubscriptionClosed) {
				return ErrMirrorStopped
			}
			return err
		}

		if err := m.Write(ctx, s); err != nil {
			m.logger.WarnContext(ctx, "mirror write failed",
				logger.Component("redis_mirror"),
				logger.Snapshot(s),
				logger.Error(err),
			)
		}
	}
}

// Write stores s as the latest snapshot and publishes it.
func (m *Mirror) Write(ctx context.Context, s loginflow.State) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = m.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, m.key, data, m.ttl)
		if m.channel != "" {
			p.Publish(ctx, m.channel, data)
		}
		return nil
	})
	return err
}

// Last returns the latest mirrored snapshot. ok is false if none is stored.
func (m *Mirror) Last(ctx context.Context) (s loginflow.State, ok bool, err error) {
	data, err := m.client.Get(ctx, m.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return s, false, nil
	}
	if err != nil {
		return s, false, err
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, false, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return s, true, nil
}

// Watch subscribes to the mirror channel and calls fn for every snapshot
// until ctx is done.
func (m *Mirror) Watch(ctx context.Context, fn func(loginflow.State)) error {
	ps := m.client.Subscribe(ctx, m.channel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", m.channel, err)
	}

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return ErrMirrorStopped
			}
			var s loginflow.State
			if err := json.Unmarshal([]byte(msg.Payload), &s); err != nil {
				m.logger.WarnContext(ctx, "skipping malformed snapshot", logger.Error(err))
				continue
			}
			fn(s)
		}
	}
}
