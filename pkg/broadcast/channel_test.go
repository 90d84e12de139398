package broadcast_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/loginflow"
	"github.com/dmitrymomot/loginflow/pkg/broadcast"
)

func shortCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	t.Cleanup(cancel)
	return ctx
}

func next[T any](t *testing.T, sub broadcast.Subscription[T]) T {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := sub.Next(ctx)
	require.NoError(t, err)
	return v
}

func TestConflate(t *testing.T) {
	t.Parallel()

	t.Run("pause drops intermediate values", func(t *testing.T) {
		t.Parallel()

		rec := newCountingRecorder()
		c := broadcast.NewConflate("latest", 0, broadcast.WithRecorder(rec))
		assert.Equal(t, broadcast.KindConflate, c.Kind())
		assert.False(t, c.Kind().Blocking())

		sub := c.Subscribe()
		defer sub.Close()
		assert.Equal(t, 0, next(t, sub))

		sub.Pause()
		assert.True(t, sub.Paused())
		for i := 1; i <= 3; i++ {
			require.NoError(t, c.Send(context.Background(), i))
		}
		assert.Equal(t, 3, c.Value())

		_, err := sub.Next(shortCtx(t))
		assert.True(t, loginflow.IsCancellation(err), "paused subscription must not deliver")

		sub.Resume()
		assert.Equal(t, 3, next(t, sub))
		assert.Equal(t, 2, rec.droppedOn("latest"))

		_, err = sub.Next(shortCtx(t))
		assert.Error(t, err)
	})

	t.Run("update applies to current value", func(t *testing.T) {
		t.Parallel()

		c := broadcast.NewConflate("info", "a")
		require.NoError(t, c.Update(func(s string) string { return s + "b" }))
		assert.Equal(t, "ab", c.Value())
		assert.Equal(t, uint64(2), c.Version())
	})

	t.Run("closed channel", func(t *testing.T) {
		t.Parallel()

		c := broadcast.NewConflate("latest", 1)
		sub := c.Subscribe()
		assert.Equal(t, 1, next(t, sub))

		require.NoError(t, c.Close())
		assert.ErrorIs(t, c.TrySend(2), broadcast.ErrChannelClosed)
		_, err := sub.Next(context.Background())
		assert.ErrorIs(t, err, broadcast.ErrChannelClosed)
	})
}

func TestReplay(t *testing.T) {
	t.Parallel()

	t.Run("paused subscriber is skipped and gets cache on resume", func(t *testing.T) {
		t.Parallel()

		rec := newCountingRecorder()
		r, err := broadcast.NewReplay[int]("shared", 1, broadcast.WithRecorder(rec))
		require.NoError(t, err)

		sub := r.Subscribe()
		defer sub.Close()

		require.NoError(t, r.Send(context.Background(), 1))
		assert.Equal(t, 1, next(t, sub))

		sub.Pause()
		require.NoError(t, r.Send(context.Background(), 2))
		require.NoError(t, r.Send(context.Background(), 3))
		assert.Equal(t, 2, rec.droppedOn("shared"))

		sub.Resume()
		assert.Equal(t, 3, next(t, sub))

		_, err = sub.Next(shortCtx(t))
		assert.Error(t, err)
	})

	t.Run("new subscriber receives replay cache", func(t *testing.T) {
		t.Parallel()

		r, err := broadcast.NewReplay[int]("shared", 2)
		require.NoError(t, err)

		for i := 1; i <= 3; i++ {
			require.NoError(t, r.TrySend(i))
		}
		assert.Equal(t, []int{2, 3}, r.Cache())

		sub := r.Subscribe()
		assert.Equal(t, 2, next(t, sub))
		assert.Equal(t, 3, next(t, sub))
	})

	t.Run("slow active subscriber loses oldest", func(t *testing.T) {
		t.Parallel()

		rec := newCountingRecorder()
		r, err := broadcast.NewReplay[int]("shared", 1, broadcast.WithRecorder(rec))
		require.NoError(t, err)
		sub := r.Subscribe()

		require.NoError(t, r.TrySend(1))
		require.NoError(t, r.TrySend(2))
		assert.Equal(t, 2, next(t, sub))
		assert.Equal(t, 1, rec.droppedOn("shared"))
	})

	t.Run("state variant always has a value and skips duplicates", func(t *testing.T) {
		t.Parallel()

		r := broadcast.NewStateReplay("state", 0, func(a, b int) bool { return a == b })
		v, ok := r.Latest()
		require.True(t, ok)
		assert.Equal(t, 0, v)

		sub := r.Subscribe()
		assert.Equal(t, 0, next(t, sub))

		require.NoError(t, r.TrySend(0))
		_, err := sub.Next(shortCtx(t))
		assert.Error(t, err)

		require.NoError(t, r.TrySend(5))
		assert.Equal(t, 5, next(t, sub))
	})

	t.Run("invalid size", func(t *testing.T) {
		t.Parallel()

		_, err := broadcast.NewReplay[int]("shared", 0)
		assert.ErrorIs(t, err, broadcast.ErrInvalidReplaySize)
	})
}

func TestPassThrough(t *testing.T) {
	t.Parallel()

	t.Run("paused subscriber stalls the producer", func(t *testing.T) {
		t.Parallel()

		p := broadcast.NewPassThrough[int]("flow", nil)
		assert.True(t, p.Kind().Blocking())
		sub := p.Subscribe()
		defer sub.Close()
		sub.Pause()

		sent := make(chan error, 1)
		go func() {
			for i := 1; i <= 3; i++ {
				if err := p.Send(context.Background(), i); err != nil {
					sent <- err
					return
				}
			}
			sent <- nil
		}()

		select {
		case <-sent:
			t.Fatal("send must block while the subscriber is paused")
		case <-time.After(20 * time.Millisecond):
		}

		sub.Resume()
		for i := 1; i <= 3; i++ {
			assert.Equal(t, i, next(t, sub))
		}
		require.NoError(t, <-sent)
	})

	t.Run("seeded subscription yields seed first", func(t *testing.T) {
		t.Parallel()

		p := broadcast.NewPassThrough("flow", func() (int, bool) { return 7, true })
		sub := p.Subscribe()
		assert.Equal(t, 7, next(t, sub))
	})

	t.Run("mirror skips a first send equal to the seed", func(t *testing.T) {
		t.Parallel()

		p := broadcast.NewMirrorPassThrough("flow",
			func() (int, bool) { return 7, true },
			func(a, b int) bool { return a == b })
		sub := p.Subscribe()

		// The source already held 7 when sub joined; the mirror update of
		// that same value must not reach sub a second time.
		require.NoError(t, p.Send(context.Background(), 7))

		sent := make(chan error, 1)
		go func() { sent <- p.Send(context.Background(), 8) }()

		assert.Equal(t, 7, next(t, sub))
		assert.Equal(t, 8, next(t, sub))
		require.NoError(t, <-sent)
	})

	t.Run("mirror delivers a repeated value after the first send", func(t *testing.T) {
		t.Parallel()

		p := broadcast.NewMirrorPassThrough("flow",
			func() (int, bool) { return 7, true },
			func(a, b int) bool { return a == b })
		sub := p.Subscribe()
		assert.Equal(t, 7, next(t, sub))

		sent := make(chan error, 1)
		go func() {
			if err := p.Send(context.Background(), 8); err != nil {
				sent <- err
				return
			}
			sent <- p.Send(context.Background(), 7)
		}()
		assert.Equal(t, 8, next(t, sub))
		assert.Equal(t, 7, next(t, sub))
		require.NoError(t, <-sent)
	})

	t.Run("try send drops without a waiting receiver", func(t *testing.T) {
		t.Parallel()

		rec := newCountingRecorder()
		p := broadcast.NewPassThrough[int]("flow", nil, broadcast.WithRecorder(rec))
		_ = p.Subscribe()

		assert.ErrorIs(t, p.TrySend(1), broadcast.ErrWouldBlock)
		assert.Equal(t, 1, rec.droppedOn("flow"))
	})

	t.Run("closed subscriber is skipped", func(t *testing.T) {
		t.Parallel()

		p := broadcast.NewPassThrough[int]("flow", nil)
		sub := p.Subscribe()
		require.NoError(t, sub.Close())

		require.NoError(t, p.Send(context.Background(), 1))
		_, err := sub.Next(context.Background())
		assert.ErrorIs(t, err, broadcast.ErrSubscriptionClosed)
	})

	t.Run("send honors context", func(t *testing.T) {
		t.Parallel()

		p := broadcast.NewPassThrough[int]("flow", nil)
		_ = p.Subscribe()

		err := p.Send(shortCtx(t), 1)
		assert.Equal(t, string(loginflow.CancelDeadline), loginflow.Category(err))
	})
}

func TestRendezvous(t *testing.T) {
	t.Parallel()

	t.Run("unbounded queues everything while paused", func(t *testing.T) {
		t.Parallel()

		q, err := broadcast.NewRendezvous[int]("queue", broadcast.Unbounded)
		require.NoError(t, err)
		sub := q.Subscribe()
		sub.Pause()

		for i := 1; i <= 5; i++ {
			require.NoError(t, q.Send(context.Background(), i))
		}
		assert.Equal(t, 5, q.Len())

		_, err = sub.Next(shortCtx(t))
		assert.Error(t, err)

		sub.Resume()
		for i := 1; i <= 5; i++ {
			assert.Equal(t, i, next(t, sub))
		}
		assert.Zero(t, q.Len())
	})

	t.Run("zero capacity hands off directly", func(t *testing.T) {
		t.Parallel()

		q, err := broadcast.NewRendezvous[int]("queue", 0)
		require.NoError(t, err)
		assert.ErrorIs(t, q.TrySend(1), broadcast.ErrWouldBlock)

		err = q.Send(shortCtx(t), 1)
		assert.True(t, loginflow.IsCancellation(err))

		sub := q.Subscribe()
		done := make(chan error, 1)
		go func() { done <- q.Send(context.Background(), 2) }()
		assert.Equal(t, 2, next(t, sub))
		require.NoError(t, <-done)
	})

	t.Run("bounded blocks at capacity", func(t *testing.T) {
		t.Parallel()

		q, err := broadcast.NewRendezvous[int]("queue", 1)
		require.NoError(t, err)
		assert.Equal(t, 1, q.Capacity())

		require.NoError(t, q.TrySend(1))
		assert.ErrorIs(t, q.TrySend(2), broadcast.ErrWouldBlock)

		sub := q.Subscribe()
		assert.Equal(t, 1, next(t, sub))
	})

	t.Run("close keeps queued values receivable", func(t *testing.T) {
		t.Parallel()

		for _, capacity := range []int{broadcast.Unbounded, 2} {
			q, err := broadcast.NewRendezvous[int]("queue", capacity)
			require.NoError(t, err)
			sub := q.Subscribe()

			require.NoError(t, q.Send(context.Background(), 1))
			require.NoError(t, q.Close())
			assert.ErrorIs(t, q.Send(context.Background(), 2), broadcast.ErrChannelClosed)

			assert.Equal(t, 1, next(t, sub))
			_, err = sub.Next(context.Background())
			assert.ErrorIs(t, err, broadcast.ErrChannelClosed)
		}
	})

	t.Run("discards while nobody is subscribed", func(t *testing.T) {
		t.Parallel()

		rec := newCountingRecorder()
		q, err := broadcast.NewRendezvous[int]("queue", broadcast.Unbounded,
			broadcast.WithDiscardWithoutSubscribers(), broadcast.WithRecorder(rec))
		require.NoError(t, err)

		require.NoError(t, q.Send(context.Background(), 1))
		require.NoError(t, q.TrySend(2))
		assert.Zero(t, q.Len())
		assert.Equal(t, 2, rec.droppedOn("queue"))

		sub := q.Subscribe()
		assert.Equal(t, 1, q.Subscribers())
		require.NoError(t, q.Send(context.Background(), 3))
		assert.Equal(t, 3, next(t, sub))

		require.NoError(t, sub.Close())
		require.NoError(t, sub.Close())
		assert.Zero(t, q.Subscribers())
		require.NoError(t, q.Send(context.Background(), 4))
		assert.Zero(t, q.Len())
	})

	t.Run("paused subscriber still counts", func(t *testing.T) {
		t.Parallel()

		q, err := broadcast.NewRendezvous[int]("queue", broadcast.Unbounded, broadcast.WithDiscardWithoutSubscribers())
		require.NoError(t, err)
		sub := q.Subscribe()
		sub.Pause()

		require.NoError(t, q.Send(context.Background(), 1))
		assert.Equal(t, 1, q.Len())
	})

	t.Run("invalid capacity", func(t *testing.T) {
		t.Parallel()

		_, err := broadcast.NewRendezvous[int]("queue", -2)
		assert.ErrorIs(t, err, broadcast.ErrInvalidCapacity)
	})
}
