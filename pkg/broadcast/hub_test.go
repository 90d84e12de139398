package broadcast_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/loginflow/pkg/broadcast"
)

func newHub(t *testing.T, opts ...broadcast.HubOption) *broadcast.Hub[int] {
	t.Helper()
	h, err := broadcast.NewHub(0, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func drain[T any](t *testing.T, sub broadcast.Subscription[T], n int) <-chan []T {
	t.Helper()
	out := make(chan []T, 1)
	go func() {
		var got []T
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		for range n {
			v, err := sub.Next(ctx)
			if err != nil {
				break
			}
			got = append(got, v)
		}
		out <- got
	}()
	return out
}

func TestHub_ChannelOrder(t *testing.T) {
	t.Parallel()

	h := newHub(t)
	var names []string
	for _, ch := range h.Channels() {
		names = append(names, ch.Name())
	}
	assert.Equal(t, []string{
		broadcast.ChannelLatest,
		broadcast.ChannelShared,
		broadcast.ChannelState,
		broadcast.ChannelFlow,
		broadcast.ChannelQueue,
	}, names)
	assert.Equal(t, broadcast.PublishInline, h.Mode())
}

func TestHub_PublishInline(t *testing.T) {
	t.Parallel()

	h := newHub(t)
	queue := h.Queue().Subscribe()

	for i := 1; i <= 3; i++ {
		require.NoError(t, h.Publish(context.Background(), i))
	}

	assert.Equal(t, 3, h.Current())
	v, ok := h.State().Latest()
	require.True(t, ok)
	assert.Equal(t, 3, v)
	v, ok = h.Shared().Latest()
	require.True(t, ok)
	assert.Equal(t, 3, v)

	assert.Equal(t, []int{1, 2, 3}, <-drain(t, queue, 3))
}

// A consumer paused mid-sequence: flow and queue eventually deliver every
// value in order, latest and shared deliver only the newest one.
func TestHub_PauseResume(t *testing.T) {
	t.Parallel()

	rec := newCountingRecorder()
	h := newHub(t, broadcast.WithHubRecorder(rec))

	latest := h.Latest().Subscribe()
	shared := h.Shared().Subscribe()
	flow := h.Flow().Subscribe()
	queue := h.Queue().Subscribe()
	for _, sub := range []broadcast.Subscription[int]{latest, shared, flow, queue} {
		sub.Pause()
	}

	published := make(chan error, 1)
	go func() {
		for i := 1; i <= 4; i++ {
			if err := h.PublishInline(context.Background(), i); err != nil {
				published <- err
				return
			}
		}
		published <- nil
	}()

	// The paused flow consumer stalls the publisher on the first value.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, h.Current())
	select {
	case <-published:
		t.Fatal("inline publish must block on a paused pass-through consumer")
	default:
	}

	flow.Resume()
	queue.Resume()
	flowGot := drain(t, flow, 4)
	queueGot := drain(t, queue, 4)
	require.NoError(t, <-published)

	assert.Equal(t, []int{1, 2, 3, 4}, <-flowGot)
	assert.Equal(t, []int{1, 2, 3, 4}, <-queueGot)

	latest.Resume()
	shared.Resume()
	assert.Equal(t, 4, next(t, latest))
	assert.Equal(t, 4, next(t, shared))

	_, err := shared.Next(shortCtx(t))
	assert.Error(t, err)
	assert.GreaterOrEqual(t, rec.droppedOn(broadcast.ChannelLatest), 1)
	assert.GreaterOrEqual(t, rec.droppedOn(broadcast.ChannelShared), 1)
	assert.Zero(t, rec.droppedOn(broadcast.ChannelFlow))
	assert.Zero(t, rec.droppedOn(broadcast.ChannelQueue))
	assert.Equal(t, 4, rec.deliveredOn(broadcast.ChannelQueue))
}

func TestHub_PublishDetached(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		reported []error
	)
	h := newHub(t,
		broadcast.WithPublishMode(broadcast.PublishDetached),
		broadcast.WithErrorReporter(func(err error) {
			mu.Lock()
			reported = append(reported, err)
			mu.Unlock()
		}),
	)
	queue := h.Queue().Subscribe()

	for i := 1; i <= 5; i++ {
		require.NoError(t, h.Publish(context.Background(), i))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.Flush(ctx))

	assert.Equal(t, 5, h.Current())
	assert.Equal(t, []int{1, 2, 3, 4, 5}, <-drain(t, queue, 5))

	mu.Lock()
	assert.Empty(t, reported)
	mu.Unlock()
}

func TestHub_TryPublish(t *testing.T) {
	t.Parallel()

	rec := newCountingRecorder()
	h := newHub(t,
		broadcast.WithQueueCapacity(0),
		broadcast.WithPublishMode(broadcast.PublishBestEffort),
		broadcast.WithHubRecorder(rec),
	)
	flow := h.Flow().Subscribe()
	flow.Pause()

	dropped, err := h.TryPublish(1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{broadcast.ChannelFlow, broadcast.ChannelQueue}, dropped)
	assert.Equal(t, 1, h.Current())

	require.NoError(t, h.Publish(context.Background(), 2))
	assert.Equal(t, 2, h.Current())
	assert.Equal(t, 2, rec.droppedOn(broadcast.ChannelQueue))
}

func TestHub_Closed(t *testing.T) {
	t.Parallel()

	rec := newCountingRecorder()
	var reported int
	h, err := broadcast.NewHub(0,
		broadcast.WithHubRecorder(rec),
		broadcast.WithErrorReporter(func(err error) {
			assert.ErrorIs(t, err, broadcast.ErrHubClosed)
			reported++
		}),
	)
	require.NoError(t, err)

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())

	assert.ErrorIs(t, h.PublishInline(context.Background(), 1), broadcast.ErrHubClosed)
	assert.ErrorIs(t, h.PublishDetached(1), broadcast.ErrHubClosed)
	_, err = h.TryPublish(1)
	assert.ErrorIs(t, err, broadcast.ErrHubClosed)

	assert.Equal(t, 3, reported)
	assert.Equal(t, 1, rec.failedFor("inline"))
	assert.Equal(t, 1, rec.failedFor("detached"))
	assert.Equal(t, 1, rec.failedFor("best_effort"))
	assert.Equal(t, 0, h.Current())
}

func TestHub_CloseAbandonsStalledDetachedPublish(t *testing.T) {
	t.Parallel()

	h, err := broadcast.NewHub(0, broadcast.WithPublishMode(broadcast.PublishDetached))
	require.NoError(t, err)

	flow := h.Flow().Subscribe()
	flow.Pause()
	require.NoError(t, h.PublishDetached(1))
	require.NoError(t, h.PublishDetached(2))

	done := make(chan error, 1)
	go func() { done <- h.Close() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("close must not hang on a stalled consumer")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, h.Flush(ctx))
}

func TestHub_QueueRetention(t *testing.T) {
	t.Parallel()

	retained := newHub(t)
	discarding := newHub(t, broadcast.WithQueueRetention(false))

	for i := 1; i <= 3; i++ {
		require.NoError(t, retained.Publish(context.Background(), i))
		require.NoError(t, discarding.Publish(context.Background(), i))
	}
	assert.Equal(t, 3, retained.Queue().Len())
	assert.Zero(t, discarding.Queue().Len())
	assert.Equal(t, 3, discarding.Current())

	queue := discarding.Queue().Subscribe()
	require.NoError(t, discarding.Publish(context.Background(), 4))
	assert.Equal(t, []int{4}, <-drain(t, queue, 1))
}

// A flow subscriber joining after the shared update of a publish but
// before its flow update gets the value once, as its seed.
func TestHub_FlowSeedNotDuplicated(t *testing.T) {
	t.Parallel()

	h := newHub(t)
	require.NoError(t, h.Shared().Send(context.Background(), 1))

	flow := h.Flow().Subscribe()
	require.NoError(t, h.Flow().Send(context.Background(), 1))

	sent := make(chan error, 1)
	go func() { sent <- h.PublishInline(context.Background(), 2) }()

	assert.Equal(t, []int{1, 2}, <-drain(t, flow, 2))
	require.NoError(t, <-sent)
}

func TestParsePublishMode(t *testing.T) {
	t.Parallel()

	tests := map[string]broadcast.PublishMode{
		"":            broadcast.PublishInline,
		"inline":      broadcast.PublishInline,
		"Detached":    broadcast.PublishDetached,
		"best_effort": broadcast.PublishBestEffort,
		"best-effort": broadcast.PublishBestEffort,
	}
	for in, want := range tests {
		got, err := broadcast.ParsePublishMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := broadcast.ParsePublishMode("sometimes")
	assert.Error(t, err)
}
