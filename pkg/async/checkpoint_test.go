package async_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/loginflow"
	"github.com/dmitrymomot/loginflow/pkg/async"
)

func TestCheckpoints(t *testing.T) {
	t.Parallel()

	t.Run("active context passes", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		assert.NoError(t, async.Check(ctx))
		assert.NoError(t, async.Yield(ctx))
		assert.NoError(t, async.Sleep(ctx, time.Millisecond))
		assert.NoError(t, async.Sleep(ctx, 0))
	})

	t.Run("cancelled context is observed without waiting", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancelCause(context.Background())
		cancel(loginflow.Cancellation(loginflow.CancelRequested, nil))

		start := time.Now()
		err := async.Sleep(ctx, time.Minute)
		require.Error(t, err)
		assert.Less(t, time.Since(start), time.Second)
		assert.Equal(t, string(loginflow.CancelRequested), loginflow.Category(err))
		assert.Error(t, async.Yield(ctx))
		assert.Error(t, async.Check(ctx))
	})

	t.Run("cancel during sleep interrupts it", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(5*time.Millisecond, cancel)

		err := async.Sleep(ctx, time.Minute)
		assert.Equal(t, string(loginflow.CancelParent), loginflow.Category(err))
	})
}
