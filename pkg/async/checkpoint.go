package async

import (
	"context"
	"runtime"
	"time"

	"github.com/dmitrymomot/loginflow"
)

// The functions below are the only places a task observes cancellation.
// Work between two checkpoints always runs to the next one.

// Check returns the cancellation signal of ctx without suspending, or nil
// if ctx is still active.
func Check(ctx context.Context) error {
	if sig := loginflow.CancelReasonFromContext(ctx); sig != nil {
		return sig
	}
	return nil
}

// Sleep suspends for d. It returns a cancellation signal if ctx is done
// before or during the wait.
func Sleep(ctx context.Context, d time.Duration) error {
	if err := Check(ctx); err != nil {
		return err
	}
	if d <= 0 {
		return Yield(ctx)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return Check(ctx)
	case <-timer.C:
		return nil
	}
}

// Yield gives other goroutines a scheduling chance, then checks ctx.
func Yield(ctx context.Context) error {
	if err := Check(ctx); err != nil {
		return err
	}
	runtime.Gosched()
	return Check(ctx)
}
