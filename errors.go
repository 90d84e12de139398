package loginflow

import (
	"context"
	"errors"
	"fmt"
)

// UnknownError is the message used when a failure carries no text.
const UnknownError = "Unknown Error"

// CancelReason names the category of a cancellation signal.
type CancelReason string

const (
	// CancelRequested is an explicit, non-suspending cancel issued by a supervisor.
	CancelRequested CancelReason = "CancelRequested"
	// CancelGraceExpired is a cancel issued after a supervisor's grace period ran out.
	CancelGraceExpired CancelReason = "GracePeriodExpired"
	// CancelParent is a cancel inherited from the enclosing context.
	CancelParent CancelReason = "ParentCancelled"
	// CancelDeadline is a cancel inherited from an expired context deadline.
	CancelDeadline CancelReason = "DeadlineExceeded"
	// CancelThrown is a cancellation-typed error raised explicitly by an operation body.
	CancelThrown CancelReason = "ThrownCancellation"
)

// ErrCancelled matches every cancellation signal through errors.Is.
var ErrCancelled = errors.New("cancelled")

// CancellationSignal is a cooperative halt request. It is not a failure and
// never reaches a parent-level failure handler.
type CancellationSignal struct {
	Reason CancelReason
	Cause  error
}

// Cancellation builds a cancellation signal with an optional underlying cause.
func Cancellation(reason CancelReason, cause error) *CancellationSignal {
	return &CancellationSignal{Reason: reason, Cause: cause}
}

func (e *CancellationSignal) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Cause)
	}
	return string(e.Reason)
}

func (e *CancellationSignal) Unwrap() error { return e.Cause }

// Is makes every signal match ErrCancelled.
func (e *CancellationSignal) Is(target error) bool {
	return target == ErrCancelled
}

// OperationFailure is an ordinary failure raised inside an operation body.
type OperationFailure struct {
	Op    string
	Phase string
	Err   error
}

// Failure wraps err as an OperationFailure of op at the given phase.
func Failure(op, phase string, err error) *OperationFailure {
	return &OperationFailure{Op: op, Phase: phase, Err: err}
}

func (e *OperationFailure) Error() string {
	msg := UnknownError
	if e.Err != nil && e.Err.Error() != "" {
		msg = e.Err.Error()
	}
	if e.Phase == "" {
		return fmt.Sprintf("%s failed: %s", e.Op, msg)
	}
	return fmt.Sprintf("%s failed at %s: %s", e.Op, e.Phase, msg)
}

func (e *OperationFailure) Unwrap() error { return e.Err }

// UnhandledFailure is an operation failure that reached neither a local
// recovery boundary nor a parent-level handler. It is fatal to the run.
type UnhandledFailure struct {
	RunID string
	Err   error
}

func (e *UnhandledFailure) Error() string {
	return fmt.Sprintf("run %s: unhandled failure: %v", e.RunID, e.Err)
}

func (e *UnhandledFailure) Unwrap() error { return e.Err }

// IsCancellation reports whether err is a cancellation rather than a failure.
// Context errors count as cancellations inherited from the enclosing scope.
func IsCancellation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCancelled) {
		return true
	}
	var failure *OperationFailure
	if errors.As(err, &failure) {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Category returns the categorical name of err, used for error snapshots.
// Returns empty string for nil.
func Category(err error) string {
	if err == nil {
		return ""
	}

	var unhandled *UnhandledFailure
	if errors.As(err, &unhandled) {
		return "UnhandledFailure"
	}

	var failure *OperationFailure
	if errors.As(err, &failure) {
		return "OperationFailure"
	}

	var signal *CancellationSignal
	if errors.As(err, &signal) {
		return string(signal.Reason)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return string(CancelDeadline)
	case errors.Is(err, context.Canceled):
		return string(CancelParent)
	}

	return UnknownError
}

// Message renders a non-empty user-facing message for err, prefixed with its category.
func Message(err error) string {
	if err == nil {
		return ""
	}

	category := Category(err)
	if IsCancellation(err) {
		return category
	}

	var failure *OperationFailure
	if errors.As(err, &failure) && failure.Err != nil && failure.Err.Error() != "" {
		return category + ": " + failure.Err.Error()
	}

	if err.Error() == "" {
		return category
	}
	return category + ": " + err.Error()
}

// CancelReasonFromContext maps the cause of a done context to a signal.
// Returns nil if ctx is still active.
func CancelReasonFromContext(ctx context.Context) *CancellationSignal {
	if ctx.Err() == nil {
		return nil
	}

	cause := context.Cause(ctx)
	var signal *CancellationSignal
	if errors.As(cause, &signal) {
		return signal
	}

	if errors.Is(cause, context.DeadlineExceeded) {
		return Cancellation(CancelDeadline, cause)
	}
	return Cancellation(CancelParent, cause)
}
