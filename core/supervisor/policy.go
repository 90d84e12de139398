package supervisor

import (
	"fmt"
	"strings"
	"time"
)

// CancelMode decides whether and when the supervisor cancels the child.
type CancelMode int

const (
	CancelNone CancelMode = iota
	// CancelImmediately requests cancellation right after the child got its
	// first scheduling chance, without waiting for it to unwind.
	CancelImmediately
	// CancelAfterGrace waits up to the grace period for the child and
	// cancels it if it is still running, modelling a timeout.
	CancelAfterGrace
)

func (m CancelMode) String() string {
	switch m {
	case CancelNone:
		return "none"
	case CancelImmediately:
		return "immediately"
	case CancelAfterGrace:
		return "after_grace"
	default:
		return "unknown"
	}
}

// WaitMode decides how the supervisor waits for the child before resolving.
type WaitMode int

const (
	// WaitNone resolves without waiting. The finished snapshot is then not
	// ordered after the child's own snapshots.
	WaitNone WaitMode = iota
	// WaitJoin waits for the child and discards its result.
	WaitJoin
	// WaitAwait waits for the child and collects its value or failure.
	WaitAwait
	// WaitAwaitUnlessCancelled awaits only if the child has not been cancelled.
	WaitAwaitUnlessCancelled
)

func (m WaitMode) String() string {
	switch m {
	case WaitNone:
		return "none"
	case WaitJoin:
		return "join"
	case WaitAwait:
		return "await"
	case WaitAwaitUnlessCancelled:
		return "await_unless_cancelled"
	default:
		return "unknown"
	}
}

// Policy combines a cancellation mode and a wait mode.
type Policy struct {
	Name   string
	Cancel CancelMode
	Grace  time.Duration
	Wait   WaitMode
}

// Presets.
var (
	PolicyAwait                = Policy{Name: "await", Cancel: CancelNone, Wait: WaitAwait}
	PolicyAwaitUnlessCancelled = Policy{Name: "await_unless_cancelled", Cancel: CancelNone, Wait: WaitAwaitUnlessCancelled}
	PolicyJoin                 = Policy{Name: "join", Cancel: CancelNone, Wait: WaitJoin}
	PolicyDetached             = Policy{Name: "detached", Cancel: CancelNone, Wait: WaitNone}
	PolicyCancel               = Policy{Name: "cancel", Cancel: CancelImmediately, Wait: WaitNone}
	PolicyCancelAndJoin        = Policy{Name: "cancel_and_join", Cancel: CancelImmediately, Wait: WaitJoin}
)

// PolicyTimeout gives the child grace to finish, then cancels it and joins.
func PolicyTimeout(grace time.Duration) Policy {
	return Policy{Name: "timeout", Cancel: CancelAfterGrace, Grace: grace, Wait: WaitJoin}
}

func (p Policy) String() string {
	s := fmt.Sprintf("cancel=%s wait=%s", p.Cancel, p.Wait)
	if p.Cancel == CancelAfterGrace {
		s += fmt.Sprintf(" grace=%s", p.Grace)
	}
	if p.Name != "" {
		s = p.Name + " (" + s + ")"
	}
	return s
}

// ParsePolicy resolves a preset by name. grace is only used by "timeout".
func ParsePolicy(name string, grace time.Duration) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "await_unless_cancelled":
		return PolicyAwaitUnlessCancelled, nil
	case "await":
		return PolicyAwait, nil
	case "join":
		return PolicyJoin, nil
	case "detached", "none":
		return PolicyDetached, nil
	case "cancel":
		return PolicyCancel, nil
	case "cancel_and_join":
		return PolicyCancelAndJoin, nil
	case "timeout":
		if grace <= 0 {
			return Policy{}, fmt.Errorf("timeout policy needs a positive grace period, got %s", grace)
		}
		return PolicyTimeout(grace), nil
	default:
		return Policy{}, fmt.Errorf("unknown supervisor policy %q", name)
	}
}

// HandlerMode selects whether a parent-level failure handler is installed.
type HandlerMode int

const (
	HandlerInstalled HandlerMode = iota
	HandlerNone
)

func (m HandlerMode) String() string {
	if m == HandlerNone {
		return "none"
	}
	return "installed"
}

// ParseHandlerMode parses the String form of a handler mode.
func ParseHandlerMode(s string) (HandlerMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "installed":
		return HandlerInstalled, nil
	case "none":
		return HandlerNone, nil
	default:
		return 0, fmt.Errorf("unknown handler mode %q", s)
	}
}

// Emission selects how the handler publishes its error snapshot.
type Emission int

const (
	// EmitInline publishes on a context detached from the run's cancellation,
	// so the snapshot reaches every observer, blocking ones included.
	EmitInline Emission = iota
	// EmitBestEffort never blocks and silently drops on channels that cannot
	// accept at once. The error snapshot may not reach every observer.
	EmitBestEffort
)

func (e Emission) String() string {
	if e == EmitBestEffort {
		return "best_effort"
	}
	return "inline"
}

// ParseEmission parses the String form of an emission strategy.
func ParseEmission(s string) (Emission, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "inline":
		return EmitInline, nil
	case "best_effort", "best-effort":
		return EmitBestEffort, nil
	default:
		return 0, fmt.Errorf("unknown handler emission %q", s)
	}
}

// Outcome is the resolution of one run.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeHandled   Outcome = "handled"
	OutcomeUnhandled Outcome = "unhandled"
)
