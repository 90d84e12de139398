package operation

import (
	"errors"
	"fmt"
	"strings"
)

// Phase names a step of the simulated login.
type Phase string

const (
	PhaseCalled    Phase = "called"
	PhaseRunning   Phase = "running"
	PhaseCompleted Phase = "completed"
)

// FaultKind is the kind of fault injected into the operation body.
type FaultKind int

const (
	FaultNone FaultKind = iota
	// FaultFailure raises an ordinary OperationFailure.
	FaultFailure
	// FaultCancellation raises an explicit cancellation-typed error.
	FaultCancellation
	// FaultPanic panics inside the body.
	FaultPanic
)

func (k FaultKind) String() string {
	switch k {
	case FaultNone:
		return "none"
	case FaultFailure:
		return "failure"
	case FaultCancellation:
		return "cancellation"
	case FaultPanic:
		return "panic"
	default:
		return "unknown"
	}
}

// Fault describes a fault raised right after the snapshot of Phase is emitted.
type Fault struct {
	Kind  FaultKind
	Phase Phase
}

// NoFault is the zero fault.
var NoFault = Fault{}

// ErrSimulatedIO is the cause of injected failures.
var ErrSimulatedIO = errors.New("simulated I/O failure")

func (f Fault) String() string {
	if f.Kind == FaultNone {
		return "none"
	}
	return f.Kind.String() + "@" + string(f.Phase)
}

// ParseFault parses "none", "<kind>" or "<kind>@<phase>". The phase
// defaults to running.
func ParseFault(s string) (Fault, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "none" {
		return NoFault, nil
	}

	kindName, phaseName, found := strings.Cut(s, "@")
	f := Fault{Phase: PhaseRunning}
	if found {
		switch Phase(phaseName) {
		case PhaseCalled, PhaseRunning, PhaseCompleted:
			f.Phase = Phase(phaseName)
		default:
			return NoFault, fmt.Errorf("unknown fault phase %q", phaseName)
		}
	}

	switch kindName {
	case "failure":
		f.Kind = FaultFailure
	case "cancellation", "cancel":
		f.Kind = FaultCancellation
	case "panic":
		f.Kind = FaultPanic
	default:
		return NoFault, fmt.Errorf("unknown fault kind %q", kindName)
	}
	return f, nil
}
