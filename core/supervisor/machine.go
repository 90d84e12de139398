package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/dmitrymomot/loginflow/core/logger"
)

// Run states.
const (
	StateIdle                 = "idle"
	StateParentStarted        = "parent_started"
	StateChildSpawned         = "child_spawned"
	StateChildCancelRequested = "child_cancel_requested"
	StateChildAwaited         = "child_awaited"
	StateResolvedSuccess      = "resolved_success"
	StateResolvedCancelled    = "resolved_cancelled"
	StateResolvedFailed       = "resolved_failed"
	StateFinished             = "finished"
	// StateFailedAfterFinish is entered when a child the supervisor did not
	// wait for fails after the finished snapshot was published.
	StateFailedAfterFinish = "failed_after_finish"
)

// Run events.
const (
	EventStart            = "start"
	EventSpawn            = "spawn"
	EventRequestCancel    = "request_cancel"
	EventAwait            = "await"
	EventResolveSuccess   = "resolve_success"
	EventResolveCancelled = "resolve_cancelled"
	EventResolveFailed    = "resolve_failed"
	EventFinish           = "finish"
	EventFailAfterFinish  = "fail_after_finish"
)

// Transition is one recorded state change of a run.
type Transition struct {
	Event string    `json:"event"`
	From  string    `json:"from"`
	To    string    `json:"to"`
	At    time.Time `json:"at"`
}

var (
	childStates    = []string{StateChildSpawned, StateChildCancelRequested, StateChildAwaited}
	resolvedStates = []string{StateResolvedSuccess, StateResolvedCancelled, StateResolvedFailed}
)

// machine tracks the lifecycle of one run and records every transition.
type machine struct {
	fsm    *fsm.FSM
	logger *slog.Logger

	mu      sync.Mutex
	history []Transition
}

func newMachine(log *slog.Logger) *machine {
	m := &machine{logger: log}

	events := []fsm.EventDesc{
		{Name: EventStart, Src: []string{StateIdle}, Dst: StateParentStarted},
		{Name: EventSpawn, Src: []string{StateParentStarted}, Dst: StateChildSpawned},
		{Name: EventRequestCancel, Src: []string{StateChildSpawned}, Dst: StateChildCancelRequested},
		{Name: EventAwait, Src: []string{StateChildSpawned, StateChildCancelRequested}, Dst: StateChildAwaited},
		{Name: EventResolveSuccess, Src: childStates, Dst: StateResolvedSuccess},
		{Name: EventResolveCancelled, Src: childStates, Dst: StateResolvedCancelled},
		{Name: EventResolveFailed, Src: append([]string{StateParentStarted}, childStates...), Dst: StateResolvedFailed},
		{Name: EventFinish, Src: resolvedStates, Dst: StateFinished},
		{Name: EventFailAfterFinish, Src: []string{StateFinished}, Dst: StateFailedAfterFinish},
	}

	m.fsm = fsm.NewFSM(
		StateIdle,
		fsm.Events(events),
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				m.record(ctx, e)
			},
		},
	)
	return m
}

func (m *machine) record(ctx context.Context, e *fsm.Event) {
	m.mu.Lock()
	m.history = append(m.history, Transition{Event: e.Event, From: e.Src, To: e.Dst, At: time.Now()})
	m.mu.Unlock()

	m.logger.DebugContext(ctx, "run transition", logger.Transition(e.Event, e.Src, e.Dst))
}

// fire applies event. Transitions are bookkeeping and must not be aborted
// by the cancellation of the run they describe.
func (m *machine) fire(ctx context.Context, event string) {
	if err := m.fsm.Event(context.WithoutCancel(ctx), event); err != nil {
		m.logger.ErrorContext(ctx, "invalid run transition",
			logger.Event(event),
			slog.String("state", m.fsm.Current()),
			logger.Error(err),
		)
	}
}

func (m *machine) current() string {
	return m.fsm.Current()
}

func (m *machine) transitions() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Transition(nil), m.history...)
}
