package loginflow

import (
	"fmt"
	"log/slog"
)

// Status markers carried in State.StatusMessage.
const (
	StatusIdle      = ""
	StatusCalled    = "called"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusHandled   = "handled"
	StatusFinished  = "finished"
)

// State is an immutable point-in-time record of login progress.
// Every transition produces a new State through one of the derivation
// methods; values are passed by copy and never mutated in place.
type State struct {
	IsLoading     bool   `json:"is_loading"`
	IsSuccess     bool   `json:"is_success"`
	IsLoggedIn    bool   `json:"is_logged_in"`
	IsError       bool   `json:"is_error"`
	ErrorMessage  string `json:"error_message"`
	StatusMessage string `json:"status_message"`
	Version       uint64 `json:"version"`
}

// Initial returns the default snapshot a run starts from.
func Initial() State {
	return State{}
}

// Valid reports whether the snapshot is one of the well-formed states:
// error and success flags are never set together and an error always
// carries a message.
func (s State) Valid() bool {
	if s.IsError && (s.IsSuccess || s.IsLoggedIn) {
		return false
	}
	if s.IsError && s.ErrorMessage == "" {
		return false
	}
	if !s.IsError && s.ErrorMessage != "" {
		return false
	}
	return true
}

// Reset returns the default snapshot for a new run. The version keeps
// counting so observers of consecutive runs still see it grow.
func (s State) Reset() State {
	return State{Version: s.Version}
}

// next copies the receiver and bumps the version.
func (s State) next(status string) State {
	s.StatusMessage = status
	s.Version++
	return s
}

// WithStatus returns a copy with a new status marker and no other change.
func (s State) WithStatus(status string) State {
	return s.next(status)
}

// Called marks the start of a phase owned by the caller.
func (s State) Called() State {
	s = s.next(StatusCalled)
	s.IsLoading = true
	return s
}

// Running marks the in-flight phase.
func (s State) Running() State {
	s = s.next(StatusRunning)
	s.IsLoading = true
	return s
}

// Completed records the child's result. A successful result clears any
// earlier error so the snapshot stays well-formed.
func (s State) Completed(loggedIn bool) State {
	s = s.next(StatusCompleted)
	s.IsLoading = false
	s.IsSuccess = loggedIn
	s.IsLoggedIn = loggedIn
	if loggedIn {
		s.IsError = false
		s.ErrorMessage = ""
	}
	return s
}

// Failed records an error under the given status marker.
func (s State) Failed(status, message string) State {
	if message == "" {
		message = UnknownError
	}
	s = s.next(status)
	s.IsLoading = false
	s.IsSuccess = false
	s.IsLoggedIn = false
	s.IsError = true
	s.ErrorMessage = message
	return s
}

// Cancelled records a cancelled child with the cancellation category as message.
func (s State) Cancelled(category string) State {
	return s.Failed(StatusCancelled, category)
}

// Finished is the terminal snapshot of a run. Error flags from earlier
// transitions are preserved.
func (s State) Finished(loggedIn bool) State {
	s = s.next(StatusFinished)
	s.IsLoading = false
	if s.IsError {
		s.IsSuccess = false
		s.IsLoggedIn = false
		return s
	}
	s.IsLoggedIn = loggedIn
	return s
}

// String renders the snapshot the way log views display it.
func (s State) String() string {
	return fmt.Sprintf("%s: %s, logIn=%t, err=%t (v%d)",
		s.StatusMessage, s.ErrorMessage, s.IsLoggedIn, s.IsError, s.Version)
}

// LogValue renders the snapshot as a structured log group.
func (s State) LogValue() slog.Value {
	attrs := make([]slog.Attr, 0, 6)
	if s.StatusMessage != "" {
		attrs = append(attrs, slog.String("status", s.StatusMessage))
	}
	attrs = append(attrs,
		slog.Bool("loading", s.IsLoading),
		slog.Bool("logged_in", s.IsLoggedIn),
		slog.Bool("error", s.IsError),
	)
	if s.ErrorMessage != "" {
		attrs = append(attrs, slog.String("message", s.ErrorMessage))
	}
	attrs = append(attrs, slog.Uint64("version", s.Version))
	return slog.GroupValue(attrs...)
}
