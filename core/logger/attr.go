package logger

import (
	"log/slog"
	"strconv"
	"time"
)

// Helpers return an empty Attr for absent values, so log.Info("msg",
// logger.Error(err)) needs no nil check.

// Group creates a group of attributes under a single key.
func Group(name string, attrs ...slog.Attr) slog.Attr {
	return slog.Attr{Key: name, Value: slog.GroupValue(attrs...)}
}

// ============================================================================
// Error Handling
// ============================================================================

// Errors groups multiple non-nil errors under the key "errors".
// Uses index-based keys to preserve error order. Returns empty Attr for all nil errors.
func Errors(errs ...error) slog.Attr {
	// Count non-nil errors first to allocate exact size
	count := 0
	for _, err := range errs {
		if err != nil {
			count++
		}
	}
	if count == 0 {
		return slog.Attr{}
	}

	as := make([]slog.Attr, 0, count)
	for i, err := range errs {
		if err != nil {
			as = append(as, slog.Any(strconv.Itoa(i), err))
		}
	}
	return slog.Attr{Key: "errors", Value: slog.GroupValue(as...)}
}

// Error creates an attribute for a single error under the key "error".
// Returns empty Attr for nil errors, enabling safe usage without nil checks.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// ============================================================================
// Performance and Timing
// ============================================================================

// Duration creates an attribute for a duration.
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Elapsed calculates and logs the duration since the start time.
func Elapsed(start time.Time) slog.Attr {
	return slog.Duration("elapsed", time.Since(start))
}

// ============================================================================
// Generic Identifiers
// ============================================================================

// ID creates a generic identifier attribute with a custom key.
func ID(key string, value any) slog.Attr {
	if value == nil {
		return slog.Attr{}
	}
	return slog.Any(key, value)
}

// RunID creates an attribute for supervised run identifiers.
func RunID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("run_id", id)
}

// TaskID creates an attribute for child task identifiers.
func TaskID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("task_id", id)
}

// ============================================================================
// Supervision and Broadcast
// ============================================================================

// Phase creates an attribute for the logical phase of a run.
func Phase(phase string) slog.Attr {
	return slog.String("phase", phase)
}

// Checkpoint creates an attribute naming a suspension point.
func Checkpoint(name string) slog.Attr {
	return slog.String("checkpoint", name)
}

// Channel creates an attribute for broadcast channel names.
func Channel(name string) slog.Attr {
	return slog.String("channel", name)
}

// Policy creates an attribute for a supervision policy description.
func Policy(p string) slog.Attr {
	if p == "" {
		return slog.Attr{}
	}
	return slog.String("policy", p)
}

// Transition creates a group describing a state machine transition.
func Transition(event, from, to string) slog.Attr {
	return Group("transition",
		slog.String("event", event),
		slog.String("from", from),
		slog.String("to", to),
	)
}

// Snapshot creates an attribute for a state snapshot. Values implementing
// slog.LogValuer are rendered as a group.
func Snapshot(v any) slog.Attr {
	if v == nil {
		return slog.Attr{}
	}
	return slog.Any("snapshot", v)
}

// ============================================================================
// Generic Metadata
// ============================================================================

// Component creates an attribute for component names.
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Event creates an attribute for event names.
func Event(name string) slog.Attr {
	return slog.String("event", name)
}

// Result creates an attribute for operation results (success/failure/pending).
func Result(result string) slog.Attr {
	return slog.String("result", result)
}

// Count creates a generic counter attribute.
func Count(key string, n int) slog.Attr {
	return slog.Int(key, n)
}

// Key creates a generic key-value attribute.
func Key(key string, value any) slog.Attr {
	if value == nil {
		return slog.Attr{}
	}
	return slog.Any(key, value)
}
