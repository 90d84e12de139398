package async

import "errors"

var (
	ErrTimeout      = errors.New("operation timed out")
	ErrNotCompleted = errors.New("task has not completed")
	ErrPoolSize     = errors.New("pool size must be positive")
)
