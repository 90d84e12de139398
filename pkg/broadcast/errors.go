package broadcast

import "errors"

var (
	ErrChannelClosed      = errors.New("broadcast channel closed")
	ErrSubscriptionClosed = errors.New("subscription closed")
	ErrHubClosed          = errors.New("broadcast hub closed")
	ErrWouldBlock         = errors.New("channel cannot accept without blocking")
	ErrInvalidCapacity    = errors.New("invalid channel capacity")
	ErrInvalidReplaySize  = errors.New("replay size must be positive")
)
