package eventbus

import "errors"

var (
	// Bus state errors
	ErrNotConnected     = errors.New("event bus not connected")
	ErrAlreadyConnected = errors.New("event bus already connected")
	ErrUnknownEngine    = errors.New("unknown event bus engine")

	// Subscription errors
	ErrHandlerNil          = errors.New("event handler cannot be nil")
	ErrPatternEmpty        = errors.New("subscription pattern cannot be empty")
	ErrPatternMultiStar    = errors.New("subscription pattern may contain at most one wildcard")
	ErrSubscriptionUnknown = errors.New("subscription not registered with this bus")
)
