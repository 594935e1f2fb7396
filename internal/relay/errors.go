package relay

import "errors"

var (
	// ErrInactiveRelay is returned by Send when the relay is not running, and
	// carried by the Failed completion of sends discarded at shutdown.
	ErrInactiveRelay = errors.New("relay is not running")

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("relay already started")

	// ErrStopped is returned by Start after Stop; a relay cannot be restarted.
	ErrStopped = errors.New("relay stopped")

	// ErrInvalidMessage is returned by Send for arguments that cannot be
	// put on the wire.
	ErrInvalidMessage = errors.New("invalid message")
)
