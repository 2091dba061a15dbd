package socket

import "errors"

var (
	// ErrDeliveryFailed means the request event could not be written to the
	// target's transport.
	ErrDeliveryFailed = errors.New("socket: delivery failed")

	// ErrTooManyConnections is returned by Register at capacity.
	ErrTooManyConnections = errors.New("socket: too many connections")

	// ErrTerminating is returned by Register while the identity is being
	// terminated and its row is about to be deleted.
	ErrTerminating = errors.New("socket: identity is terminating")

	// ErrSessionClosed is returned when operating on a session that is no
	// longer registered.
	ErrSessionClosed = errors.New("socket: session closed")

	// ErrDuplicateRequest is returned when a correlation id is already pending.
	ErrDuplicateRequest = errors.New("socket: duplicate correlation id")

	// ErrBadFrame is returned by WSConn.Read for frames that are not JSON
	// text with an event name.
	ErrBadFrame = errors.New("socket: malformed frame")
)
