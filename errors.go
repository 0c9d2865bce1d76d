package perfcore

import (
	"errors"
)

var (
	// ErrKeyNotFound is returned by remote tier lookups for absent keys.
	ErrKeyNotFound = errors.New("key not found")

	// ErrManagerClosed is returned for requests issued after Dispose,
	// including requests that were still queued when Dispose ran.
	ErrManagerClosed = errors.New("client manager disposed")

	// ErrPoolClosed is returned for database operations after Close.
	ErrPoolClosed = errors.New("connection pool closed")

	// ErrNoRemoteTier is returned when a remote-only operation is invoked
	// on a cache constructed without a remote tier.
	ErrNoRemoteTier = errors.New("no remote tier configured")
)
