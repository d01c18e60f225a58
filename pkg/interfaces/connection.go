package interfaces

// Conn is a live transport handle bound to at most one user.
// ARCHITECTURAL DISCOVERY: The core only needs to push encoded frames and
// check liveness, so tests can bind in-memory handles in place of sockets.
type Conn interface {
	// ID identifies the handle itself, independent of any user binding.
	ID() string

	// Send queues one encoded frame without blocking. Implementations must
	// be safe for concurrent use and report a failure instead of waiting on
	// a slow peer.
	Send(frame []byte) error

	// IsOpen reports whether the handle can still accept frames.
	IsOpen() bool

	// Close releases the transport. Safe to call more than once.
	Close() error
}
