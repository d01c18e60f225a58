package interfaces

import (
	"context"

	"chatbroker/pkg/types"
)

// Archive receives a copy of every message appended to History.
type Archive interface {
	// Store queues a message for the archive. It must not block delivery.
	Store(message types.Message) error

	// Recent returns up to limit archived non-private messages, oldest first.
	Recent(ctx context.Context, limit int) ([]types.Message, error)

	HealthCheck(ctx context.Context) error

	Close() error
}
