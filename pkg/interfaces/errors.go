package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrArchiveDisabled = errors.New("archive disabled")
	ErrArchiveClosed   = errors.New("archive closed")
)
