package session

import "errors"

var (
	ErrSessionTerminated = errors.New("session is terminated")
)
