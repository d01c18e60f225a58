package types

import "errors"

// Protocol errors. All of them are recoverable and local to one connection.
var (
	ErrEmptyName           = errors.New("name cannot be empty")
	ErrNameTooLong         = errors.New("name exceeds maximum length")
	ErrNameConflict        = errors.New("name is already taken")
	ErrUnknownTarget       = errors.New("target user not found")
	ErrUnknownSender       = errors.New("sender not registered")
	ErrMalformedWireFormat = errors.New("malformed wire format")
	ErrUnknownFrameKind    = errors.New("unknown frame kind")
	ErrEmptyContent        = errors.New("message content cannot be empty")
	ErrContentTooLong      = errors.New("message content exceeds maximum length")
	ErrNotJoined           = errors.New("connection has not joined")
	ErrRateLimited         = errors.New("rate limit exceeded")
	ErrInvalidTarget       = errors.New("target fields are only allowed on PRIVATE messages")
)

// Describe renders err as the human-readable text of an ERROR frame.
func Describe(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyName):
		return "Username cannot be empty"
	case errors.Is(err, ErrNameTooLong):
		return "Username is too long"
	case errors.Is(err, ErrNameConflict):
		return "Username is already taken, please choose another one"
	case errors.Is(err, ErrUnknownTarget):
		return "The user you are writing to is not online"
	case errors.Is(err, ErrUnknownSender):
		return "Unknown user, please join again"
	case errors.Is(err, ErrEmptyContent):
		return "Message cannot be empty"
	case errors.Is(err, ErrContentTooLong):
		return "Message is too long"
	case errors.Is(err, ErrNotJoined):
		return "Join the chat before sending messages"
	case errors.Is(err, ErrRateLimited):
		return "Rate limit exceeded, slow down"
	case errors.Is(err, ErrMalformedWireFormat):
		return "Could not parse message: " + err.Error()
	default:
		return err.Error()
	}
}
