package types

import (
	"time"
)

// Kind discriminates a Message. LOGOUT only ever arrives from clients and
// is never stored in History.
type Kind string

const (
	KindChat     Kind = "CHAT"
	KindJoin     Kind = "JOIN"
	KindLeave    Kind = "LEAVE"
	KindPrivate  Kind = "PRIVATE"
	KindError    Kind = "ERROR"
	KindUserList Kind = "USER_LIST"
	KindLogout   Kind = "LOGOUT"
)

// SystemSender is the sender id stamped on broker-originated messages.
const SystemSender = "system"

// User is a registered chat participant. Registered means present in the
// registry; a user is removed on logout or transport close.
type User struct {
	ID           string    `json:"id"`
	DisplayName  string    `json:"name"`
	Connected    bool      `json:"connected"`
	LastActiveAt time.Time `json:"lastActiveAt"`
	JoinedAt     time.Time `json:"joinedAt"`
}

// Entry returns the roster projection of the user.
func (u User) Entry() RosterEntry {
	return RosterEntry{ID: u.ID, Name: u.DisplayName}
}

// RosterEntry is one {id, name} pair of the roster.
type RosterEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Message is immutable once created. TargetID and TargetName are set iff
// Kind is KindPrivate. ClientID is only carried by the JOIN confirmation
// sent back to a joining connection.
type Message struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"type"`
	SenderID   string    `json:"userId,omitempty"`
	SenderName string    `json:"username,omitempty"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"timestamp"`
	TargetID   string    `json:"targetUserId,omitempty"`
	TargetName string    `json:"targetUsername,omitempty"`
	ClientID   string    `json:"clientId,omitempty"`
}

// IsPrivate reports whether the message is a targeted unicast.
func (m *Message) IsPrivate() bool {
	return m.Kind == KindPrivate
}

// VisibleTo reports whether userID may see the message on history replay.
// PRIVATE messages are visible only to their sender and target.
func (m *Message) VisibleTo(userID string) bool {
	if !m.IsPrivate() {
		return true
	}
	return userID != "" && (m.SenderID == userID || m.TargetID == userID)
}

// RegisterResponse is the result of the request/response registration path.
type RegisterResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	UserID  string `json:"userId,omitempty"`
}

// Now returns the current time in the form stored on messages: UTC with
// the monotonic reading stripped so values compare equal after a round trip.
func Now() time.Time {
	return time.Now().UTC().Round(0)
}
