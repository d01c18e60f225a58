package types

import (
	"strings"
	"unicode/utf8"
)

// NormalizeName trims surrounding whitespace from a display name.
func NormalizeName(name string) string {
	return strings.TrimSpace(name)
}

// FoldName is the key under which display names are compared for uniqueness.
func FoldName(name string) string {
	return strings.ToLower(NormalizeName(name))
}

// ValidateName checks a display name after trimming. maxLen <= 0 disables
// the length check.
func ValidateName(name string, maxLen int) error {
	name = NormalizeName(name)
	if name == "" {
		return ErrEmptyName
	}
	if maxLen > 0 && utf8.RuneCountInString(name) > maxLen {
		return ErrNameTooLong
	}
	return nil
}

// ValidateContent checks chat content after trimming. maxLen <= 0 disables
// the length check.
func ValidateContent(content string, maxLen int) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return ErrEmptyContent
	}
	if maxLen > 0 && utf8.RuneCountInString(content) > maxLen {
		return ErrContentTooLong
	}
	return nil
}

// Validate enforces the shape invariants of a stored message.
func (m *Message) Validate() error {
	switch m.Kind {
	case KindChat, KindJoin, KindLeave, KindError, KindUserList:
		if m.TargetID != "" || m.TargetName != "" {
			return ErrInvalidTarget
		}
	case KindPrivate:
		if m.TargetID == "" || m.TargetName == "" {
			return ErrUnknownTarget
		}
	default:
		return ErrUnknownFrameKind
	}
	if strings.TrimSpace(m.Content) == "" {
		return ErrEmptyContent
	}
	return nil
}

// IsKnownKind reports whether k is a kind the broker understands.
func IsKnownKind(k Kind) bool {
	switch k {
	case KindChat, KindJoin, KindLeave, KindPrivate, KindError, KindUserList, KindLogout:
		return true
	default:
		return false
	}
}
