// Package wire maps broker records to and from their textual frame encoding.
//
// Every frame is a single XML document whose root element names its shape:
// <message>, <user>, <userList> or <registerResponse>. Encoding is
// deterministic: fields are rendered in a fixed order and absent optional
// fields are omitted. Decoding ignores unknown elements and treats missing
// optional elements as absent.
package wire

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"chatbroker/pkg/types"
)

// Root is the name of a frame's root element.
type Root string

const (
	RootMessage          Root = "message"
	RootUser             Root = "user"
	RootUserList         Root = "userList"
	RootRegisterResponse Root = "registerResponse"
)

// Frame is a decoded frame. Exactly one payload field is set, matching Root.
type Frame struct {
	Root     Root
	Message  *types.Message
	User     *types.RosterEntry
	Users    []types.RosterEntry
	Register *types.RegisterResponse
}

type xmlMessage struct {
	XMLName        xml.Name `xml:"message"`
	Type           string   `xml:"type,omitempty"`
	ID             string   `xml:"id,omitempty"`
	UserID         string   `xml:"userId,omitempty"`
	Username       string   `xml:"username,omitempty"`
	Content        string   `xml:"content,omitempty"`
	Timestamp      string   `xml:"timestamp,omitempty"`
	TargetUserID   string   `xml:"targetUserId,omitempty"`
	TargetUsername string   `xml:"targetUsername,omitempty"`
	ClientID       string   `xml:"clientId,omitempty"`
}

type xmlUser struct {
	XMLName xml.Name `xml:"user"`
	ID      string   `xml:"id,omitempty"`
	Name    string   `xml:"name,omitempty"`
}

type xmlUserList struct {
	XMLName xml.Name  `xml:"userList"`
	Users   []xmlUser `xml:"user"`
}

type xmlRegisterResponse struct {
	XMLName xml.Name `xml:"registerResponse"`
	Success string   `xml:"success"`
	Message string   `xml:"message,omitempty"`
	UserID  string   `xml:"userId,omitempty"`
}

// Encode renders a message frame.
func Encode(m *types.Message) []byte {
	out := xmlMessage{
		Type:           string(m.Kind),
		ID:             m.ID,
		UserID:         m.SenderID,
		Username:       m.SenderName,
		Content:        m.Content,
		TargetUserID:   m.TargetID,
		TargetUsername: m.TargetName,
		ClientID:       m.ClientID,
	}
	if !m.CreatedAt.IsZero() {
		out.Timestamp = m.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	return marshal(out)
}

// EncodeUser renders a single roster entry.
func EncodeUser(u types.RosterEntry) []byte {
	return marshal(xmlUser{ID: u.ID, Name: u.Name})
}

// EncodeUserList renders the roster. The result is also used verbatim as
// the content of USER_LIST messages.
func EncodeUserList(users []types.RosterEntry) []byte {
	list := xmlUserList{Users: make([]xmlUser, 0, len(users))}
	for _, u := range users {
		list.Users = append(list.Users, xmlUser{ID: u.ID, Name: u.Name})
	}
	return marshal(list)
}

// EncodeRegisterResponse renders the result of a registration request.
func EncodeRegisterResponse(r types.RegisterResponse) []byte {
	return marshal(xmlRegisterResponse{
		Success: strconv.FormatBool(r.Success),
		Message: r.Message,
		UserID:  r.UserID,
	})
}

// marshal only sees flat structs of strings, which encoding/xml always
// accepts; invalid runes are escaped to U+FFFD rather than rejected.
func marshal(v any) []byte {
	data, err := xml.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("wire: marshal %T: %v", v, err))
	}
	return data
}

// Decode parses one frame. Any failure wraps types.ErrMalformedWireFormat.
func Decode(data []byte) (*Frame, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = true

	start, err := rootElement(dec)
	if err != nil {
		return nil, err
	}

	frame := &Frame{Root: Root(start.Name.Local)}
	switch frame.Root {
	case RootMessage:
		var in xmlMessage
		if err := dec.DecodeElement(&in, &start); err != nil {
			return nil, malformed(err)
		}
		frame.Message = in.toMessage()
	case RootUser:
		var in xmlUser
		if err := dec.DecodeElement(&in, &start); err != nil {
			return nil, malformed(err)
		}
		frame.User = &types.RosterEntry{ID: strings.TrimSpace(in.ID), Name: in.Name}
	case RootUserList:
		var in xmlUserList
		if err := dec.DecodeElement(&in, &start); err != nil {
			return nil, malformed(err)
		}
		frame.Users = make([]types.RosterEntry, 0, len(in.Users))
		for _, u := range in.Users {
			frame.Users = append(frame.Users, types.RosterEntry{ID: strings.TrimSpace(u.ID), Name: u.Name})
		}
	case RootRegisterResponse:
		var in xmlRegisterResponse
		if err := dec.DecodeElement(&in, &start); err != nil {
			return nil, malformed(err)
		}
		frame.Register = &types.RegisterResponse{
			Success: parseBool(in.Success),
			Message: in.Message,
			UserID:  strings.TrimSpace(in.UserID),
		}
	default:
		return nil, fmt.Errorf("%w: unexpected root element <%s>", types.ErrMalformedWireFormat, start.Name.Local)
	}
	return frame, nil
}

// DecodeMessage parses a frame that must be a <message>.
func DecodeMessage(data []byte) (*types.Message, error) {
	frame, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if frame.Message == nil {
		return nil, fmt.Errorf("%w: expected <message>, got <%s>", types.ErrMalformedWireFormat, frame.Root)
	}
	return frame.Message, nil
}

// DecodeUserList parses USER_LIST content back into roster entries.
func DecodeUserList(data []byte) ([]types.RosterEntry, error) {
	frame, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if frame.Root != RootUserList {
		return nil, fmt.Errorf("%w: expected <userList>, got <%s>", types.ErrMalformedWireFormat, frame.Root)
	}
	return frame.Users, nil
}

func rootElement(dec *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return xml.StartElement{}, fmt.Errorf("%w: missing root element", types.ErrMalformedWireFormat)
		}
		if err != nil {
			return xml.StartElement{}, malformed(err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			return t, nil
		case xml.CharData:
			if len(bytes.TrimSpace(t)) > 0 {
				return xml.StartElement{}, fmt.Errorf("%w: text outside root element", types.ErrMalformedWireFormat)
			}
		}
	}
}

func (in xmlMessage) toMessage() *types.Message {
	return &types.Message{
		ID:         strings.TrimSpace(in.ID),
		Kind:       types.Kind(strings.ToUpper(strings.TrimSpace(in.Type))),
		SenderID:   strings.TrimSpace(in.UserID),
		SenderName: in.Username,
		Content:    in.Content,
		CreatedAt:  parseTime(in.Timestamp),
		TargetID:   strings.TrimSpace(in.TargetUserID),
		TargetName: in.TargetUsername,
		ClientID:   strings.TrimSpace(in.ClientID),
	}
}

// parseTime accepts RFC 3339 or unix milliseconds; anything else is absent.
func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC()
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC()
	}
	return time.Time{}
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	return err == nil && b
}

func malformed(err error) error {
	return fmt.Errorf("%w: %v", types.ErrMalformedWireFormat, err)
}
