package wire

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatbroker/pkg/types"
)

var fixedTime = time.Date(2026, 3, 14, 15, 9, 26, 535897000, time.UTC)

func TestEncodeDecode_RoundTripRequiredOnly(t *testing.T) {
	m := &types.Message{
		ID:         "m-1",
		Kind:       types.KindChat,
		SenderID:   "u-1",
		SenderName: "Alice",
		Content:    "hi",
		CreatedAt:  fixedTime,
	}

	got, err := DecodeMessage(Encode(m))
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestEncodeDecode_RoundTripAllOptional(t *testing.T) {
	m := &types.Message{
		ID:         "m-2",
		Kind:       types.KindPrivate,
		SenderID:   "u-1",
		SenderName: "Alice",
		Content:    "secret <b>&amp;</b>",
		CreatedAt:  fixedTime,
		TargetID:   "u-2",
		TargetName: "Bob",
		ClientID:   "c-9",
	}

	got, err := DecodeMessage(Encode(m))
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestEncode_OmitsAbsentFields(t *testing.T) {
	out := string(Encode(&types.Message{ID: "m", Kind: types.KindChat, Content: "x"}))

	assert.Equal(t, "<message><type>CHAT</type><id>m</id><content>x</content></message>", out)
	assert.NotContains(t, out, "targetUserId")
	assert.NotContains(t, out, "timestamp")
}

func TestEncode_Deterministic(t *testing.T) {
	m := &types.Message{ID: "a", Kind: types.KindJoin, SenderID: "s", SenderName: "n", Content: "c", CreatedAt: fixedTime}
	assert.Equal(t, Encode(m), Encode(m))
}

func TestDecode_ToleratesUnknownAndMissingFields(t *testing.T) {
	in := `<message><type>join</type><username> Carol </username><avatar>x.png</avatar><extra><deep>1</deep></extra></message>`

	m, err := DecodeMessage([]byte(in))
	require.NoError(t, err)
	assert.Equal(t, types.KindJoin, m.Kind)
	assert.Equal(t, " Carol ", m.SenderName)
	assert.Empty(t, m.SenderID)
	assert.True(t, m.CreatedAt.IsZero())
}

func TestDecode_UnixMillisTimestamp(t *testing.T) {
	m, err := DecodeMessage([]byte(`<message><type>CHAT</type><timestamp>1700000000000</timestamp></message>`))
	require.NoError(t, err)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), m.CreatedAt)
}

func TestDecode_MalformedInput(t *testing.T) {
	cases := map[string]string{
		"empty":          "",
		"whitespace":     "   \n",
		"plain text":     "hello there",
		"unclosed":       "<message><content>hi</message>",
		"unknown root":   "<envelope><content>hi</content></envelope>",
		"json":           `{"type":"CHAT"}`,
		"truncated":      "<message><type>CHAT",
		"only a comment": "<!-- nothing -->",
	}

	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			frame, err := Decode([]byte(in))
			assert.Nil(t, frame)
			require.Error(t, err)
			assert.True(t, errors.Is(err, types.ErrMalformedWireFormat), "got %v", err)
		})
	}
}

func TestDecode_DispatchesOnRoot(t *testing.T) {
	frame, err := Decode(EncodeUser(types.RosterEntry{ID: "u-1", Name: "Alice"}))
	require.NoError(t, err)
	assert.Equal(t, RootUser, frame.Root)
	assert.Equal(t, &types.RosterEntry{ID: "u-1", Name: "Alice"}, frame.User)

	roster := []types.RosterEntry{{ID: "u-1", Name: "Alice"}, {ID: "u-2", Name: "Bob"}}
	frame, err = Decode(EncodeUserList(roster))
	require.NoError(t, err)
	assert.Equal(t, RootUserList, frame.Root)
	assert.Equal(t, roster, frame.Users)

	frame, err = Decode(EncodeRegisterResponse(types.RegisterResponse{Success: true, Message: "ok", UserID: "u-3"}))
	require.NoError(t, err)
	assert.Equal(t, RootRegisterResponse, frame.Root)
	assert.Equal(t, &types.RegisterResponse{Success: true, Message: "ok", UserID: "u-3"}, frame.Register)
}

func TestDecode_TextualBooleans(t *testing.T) {
	for in, want := range map[string]bool{"true": true, "TRUE": true, "1": true, "false": false, "yes": false, "": false} {
		frame, err := Decode([]byte("<registerResponse><success>" + in + "</success></registerResponse>"))
		require.NoError(t, err)
		assert.Equal(t, want, frame.Register.Success, "input %q", in)
	}
}

func TestDecodeUserList_EmptyAndWrongRoot(t *testing.T) {
	users, err := DecodeUserList(EncodeUserList(nil))
	require.NoError(t, err)
	assert.Empty(t, users)

	_, err = DecodeUserList(Encode(&types.Message{Kind: types.KindChat, Content: "x"}))
	assert.ErrorIs(t, err, types.ErrMalformedWireFormat)
}

func TestDecodeMessage_RejectsOtherRoots(t *testing.T) {
	_, err := DecodeMessage(EncodeUser(types.RosterEntry{ID: "x"}))
	assert.ErrorIs(t, err, types.ErrMalformedWireFormat)
	assert.True(t, strings.Contains(err.Error(), "expected <message>"))
}
