package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"chatbroker/internal/hub"
	"chatbroker/pkg/interfaces"
	"chatbroker/pkg/types"
	"chatbroker/pkg/wire"
)

// State is the lifecycle position of one connection.
type State int

const (
	StateUnauthenticated State = iota
	StateActive
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "UNAUTHENTICATED"
	case StateActive:
		return "ACTIVE"
	case StateTerminated:
		return "TERMINATED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session drives one connection through join, message dispatch and
// teardown. Frames are handled one at a time.
type Session struct {
	svc    *Service
	conn   interfaces.Conn
	logger *slog.Logger

	mu     sync.Mutex
	state  State
	userID string
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UserID returns the bound user id, empty before a successful join.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// HandleFrame decodes and dispatches one inbound frame. Every returned
// error is local to this frame; the caller keeps reading.
func (s *Session) HandleFrame(ctx context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateTerminated {
		return ErrSessionTerminated
	}

	frame, err := wire.Decode(data)
	if err != nil {
		s.logger.DebugContext(ctx, "undecodable frame", "err", err)
		s.replyError(err)
		return err
	}
	if frame.Message == nil {
		s.logger.WarnContext(ctx, "ignoring non-message frame", "root", string(frame.Root))
		return types.ErrUnknownFrameKind
	}

	msg := frame.Message
	switch msg.Kind {
	case types.KindJoin:
		if s.state == StateActive {
			s.logger.DebugContext(ctx, "ignoring JOIN on active session", "user_id", s.userID)
			return nil
		}
		return s.join(ctx, msg)
	case types.KindChat, types.KindPrivate, types.KindLogout:
		if s.state != StateActive {
			s.replyError(types.ErrNotJoined)
			return types.ErrNotJoined
		}
	default:
		s.logger.WarnContext(ctx, "ignoring unrecognized frame kind", "kind", string(msg.Kind), "user_id", s.userID)
		return types.ErrUnknownFrameKind
	}

	switch msg.Kind {
	case types.KindChat:
		return s.chat(ctx, msg)
	case types.KindPrivate:
		return s.private(ctx, msg)
	default:
		s.logger.InfoContext(ctx, "logout requested", "user_id", s.userID)
		s.teardown(ctx)
		return s.conn.Close()
	}
}

// Close ends the session after the transport has gone away. Safe to call
// more than once.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardown(ctx)
}

func (s *Session) join(ctx context.Context, msg *types.Message) error {
	svc := s.svc

	if msg.SenderID != "" {
		if user, ok := svc.registry.LookupByID(msg.SenderID); !ok {
			s.logger.InfoContext(ctx, "unknown user id on join, registering fresh", "user_id", msg.SenderID)
		} else if s.rejoin(ctx, user) {
			return nil
		} else {
			s.logger.InfoContext(ctx, "user removed during reconnect, registering fresh", "user_id", msg.SenderID)
		}
	}

	user, err := svc.registry.Register(msg.SenderName)
	if err != nil {
		s.logger.InfoContext(ctx, "join rejected", "name", msg.SenderName, "err", err)
		s.replyError(err)
		return err
	}

	svc.router.Bind(user.ID, s.conn)
	s.state = StateActive
	s.userID = user.ID

	s.logger.InfoContext(ctx, "user joined", "user_id", user.ID, "name", user.DisplayName)
	s.confirm(user)
	s.replay(user.ID)
	svc.hub.Dispatch(hub.Event{Kind: hub.UserJoined, User: user})
	return nil
}

// rejoin binds this connection to an existing user without creating a new
// record. The replaced handle, if any, is closed here. It reports false,
// leaving nothing bound, when the user was removed after the lookup.
func (s *Session) rejoin(ctx context.Context, user types.User) bool {
	svc := s.svc
	if svc.beforeRebind != nil {
		svc.beforeRebind(user.ID)
	}

	svc.bindMu.Lock()
	prev := svc.router.Bind(user.ID, s.conn)
	current, ok := svc.registry.SetConnected(user.ID, true)
	if !ok {
		svc.router.UnbindIf(user.ID, s.conn)
	}
	svc.bindMu.Unlock()

	if prev != nil {
		s.logger.InfoContext(ctx, "replacing stale connection", "user_id", user.ID, "prev_conn_id", prev.ID())
		_ = prev.Close()
	}
	if !ok {
		return false
	}

	s.state = StateActive
	s.userID = current.ID

	s.logger.InfoContext(ctx, "user reconnected", "user_id", current.ID, "name", current.DisplayName)
	s.confirm(current)
	s.replay(current.ID)
	s.send(svc.hub.RosterFrame())
	return true
}

func (s *Session) chat(ctx context.Context, msg *types.Message) error {
	sender, err := s.admit(msg.Content)
	if err != nil {
		return err
	}

	out := types.Message{
		ID:         uuid.NewString(),
		Kind:       types.KindChat,
		SenderID:   sender.ID,
		SenderName: sender.DisplayName,
		Content:    msg.Content,
		CreatedAt:  types.Now(),
	}
	if err := s.svc.history.Append(out); err != nil {
		return err
	}
	delivered := s.svc.router.Broadcast(wire.Encode(&out))

	s.logger.DebugContext(ctx, "chat broadcast", "user_id", sender.ID, "message_id", out.ID, "delivered", delivered)
	return nil
}

func (s *Session) private(ctx context.Context, msg *types.Message) error {
	svc := s.svc

	sender, err := s.admit(msg.Content)
	if err != nil {
		return err
	}

	target, ok := svc.registry.LookupByID(msg.TargetID)
	if !ok && msg.TargetName != "" {
		target, ok = svc.registry.LookupByName(msg.TargetName)
	}
	if !ok {
		s.replyError(types.ErrUnknownTarget)
		return types.ErrUnknownTarget
	}

	out := types.Message{
		ID:         uuid.NewString(),
		Kind:       types.KindPrivate,
		SenderID:   sender.ID,
		SenderName: sender.DisplayName,
		Content:    msg.Content,
		CreatedAt:  types.Now(),
		TargetID:   target.ID,
		TargetName: target.DisplayName,
	}
	if err := svc.history.Append(out); err != nil {
		return err
	}
	reached := svc.router.Unicast(wire.Encode(&out), target.ID, sender.ID)

	s.logger.DebugContext(ctx, "private message", "user_id", sender.ID, "target_id", target.ID, "reached", reached)
	return nil
}

// admit touches the sender and checks content and rate limits before a
// message is built. Failures are answered with an ERROR frame.
func (s *Session) admit(content string) (types.User, error) {
	svc := s.svc

	sender, ok := svc.registry.Touch(s.userID)
	if !ok {
		s.replyError(types.ErrUnknownSender)
		return types.User{}, types.ErrUnknownSender
	}
	if err := types.ValidateContent(content, svc.cfg.MaxContentLength); err != nil {
		s.replyError(err)
		return types.User{}, err
	}
	if !svc.limiter.Allow(sender.ID) {
		s.replyError(types.ErrRateLimited)
		return types.User{}, types.ErrRateLimited
	}
	return sender, nil
}

// teardown releases the binding and removes the user unless a newer
// connection has taken the binding over.
func (s *Session) teardown(ctx context.Context) {
	prevState := s.state
	s.state = StateTerminated
	if prevState != StateActive {
		return
	}

	svc := s.svc
	svc.bindMu.Lock()
	if !svc.router.UnbindIf(s.userID, s.conn) {
		svc.bindMu.Unlock()
		s.logger.DebugContext(ctx, "connection already replaced, keeping user", "user_id", s.userID)
		return
	}
	user, ok := svc.registry.Remove(s.userID)
	svc.bindMu.Unlock()
	svc.limiter.Remove(s.userID)
	if !ok {
		return
	}

	s.logger.InfoContext(ctx, "user left", "user_id", user.ID, "name", user.DisplayName)
	svc.hub.Dispatch(hub.Event{Kind: hub.UserLeft, User: user})
}

func (s *Session) confirm(user types.User) {
	s.send(wire.Encode(&types.Message{
		ID:         uuid.NewString(),
		Kind:       types.KindJoin,
		SenderID:   user.ID,
		SenderName: user.DisplayName,
		Content:    fmt.Sprintf("Welcome to the chat, %s!", user.DisplayName),
		CreatedAt:  types.Now(),
		ClientID:   user.ID,
	}))
}

func (s *Session) replay(userID string) {
	for _, m := range s.svc.history.VisibleTo(userID, s.svc.cfg.ReplayLimit) {
		s.send(wire.Encode(&m))
	}
}

func (s *Session) replyError(err error) {
	s.send(wire.Encode(&types.Message{
		ID:         uuid.NewString(),
		Kind:       types.KindError,
		SenderID:   types.SystemSender,
		SenderName: types.SystemSender,
		Content:    types.Describe(err),
		CreatedAt:  types.Now(),
	}))
}

func (s *Session) send(frame []byte) {
	if err := s.conn.Send(frame); err != nil {
		s.logger.Debug("send to own connection failed", "err", err)
	}
}
