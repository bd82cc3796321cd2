// Package client owns one signed-in user's real-time session: the relay
// connection and everything built on it.
package client

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wayfarer-backend/internal/client/call"
	"wayfarer-backend/internal/client/chat"
	"wayfarer-backend/internal/client/playback"
	"wayfarer-backend/internal/domain"
	"wayfarer-backend/pkg/constants"
	"wayfarer-backend/pkg/logger"
)

// Conn is the relay connection the session owns.
type Conn interface {
	chat.Conn
	Done() <-chan struct{}
	Close() error
}

// Backend is the REST surface the session reads on start.
type Backend interface {
	chat.Server
	ListConversations(ctx context.Context, limit, offset int) ([]*domain.Conversation, error)
}

type Options struct {
	Call       call.Config
	Chat       chat.Config
	CallEvents call.Events
	ChatEvents chat.Events
	// Ringtone plays while an incoming call rings; nil means silent.
	Ringtone playback.Player
	// Speaker receives the active call's remote media; nil drops it.
	Speaker call.Sink
}

// Session is created once per sign-in and closed on sign-out. Its call
// manager and chat store share the one connection.
type Session struct {
	UserID   uuid.UUID
	Calls    *call.Manager
	Chat     *chat.Store
	Playback *playback.Controller

	conn    Conn
	backend Backend
}

func NewSession(userID uuid.UUID, conn Conn, backend Backend, source call.MediaSource, negotiators call.NegotiatorFactory, opts Options) *Session {
	ringtone := opts.Ringtone
	if ringtone == nil {
		ringtone = playback.Silent("ringtone")
	}
	ctrl := playback.NewController()

	return &Session{
		UserID:   userID,
		Playback: ctrl,
		Calls: call.NewManager(userID, conn, source, negotiators,
			call.WithConfig(opts.Call),
			call.WithEvents(opts.CallEvents),
			call.WithPlayback(ctrl, ringtone),
			call.WithSink(opts.Speaker)),
		Chat:    chat.NewStore(userID, conn, backend, opts.Chat, opts.ChatEvents),
		conn:    conn,
		backend: backend,
	}
}

// Sync loads the conversation list and applies unread messages that arrived
// while this user was offline, in the same way as live ones.
func (s *Session) Sync(ctx context.Context) (int, error) {
	if s.backend == nil {
		return 0, nil
	}
	convs, err := s.backend.ListConversations(ctx, constants.MaxPageSize, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to list conversations: %w", err)
	}

	var backlog []*domain.Message
	for _, conv := range convs {
		if conv.UnreadCount == 0 {
			continue
		}
		msgs, err := s.backlog(ctx, conv)
		if err != nil {
			logger.Warn("Failed to fetch backlog",
				zap.String("peer_id", conv.PeerID.String()),
				zap.Error(err))
			continue
		}
		// Catchup recounts these as they are applied.
		conv.UnreadCount = 0
		backlog = append(backlog, msgs...)
	}

	s.Chat.Load(convs)
	applied := s.Chat.Catchup(backlog)
	logger.Info("Session synced",
		zap.String("user_id", s.UserID.String()),
		zap.Int("conversations", len(convs)),
		zap.Int("backlog", applied))
	return applied, nil
}

// backlog pages back through the transcript until it holds the peer's
// unread messages; our own replies can sit between them.
func (s *Session) backlog(ctx context.Context, conv *domain.Conversation) ([]*domain.Message, error) {
	var (
		out    []*domain.Message
		cursor string
	)
	for len(out) < conv.UnreadCount {
		page, err := s.backend.GetMessages(ctx, conv.PeerID, min(conv.UnreadCount-len(out), constants.MaxPageSize), cursor)
		if err != nil {
			return nil, err
		}
		for _, msg := range page.Messages {
			if msg.SenderID == conv.PeerID && len(out) < conv.UnreadCount {
				out = append(out, msg)
			}
		}
		if !page.HasMore || page.NextCursor == "" || len(page.Messages) == 0 {
			break
		}
		cursor = page.NextCursor
	}
	return out, nil
}

// Done is closed when the relay connection drops.
func (s *Session) Done() <-chan struct{} {
	return s.conn.Done()
}

// Close hangs up, detaches from the relay and closes the connection.
func (s *Session) Close() error {
	s.Calls.Close()
	s.Chat.Close()
	return s.conn.Close()
}
