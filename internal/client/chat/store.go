// Package chat keeps the client's conversations: ordering, unread counts,
// transcripts, typing and presence flags. All mutation goes through Store.
package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wayfarer-backend/internal/domain"
	"wayfarer-backend/pkg/constants"
	apperrors "wayfarer-backend/pkg/errors"
	"wayfarer-backend/pkg/logger"
)

// Conn is the relay connection as the chat store sees it.
type Conn interface {
	Send(env *domain.Envelope) error
	Request(ctx context.Context, env *domain.Envelope) (*domain.Envelope, error)
	On(t domain.EventType, h func(*domain.Envelope)) func()
}

// Server is the REST side: history pages and read state.
type Server interface {
	GetMessages(ctx context.Context, peerID uuid.UUID, limit int, cursor string) (*domain.MessagePage, error)
	MarkRead(ctx context.Context, peerID uuid.UUID) error
}

type Config struct {
	SendTimeout     time.Duration
	TypingRefresh   time.Duration
	TypingExpiry    time.Duration
	HistoryPageSize int
}

func DefaultConfig() Config {
	return Config{
		SendTimeout:     constants.SendAckTimeout,
		TypingRefresh:   constants.TypingRefresh,
		TypingExpiry:    constants.TypingExpiry,
		HistoryPageSize: constants.DefaultPageSize,
	}
}

// Events are UI callbacks, invoked outside the store lock.
type Events struct {
	OnMessage  func(*domain.Message)
	OnTyping   func(peerID uuid.UUID, typing bool)
	OnPresence func(online []uuid.UUID)
}

type Store struct {
	local  uuid.UUID
	conn   Conn
	server Server
	cfg    Config
	events Events
	typing *typingEmitter

	mu           sync.Mutex
	order        []uuid.UUID // most recent activity first
	convs        map[uuid.UUID]*domain.Conversation
	transcripts  map[uuid.UUID][]*domain.Message // oldest first
	seen         map[uuid.UUID]struct{}
	cursors      map[uuid.UUID]string
	exhausted    map[uuid.UUID]bool
	pending      map[uuid.UUID]int
	online       map[uuid.UUID]bool
	remoteTyping map[uuid.UUID]*time.Timer // replaced on every refresh
	active       uuid.UUID

	unsubscribe []func()
}

// NewStore subscribes to the relay's chat events. server may be nil.
func NewStore(local uuid.UUID, conn Conn, server Server, cfg Config, events Events) *Store {
	d := DefaultConfig()
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = d.SendTimeout
	}
	if cfg.TypingRefresh <= 0 {
		cfg.TypingRefresh = d.TypingRefresh
	}
	if cfg.TypingExpiry <= 0 {
		cfg.TypingExpiry = d.TypingExpiry
	}
	if cfg.HistoryPageSize <= 0 {
		cfg.HistoryPageSize = d.HistoryPageSize
	}

	s := &Store{
		local:        local,
		conn:         conn,
		server:       server,
		cfg:          cfg,
		events:       events,
		convs:        make(map[uuid.UUID]*domain.Conversation),
		transcripts:  make(map[uuid.UUID][]*domain.Message),
		seen:         make(map[uuid.UUID]struct{}),
		cursors:      make(map[uuid.UUID]string),
		exhausted:    make(map[uuid.UUID]bool),
		pending:      make(map[uuid.UUID]int),
		online:       make(map[uuid.UUID]bool),
		remoteTyping: make(map[uuid.UUID]*time.Timer),
	}
	s.typing = newTypingEmitter(conn.Send, cfg.TypingRefresh, cfg.TypingExpiry, time.Now)
	s.unsubscribe = []func(){
		conn.On(domain.EventIncomingMessage, func(env *domain.Envelope) {
			if env.Message != nil {
				s.Receive(env.Message)
			}
		}),
		conn.On(domain.EventIncomingTyping, func(env *domain.Envelope) {
			s.setRemoteTyping(env.From, env.IsTyping)
		}),
		conn.On(domain.EventPresenceSnapshot, func(env *domain.Envelope) {
			s.ApplyPresence(env.Online)
		}),
	}
	return s
}

func (s *Store) Close() {
	for _, off := range s.unsubscribe {
		off()
	}
	s.typing.close()
	s.mu.Lock()
	for peer, timer := range s.remoteTyping {
		timer.Stop()
		delete(s.remoteTyping, peer)
	}
	s.mu.Unlock()
}

// Load seeds the list from the server, most recent first. Conversations
// already known keep their local state.
func (s *Store) Load(convs []*domain.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range convs {
		if _, ok := s.convs[c.PeerID]; ok {
			continue
		}
		copied := *c
		copied.PeerOnline = s.online[c.PeerID]
		s.convs[c.PeerID] = &copied
		s.order = append(s.order, c.PeerID)
	}
}

// StartChat opens a conversation with a user, creating it at the front if new.
func (s *Store) StartChat(peer domain.UserSummary) (domain.Conversation, error) {
	if peer.UserID == uuid.Nil || peer.UserID == s.local {
		return domain.Conversation{}, apperrors.ValidationError("invalid chat peer")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[peer.UserID]
	if !ok {
		conv = s.ensureLocked(peer.UserID)
		s.moveFrontLocked(peer.UserID)
	}
	conv.PeerDisplayName = peer.DisplayName
	conv.PeerAvatar = peer.AvatarURL
	return copyConv(conv), nil
}

// Send delivers content to peer and waits for the relay's acknowledgment.
// Nothing is appended or retried when it fails.
func (s *Store) Send(ctx context.Context, peer uuid.UUID, content domain.Content) (*domain.Message, error) {
	if peer == uuid.Nil || peer == s.local {
		return nil, apperrors.ValidationError("invalid recipient")
	}
	if content.Type == "" {
		content.Type = domain.MessageText
	}
	if content.Body == "" && content.Attachment == nil {
		return nil, apperrors.ValidationError("message is empty")
	}

	s.typing.stop(peer)

	s.mu.Lock()
	s.pending[peer]++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.pending[peer]--; s.pending[peer] <= 0 {
			delete(s.pending, peer)
		}
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()

	resp, err := s.conn.Request(ctx, &domain.Envelope{
		Type: domain.EventNewMessage,
		To:   peer,
		Message: &domain.Message{
			RecipientID: peer,
			Type:        content.Type,
			Body:        content.Body,
			Attachment:  content.Attachment,
		},
	})
	if err != nil {
		return nil, apperrors.SendFailureError(err)
	}
	if resp.Type != domain.EventMessageAck || resp.Message == nil {
		reason := resp.Error
		if reason == "" {
			reason = "rejected by relay"
		}
		return nil, apperrors.SendFailureError(errors.New(reason))
	}

	s.apply(resp.Message)
	return resp.Message, nil
}

// Receive applies one inbound message.
func (s *Store) Receive(msg *domain.Message) {
	if s.apply(msg) && s.events.OnMessage != nil {
		s.events.OnMessage(msg)
	}
}

// Catchup applies messages missed while disconnected, oldest first, exactly
// as if they had arrived live. It returns how many were new.
func (s *Store) Catchup(msgs []*domain.Message) int {
	sorted := slices.Clone(msgs)
	slices.SortStableFunc(sorted, func(a, b *domain.Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	applied := 0
	for _, msg := range sorted {
		if s.apply(msg) {
			applied++
			if s.events.OnMessage != nil {
				s.events.OnMessage(msg)
			}
		}
	}
	return applied
}

// apply appends msg to its conversation and moves it to the front.
func (s *Store) apply(msg *domain.Message) bool {
	peer := msg.PeerOf(s.local)

	s.mu.Lock()
	if _, dup := s.seen[msg.ID]; dup {
		s.mu.Unlock()
		return false
	}
	s.seen[msg.ID] = struct{}{}

	conv := s.ensureLocked(peer)
	s.transcripts[peer] = insertByTime(s.transcripts[peer], msg)
	if msg.SenderID != s.local && s.active != peer {
		conv.UnreadCount++
	}
	if conv.LastMessage == nil || !msg.CreatedAt.Before(conv.LastMessage.At) {
		conv.Touch(msg)
		s.repositionLocked(peer, msg.CreatedAt)
	}

	clearedTyping := false
	if msg.SenderID == peer {
		clearedTyping = s.clearTypingLocked(peer)
	}
	s.mu.Unlock()

	if clearedTyping && s.events.OnTyping != nil {
		s.events.OnTyping(peer, false)
	}
	return true
}

// Open makes peer the active conversation and marks it read.
func (s *Store) Open(ctx context.Context, peer uuid.UUID) error {
	s.mu.Lock()
	s.active = peer
	s.mu.Unlock()
	return s.MarkRead(ctx, peer)
}

// CloseActive leaves the open conversation; new messages count as unread again.
func (s *Store) CloseActive() {
	s.mu.Lock()
	s.active = uuid.Nil
	s.mu.Unlock()
}

// MarkRead resets unread locally, then on the server.
func (s *Store) MarkRead(ctx context.Context, peer uuid.UUID) error {
	s.mu.Lock()
	if conv, ok := s.convs[peer]; ok {
		conv.UnreadCount = 0
	}
	s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	if err := s.server.MarkRead(ctx, peer); err != nil {
		return fmt.Errorf("failed to sync read state: %w", err)
	}
	return nil
}

// LoadHistory prepends the next older page of the transcript. Unread
// counts and ordering are not touched.
func (s *Store) LoadHistory(ctx context.Context, peer uuid.UUID) (bool, error) {
	if s.server == nil {
		return false, apperrors.ServiceUnavailableError("history unavailable")
	}

	s.mu.Lock()
	if s.exhausted[peer] {
		s.mu.Unlock()
		return false, nil
	}
	cursor := s.cursors[peer]
	s.mu.Unlock()

	page, err := s.server.GetMessages(ctx, peer, s.cfg.HistoryPageSize, cursor)
	if err != nil {
		return false, fmt.Errorf("failed to load history: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.ensureLocked(peer)
	for _, msg := range page.Messages {
		if _, dup := s.seen[msg.ID]; dup {
			continue
		}
		s.seen[msg.ID] = struct{}{}
		s.transcripts[peer] = insertByTime(s.transcripts[peer], msg)
		if conv.LastMessage == nil {
			conv.Touch(msg)
		}
	}
	s.cursors[peer] = page.NextCursor
	s.exhausted[peer] = !page.HasMore
	return page.HasMore, nil
}

// Typing records a local keystroke in the conversation with peer.
func (s *Store) Typing(peer uuid.UUID) {
	s.typing.keystroke(peer)
}

// ApplyPresence replaces the online set.
func (s *Store) ApplyPresence(online []uuid.UUID) {
	s.mu.Lock()
	clear(s.online)
	for _, id := range online {
		s.online[id] = true
	}
	for peer, conv := range s.convs {
		conv.PeerOnline = s.online[peer]
	}
	s.mu.Unlock()

	if s.events.OnPresence != nil {
		s.events.OnPresence(online)
	}
}

func (s *Store) setRemoteTyping(peer uuid.UUID, typing bool) {
	s.mu.Lock()
	changed := false
	if typing {
		old, ok := s.remoteTyping[peer]
		if ok {
			old.Stop()
		}
		changed = !ok
		var timer *time.Timer
		timer = time.AfterFunc(s.cfg.TypingExpiry, func() { s.expireRemoteTyping(peer, &timer) })
		s.remoteTyping[peer] = timer
	} else {
		changed = s.clearTypingLocked(peer)
	}
	s.mu.Unlock()

	if changed && s.events.OnTyping != nil {
		s.events.OnTyping(peer, typing)
	}
}

func (s *Store) expireRemoteTyping(peer uuid.UUID, timer **time.Timer) {
	s.mu.Lock()
	ok := s.remoteTyping[peer] == *timer
	if ok {
		delete(s.remoteTyping, peer)
	}
	s.mu.Unlock()
	if ok {
		logger.Debug("Typing expired", zap.String("peer_id", peer.String()))
		if s.events.OnTyping != nil {
			s.events.OnTyping(peer, false)
		}
	}
}

func (s *Store) clearTypingLocked(peer uuid.UUID) bool {
	timer, ok := s.remoteTyping[peer]
	if !ok {
		return false
	}
	timer.Stop()
	delete(s.remoteTyping, peer)
	return true
}

func (s *Store) ensureLocked(peer uuid.UUID) *domain.Conversation {
	if conv, ok := s.convs[peer]; ok {
		return conv
	}
	conv := &domain.Conversation{PeerID: peer, PeerOnline: s.online[peer]}
	s.convs[peer] = conv
	s.order = append(s.order, peer)
	return conv
}

// repositionLocked moves peer ahead of every conversation with older activity.
// For a live message that is the front. Chats without messages have no
// activity to compare, so peer goes ahead of any run of them at that spot.
func (s *Store) repositionLocked(peer uuid.UUID, at time.Time) {
	if i := slices.Index(s.order, peer); i >= 0 {
		s.order = slices.Delete(s.order, i, i+1)
	}
	pos := len(s.order)
	for i, other := range s.order {
		last := s.convs[other].LastMessage
		if last != nil && !last.At.After(at) {
			pos = i
			break
		}
	}
	for pos > 0 && s.convs[s.order[pos-1]].LastMessage == nil {
		pos--
	}
	s.order = slices.Insert(s.order, pos, peer)
}

func (s *Store) moveFrontLocked(peer uuid.UUID) {
	if i := slices.Index(s.order, peer); i > 0 {
		s.order = slices.Insert(slices.Delete(s.order, i, i+1), 0, peer)
	}
}

// insertByTime keeps a transcript in ascending creation order.
func insertByTime(list []*domain.Message, msg *domain.Message) []*domain.Message {
	i := len(list)
	for i > 0 && list[i-1].CreatedAt.After(msg.CreatedAt) {
		i--
	}
	return slices.Insert(list, i, msg)
}

// Conversations returns the list, most recent first.
func (s *Store) Conversations() []domain.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Conversation, 0, len(s.order))
	for _, peer := range s.order {
		out = append(out, copyConv(s.convs[peer]))
	}
	return out
}

func (s *Store) Conversation(peer uuid.UUID) (domain.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[peer]
	if !ok {
		return domain.Conversation{}, false
	}
	return copyConv(conv), true
}

// Transcript returns the messages with peer, oldest first.
func (s *Store) Transcript(peer uuid.UUID) []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Message, 0, len(s.transcripts[peer]))
	for _, msg := range s.transcripts[peer] {
		out = append(out, *msg)
	}
	return out
}

// Pending is the number of sends to peer awaiting acknowledgment.
func (s *Store) Pending(peer uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[peer]
}

func (s *Store) IsTyping(peer uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.remoteTyping[peer]
	return ok
}

func (s *Store) IsOnline(peer uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online[peer]
}

func (s *Store) Active() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func copyConv(c *domain.Conversation) domain.Conversation {
	out := *c
	if c.LastMessage != nil {
		last := *c.LastMessage
		out.LastMessage = &last
	}
	return out
}
