package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wayfarer-backend/internal/domain"
	"wayfarer-backend/pkg/logger"
)

// typingEmitter turns keystrokes into throttled typing events: true at most
// once per refresh, false after expiry without keystrokes.
type typingEmitter struct {
	send    func(*domain.Envelope) error
	refresh time.Duration
	expiry  time.Duration
	now     func() time.Time

	mu    sync.Mutex
	peers map[uuid.UUID]*typingState
}

type typingState struct {
	lastSent time.Time
	timer    *time.Timer
	gen      uint64
}

func newTypingEmitter(send func(*domain.Envelope) error, refresh, expiry time.Duration, now func() time.Time) *typingEmitter {
	return &typingEmitter{
		send:    send,
		refresh: refresh,
		expiry:  expiry,
		now:     now,
		peers:   make(map[uuid.UUID]*typingState),
	}
}

func (t *typingEmitter) keystroke(peer uuid.UUID) {
	now := t.now()

	t.mu.Lock()
	st, ok := t.peers[peer]
	if !ok {
		st = &typingState{}
		t.peers[peer] = st
	}
	emit := st.lastSent.IsZero() || now.Sub(st.lastSent) >= t.refresh
	if emit {
		st.lastSent = now
	}
	if st.timer != nil {
		st.timer.Stop()
	}
	st.gen++
	gen := st.gen
	st.timer = time.AfterFunc(t.expiry, func() { t.expire(peer, st, gen) })
	t.mu.Unlock()

	if emit {
		t.emit(peer, true)
	}
}

// stop ends a typing run now, as when the message is sent.
func (t *typingEmitter) stop(peer uuid.UUID) bool {
	t.mu.Lock()
	st, ok := t.peers[peer]
	if !ok {
		t.mu.Unlock()
		return false
	}
	delete(t.peers, peer)
	st.timer.Stop()
	t.mu.Unlock()

	t.emit(peer, false)
	return true
}

func (t *typingEmitter) expire(peer uuid.UUID, st *typingState, gen uint64) {
	t.mu.Lock()
	if t.peers[peer] != st || st.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.peers, peer)
	t.mu.Unlock()

	t.emit(peer, false)
}

func (t *typingEmitter) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for peer, st := range t.peers {
		st.timer.Stop()
		delete(t.peers, peer)
	}
}

func (t *typingEmitter) emit(peer uuid.UUID, typing bool) {
	if err := t.send(domain.Typing(peer, typing)); err != nil {
		logger.Debug("Failed to send typing", zap.String("peer_id", peer.String()), zap.Error(err))
	}
}
