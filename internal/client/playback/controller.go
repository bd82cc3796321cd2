// Package playback gives one audio source at a time the speaker. Acquiring
// pauses whatever was playing before.
package playback

import (
	"sync"

	"go.uber.org/zap"

	"wayfarer-backend/pkg/logger"
)

// Player is anything that can be started and paused: a ringtone, a voice
// message, the audio of a live call.
type Player interface {
	Name() string
	Play() error
	Pause()
}

type Controller struct {
	mu      sync.Mutex
	current *Lease
}

func NewController() *Controller {
	return &Controller{}
}

// Lease is the right to play, held until released or preempted.
type Lease struct {
	ctrl   *Controller
	player Player
	once   sync.Once
}

// Acquire pauses the current player, if any, and starts p.
func (c *Controller) Acquire(p Player) (*Lease, error) {
	lease := &Lease{ctrl: c, player: p}

	c.mu.Lock()
	prev := c.current
	c.current = lease
	c.mu.Unlock()

	if prev != nil && prev.player != p {
		logger.Debug("Playback preempted",
			zap.String("paused", prev.player.Name()),
			zap.String("playing", p.Name()))
		prev.player.Pause()
	}

	if err := p.Play(); err != nil {
		c.mu.Lock()
		if c.current == lease {
			c.current = nil
		}
		c.mu.Unlock()
		return nil, err
	}
	return lease, nil
}

// Current returns the player holding the speaker, or nil.
func (c *Controller) Current() Player {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	return c.current.player
}

// Release pauses the player if it still owns the speaker. Safe to call
// more than once and after preemption.
func (l *Lease) Release() {
	if l == nil {
		return
	}
	l.once.Do(func() {
		l.ctrl.mu.Lock()
		owner := l.ctrl.current == l
		if owner {
			l.ctrl.current = nil
		}
		l.ctrl.mu.Unlock()
		if owner {
			l.player.Pause()
		}
	})
}

// Active reports whether the lease still owns the speaker.
func (l *Lease) Active() bool {
	if l == nil {
		return false
	}
	l.ctrl.mu.Lock()
	defer l.ctrl.mu.Unlock()
	return l.ctrl.current == l
}

// Silent is a Player with no output, used where only ownership matters.
type Silent string

func (s Silent) Name() string { return string(s) }
func (Silent) Play() error    { return nil }
func (Silent) Pause()         {}
