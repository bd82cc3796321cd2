package call

import (
	"time"

	"github.com/google/uuid"

	"wayfarer-backend/internal/domain"
)

type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseDialing    Phase = "dialing"
	PhaseRinging    Phase = "ringing"
	PhaseConnecting Phase = "connecting"
	PhaseActive     Phase = "active"
	PhaseEnded      Phase = "ended"
)

type Direction string

const (
	Outgoing Direction = "outgoing"
	Incoming Direction = "incoming"
)

// State is one phase of a call. Each phase is its own type and carries only
// the fields that are valid in it.
type State interface {
	Phase() Phase
	state()
}

type Idle struct{}

// Dialing: invite being prepared or sent, waiting for accept.
type Dialing struct {
	Peer  uuid.UUID
	Media domain.MediaType
	Since time.Time
}

// Ringing: inbound invite waiting for the local user.
type Ringing struct {
	Peer  uuid.UUID
	Media domain.MediaType
	Since time.Time
}

// Connecting: descriptions exchanged, waiting for the transport.
type Connecting struct {
	Peer      uuid.UUID
	Direction Direction
	Media     domain.MediaType
	Since     time.Time
}

type Active struct {
	Peer      uuid.UUID
	Direction Direction
	Media     domain.MediaType
	StartedAt time.Time
	Muted     bool
	VideoOff  bool
}

// Ended is terminal. Err is set when the call failed rather than being hung up.
type Ended struct {
	Peer      uuid.UUID
	Reason    domain.TerminateReason
	Err       error
	StartedAt time.Time // zero when the call never became active
	EndedAt   time.Time
}

func (Idle) Phase() Phase       { return PhaseIdle }
func (Dialing) Phase() Phase    { return PhaseDialing }
func (Ringing) Phase() Phase    { return PhaseRinging }
func (Connecting) Phase() Phase { return PhaseConnecting }
func (Active) Phase() Phase     { return PhaseActive }
func (Ended) Phase() Phase      { return PhaseEnded }

func (Idle) state()       {}
func (Dialing) state()    {}
func (Ringing) state()    {}
func (Connecting) state() {}
func (Active) state()     {}
func (Ended) state()      {}

// Duration is the time spent active.
func (e Ended) Duration() time.Duration {
	if e.StartedAt.IsZero() {
		return 0
	}
	return e.EndedAt.Sub(e.StartedAt)
}

// Duration is the time spent active so far.
func (a Active) Duration(now time.Time) time.Duration {
	return now.Sub(a.StartedAt)
}
