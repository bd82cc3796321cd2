package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType names a relay envelope.
type EventType string

// Client to relay
const (
	EventInvite       EventType = "invite"
	EventAccept       EventType = "accept"
	EventICECandidate EventType = "ice_candidate"
	EventTerminate    EventType = "terminate"
	EventTyping       EventType = "typing"
	EventNewMessage   EventType = "new_message"
)

// Relay to client
const (
	EventIncomingInvite       EventType = "incoming_invite"
	EventIncomingAccept       EventType = "incoming_accept"
	EventIncomingICECandidate EventType = "incoming_ice_candidate"
	EventIncomingTerminate    EventType = "incoming_terminate"
	EventIncomingTyping       EventType = "incoming_typing"
	EventIncomingMessage      EventType = "incoming_message"

	EventTargetOffline    EventType = "target_offline"
	EventPresenceSnapshot EventType = "presence_snapshot"
	EventMessageAck       EventType = "message_ack"
	EventMessageFailed    EventType = "message_failed"
	EventError            EventType = "error"
)

var incoming = map[EventType]EventType{
	EventInvite:       EventIncomingInvite,
	EventAccept:       EventIncomingAccept,
	EventICECandidate: EventIncomingICECandidate,
	EventTerminate:    EventIncomingTerminate,
	EventTyping:       EventIncomingTyping,
	EventNewMessage:   EventIncomingMessage,
}

// Incoming returns the event the target receives for a routable client event.
func (t EventType) Incoming() (EventType, bool) {
	in, ok := incoming[t]
	return in, ok
}

// MediaType selects the tracks of a call.
type MediaType string

const (
	MediaAudio MediaType = "audio"
	MediaVideo MediaType = "video"
)

func (m MediaType) Valid() bool {
	return m == MediaAudio || m == MediaVideo
}

// TerminateReason travels with terminate events.
type TerminateReason string

const (
	ReasonHangup            TerminateReason = "hangup"
	ReasonDeclined          TerminateReason = "declined"
	ReasonBusy              TerminateReason = "busy"
	ReasonNoAnswer          TerminateReason = "no_answer"
	ReasonMediaUnavailable  TerminateReason = "media_unavailable"
	ReasonNegotiationFailed TerminateReason = "negotiation_failed"
	ReasonTransportFailure  TerminateReason = "transport_failure"
	// ReasonPeerOffline is local only; the relay answers target_offline instead.
	ReasonPeerOffline TerminateReason = "peer_offline"
)

// SessionDescription mirrors the browser RTCSessionDescriptionInit shape.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidate mirrors RTCIceCandidateInit.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// Envelope is the single JSON frame exchanged over the relay websocket.
// Offer, Answer and Candidate are forwarded by the relay without inspection.
type Envelope struct {
	Type      EventType       `json:"type"`
	To        uuid.UUID       `json:"to,omitzero"`
	From      uuid.UUID       `json:"from,omitzero"`
	RequestID string          `json:"request_id,omitempty"`
	MediaType MediaType       `json:"media_type,omitempty"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	Reason    TerminateReason `json:"reason,omitempty"`
	IsTyping  bool            `json:"is_typing,omitempty"`
	Message   *Message        `json:"message,omitempty"`
	Online    []uuid.UUID     `json:"online,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitzero"`
}

// Invite builds an invite envelope carrying the local offer.
func Invite(to uuid.UUID, media MediaType, offer SessionDescription) (*Envelope, error) {
	raw, err := json.Marshal(offer)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: EventInvite, To: to, MediaType: media, Offer: raw}, nil
}

func Accept(to uuid.UUID, answer SessionDescription) (*Envelope, error) {
	raw, err := json.Marshal(answer)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: EventAccept, To: to, Answer: raw}, nil
}

func Candidate(to uuid.UUID, c ICECandidate) (*Envelope, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: EventICECandidate, To: to, Candidate: raw}, nil
}

func Terminate(to uuid.UUID, reason TerminateReason) *Envelope {
	return &Envelope{Type: EventTerminate, To: to, Reason: reason}
}

func Typing(to uuid.UUID, typing bool) *Envelope {
	return &Envelope{Type: EventTyping, To: to, IsTyping: typing}
}

// DecodeOffer returns the offer of an incoming invite.
func (e *Envelope) DecodeOffer() (SessionDescription, error) {
	var sd SessionDescription
	err := json.Unmarshal(e.Offer, &sd)
	return sd, err
}

func (e *Envelope) DecodeAnswer() (SessionDescription, error) {
	var sd SessionDescription
	err := json.Unmarshal(e.Answer, &sd)
	return sd, err
}

func (e *Envelope) DecodeCandidate() (ICECandidate, error) {
	var c ICECandidate
	err := json.Unmarshal(e.Candidate, &c)
	return c, err
}
