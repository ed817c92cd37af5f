// Package protocol defines the relay wire format: control frames exchanged
// with the signaling server and the envelopes relayed between participants.
package protocol

import (
	"errors"
	"fmt"

	"github.com/dkeye/Pairing/internal/domain"
	"github.com/goccy/go-json"
)

type Type string

const (
	TypeOffer           Type = "webrtc-offer"
	TypeAnswer          Type = "webrtc-answer"
	TypeCandidate       Type = "ice-candidate"
	TypeModeChange      Type = "mode-change"
	TypeControlRequest  Type = "control-request"
	TypeControlResponse Type = "control-response"
	TypeCursorMove      Type = "cursor-move"
	TypeGenericEvent    Type = "generic-event"
)

var ErrUnknownEnvelope = errors.New("unknown envelope type")

func (t Type) Known() bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeCandidate, TypeModeChange,
		TypeControlRequest, TypeControlResponse, TypeCursorMove, TypeGenericEvent:
		return true
	}
	return false
}

// RawEnvelope is what the relay moves around. Payload stays opaque to it.
type RawEnvelope struct {
	Type     Type            `json:"type"`
	SenderID domain.UserID   `json:"senderId"`
	TargetID domain.UserID   `json:"targetId,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

func (e RawEnvelope) Broadcast() bool { return e.TargetID == "" }

// Envelope is a decoded RawEnvelope. The concrete Payload type carries the kind.
type Envelope struct {
	SenderID domain.UserID
	TargetID domain.UserID
	Payload  Payload
}

func (e Envelope) Type() Type { return e.Payload.Type() }

// Payload is implemented only by the payload structs of this package.
type Payload interface {
	Type() Type
	isPayload()
}

type Offer struct {
	SDP string `json:"sdp"`
}

type Answer struct {
	SDP string `json:"sdp"`
}

// Candidate mirrors RTCIceCandidateInit.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

type ModeChange struct {
	Mode string `json:"mode"`
}

type ControlRequest struct {
	Reason string `json:"reason,omitempty"`
}

type ControlResponse struct {
	Granted bool `json:"granted"`
}

type CursorMove struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type GenericEvent struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data,omitempty"`
}

func (Offer) Type() Type           { return TypeOffer }
func (Answer) Type() Type          { return TypeAnswer }
func (Candidate) Type() Type       { return TypeCandidate }
func (ModeChange) Type() Type      { return TypeModeChange }
func (ControlRequest) Type() Type  { return TypeControlRequest }
func (ControlResponse) Type() Type { return TypeControlResponse }
func (CursorMove) Type() Type      { return TypeCursorMove }
func (GenericEvent) Type() Type    { return TypeGenericEvent }

func (Offer) isPayload()           {}
func (Answer) isPayload()          {}
func (Candidate) isPayload()       {}
func (ModeChange) isPayload()      {}
func (ControlRequest) isPayload()  {}
func (ControlResponse) isPayload() {}
func (CursorMove) isPayload()      {}
func (GenericEvent) isPayload()    {}

var ErrEventName = errors.New("generic event needs a name")

// NewGenericEvent marshals data into a named application event.
func NewGenericEvent(name string, data any) (GenericEvent, error) {
	if name == "" {
		return GenericEvent{}, ErrEventName
	}
	ev := GenericEvent{Name: name}
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return GenericEvent{}, fmt.Errorf("encode event %s: %w", name, err)
		}
		ev.Data = b
	}
	return ev, nil
}

// Seal encodes a typed payload into a relayable envelope.
func Seal(sender, target domain.UserID, p Payload) (RawEnvelope, error) {
	if p == nil {
		return RawEnvelope{}, ErrUnknownEnvelope
	}
	b, err := json.Marshal(p)
	if err != nil {
		return RawEnvelope{}, fmt.Errorf("encode %s payload: %w", p.Type(), err)
	}
	return RawEnvelope{Type: p.Type(), SenderID: sender, TargetID: target, Payload: b}, nil
}

// Open decodes the payload of raw according to its type.
func Open(raw RawEnvelope) (Envelope, error) {
	var p Payload
	var err error
	switch raw.Type {
	case TypeOffer:
		p, err = decode[Offer](raw.Payload)
	case TypeAnswer:
		p, err = decode[Answer](raw.Payload)
	case TypeCandidate:
		p, err = decode[Candidate](raw.Payload)
	case TypeModeChange:
		p, err = decode[ModeChange](raw.Payload)
	case TypeControlRequest:
		p, err = decode[ControlRequest](raw.Payload)
	case TypeControlResponse:
		p, err = decode[ControlResponse](raw.Payload)
	case TypeCursorMove:
		p, err = decode[CursorMove](raw.Payload)
	case TypeGenericEvent:
		p, err = decode[GenericEvent](raw.Payload)
	default:
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownEnvelope, raw.Type)
	}
	if err != nil {
		return Envelope{}, fmt.Errorf("decode %s payload: %w", raw.Type, err)
	}
	return Envelope{SenderID: raw.SenderID, TargetID: raw.TargetID, Payload: p}, nil
}

func decode[T Payload](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	err := json.Unmarshal(data, &v)
	return v, err
}
