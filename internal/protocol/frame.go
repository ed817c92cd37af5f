package protocol

import (
	"github.com/dkeye/Pairing/internal/domain"
	"github.com/goccy/go-json"
)

type FrameType string

const (
	FrameJoin     FrameType = "join"
	FrameJoined   FrameType = "joined"
	FrameLeave    FrameType = "leave"
	FrameLeft     FrameType = "left"
	FramePresence FrameType = "presence"
	FrameEnvelope FrameType = "envelope"
	FramePing     FrameType = "ping"
	FramePong     FrameType = "pong"
	FrameError    FrameType = "error"
)

// Error codes carried by FrameError.
const (
	ErrCodeBadPayload   = "bad_payload"
	ErrCodeInvalidJoin  = "invalid_join"
	ErrCodeRateLimited  = "rate_limited"
	ErrCodeNotJoined    = "not_joined"
	ErrCodeUnknownType  = "unknown_type"
	ErrCodeReplaced     = "replaced"
	ErrCodeEvicted      = "evicted"
	ErrCodeSlowConsumer = "slow_consumer"
)

type JoinRequest struct {
	SessionCode string        `json:"sessionCode"`
	UserID      domain.UserID `json:"userId"`
	UserName    string        `json:"userName"`
	Role        domain.Role   `json:"role"`
}

// Frame is one websocket message between a participant and the relay.
type Frame struct {
	Type     FrameType            `json:"type"`
	Join     *JoinRequest         `json:"join,omitempty"`
	Session  *domain.Session      `json:"session,omitempty"`
	Roster   []domain.Participant `json:"roster,omitempty"`
	Envelope *RawEnvelope         `json:"envelope,omitempty"`
	Error    string               `json:"error,omitempty"`
}

func EncodeFrame(f Frame) ([]byte, error) { return json.Marshal(f) }

func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	err := json.Unmarshal(data, &f)
	return f, err
}

func ErrorFrame(code string) Frame { return Frame{Type: FrameError, Error: code} }
