package core

import (
	"errors"
	"time"

	"github.com/dkeye/Pairing/internal/domain"
	"github.com/dkeye/Pairing/internal/protocol"
)

var ErrNotMember = errors.New("sender is not a member of the room")

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []SessionID
}

// RoomService is the core-facing API of a session room.
// It owns the roster but never touches transport resources.
type RoomService interface {
	Session() domain.Session
	MemberCount() int
	Roster() []domain.Participant
	Has(sid SessionID) bool

	// AddMember registers sid. A previous connection of the same user is
	// evicted from the roster and returned so the caller can close it.
	AddMember(sid SessionID, ms MemberSession) (replaced SessionID, ok bool)
	RemoveMember(sid SessionID) bool
	Route(from SessionID, env protocol.RawEnvelope) (PublishResult, error)
	BroadcastPresence() PublishResult
}

type RoomInfo struct {
	Code        domain.SessionCode `json:"code"`
	MemberCount int                `json:"memberCount"`
	CreatedAt   time.Time          `json:"createdAt"`
}

type RoomManager interface {
	GetOrCreate(code domain.SessionCode) RoomService
	GetRoom(code domain.SessionCode) (RoomService, bool)
	List() []RoomInfo
	StopRoom(code domain.SessionCode)
	// RemoveIfEmpty drops the room once its last member left.
	RemoveIfEmpty(code domain.SessionCode) bool
}
