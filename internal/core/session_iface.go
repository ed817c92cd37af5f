package core

import "github.com/dkeye/Pairing/internal/domain"

// SessionID identifies one signaling connection, not a person.
type SessionID string

// MemberSession binds a participant and its transport endpoint.
// This is what a room stores and fans out to.
type MemberSession interface {
	Meta() *domain.Participant
	Signal() SignalConnection
}
