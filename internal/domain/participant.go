// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
	"time"
)

const (
	MaxUserIDLen   = 64
	MaxUsernameLen = 36
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
	ErrUserIDEmpty     = errors.New("user id empty")
	ErrUserIDTooLong   = errors.New("user id too long")
	ErrInvalidRole     = errors.New("invalid role")
)

type UserID string

type Role string

const (
	RoleMentor Role = "mentor"
	RoleChild  Role = "child"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleMentor, RoleChild:
		return r, nil
	}
	return "", ErrInvalidRole
}

func (r Role) Valid() bool { return r == RoleMentor || r == RoleChild }

// Participant is one party of a pairing session as seen in presence.
type Participant struct {
	UserID   UserID    `json:"userId"`
	UserName string    `json:"userName"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

// NewParticipant validates the join parameters and stamps JoinedAt.
func NewParticipant(id UserID, username string, role Role, now time.Time) (*Participant, error) {
	if err := ValidateUserID(id); err != nil {
		return nil, err
	}
	p := &Participant{UserID: id, Role: role, JoinedAt: now}
	if err := p.SetUsername(username); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, ErrInvalidRole
	}
	return p, nil
}

func ValidateUserID(id UserID) error {
	if len(id) == 0 {
		return ErrUserIDEmpty
	}
	if len(id) > MaxUserIDLen {
		return ErrUserIDTooLong
	}
	return nil
}

func (p *Participant) SetUsername(username string) error {
	username = strings.TrimSpace(username)
	if len(username) == 0 {
		return ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	p.UserName = username
	return nil
}

// SameIdentity ignores JoinedAt.
func (p Participant) SameIdentity(other Participant) bool {
	return p.UserID == other.UserID && p.UserName == other.UserName && p.Role == other.Role
}
