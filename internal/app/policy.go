package app

import "github.com/dkeye/Pairing/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

// Policy decides what happens to a member whose send queue is full.
type Policy interface {
	OnBackPressure(room core.RoomService, sid core.SessionID) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(room core.RoomService, sid core.SessionID) BackpressureAction {
	return KickMember
}

// TolerantPolicy drops the frame and keeps the member.
type TolerantPolicy struct{}

func (TolerantPolicy) OnBackPressure(core.RoomService, core.SessionID) BackpressureAction {
	return DropFrame
}
