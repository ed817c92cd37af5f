package orch

import (
	"fmt"

	"github.com/dkeye/Pairing/internal/core"
	"github.com/dkeye/Pairing/internal/domain"
	"github.com/dkeye/Pairing/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Join validates req and adds sid to the requested session, creating it on
// first join. A previous connection of the same user is closed. Repeating an
// identical join is a no-op that resends the joined frame.
func (o *Orchestrator) Join(sid core.SessionID, req protocol.JoinRequest) (domain.Session, error) {
	code, err := domain.ParseSessionCode(req.SessionCode)
	if err != nil {
		return domain.Session{}, err
	}
	role, err := domain.ParseRole(string(req.Role))
	if err != nil {
		return domain.Session{}, err
	}
	p, err := domain.NewParticipant(req.UserID, req.UserName, role, o.Clock.Now())
	if err != nil {
		return domain.Session{}, err
	}
	conn, ok := o.Registry.Signal(sid)
	if !ok {
		return domain.Session{}, ErrUnknownSession
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if cur, ms, ok := o.Registry.RoomOf(sid); ok {
		if cur == code && ms.Meta().SameIdentity(*p) {
			if room, ok := o.Rooms.GetRoom(code); ok {
				o.sendJoined(sid, room)
				return room.Session(), nil
			}
		}
		o.leaveLocked(sid)
		log.Info().Str("module", "app.orch").Str("sid", string(sid)).Str("from", string(cur)).Msg("left previous session")
	}

	room := o.Rooms.GetOrCreate(code)
	ms := core.NewMemberSession(p, conn)
	replaced, did := room.AddMember(sid, ms)
	o.Registry.BindMember(sid, code, ms)
	if did {
		o.Registry.RemoveRoom(replaced)
		o.notify(replaced, protocol.ErrorFrame(protocol.ErrCodeReplaced))
		o.Registry.Cancel(replaced)
		o.Metrics.ObserveKick(protocol.ErrCodeReplaced)
	}

	o.sendJoined(sid, room)
	res := room.BroadcastPresence()
	o.applyPolicy(room, res.Dropped)

	o.Metrics.ObserveJoin(string(role))
	o.updateLoad()
	log.Info().Str("module", "app.orch").Str("sid", string(sid)).Str("code", string(code)).
		Str("user", string(p.UserID)).Str("role", string(role)).Msg("joined session")
	return room.Session(), nil
}

func (o *Orchestrator) sendJoined(sid core.SessionID, room core.RoomService) {
	session := room.Session()
	o.notify(sid, protocol.Frame{Type: protocol.FrameJoined, Session: &session, Roster: room.Roster()})
}

// Leave removes sid from its session. It reports false when sid had not joined.
func (o *Orchestrator) Leave(sid core.SessionID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.leaveLocked(sid) {
		return false
	}
	o.notify(sid, protocol.Frame{Type: protocol.FrameLeft})
	return true
}

func (o *Orchestrator) leaveLocked(sid core.SessionID) bool {
	code, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		return false
	}
	o.Registry.RemoveRoom(sid)
	if room, ok := o.Rooms.GetRoom(code); ok {
		room.RemoveMember(sid)
		if !o.Rooms.RemoveIfEmpty(code) {
			res := room.BroadcastPresence()
			o.applyPolicy(room, res.Dropped)
		}
	}
	o.updateLoad()
	return true
}

// OnDisconnect is called by the adapter once a connection is gone.
func (o *Orchestrator) OnDisconnect(sid core.SessionID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.leaveLocked(sid)
	o.Registry.Unbind(sid)
}

// KickBySID removes sid from its session and closes its connection.
func (o *Orchestrator) KickBySID(sid core.SessionID, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.kickLocked(sid, reason)
}

func (o *Orchestrator) kickLocked(sid core.SessionID, reason string) {
	o.notify(sid, protocol.ErrorFrame(reason))
	o.leaveLocked(sid)
	o.Registry.Cancel(sid)
	o.Metrics.ObserveKick(reason)
	log.Info().Str("module", "app.orch").Str("sid", string(sid)).Str("reason", reason).Msg("kicked")
}

// EvictRoom kicks every participant of code and drops the room.
func (o *Orchestrator) EvictRoom(code domain.SessionCode) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.Rooms.GetRoom(code); !ok {
		return 0, fmt.Errorf("evict %s: %w", code, ErrNoSuchSession)
	}
	snaps := o.Registry.MembersOfRoom(code)
	for _, snap := range snaps {
		o.kickLocked(snap.SID, protocol.ErrCodeEvicted)
	}
	o.Rooms.StopRoom(code)
	o.updateLoad()
	return len(snaps), nil
}
