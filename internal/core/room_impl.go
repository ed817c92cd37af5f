package core

import (
	"cmp"
	"slices"
	"sync"

	"github.com/dkeye/Pairing/internal/domain"
	"github.com/dkeye/Pairing/internal/protocol"
	"github.com/rs/zerolog/log"
)

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	session domain.Session
	mu      sync.RWMutex
	bySID   map[SessionID]MemberSession
	byUser  map[domain.UserID]SessionID
}

func NewRoomService(session domain.Session) RoomService {
	return &roomImpl{
		session: session,
		bySID:   make(map[SessionID]MemberSession),
		byUser:  make(map[domain.UserID]SessionID),
	}
}

func (r *roomImpl) Session() domain.Session { return r.session }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySID)
}

func (r *roomImpl) Has(sid SessionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.bySID[sid]
	return ok
}

func (r *roomImpl) AddMember(sid SessionID, ms MemberSession) (SessionID, bool) {
	u := ms.Meta().UserID
	r.mu.Lock()
	defer r.mu.Unlock()
	old, replaced := r.byUser[u]
	if replaced && old != sid {
		delete(r.bySID, old)
	} else {
		replaced = false
	}
	r.bySID[sid] = ms
	r.byUser[u] = sid
	log.Info().Str("module", "core.room").Str("code", string(r.session.Code)).
		Str("sid", string(sid)).Str("user", string(u)).Bool("replaced", replaced).Msg("member added")
	return old, replaced
}

func (r *roomImpl) RemoveMember(sid SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ms, ok := r.bySID[sid]
	if !ok {
		return false
	}
	u := ms.Meta().UserID
	if r.byUser[u] == sid {
		delete(r.byUser, u)
	}
	delete(r.bySID, sid)
	log.Info().Str("module", "core.room").Str("code", string(r.session.Code)).Str("sid", string(sid)).Msg("member removed")
	return true
}

// Route stamps the sender id and delivers env to its target, or to every
// other member when env has no target. An offline target is not an error.
func (r *roomImpl) Route(from SessionID, env protocol.RawEnvelope) (PublishResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sender, ok := r.bySID[from]
	if !ok {
		return PublishResult{}, ErrNotMember
	}
	env.SenderID = sender.Meta().UserID

	data, err := protocol.EncodeFrame(protocol.Frame{Type: protocol.FrameEnvelope, Envelope: &env})
	if err != nil {
		return PublishResult{}, err
	}

	res := PublishResult{}
	if !env.Broadcast() {
		sid, ok := r.byUser[env.TargetID]
		if !ok || sid == from {
			log.Debug().Str("module", "core.room").Str("target", string(env.TargetID)).Msg("target not present, envelope dropped")
			return res, nil
		}
		r.sendLocked(sid, data, &res)
		return res, nil
	}
	for sid := range r.bySID {
		if sid == from {
			continue
		}
		r.sendLocked(sid, data, &res)
	}
	log.Debug().Str("module", "core.room").Str("from", string(from)).Str("type", string(env.Type)).
		Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("route result")
	return res, nil
}

func (r *roomImpl) BroadcastPresence() PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	session := r.session
	data, err := protocol.EncodeFrame(protocol.Frame{
		Type:    protocol.FramePresence,
		Session: &session,
		Roster:  r.rosterLocked(),
	})
	if err != nil {
		log.Error().Err(err).Str("module", "core.room").Msg("encode presence")
		return res
	}
	for sid := range r.bySID {
		r.sendLocked(sid, data, &res)
	}
	return res
}

func (r *roomImpl) sendLocked(sid SessionID, data Frame, res *PublishResult) {
	if err := r.bySID[sid].Signal().TrySend(data); err != nil {
		res.Dropped = append(res.Dropped, sid)
		return
	}
	res.SendTo++
}

func (r *roomImpl) Roster() []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rosterLocked()
}

func (r *roomImpl) rosterLocked() []domain.Participant {
	out := make([]domain.Participant, 0, len(r.bySID))
	for _, ms := range r.bySID {
		out = append(out, *ms.Meta())
	}
	slices.SortFunc(out, func(a, b domain.Participant) int {
		if c := a.JoinedAt.Compare(b.JoinedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})
	return out
}
