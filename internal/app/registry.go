package app

import (
	"context"
	"sync"

	"github.com/dkeye/Pairing/internal/core"
	"github.com/dkeye/Pairing/internal/domain"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	Code   domain.SessionCode
	Member core.MemberSession // nil until the connection joined a session
	Signal core.SignalConnection
	Cancel context.CancelFunc
}

// Registry maps live signaling connections to the session they joined.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[core.SessionID]*sessionEntry)}
}

func (r *Registry) BindSignal(sid core.SessionID, conn core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{Signal: conn, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("bound signal")
}

func (r *Registry) Signal(sid core.SessionID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Signal, true
	}
	return nil, false
}

func (r *Registry) Unbind(sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
}

// BindMember records that sid joined code as ms.
func (r *Registry) BindMember(sid core.SessionID, code domain.SessionCode, ms core.MemberSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[sid]
	if !ok {
		return false
	}
	entry.Code = code
	entry.Member = ms
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("code", string(code)).Msg("bound member")
	return true
}

func (r *Registry) RoomOf(sid core.SessionID) (domain.SessionCode, core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.sessions[sid]
	if !ok || entry.Code == "" {
		return "", nil, false
	}
	return entry.Code, entry.Member, true
}

func (r *Registry) RemoveRoom(sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.sessions[sid]; ok {
		entry.Code = ""
		entry.Member = nil
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("removed room association")
}

type regSnap struct {
	SID    core.SessionID
	Member core.MemberSession
}

func (r *Registry) MembersOfRoom(code domain.SessionCode) []regSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]regSnap, 0, len(r.sessions))
	for sid, e := range r.sessions {
		if e.Code == code {
			out = append(out, regSnap{SID: sid, Member: e.Member})
		}
	}
	return out
}

// Joined counts connections that are members of some session.
func (r *Registry) Joined() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.sessions {
		if e.Code != "" {
			n++
		}
	}
	return n
}

func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}
