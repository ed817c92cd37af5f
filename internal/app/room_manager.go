package app

import (
	"sync"

	"github.com/dkeye/Pairing/internal/clock"
	"github.com/dkeye/Pairing/internal/core"
	"github.com/dkeye/Pairing/internal/domain"
	"github.com/rs/zerolog/log"
)

type RoomManagerImpl struct {
	mu    sync.RWMutex
	rooms map[domain.SessionCode]core.RoomService
	clock clock.Clock
}

func NewRoomManager(c clock.Clock) core.RoomManager {
	if c == nil {
		c = clock.Real{}
	}
	return &RoomManagerImpl{rooms: make(map[domain.SessionCode]core.RoomService), clock: c}
}

func (f *RoomManagerImpl) GetOrCreate(code domain.SessionCode) core.RoomService {
	f.mu.RLock()
	room, ok := f.rooms[code]
	f.mu.RUnlock()
	if ok {
		return room
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if room, ok = f.rooms[code]; ok {
		return room
	}
	room = core.NewRoomService(domain.Session{Code: code, CreatedAt: f.clock.Now()})
	f.rooms[code] = room
	log.Info().Str("module", "app.rooms").Str("code", string(code)).Msg("session created")
	return room
}

func (f *RoomManagerImpl) GetRoom(code domain.SessionCode) (core.RoomService, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	room, ok := f.rooms[code]
	return room, ok
}

func (f *RoomManagerImpl) List() []core.RoomInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]core.RoomInfo, 0, len(f.rooms))
	for code, r := range f.rooms {
		out = append(out, core.RoomInfo{Code: code, MemberCount: r.MemberCount(), CreatedAt: r.Session().CreatedAt})
	}
	return out
}

func (f *RoomManagerImpl) StopRoom(code domain.SessionCode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rooms, code)
}

func (f *RoomManagerImpl) RemoveIfEmpty(code domain.SessionCode) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[code]
	if !ok || room.MemberCount() > 0 {
		return false
	}
	delete(f.rooms, code)
	log.Info().Str("module", "app.rooms").Str("code", string(code)).Msg("session destroyed")
	return true
}
