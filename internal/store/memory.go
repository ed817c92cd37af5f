package store

import (
	"context"
	"time"

	"github.com/dkeye/Pairing/internal/clock"
	"github.com/dkeye/Pairing/internal/domain"
	"github.com/dkeye/Pairing/internal/ttlcache"
)

type Memory struct {
	codes *ttlcache.Cache[domain.SessionCode, struct{}]
}

func NewMemory(c clock.Clock) *Memory {
	return &Memory{codes: ttlcache.New[domain.SessionCode, struct{}](c)}
}

func (m *Memory) Reserve(_ context.Context, code domain.SessionCode, ttl time.Duration) (bool, error) {
	return m.codes.SetIfAbsent(code, struct{}{}, ttl), nil
}

func (m *Memory) Exists(_ context.Context, code domain.SessionCode) (bool, error) {
	_, ok := m.codes.Get(code)
	return ok, nil
}

func (m *Memory) Release(_ context.Context, code domain.SessionCode) error {
	m.codes.Delete(code)
	return nil
}

// Sweep drops expired reservations.
func (m *Memory) Sweep() int { return m.codes.Sweep() }

func (m *Memory) Close() error { return nil }
