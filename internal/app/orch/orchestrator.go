package orch

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Pairing/internal/app"
	"github.com/dkeye/Pairing/internal/clock"
	"github.com/dkeye/Pairing/internal/core"
	"github.com/dkeye/Pairing/internal/metrics"
	"github.com/dkeye/Pairing/internal/protocol"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotJoined      = errors.New("connection has not joined a session")
	ErrUnknownSession = errors.New("unknown signaling connection")
	ErrNoSuchSession  = errors.New("no such session")
)

// Orchestrator ties signaling connections to session rooms. Adapters call
// it from their read pumps; it never blocks on a connection.
type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RoomManager
	Policy   app.Policy
	Metrics  *metrics.Metrics
	Clock    clock.Clock

	// mu serializes membership changes so a room cannot be dropped while a
	// join is landing in it.
	mu sync.Mutex
}

func New(rooms core.RoomManager, policy app.Policy, m *metrics.Metrics, c clock.Clock) *Orchestrator {
	if c == nil {
		c = clock.Real{}
	}
	return &Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    rooms,
		Policy:   policy,
		Metrics:  m,
		Clock:    c,
	}
}

// Relay forwards env from sid to its session room.
func (o *Orchestrator) Relay(sid core.SessionID, env protocol.RawEnvelope) error {
	if !env.Type.Known() {
		return fmt.Errorf("%w: %q", protocol.ErrUnknownEnvelope, env.Type)
	}
	code, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		return ErrNotJoined
	}
	room, ok := o.Rooms.GetRoom(code)
	if !ok {
		return ErrNotJoined
	}
	res, err := room.Route(sid, env)
	if err != nil {
		return fmt.Errorf("route %s: %w", env.Type, err)
	}
	o.Metrics.ObserveEnvelope(string(env.Type), len(res.Dropped))
	if len(res.Dropped) > 0 {
		o.mu.Lock()
		o.applyPolicy(room, res.Dropped)
		o.mu.Unlock()
	}
	return nil
}

func (o *Orchestrator) applyPolicy(room core.RoomService, dropped []core.SessionID) {
	if o.Policy == nil {
		return
	}
	for _, slow := range dropped {
		switch o.Policy.OnBackPressure(room, slow) {
		case app.KickMember:
			o.kickLocked(slow, protocol.ErrCodeSlowConsumer)
		case app.DropFrame, app.NoAction:
		}
	}
}

// notify sends a relay-originated frame to a single connection.
func (o *Orchestrator) notify(sid core.SessionID, f protocol.Frame) {
	conn, ok := o.Registry.Signal(sid)
	if !ok {
		return
	}
	data, err := protocol.EncodeFrame(f)
	if err != nil {
		log.Error().Err(err).Str("module", "app.orch").Msg("encode frame")
		return
	}
	if err := conn.TrySend(data); err != nil {
		log.Warn().Err(err).Str("module", "app.orch").Str("sid", string(sid)).
			Str("frame", string(f.Type)).Msg("notify dropped")
	}
}

func (o *Orchestrator) updateLoad() {
	o.Metrics.SetLoad(len(o.Rooms.List()), o.Registry.Joined())
}
