// Package pairing defines the client side signaling channel used by the
// session coordinator, independent of how frames reach the relay.
package pairing

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Pairing/internal/domain"
	"github.com/dkeye/Pairing/internal/protocol"
	"github.com/rs/zerolog/log"
)

type JoinParams struct {
	SessionCode domain.SessionCode
	UserID      domain.UserID
	UserName    string
	Role        domain.Role
}

func (p JoinParams) Request() protocol.JoinRequest {
	return protocol.JoinRequest{
		SessionCode: string(p.SessionCode),
		UserID:      p.UserID,
		UserName:    p.UserName,
		Role:        p.Role,
	}
}

// Channel relays envelopes between the parties of one session code.
type Channel interface {
	// Connect joins the session. It fails with domain.ErrChannelUnavailable
	// when the relay cannot be reached or rejects the join. Repeating it with
	// the same params while connected is a no-op.
	Connect(ctx context.Context, p JoinParams) error
	// Disconnect is safe to call repeatedly and before Connect.
	Disconnect()
	// Send is fire-and-forget. An empty target broadcasts.
	Send(target domain.UserID, p protocol.Payload) error

	OnPresence(fn func([]domain.Participant))
	OnEvent(fn func(protocol.Envelope))
	// OnClose fires when the relay drops a connected channel.
	OnClose(fn func(err error))
}

// Unavailable wraps reason as domain.ErrChannelUnavailable.
func Unavailable(reason any) error {
	return fmt.Errorf("%w: %v", domain.ErrChannelUnavailable, reason)
}

// Dispatcher delivers decoded relay frames to the registered handlers.
// Channel implementations embed it and feed it from a single goroutine.
type Dispatcher struct {
	mu         sync.RWMutex
	onPresence func([]domain.Participant)
	onEvent    func(protocol.Envelope)
	onClose    func(error)
}

func (d *Dispatcher) OnPresence(fn func([]domain.Participant)) {
	d.mu.Lock()
	d.onPresence = fn
	d.mu.Unlock()
}

func (d *Dispatcher) OnEvent(fn func(protocol.Envelope)) {
	d.mu.Lock()
	d.onEvent = fn
	d.mu.Unlock()
}

func (d *Dispatcher) OnClose(fn func(error)) {
	d.mu.Lock()
	d.onClose = fn
	d.mu.Unlock()
}

// Result summarises what a frame meant for the connection state.
type Result struct {
	Joined bool
	Left   bool
	Err    error
}

var ErrRejected = errors.New("rejected by relay")

func (d *Dispatcher) Dispatch(f protocol.Frame) Result {
	d.mu.RLock()
	onPresence, onEvent := d.onPresence, d.onEvent
	d.mu.RUnlock()

	switch f.Type {
	case protocol.FrameJoined:
		if onPresence != nil {
			onPresence(f.Roster)
		}
		return Result{Joined: true}
	case protocol.FramePresence:
		if onPresence != nil {
			onPresence(f.Roster)
		}
	case protocol.FrameEnvelope:
		if f.Envelope == nil {
			return Result{}
		}
		env, err := protocol.Open(*f.Envelope)
		if err != nil {
			log.Warn().Err(err).Str("module", "pairing").Str("type", string(f.Envelope.Type)).Msg("envelope dropped")
			return Result{}
		}
		if onEvent != nil {
			onEvent(env)
		}
	case protocol.FrameLeft:
		return Result{Left: true}
	case protocol.FrameError:
		return Result{Err: &RelayError{Code: f.Error}}
	case protocol.FramePong:
	default:
		log.Debug().Str("module", "pairing").Str("type", string(f.Type)).Msg("unhandled frame")
	}
	return Result{}
}

// Closed reports a relay-side drop to the OnClose handler.
func (d *Dispatcher) Closed(err error) {
	d.mu.RLock()
	fn := d.onClose
	d.mu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

// RelayError is an error frame sent by the relay.
type RelayError struct {
	Code string
}

func (e *RelayError) Error() string        { return "relay error: " + e.Code }
func (e *RelayError) Is(target error) bool { return target == ErrRejected }

// Fatal reports whether err means the relay closed the connection.
func (e *RelayError) Fatal() bool {
	switch e.Code {
	case protocol.ErrCodeReplaced, protocol.ErrCodeEvicted, protocol.ErrCodeSlowConsumer:
		return true
	}
	return false
}
