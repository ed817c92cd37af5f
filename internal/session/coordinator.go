// Package session implements the role-aware session coordinator that joins a
// pairing session, keeps peer links in line with presence, and tracks shared
// view state such as mode, control and remote cursors.
package session

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/Pairing/internal/clock"
	"github.com/dkeye/Pairing/internal/domain"
	"github.com/dkeye/Pairing/internal/eventloop"
	"github.com/dkeye/Pairing/internal/pairing"
	"github.com/dkeye/Pairing/internal/peer"
	"github.com/dkeye/Pairing/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotPaired          = errors.New("no paired participant")
	ErrNoControlRequest   = errors.New("no pending control request")
	ErrUnknownParticipant = errors.New("participant not present")
)

type Options struct {
	Channel    pairing.Channel
	Transports peer.TransportFactory
	// LocalTracks is the local media shared by every outbound and inbound link.
	LocalTracks        []webrtc.TrackLocal
	NegotiationTimeout time.Duration
	Clock              clock.Clock
}

// Coordinator is safe for concurrent use. Its handlers run on a dedicated
// goroutine, in order, and may call back into the Coordinator.
type Coordinator struct {
	ch      pairing.Channel
	loop    *eventloop.Loop
	notify  *eventloop.Loop
	peers   *peer.Manager
	cursors *CursorTracker
	tracks  []webrtc.TrackLocal
	log     zerolog.Logger

	// Loop-confined.
	params        pairing.JoinParams
	joining       bool
	attempt       *joinAttempt
	connected     bool
	roster        []domain.Participant
	joinedAt      map[domain.UserID]time.Time
	requester     domain.UserID
	requestedFrom domain.UserID

	mu   sync.RWMutex
	view view

	hmu            sync.RWMutex
	onRemoteStream func(domain.UserID, peer.RemoteTrack)
	onStateChange  func(from, to State)
	onEvent        func(protocol.Envelope)
}

// view is the snapshot read by the accessor methods.
type view struct {
	state      State
	connected  bool
	self       domain.UserID
	roster     []domain.Participant
	mode       string
	controller domain.UserID
	links      []peer.LinkInfo
}

func New(opts Options) *Coordinator {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	c := &Coordinator{
		ch:       opts.Channel,
		loop:     eventloop.New(),
		notify:   eventloop.New(),
		cursors:  NewCursorTracker(opts.Clock),
		tracks:   opts.LocalTracks,
		joinedAt: make(map[domain.UserID]time.Time),
		log:      log.With().Str("module", "session").Logger(),
	}
	c.peers = peer.NewManager(c.loop, opts.Transports, c.sendSignal, peer.Options{
		NegotiationTimeout: opts.NegotiationTimeout,
		Clock:              opts.Clock,
		Handlers: peer.Handlers{
			OnStream:      c.handleStream,
			OnStateChange: func(domain.UserID, peer.LinkState) { c.publishLinks() },
			OnClosed:      c.handleLinkClosed,
		},
	})

	c.ch.OnPresence(func(roster []domain.Participant) {
		c.loop.Post(func() { c.handlePresence(roster) })
	})
	c.ch.OnEvent(func(env protocol.Envelope) {
		c.loop.Post(func() { c.handleEnvelope(env) })
	})
	c.ch.OnClose(func(err error) {
		c.loop.Post(func() { c.handleChannelClosed(err) })
	})
	return c
}

// Close disconnects and stops the coordinator goroutines.
func (c *Coordinator) Close() {
	c.Disconnect()
	c.loop.Stop()
	c.notify.Stop()
}

func (c *Coordinator) OnRemoteStream(fn func(remoteID domain.UserID, track peer.RemoteTrack)) {
	c.hmu.Lock()
	c.onRemoteStream = fn
	c.hmu.Unlock()
}

func (c *Coordinator) OnStateChange(fn func(from, to State)) {
	c.hmu.Lock()
	c.onStateChange = fn
	c.hmu.Unlock()
}

// OnEvent receives mode changes and generic events from other participants.
func (c *Coordinator) OnEvent(fn func(protocol.Envelope)) {
	c.hmu.Lock()
	c.onEvent = fn
	c.hmu.Unlock()
}

// Connect joins the session described by p. Calling it again with the same
// params while connected is a no-op, and while joining it waits for the
// pending join; other params start over.
func (c *Coordinator) Connect(ctx context.Context, p pairing.JoinParams) error {
	same := false
	var pending, attempt *joinAttempt
	c.loop.Call(func() {
		if c.connected && c.params == p {
			same = true
			return
		}
		if c.joining && c.params == p && c.attempt != nil {
			pending = c.attempt
			return
		}
		if c.connected {
			c.resetLocked(Idle)
		}
		c.params = p
		c.joining = true
		c.roster = nil
		attempt = &joinAttempt{done: make(chan struct{})}
		c.attempt = attempt
	})
	if same {
		return nil
	}
	if pending != nil {
		select {
		case <-pending.done:
			return pending.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := c.ch.Connect(ctx, p); err != nil {
		c.loop.Call(func() {
			c.joining = false
			c.finishAttempt(attempt, err)
		})
		c.log.Warn().Err(err).Str("code", string(p.SessionCode)).Msg("connect failed")
		return err
	}

	c.loop.Call(func() {
		c.joining = false
		c.connected = true
		c.mu.Lock()
		c.view.connected = true
		c.view.self = p.UserID
		c.mu.Unlock()
		c.setState(AwaitingPeers)
		c.reconcile()
		c.finishAttempt(attempt, nil)
	})
	c.log.Info().Str("code", string(p.SessionCode)).Str("user", string(p.UserID)).Str("role", string(p.Role)).Msg("connected")
	return nil
}

// joinAttempt lets concurrent Connect calls with the same params share one join.
type joinAttempt struct {
	done chan struct{}
	err  error
}

func (c *Coordinator) finishAttempt(a *joinAttempt, err error) {
	a.err = err
	close(a.done)
	if c.attempt == a {
		c.attempt = nil
	}
}

// Disconnect leaves the session and releases every link. Safe to repeat.
func (c *Coordinator) Disconnect() {
	c.loop.Call(func() { c.resetLocked(Idle) })
	c.ch.Disconnect()
}

// resetLocked drops all session state and moves to s.
func (c *Coordinator) resetLocked(s State) {
	c.connected = false
	c.joining = false
	c.roster = nil
	clear(c.joinedAt)
	c.requester, c.requestedFrom = "", ""
	c.peers.TeardownAll()
	c.cursors.Clear()
	c.mu.Lock()
	c.view.connected = false
	c.view.roster = nil
	c.view.controller = ""
	c.view.mode = ""
	c.mu.Unlock()
	c.publishLinks()
	c.setState(s)
}

func (c *Coordinator) handleChannelClosed(err error) {
	if !c.connected {
		return
	}
	c.log.Warn().Err(err).Msg("signaling channel lost")
	c.resetLocked(Idle)
}

func (c *Coordinator) handlePresence(roster []domain.Participant) {
	if !c.connected && !c.joining {
		return
	}
	c.roster = slices.Clone(roster)
	c.mu.Lock()
	c.view.roster = slices.Clone(roster)
	c.mu.Unlock()
	if c.connected {
		c.reconcile()
	}
}

// reconcile aligns links, cursors and control with the current roster.
func (c *Coordinator) reconcile() {
	self, ok := c.self()
	present := make(map[domain.UserID]bool, len(c.roster))
	for _, p := range c.roster {
		if p.UserID == c.params.UserID {
			continue
		}
		present[p.UserID] = true
		// A participant that joined again has a new transport on its side.
		if prev, seen := c.joinedAt[p.UserID]; seen && !prev.Equal(p.JoinedAt) {
			c.log.Info().Str("remote", string(p.UserID)).Msg("participant rejoined, resetting link")
			c.peers.Close(p.UserID)
		}
		c.joinedAt[p.UserID] = p.JoinedAt
	}
	for id := range c.joinedAt {
		if !present[id] {
			delete(c.joinedAt, id)
			c.cursors.Remove(id)
		}
	}
	c.peers.Prune(present)

	if (c.requester != "" && !present[c.requester]) || (c.requestedFrom != "" && !present[c.requestedFrom]) {
		c.requester, c.requestedFrom = "", ""
	}
	c.mu.RLock()
	controller := c.view.controller
	c.mu.RUnlock()
	if controller != "" && controller != c.params.UserID && !present[controller] {
		c.setController("")
	}

	if ok {
		for _, p := range c.roster {
			if present[p.UserID] && initiates(self, p) {
				if _, err := c.peers.CreateOutboundLink(p.UserID, c.tracks); err != nil {
					c.log.Warn().Err(err).Str("remote", string(p.UserID)).Msg("create link")
				}
			}
		}
	}
	c.evaluate()
}

func (c *Coordinator) self() (domain.Participant, bool) {
	for _, p := range c.roster {
		if p.UserID == c.params.UserID {
			return p, true
		}
	}
	return domain.Participant{UserID: c.params.UserID, Role: c.params.Role}, c.params.UserID != ""
}

// initiates reports whether self sends the offer toward remote. Mentors call
// children; between equal roles the smaller user id calls.
func initiates(self, remote domain.Participant) bool {
	if self.Role != remote.Role {
		return self.Role == domain.RoleMentor
	}
	return cmp.Less(self.UserID, remote.UserID)
}

// evaluate derives the pairing state from presence and link health.
func (c *Coordinator) evaluate() {
	if !c.connected {
		c.setState(Idle)
		return
	}
	cur := c.State()
	if !c.hasRemotes() || !c.peers.Streaming() {
		if cur != AwaitingPeers {
			c.requester, c.requestedFrom = "", ""
			c.setController("")
		}
		c.setState(AwaitingPeers)
		return
	}
	if cur == AwaitingPeers {
		c.setState(Paired)
	}
}

func (c *Coordinator) hasRemotes() bool {
	for _, p := range c.roster {
		if p.UserID != c.params.UserID {
			return true
		}
	}
	return false
}

func (c *Coordinator) present(id domain.UserID) bool {
	if id == c.params.UserID {
		return false
	}
	for _, p := range c.roster {
		if p.UserID == id {
			return true
		}
	}
	return false
}

func (c *Coordinator) handleEnvelope(env protocol.Envelope) {
	// Offers can arrive while the join is still being confirmed.
	if (!c.connected && !c.joining) || env.SenderID == c.params.UserID {
		return
	}
	if env.TargetID != "" && env.TargetID != c.params.UserID {
		return
	}
	from := env.SenderID
	switch p := env.Payload.(type) {
	case protocol.Offer:
		if _, err := c.peers.AcceptInboundLink(from, p.SDP, c.tracks); err != nil {
			c.log.Warn().Err(err).Str("remote", string(from)).Msg("accept link")
		}
		c.evaluate()
	case protocol.Answer, protocol.Candidate:
		if err := c.peers.FeedSignal(from, p); err != nil && !errors.Is(err, domain.ErrOrphanSignal) {
			c.log.Warn().Err(err).Str("remote", string(from)).Msg("feed signal")
		}
	case protocol.CursorMove:
		c.cursors.Update(from, p.X, p.Y)
	case protocol.ModeChange:
		c.mu.Lock()
		c.view.mode = p.Mode
		c.mu.Unlock()
		c.emitEvent(env)
	case protocol.ControlRequest:
		if env.TargetID == "" {
			return
		}
		c.handleControlRequest(from, p)
	case protocol.ControlResponse:
		c.handleControlResponse(from, p)
	case protocol.GenericEvent:
		c.emitEvent(env)
	}
}

func (c *Coordinator) handleControlRequest(from domain.UserID, p protocol.ControlRequest) {
	if c.State() != Paired {
		c.log.Info().Str("from", string(from)).Str("state", c.State().String()).Msg("control request declined")
		c.send(from, protocol.ControlResponse{Granted: false})
		return
	}
	c.requester = from
	c.log.Info().Str("from", string(from)).Str("reason", p.Reason).Msg("control requested")
	c.setState(ControlRequested)
}

func (c *Coordinator) handleControlResponse(from domain.UserID, p protocol.ControlResponse) {
	if from != c.requestedFrom {
		return
	}
	c.requestedFrom = ""
	if !p.Granted {
		c.log.Info().Str("from", string(from)).Msg("control denied")
		return
	}
	if c.State() != Paired {
		return
	}
	c.setController(c.params.UserID)
	c.setState(ControlGranted)
}

func (c *Coordinator) handleStream(remoteID domain.UserID, track peer.RemoteTrack) {
	c.hmu.RLock()
	fn := c.onRemoteStream
	c.hmu.RUnlock()
	if fn != nil {
		c.notify.Post(func() { fn(remoteID, track) })
	}
	c.evaluate()
}

func (c *Coordinator) handleLinkClosed(remoteID domain.UserID, err error) {
	if err != nil {
		c.log.Warn().Err(err).Str("remote", string(remoteID)).Msg("link failed")
	}
	c.publishLinks()
	c.evaluate()
}

func (c *Coordinator) sendSignal(remoteID domain.UserID, p protocol.Payload) {
	c.send(remoteID, p)
}

func (c *Coordinator) send(target domain.UserID, p protocol.Payload) {
	if err := c.ch.Send(target, p); err != nil {
		c.log.Warn().Err(err).Str("target", string(target)).Str("type", string(p.Type())).Msg("send failed")
	}
}

func (c *Coordinator) emitEvent(env protocol.Envelope) {
	c.hmu.RLock()
	fn := c.onEvent
	c.hmu.RUnlock()
	if fn != nil {
		c.notify.Post(func() { fn(env) })
	}
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	from := c.view.state
	c.view.state = s
	c.mu.Unlock()
	if from == s {
		return
	}
	if from.controlling() && !s.controlling() {
		c.setController("")
	}
	c.log.Info().Str("from", from.String()).Str("to", s.String()).Msg("state change")
	c.hmu.RLock()
	fn := c.onStateChange
	c.hmu.RUnlock()
	if fn != nil {
		c.notify.Post(func() { fn(from, s) })
	}
}

func (c *Coordinator) setController(id domain.UserID) {
	c.mu.Lock()
	c.view.controller = id
	c.mu.Unlock()
}

func (c *Coordinator) publishLinks() {
	links := c.peers.Links()
	c.mu.Lock()
	c.view.links = links
	c.mu.Unlock()
}

// do runs fn on the loop and returns its error.
func (c *Coordinator) do(fn func() error) error {
	var err error
	if !c.loop.Call(func() { err = fn() }) {
		return domain.ErrNotConnected
	}
	return err
}

func (c *Coordinator) requireConnected() error {
	if !c.connected {
		return domain.ErrNotConnected
	}
	return nil
}

// SendCursor broadcasts the local cursor position.
func (c *Coordinator) SendCursor(x, y float64) error {
	return c.do(func() error {
		if err := c.requireConnected(); err != nil {
			return err
		}
		return c.ch.Send("", protocol.CursorMove{X: x, Y: y})
	})
}

func (c *Coordinator) SendModeChange(mode string) error {
	return c.do(func() error {
		if err := c.requireConnected(); err != nil {
			return err
		}
		if err := c.ch.Send("", protocol.ModeChange{Mode: mode}); err != nil {
			return err
		}
		c.mu.Lock()
		c.view.mode = mode
		c.mu.Unlock()
		return nil
	})
}

// SendEvent broadcasts an application event. data is marshaled as JSON.
func (c *Coordinator) SendEvent(name string, data any) error {
	ev, err := protocol.NewGenericEvent(name, data)
	if err != nil {
		return err
	}
	return c.do(func() error {
		if err := c.requireConnected(); err != nil {
			return err
		}
		return c.ch.Send("", ev)
	})
}

// RequestControl asks target to hand over control.
func (c *Coordinator) RequestControl(target domain.UserID, reason string) error {
	return c.do(func() error {
		if err := c.requireConnected(); err != nil {
			return err
		}
		if !c.present(target) {
			return fmt.Errorf("%w: %s", ErrUnknownParticipant, target)
		}
		if c.State() != Paired {
			return ErrNotPaired
		}
		if err := c.ch.Send(target, protocol.ControlRequest{Reason: reason}); err != nil {
			return err
		}
		c.requestedFrom = target
		return nil
	})
}

// RespondControl answers the pending control request.
func (c *Coordinator) RespondControl(accept bool) error {
	return c.do(func() error {
		if c.State() != ControlRequested || c.requester == "" {
			return ErrNoControlRequest
		}
		requester := c.requester
		if err := c.ch.Send(requester, protocol.ControlResponse{Granted: accept}); err != nil {
			return err
		}
		c.requester = ""
		if accept {
			c.setController(requester)
			c.setState(ControlGranted)
		} else {
			c.setState(Paired)
		}
		return nil
	})
}

// ReleaseControl ends a granted control exchange on either side.
func (c *Coordinator) ReleaseControl() error {
	return c.do(func() error {
		if c.State() != ControlGranted {
			return ErrNoControlRequest
		}
		c.setState(Paired)
		return nil
	})
}

func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.view.state
}

func (c *Coordinator) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.view.connected
}

func (c *Coordinator) Mode() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.view.mode
}

// Controller is the participant currently driving the shared view, if any.
func (c *Coordinator) Controller() domain.UserID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.view.controller
}

// Presences returns the full roster, local participant included.
func (c *Coordinator) Presences() []domain.Participant {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.view.roster)
}

// OtherCursors lists unexpired remote cursors.
func (c *Coordinator) OtherCursors() []domain.CursorPosition {
	c.mu.RLock()
	self := c.view.self
	c.mu.RUnlock()
	return slices.DeleteFunc(c.cursors.Active(), func(p domain.CursorPosition) bool { return p.UserID == self })
}

func (c *Coordinator) Links() []peer.LinkInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.view.links)
}
