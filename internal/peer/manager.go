// Package peer keeps one real-time media link per remote participant and
// drives offer/answer/candidate negotiation for each of them.
package peer

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dkeye/Pairing/internal/clock"
	"github.com/dkeye/Pairing/internal/domain"
	"github.com/dkeye/Pairing/internal/eventloop"
	"github.com/dkeye/Pairing/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultNegotiationTimeout = 30 * time.Second

// SignalFunc sends a negotiation payload to remoteID through the signaling channel.
type SignalFunc func(remoteID domain.UserID, p protocol.Payload)

type Handlers struct {
	// OnStream fires once per link, when its first remote track arrives.
	OnStream func(remoteID domain.UserID, track RemoteTrack)
	OnStateChange func(remoteID domain.UserID, state LinkState)
	// OnClosed reports err == nil for a deliberate close.
	OnClosed func(remoteID domain.UserID, err error)
}

type Options struct {
	// NegotiationTimeout closes a link that is not connected in time. Zero disables it.
	NegotiationTimeout time.Duration
	Clock              clock.Clock
	Handlers           Handlers
}

// Manager must only be used from tasks running on its loop.
type Manager struct {
	loop    *eventloop.Loop
	factory TransportFactory
	signal  SignalFunc
	opts    Options
	links   map[domain.UserID]*Link
	log     zerolog.Logger
}

func NewManager(loop *eventloop.Loop, factory TransportFactory, signal SignalFunc, opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	return &Manager{
		loop:    loop,
		factory: factory,
		signal:  signal,
		opts:    opts,
		links:   make(map[domain.UserID]*Link),
		log:     log.With().Str("module", "peer").Logger(),
	}
}

// CreateOutboundLink starts negotiating toward remoteID as the initiator.
// An already tracked link is returned unchanged.
func (m *Manager) CreateOutboundLink(remoteID domain.UserID, tracks []webrtc.TrackLocal) (*Link, error) {
	if l, ok := m.links[remoteID]; ok {
		return l, nil
	}
	l, err := m.newLink(remoteID, Initiator, tracks)
	if err != nil {
		return nil, err
	}
	offer, err := l.transport.CreateOffer()
	if err != nil {
		m.closeLink(l, fmt.Errorf("%w: create offer: %v", domain.ErrLinkNegotiationFailed, err))
		return nil, l.closeErr
	}
	m.setState(l, LinkNegotiating)
	m.signal(remoteID, protocol.Offer{SDP: offer})
	m.log.Info().Str("remote", string(remoteID)).Msg("offer sent")
	return l, nil
}

// AcceptInboundLink answers an offer from remoteID. An already tracked link
// is returned unchanged and the offer is ignored.
func (m *Manager) AcceptInboundLink(remoteID domain.UserID, offer string, tracks []webrtc.TrackLocal) (*Link, error) {
	if l, ok := m.links[remoteID]; ok {
		m.log.Debug().Str("remote", string(remoteID)).Str("state", l.state.String()).Msg("offer for tracked link ignored")
		return l, nil
	}
	l, err := m.newLink(remoteID, Responder, tracks)
	if err != nil {
		return nil, err
	}
	m.setState(l, LinkNegotiating)
	answer, err := l.transport.ApplyOffer(offer)
	if err != nil {
		m.closeLink(l, fmt.Errorf("%w: apply offer: %v", domain.ErrLinkNegotiationFailed, err))
		return nil, l.closeErr
	}
	l.remoteSet = true
	m.signal(remoteID, protocol.Answer{SDP: answer})
	m.log.Info().Str("remote", string(remoteID)).Msg("answer sent")
	return l, nil
}

func (m *Manager) newLink(remoteID domain.UserID, dir Direction, tracks []webrtc.TrackLocal) (*Link, error) {
	t, err := m.factory(remoteID)
	if err != nil {
		return nil, fmt.Errorf("%w: new transport: %v", domain.ErrLinkNegotiationFailed, err)
	}
	l := &Link{remoteID: remoteID, direction: dir, state: LinkNew, transport: t}
	if err := t.AddTracks(tracks); err != nil {
		_ = t.Close()
		return nil, fmt.Errorf("%w: add tracks: %v", domain.ErrLinkNegotiationFailed, err)
	}
	m.links[remoteID] = l

	t.OnCandidate(func(c protocol.Candidate) {
		m.loop.Post(func() {
			if m.current(l) {
				m.signal(remoteID, c)
			}
		})
	})
	t.OnTrack(func(track RemoteTrack) {
		m.loop.Post(func() { m.onTrack(l, track) })
	})
	t.OnStateChange(func(s TransportState) {
		m.loop.Post(func() { m.onTransportState(l, s) })
	})

	if d := m.opts.NegotiationTimeout; d > 0 {
		l.timer = m.opts.Clock.AfterFunc(d, func() {
			m.loop.Post(func() {
				if m.current(l) && l.state < LinkConnected {
					m.closeLink(l, fmt.Errorf("%w: timed out after %s", domain.ErrLinkNegotiationFailed, d))
				}
			})
		})
	}
	m.log.Info().Str("remote", string(remoteID)).Str("direction", dir.String()).Msg("link created")
	return l, nil
}

// FeedSignal applies an answer or candidate from remoteID. Signals for an
// untracked remote are logged and ignored.
func (m *Manager) FeedSignal(remoteID domain.UserID, p protocol.Payload) error {
	l, ok := m.links[remoteID]
	if !ok {
		m.log.Debug().Str("remote", string(remoteID)).Str("type", string(p.Type())).Msg("orphan signal")
		return domain.ErrOrphanSignal
	}
	switch p := p.(type) {
	case protocol.Answer:
		if l.direction != Initiator || l.remoteSet {
			m.log.Debug().Str("remote", string(remoteID)).Msg("unexpected answer ignored")
			return nil
		}
		if err := l.transport.ApplyAnswer(p.SDP); err != nil {
			m.closeLink(l, fmt.Errorf("%w: apply answer: %v", domain.ErrLinkNegotiationFailed, err))
			return l.closeErr
		}
		l.remoteSet = true
		m.flushCandidates(l)
	case protocol.Candidate:
		if !l.remoteSet {
			l.pending = append(l.pending, p)
			return nil
		}
		if err := l.transport.AddCandidate(p); err != nil {
			m.log.Warn().Err(err).Str("remote", string(remoteID)).Msg("add candidate")
		}
	case protocol.Offer:
		m.log.Debug().Str("remote", string(remoteID)).Msg("offer for tracked link ignored")
	default:
		return fmt.Errorf("%w: %s is not a negotiation signal", protocol.ErrUnknownEnvelope, p.Type())
	}
	return nil
}

func (m *Manager) flushCandidates(l *Link) {
	for _, c := range l.pending {
		if err := l.transport.AddCandidate(c); err != nil {
			m.log.Warn().Err(err).Str("remote", string(l.remoteID)).Msg("add buffered candidate")
		}
	}
	l.pending = nil
}

func (m *Manager) onTrack(l *Link, track RemoteTrack) {
	if !m.current(l) {
		return
	}
	l.tracks = append(l.tracks, track)
	if l.state == LinkStreaming {
		return
	}
	l.stopTimer()
	m.setState(l, LinkStreaming)
	m.log.Info().Str("remote", string(l.remoteID)).Str("stream", track.StreamID()).Msg("remote stream available")
	if fn := m.opts.Handlers.OnStream; fn != nil {
		fn(l.remoteID, track)
	}
}

func (m *Manager) onTransportState(l *Link, s TransportState) {
	if !m.current(l) {
		return
	}
	m.log.Debug().Str("remote", string(l.remoteID)).Str("transport", s.String()).Msg("transport state")
	switch s {
	case TransportConnected:
		l.stopTimer()
		if l.state < LinkConnected {
			m.setState(l, LinkConnected)
		}
	case TransportFailed:
		m.closeLink(l, fmt.Errorf("%w: transport failed", domain.ErrLinkNegotiationFailed))
	case TransportClosed:
		m.closeLink(l, nil)
	case TransportNew, TransportConnecting, TransportDisconnected:
	}
}

func (m *Manager) current(l *Link) bool {
	cur, ok := m.links[l.remoteID]
	return ok && cur == l
}

func (m *Manager) setState(l *Link, s LinkState) {
	if l.state == s {
		return
	}
	l.state = s
	if fn := m.opts.Handlers.OnStateChange; fn != nil {
		fn(l.remoteID, s)
	}
}

// closeLink releases the transport exactly once and forgets the link.
func (m *Manager) closeLink(l *Link, err error) {
	if l.state == LinkClosed {
		return
	}
	l.stopTimer()
	l.closeErr = err
	l.pending = nil
	if m.current(l) {
		delete(m.links, l.remoteID)
	}
	if cerr := l.transport.Close(); cerr != nil {
		m.log.Warn().Err(cerr).Str("remote", string(l.remoteID)).Msg("transport close")
	}
	m.setState(l, LinkClosed)
	ev := m.log.Info()
	if err != nil {
		ev = m.log.Warn().Err(err)
	}
	ev.Str("remote", string(l.remoteID)).Msg("link closed")
	if fn := m.opts.Handlers.OnClosed; fn != nil {
		fn(l.remoteID, err)
	}
}

func (m *Manager) Close(remoteID domain.UserID) bool {
	l, ok := m.links[remoteID]
	if !ok {
		return false
	}
	m.closeLink(l, nil)
	return true
}

// Prune closes links to remotes that are no longer present.
func (m *Manager) Prune(present map[domain.UserID]bool) int {
	n := 0
	for _, id := range m.remoteIDs() {
		if !present[id] {
			m.closeLink(m.links[id], nil)
			n++
		}
	}
	return n
}

func (m *Manager) TeardownAll() {
	for _, id := range m.remoteIDs() {
		m.closeLink(m.links[id], nil)
	}
}

func (m *Manager) Link(remoteID domain.UserID) (*Link, bool) {
	l, ok := m.links[remoteID]
	return l, ok
}

func (m *Manager) Links() []LinkInfo {
	out := make([]LinkInfo, 0, len(m.links))
	for _, id := range m.remoteIDs() {
		out = append(out, m.links[id].info())
	}
	return out
}

// Streaming reports whether any link delivers remote media.
func (m *Manager) Streaming() bool {
	for _, l := range m.links {
		if l.state == LinkStreaming {
			return true
		}
	}
	return false
}

func (m *Manager) remoteIDs() []domain.UserID {
	ids := make([]domain.UserID, 0, len(m.links))
	for id := range m.links {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b domain.UserID) int { return strings.Compare(string(a), string(b)) })
	return ids
}

// IsNegotiationFailure reports whether err closed a link abnormally.
func IsNegotiationFailure(err error) bool {
	return errors.Is(err, domain.ErrLinkNegotiationFailed)
}
