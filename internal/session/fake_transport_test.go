package session

import (
	"sync"

	"github.com/dkeye/Pairing/internal/domain"
	"github.com/dkeye/Pairing/internal/peer"
	"github.com/dkeye/Pairing/internal/protocol"
	"github.com/pion/webrtc/v4"
)

type linkKey struct{ owner, remote domain.UserID }

// fakeNet connects fake transports of different coordinators: once an
// initiator applies the answer both ends report connected and a track.
type fakeNet struct {
	mu     sync.Mutex
	ends   map[linkKey]*fakeTransport
	all    []*fakeTransport
	frozen bool // never completes negotiation
}

func newFakeNet() *fakeNet { return &fakeNet{ends: make(map[linkKey]*fakeTransport)} }

func (n *fakeNet) factory(owner domain.UserID) peer.TransportFactory {
	return func(remote domain.UserID) (peer.Transport, error) {
		t := &fakeTransport{net: n, key: linkKey{owner, remote}}
		n.mu.Lock()
		n.ends[t.key] = t
		n.all = append(n.all, t)
		n.mu.Unlock()
		return t, nil
	}
}

func (n *fakeNet) peerOf(t *fakeTransport) *fakeTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ends[linkKey{t.key.remote, t.key.owner}]
}

func (n *fakeNet) transports() []*fakeTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*fakeTransport(nil), n.all...)
}

type fakeTrack struct{ owner domain.UserID }

func (t fakeTrack) ID() string       { return "video-" + string(t.owner) }
func (t fakeTrack) StreamID() string { return "stream-" + string(t.owner) }

type fakeTransport struct {
	net *fakeNet
	key linkKey

	mu          sync.Mutex
	closes      int
	candidates  int
	onCandidate func(protocol.Candidate)
	onTrack     func(peer.RemoteTrack)
	onState     func(peer.TransportState)
}

func (t *fakeTransport) AddTracks([]webrtc.TrackLocal) error { return nil }

func (t *fakeTransport) CreateOffer() (string, error) {
	t.emitCandidate()
	return "offer:" + string(t.key.owner), nil
}

func (t *fakeTransport) ApplyOffer(sdp string) (string, error) {
	t.emitCandidate()
	return "answer:" + string(t.key.owner), nil
}

func (t *fakeTransport) ApplyAnswer(string) error {
	t.net.mu.Lock()
	frozen := t.net.frozen
	t.net.mu.Unlock()
	if frozen {
		return nil
	}
	t.up()
	if other := t.net.peerOf(t); other != nil {
		other.up()
	}
	return nil
}

func (t *fakeTransport) AddCandidate(protocol.Candidate) error {
	t.mu.Lock()
	t.candidates++
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) OnCandidate(fn func(protocol.Candidate)) { t.onCandidate = fn }
func (t *fakeTransport) OnTrack(fn func(peer.RemoteTrack))       { t.onTrack = fn }
func (t *fakeTransport) OnStateChange(fn func(peer.TransportState)) {
	t.onState = fn
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.closes++
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) closeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closes
}

func (t *fakeTransport) emitCandidate() {
	mid := "0"
	t.onCandidate(protocol.Candidate{Candidate: "candidate:" + string(t.key.owner), SDPMid: &mid})
}

// up runs asynchronously like a real transport callback.
func (t *fakeTransport) up() {
	go func() {
		t.onState(peer.TransportConnected)
		t.onTrack(fakeTrack{owner: t.key.remote})
	}()
}
