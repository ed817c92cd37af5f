package peer

import (
	"github.com/dkeye/Pairing/internal/clock"
	"github.com/dkeye/Pairing/internal/domain"
	"github.com/dkeye/Pairing/internal/protocol"
)

type Direction int

const (
	Initiator Direction = iota
	Responder
)

func (d Direction) String() string {
	if d == Initiator {
		return "initiator"
	}
	return "responder"
}

type LinkState int

const (
	LinkNew LinkState = iota
	LinkNegotiating
	LinkConnected
	LinkStreaming
	LinkClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkNew:
		return "new"
	case LinkNegotiating:
		return "negotiating"
	case LinkConnected:
		return "connected"
	case LinkStreaming:
		return "streaming"
	case LinkClosed:
		return "closed"
	}
	return "unknown"
}

// Link is the logical connection to one remote participant. It is confined
// to the manager's event loop.
type Link struct {
	remoteID  domain.UserID
	direction Direction
	state     LinkState
	transport Transport

	remoteSet bool
	pending   []protocol.Candidate
	timer     clock.Timer
	tracks    []RemoteTrack
	closeErr  error
}

func (l *Link) RemoteID() domain.UserID { return l.remoteID }
func (l *Link) Direction() Direction    { return l.direction }
func (l *Link) State() LinkState        { return l.state }

// Err is the reason the link closed, nil for a deliberate close.
func (l *Link) Err() error { return l.closeErr }

// Tracks lists remote tracks received so far.
func (l *Link) Tracks() []RemoteTrack { return append([]RemoteTrack(nil), l.tracks...) }

type LinkInfo struct {
	RemoteID  domain.UserID
	Direction Direction
	State     LinkState
}

func (l *Link) info() LinkInfo {
	return LinkInfo{RemoteID: l.remoteID, Direction: l.direction, State: l.state}
}

func (l *Link) stopTimer() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}
