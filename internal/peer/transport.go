package peer

import (
	"github.com/dkeye/Pairing/internal/domain"
	"github.com/dkeye/Pairing/internal/protocol"
	"github.com/pion/webrtc/v4"
)

type TransportState int

const (
	TransportNew TransportState = iota
	TransportConnecting
	TransportConnected
	TransportDisconnected
	TransportFailed
	TransportClosed
)

func (s TransportState) String() string {
	switch s {
	case TransportNew:
		return "new"
	case TransportConnecting:
		return "connecting"
	case TransportConnected:
		return "connected"
	case TransportDisconnected:
		return "disconnected"
	case TransportFailed:
		return "failed"
	case TransportClosed:
		return "closed"
	}
	return "unknown"
}

// RemoteTrack is the part of a received media track the manager needs.
// *webrtc.TrackRemote satisfies it.
type RemoteTrack interface {
	ID() string
	StreamID() string
}

// Transport is one real-time media connection to a single remote.
// Callbacks may fire on any goroutine.
type Transport interface {
	AddTracks(tracks []webrtc.TrackLocal) error
	// CreateOffer sets and returns the local offer.
	CreateOffer() (string, error)
	// ApplyOffer sets the remote offer, then sets and returns the local answer.
	ApplyOffer(sdp string) (string, error)
	ApplyAnswer(sdp string) error
	AddCandidate(c protocol.Candidate) error

	OnCandidate(fn func(protocol.Candidate))
	OnTrack(fn func(RemoteTrack))
	OnStateChange(fn func(TransportState))

	Close() error
}

type TransportFactory func(remoteID domain.UserID) (Transport, error)
