// Package rtc implements peer.Transport on top of pion/webrtc.
package rtc

import (
	"context"
	"sync"

	"github.com/dkeye/Pairing/internal/config"
	"github.com/dkeye/Pairing/internal/domain"
	"github.com/dkeye/Pairing/internal/peer"
	"github.com/dkeye/Pairing/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type WebRTCConnection struct {
	pc       *webrtc.PeerConnection
	remoteID domain.UserID
	cancel   context.CancelFunc

	mu        sync.Mutex
	onICE     func(protocol.Candidate)
	onTrack   func(peer.RemoteTrack)
	onState   func(peer.TransportState)
	closeOnce sync.Once
	closeErr  error
}

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// ConfigFromICEServers converts configured STUN/TURN servers.
func ConfigFromICEServers(servers []config.ICEServer) webrtc.Configuration {
	cfg := webrtc.Configuration{}
	for _, s := range servers {
		cfg.ICEServers = append(cfg.ICEServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return cfg
}

// NewFactory builds a peer.TransportFactory that opens one pion peer
// connection per remote. ctx bounds every connection it creates.
func NewFactory(ctx context.Context, cfg webrtc.Configuration) peer.TransportFactory {
	return func(remoteID domain.UserID) (peer.Transport, error) {
		c, err := NewWebRTCConnection(cfg, remoteID)
		if err != nil {
			return nil, err
		}
		c.Start(ctx)
		return c, nil
	}
}

func NewWebRTCConnection(cfg webrtc.Configuration, remoteID domain.UserID) (*WebRTCConnection, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &WebRTCConnection{pc: pc, remoteID: remoteID}, nil
}

func (c *WebRTCConnection) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go func() {
		<-ctx.Done()
		_ = c.Close()
	}()

	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Debug().Str("module", "webrtc").Str("remote", string(c.remoteID)).Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("remote", string(c.remoteID)).Str("peer_connection_state", s.String()).Msg("Peer state")
		c.emitState(mapState(s))
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		init := cand.ToJSON()
		c.mu.Lock()
		fn := c.onICE
		c.mu.Unlock()
		if fn != nil {
			fn(protocol.Candidate{
				Candidate:        init.Candidate,
				SDPMid:           init.SDPMid,
				SDPMLineIndex:    init.SDPMLineIndex,
				UsernameFragment: init.UsernameFragment,
			})
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("remote", string(c.remoteID)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		c.mu.Lock()
		fn := c.onTrack
		c.mu.Unlock()
		if fn != nil {
			fn(track)
		}
	})
}

func mapState(s webrtc.PeerConnectionState) peer.TransportState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return peer.TransportConnecting
	case webrtc.PeerConnectionStateConnected:
		return peer.TransportConnected
	case webrtc.PeerConnectionStateDisconnected:
		return peer.TransportDisconnected
	case webrtc.PeerConnectionStateFailed:
		return peer.TransportFailed
	case webrtc.PeerConnectionStateClosed:
		return peer.TransportClosed
	}
	return peer.TransportNew
}

func (c *WebRTCConnection) emitState(s peer.TransportState) {
	c.mu.Lock()
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// AddTracks attaches local tracks. Without any, recvonly transceivers are
// added so the offer still asks for remote audio and video.
func (c *WebRTCConnection) AddTracks(tracks []webrtc.TrackLocal) error {
	if len(tracks) == 0 {
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
			if _, err := c.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			}); err != nil {
				return err
			}
		}
		return nil
	}
	for _, t := range tracks {
		sender, err := c.pc.AddTrack(t)
		if err != nil {
			return err
		}
		go drainRTCP(sender)
	}
	return nil
}

// drainRTCP reads incoming RTCP so interceptors keep working.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (c *WebRTCConnection) CreateOffer() (string, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	return offer.SDP, nil
}

func (c *WebRTCConnection) ApplyOffer(sdp string) (string, error) {
	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		return "", err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	return answer.SDP, nil
}

func (c *WebRTCConnection) ApplyAnswer(sdp string) error {
	return c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
}

func (c *WebRTCConnection) AddCandidate(cand protocol.Candidate) error {
	return c.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        cand.Candidate,
		SDPMid:           cand.SDPMid,
		SDPMLineIndex:    cand.SDPMLineIndex,
		UsernameFragment: cand.UsernameFragment,
	})
}

func (c *WebRTCConnection) LocalDescription() *webrtc.SessionDescription {
	return c.pc.LocalDescription()
}

func (c *WebRTCConnection) OnCandidate(fn func(protocol.Candidate)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

func (c *WebRTCConnection) OnTrack(fn func(peer.RemoteTrack)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

func (c *WebRTCConnection) OnStateChange(fn func(peer.TransportState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// Close is idempotent.
func (c *WebRTCConnection) Close() error {
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		if err := c.pc.Close(); err != nil {
			c.closeErr = err
			log.Error().Err(err).Str("module", "webrtc").Str("remote", string(c.remoteID)).Msg("close error")
		} else {
			log.Info().Str("module", "webrtc").Str("remote", string(c.remoteID)).Msg("closed")
		}
	})
	return c.closeErr
}
