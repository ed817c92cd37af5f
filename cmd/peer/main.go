// Command peer is a headless pairing participant. It joins a session through
// the relay, negotiates media with the other party and logs what happens.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/Pairing/internal/adapters/rtc"
	"github.com/dkeye/Pairing/internal/adapters/wsclient"
	"github.com/dkeye/Pairing/internal/config"
	"github.com/dkeye/Pairing/internal/domain"
	"github.com/dkeye/Pairing/internal/pairing"
	"github.com/dkeye/Pairing/internal/peer"
	"github.com/dkeye/Pairing/internal/protocol"
	"github.com/dkeye/Pairing/internal/session"
)

type options struct {
	url         string
	code        string
	user        string
	name        string
	role        string
	stun        []string
	timeout     time.Duration
	video       bool
	cursorEvery time.Duration
	askControl  bool
	autoAccept  bool
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var o options
	fs := pflag.NewFlagSet("peer", pflag.ContinueOnError)
	fs.StringVar(&o.url, "url", "ws://localhost:8080/api/ws/signal", "relay signaling endpoint")
	fs.StringVar(&o.code, "code", "", "session code")
	fs.StringVar(&o.user, "user", "", "user id, must be stable across reconnects")
	fs.StringVar(&o.name, "name", "", "display name")
	fs.StringVar(&o.role, "role", "child", "mentor or child")
	fs.StringSliceVar(&o.stun, "ice", []string{"stun:stun.l.google.com:19302"}, "ICE server urls")
	fs.DurationVar(&o.timeout, "negotiation-timeout", 30*time.Second, "peer negotiation timeout, 0 disables")
	fs.BoolVar(&o.video, "video", false, "send a synthetic video track")
	fs.DurationVar(&o.cursorEvery, "cursor-every", 0, "broadcast a moving cursor at this interval")
	fs.BoolVar(&o.askControl, "request-control", false, "request control once paired")
	fs.BoolVar(&o.autoAccept, "auto-accept", false, "grant control requests automatically")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatal().Err(err).Msg("bad flags")
	}

	if err := run(ctx, o); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("peer failed")
	}
}

func run(ctx context.Context, o options) error {
	code, err := domain.ParseSessionCode(o.code)
	if err != nil {
		return err
	}
	role, err := domain.ParseRole(o.role)
	if err != nil {
		return err
	}
	if o.name == "" {
		o.name = o.user
	}

	var tracks []webrtc.TrackLocal
	var video *webrtc.TrackLocalStaticSample
	if o.video {
		video, err = webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "pairing-"+o.user)
		if err != nil {
			return err
		}
		tracks = append(tracks, video)
	}

	cfg := rtc.ConfigFromICEServers([]config.ICEServer{{URLs: o.stun}})
	coord := session.New(session.Options{
		Channel:            wsclient.New(wsclient.Options{URL: o.url}),
		Transports:         rtc.NewFactory(ctx, cfg),
		LocalTracks:        tracks,
		NegotiationTimeout: o.timeout,
	})
	defer coord.Close()

	self := domain.UserID(o.user)
	coord.OnStateChange(func(from, to session.State) {
		log.Info().Str("module", "peer").Str("from", from.String()).Str("to", to.String()).Msg("session state")
		switch {
		case to == session.Paired && o.askControl:
			for _, p := range coord.Presences() {
				if p.UserID != self {
					if err := coord.RequestControl(p.UserID, "headless peer"); err != nil {
						log.Warn().Err(err).Str("module", "peer").Msg("request control")
					}
					break
				}
			}
		case to == session.ControlRequested && o.autoAccept:
			if err := coord.RespondControl(true); err != nil {
				log.Warn().Err(err).Str("module", "peer").Msg("respond control")
			}
		}
	})
	coord.OnRemoteStream(func(remote domain.UserID, track peer.RemoteTrack) {
		log.Info().Str("module", "peer").Str("remote", string(remote)).Str("stream", track.StreamID()).Msg("remote stream")
		if rt, ok := track.(*webrtc.TrackRemote); ok {
			go drain(rt)
		}
	})
	coord.OnEvent(func(env protocol.Envelope) {
		log.Info().Str("module", "peer").Str("from", string(env.SenderID)).Str("type", string(env.Type())).Msg("event")
	})

	if err := coord.Connect(ctx, pairing.JoinParams{SessionCode: code, UserID: self, UserName: o.name, Role: role}); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if video != nil {
		g.Go(func() error { return feedVideo(gctx, video) })
	}
	if o.cursorEvery > 0 {
		g.Go(func() error { return moveCursor(gctx, coord, o.cursorEvery) })
	}
	g.Go(func() error {
		<-gctx.Done()
		return gctx.Err()
	})
	return g.Wait()
}

// drain reads RTP so the receive buffers never fill.
func drain(t *webrtc.TrackRemote) {
	for {
		if _, _, err := t.ReadRTP(); err != nil {
			return
		}
	}
}

// feedVideo writes placeholder frames at 30 fps.
func feedVideo(ctx context.Context, t *webrtc.TrackLocalStaticSample) error {
	const frame = 33 * time.Millisecond
	ticker := time.NewTicker(frame)
	defer ticker.Stop()
	payload := make([]byte, 1000)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := t.WriteSample(media.Sample{Data: payload, Duration: frame}); err != nil {
				return err
			}
		}
	}
}

func moveCursor(ctx context.Context, c *session.Coordinator, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	x := 0.0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			x += 0.01
			if x > 1 {
				x = 0
			}
			if err := c.SendCursor(x, 0.5); err != nil && !errors.Is(err, domain.ErrNotConnected) {
				return err
			}
		}
	}
}
