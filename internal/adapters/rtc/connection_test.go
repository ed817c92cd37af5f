package rtc

import (
	"context"
	"strings"
	"testing"

	"github.com/dkeye/Pairing/internal/config"
	"github.com/pion/webrtc/v4"
)

func TestOfferAnswerRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	factory := NewFactory(ctx, webrtc.Configuration{})

	offerer, err := factory("child")
	if err != nil {
		t.Fatal(err)
	}
	defer offerer.Close()
	answerer, err := factory("mentor")
	if err != nil {
		t.Fatal(err)
	}
	defer answerer.Close()

	if err := offerer.AddTracks(nil); err != nil {
		t.Fatalf("add tracks: %v", err)
	}
	offer, err := offerer.CreateOffer()
	if err != nil {
		t.Fatalf("offer: %v", err)
	}
	if !strings.Contains(offer, "m=video") || !strings.Contains(offer, "m=audio") {
		t.Fatalf("offer lacks media sections:\n%s", offer)
	}

	if err := answerer.AddTracks(nil); err != nil {
		t.Fatal(err)
	}
	answer, err := answerer.ApplyOffer(offer)
	if err != nil {
		t.Fatalf("apply offer: %v", err)
	}
	if err := offerer.ApplyAnswer(answer); err != nil {
		t.Fatalf("apply answer: %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	c, err := NewWebRTCConnection(webrtc.Configuration{}, "x")
	if err != nil {
		t.Fatal(err)
	}
	c.Start(context.Background())
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestConfigFromICEServers(t *testing.T) {
	cfg := ConfigFromICEServers([]config.ICEServer{
		{URLs: []string{"turn:turn.example.org"}, Username: "u", Credential: "p"},
	})
	if len(cfg.ICEServers) != 1 || cfg.ICEServers[0].Username != "u" {
		t.Fatalf("cfg = %+v", cfg)
	}
}
