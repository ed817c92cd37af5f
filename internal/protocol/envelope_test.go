package protocol

import (
	"errors"
	"testing"

	"github.com/goccy/go-json"
)

func TestOpenDispatchesByType(t *testing.T) {
	idx := uint16(0)
	mid := "0"
	payloads := []Payload{
		Offer{SDP: "v=0 offer"},
		Answer{SDP: "v=0 answer"},
		Candidate{Candidate: "candidate:1 1 udp 1 127.0.0.1 5000 typ host", SDPMid: &mid, SDPMLineIndex: &idx},
		ModeChange{Mode: "drawing"},
		ControlRequest{Reason: "help"},
		ControlResponse{Granted: true},
		CursorMove{X: 0.25, Y: 0.75},
		GenericEvent{Name: "page", Data: json.RawMessage(`{"n":3}`)},
	}
	for _, p := range payloads {
		t.Run(string(p.Type()), func(t *testing.T) {
			raw, err := Seal("m1", "c1", p)
			if err != nil {
				t.Fatalf("seal: %v", err)
			}
			if raw.Type != p.Type() || raw.Broadcast() {
				t.Fatalf("unexpected header %+v", raw)
			}
			env, err := Open(raw)
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			if env.Type() != p.Type() || env.SenderID != "m1" || env.TargetID != "c1" {
				t.Errorf("unexpected envelope %+v", env)
			}
		})
	}
}

func TestOpenTypedFields(t *testing.T) {
	raw := RawEnvelope{Type: TypeCursorMove, SenderID: "c1", Payload: json.RawMessage(`{"x":10,"y":20}`)}
	env, err := Open(raw)
	if err != nil {
		t.Fatal(err)
	}
	cm, ok := env.Payload.(CursorMove)
	if !ok {
		t.Fatalf("payload is %T", env.Payload)
	}
	if cm.X != 10 || cm.Y != 20 || env.TargetID != "" {
		t.Errorf("cursor = %+v", cm)
	}
}

func TestOpenRejects(t *testing.T) {
	if _, err := Open(RawEnvelope{Type: "teleport"}); !errors.Is(err, ErrUnknownEnvelope) {
		t.Errorf("unknown type err = %v", err)
	}
	if _, err := Open(RawEnvelope{Type: TypeOffer, Payload: json.RawMessage(`{"sdp":5}`)}); err == nil {
		t.Error("expected decode error for mistyped payload")
	}
}

func TestFrameRoundTrip(t *testing.T) {
	raw, _ := Seal("m1", "", ModeChange{Mode: "story"})
	b, err := EncodeFrame(Frame{Type: FrameEnvelope, Envelope: &raw})
	if err != nil {
		t.Fatal(err)
	}
	f, err := DecodeFrame(b)
	if err != nil {
		t.Fatal(err)
	}
	if f.Type != FrameEnvelope || f.Envelope == nil || f.Envelope.Type != TypeModeChange || !f.Envelope.Broadcast() {
		t.Errorf("frame = %+v", f)
	}
}

func TestNewGenericEvent(t *testing.T) {
	ev, err := NewGenericEvent("answer-submitted", map[string]int{"question": 3})
	if err != nil {
		t.Fatal(err)
	}
	if string(ev.Data) != `{"question":3}` {
		t.Fatalf("data = %s", ev.Data)
	}
	if _, err := NewGenericEvent("", nil); !errors.Is(err, ErrEventName) {
		t.Fatalf("err = %v", err)
	}
}
