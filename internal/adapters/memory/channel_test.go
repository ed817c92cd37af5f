package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Pairing/internal/app"
	"github.com/dkeye/Pairing/internal/app/orch"
	"github.com/dkeye/Pairing/internal/domain"
	"github.com/dkeye/Pairing/internal/pairing"
	"github.com/dkeye/Pairing/internal/protocol"
)

type recorder struct {
	mu       sync.Mutex
	roster   []domain.Participant
	events   []protocol.Envelope
	closeErr error
}

func record(ch pairing.Channel) *recorder {
	r := &recorder{}
	ch.OnPresence(func(p []domain.Participant) {
		r.mu.Lock()
		r.roster = p
		r.mu.Unlock()
	})
	ch.OnEvent(func(e protocol.Envelope) {
		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
	})
	ch.OnClose(func(err error) {
		r.mu.Lock()
		r.closeErr = err
		r.mu.Unlock()
	})
	return r
}

func (r *recorder) snapshot() ([]domain.Participant, []protocol.Envelope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roster, append([]protocol.Envelope(nil), r.events...), r.closeErr
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newHub() *Hub {
	return NewHub(orch.New(app.NewRoomManager(nil), app.SimplePolicy{}, nil, nil))
}

func params(id domain.UserID, role domain.Role) pairing.JoinParams {
	return pairing.JoinParams{SessionCode: "ABC123", UserID: id, UserName: string(id), Role: role}
}

func TestChannelRelay(t *testing.T) {
	hub := newHub()
	ctx := context.Background()
	m, c, other := hub.NewChannel(), hub.NewChannel(), hub.NewChannel()
	mr, cr, or := record(m), record(c), record(other)

	for ch, p := range map[*Channel]pairing.JoinParams{
		m:     params("m", domain.RoleMentor),
		c:     params("c", domain.RoleChild),
		other: params("o", domain.RoleChild),
	} {
		if err := ch.Connect(ctx, p); err != nil {
			t.Fatalf("connect %s: %v", p.UserID, err)
		}
	}
	eventually(t, "full roster", func() bool {
		roster, _, _ := mr.snapshot()
		return len(roster) == 3
	})

	if err := m.Send("c", protocol.ControlRequest{Reason: "help"}); err != nil {
		t.Fatal(err)
	}
	if err := m.Send("", protocol.ModeChange{Mode: "draw"}); err != nil {
		t.Fatal(err)
	}

	eventually(t, "child events", func() bool {
		_, ev, _ := cr.snapshot()
		return len(ev) == 2
	})
	_, ev, _ := cr.snapshot()
	if ev[0].SenderID != "m" || ev[0].TargetID != "c" || ev[0].Type() != protocol.TypeControlRequest {
		t.Fatalf("first event = %+v", ev[0])
	}
	if ev[1].Type() != protocol.TypeModeChange {
		t.Fatalf("second event = %+v", ev[1])
	}

	eventually(t, "bystander broadcast", func() bool {
		_, ev, _ := or.snapshot()
		return len(ev) == 1
	})
	_, ev, _ = or.snapshot()
	if ev[0].Type() != protocol.TypeModeChange {
		t.Fatalf("bystander received targeted envelope: %+v", ev)
	}
	if _, ev, _ := mr.snapshot(); len(ev) != 0 {
		t.Fatalf("sender received its own envelopes: %+v", ev)
	}
}

func TestChannelConnectRules(t *testing.T) {
	hub := newHub()
	ctx := context.Background()
	ch := hub.NewChannel()

	ch.Disconnect()
	if err := ch.Send("", protocol.CursorMove{}); !errors.Is(err, domain.ErrNotConnected) {
		t.Fatalf("send before connect err = %v", err)
	}

	bad := params("u", "admin")
	if err := ch.Connect(ctx, bad); !errors.Is(err, domain.ErrChannelUnavailable) {
		t.Fatalf("bad join err = %v", err)
	}

	p := params("u", domain.RoleChild)
	if err := ch.Connect(ctx, p); err != nil {
		t.Fatal(err)
	}
	if err := ch.Connect(ctx, p); err != nil {
		t.Fatal(err)
	}
	if n := hub.Orch.Registry.Joined(); n != 1 {
		t.Fatalf("joined connections = %d, want 1", n)
	}

	ch.Disconnect()
	ch.Disconnect()
	if _, ok := hub.Orch.Rooms.GetRoom("ABC123"); ok {
		t.Fatal("room survived last disconnect")
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if err := ch.Connect(canceled, p); !errors.Is(err, domain.ErrChannelUnavailable) {
		t.Fatalf("canceled connect err = %v", err)
	}
}

func TestReconnectReplacesOldChannel(t *testing.T) {
	hub := newHub()
	ctx := context.Background()
	watcher := hub.NewChannel()
	wr := record(watcher)
	first, second := hub.NewChannel(), hub.NewChannel()
	fr := record(first)

	if err := watcher.Connect(ctx, params("m", domain.RoleMentor)); err != nil {
		t.Fatal(err)
	}
	if err := first.Connect(ctx, params("c", domain.RoleChild)); err != nil {
		t.Fatal(err)
	}
	if err := second.Connect(ctx, params("c", domain.RoleChild)); err != nil {
		t.Fatal(err)
	}

	eventually(t, "old channel closed", func() bool {
		_, _, err := fr.snapshot()
		return err != nil
	})
	eventually(t, "deduplicated roster", func() bool {
		roster, _, _ := wr.snapshot()
		return len(roster) == 2
	})
	if err := first.Send("m", protocol.CursorMove{}); !errors.Is(err, domain.ErrNotConnected) {
		t.Fatalf("replaced channel send err = %v", err)
	}
}
