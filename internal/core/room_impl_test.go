package core

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Pairing/internal/domain"
	"github.com/dkeye/Pairing/internal/protocol"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []protocol.Frame
	full   bool
}

func (c *fakeConn) TrySend(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return errors.New("full")
	}
	fr, err := protocol.DecodeFrame(f)
	if err != nil {
		return err
	}
	c.frames = append(c.frames, fr)
	return nil
}

func (c *fakeConn) Close() {}

func (c *fakeConn) envelopes() []protocol.RawEnvelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.RawEnvelope
	for _, f := range c.frames {
		if f.Type == protocol.FrameEnvelope {
			out = append(out, *f.Envelope)
		}
	}
	return out
}

func (c *fakeConn) lastRoster() []domain.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.frames) - 1; i >= 0; i-- {
		if c.frames[i].Type == protocol.FramePresence {
			return c.frames[i].Roster
		}
	}
	return nil
}

var t0 = time.Unix(1700000000, 0)

func member(id domain.UserID, role domain.Role, offset time.Duration) (MemberSession, *fakeConn) {
	conn := &fakeConn{}
	p := &domain.Participant{UserID: id, UserName: string(id), Role: role, JoinedAt: t0.Add(offset)}
	return NewMemberSession(p, conn), conn
}

func newRoom() RoomService {
	return NewRoomService(domain.Session{Code: "ABCD12", CreatedAt: t0})
}

func TestRoomRosterDedupesUser(t *testing.T) {
	room := newRoom()
	m, _ := member("m1", domain.RoleMentor, 0)
	c, _ := member("c1", domain.RoleChild, time.Second)
	room.AddMember("s1", m)
	room.AddMember("s2", c)

	again, _ := member("c1", domain.RoleChild, 2*time.Second)
	old, replaced := room.AddMember("s3", again)
	if !replaced || old != "s2" {
		t.Fatalf("AddMember replaced = %v, old = %q", replaced, old)
	}
	if room.MemberCount() != 2 {
		t.Fatalf("MemberCount = %d, want 2", room.MemberCount())
	}
	roster := room.Roster()
	if len(roster) != 2 || roster[0].UserID != "m1" || roster[1].UserID != "c1" {
		t.Errorf("roster = %+v", roster)
	}

	// The stale connection leaving must not drop the live one.
	if room.RemoveMember("s2") {
		t.Error("stale sid should already be gone")
	}
	if room.MemberCount() != 2 {
		t.Errorf("MemberCount after stale remove = %d", room.MemberCount())
	}
}

func TestRoomRouteTargeted(t *testing.T) {
	room := newRoom()
	m, mc := member("m1", domain.RoleMentor, 0)
	c1, cc1 := member("c1", domain.RoleChild, time.Second)
	c2, cc2 := member("c2", domain.RoleChild, 2*time.Second)
	room.AddMember("s1", m)
	room.AddMember("s2", c1)
	room.AddMember("s3", c2)

	env, _ := protocol.Seal("spoofed", "c2", protocol.ControlRequest{})
	res, err := room.Route("s1", env)
	if err != nil {
		t.Fatal(err)
	}
	if res.SendTo != 1 {
		t.Errorf("SendTo = %d, want 1", res.SendTo)
	}
	if n := len(cc1.envelopes()); n != 0 {
		t.Errorf("non-target received %d envelopes", n)
	}
	if n := len(mc.envelopes()); n != 0 {
		t.Errorf("sender received %d envelopes", n)
	}
	got := cc2.envelopes()
	if len(got) != 1 || got[0].SenderID != "m1" {
		t.Errorf("target envelopes = %+v (sender must be stamped)", got)
	}
}

func TestRoomRouteBroadcast(t *testing.T) {
	room := newRoom()
	m, mc := member("m1", domain.RoleMentor, 0)
	c1, cc1 := member("c1", domain.RoleChild, time.Second)
	c2, cc2 := member("c2", domain.RoleChild, 2*time.Second)
	room.AddMember("s1", m)
	room.AddMember("s2", c1)
	room.AddMember("s3", c2)

	env, _ := protocol.Seal("", "", protocol.CursorMove{X: 1, Y: 2})
	res, err := room.Route("s2", env)
	if err != nil {
		t.Fatal(err)
	}
	if res.SendTo != 2 {
		t.Errorf("SendTo = %d, want 2", res.SendTo)
	}
	if len(mc.envelopes()) != 1 || len(cc2.envelopes()) != 1 {
		t.Error("every other member should receive exactly one copy")
	}
	if len(cc1.envelopes()) != 0 {
		t.Error("sender must not receive its own broadcast")
	}
}

func TestRoomRouteEdgeCases(t *testing.T) {
	room := newRoom()
	m, _ := member("m1", domain.RoleMentor, 0)
	c, cc := member("c1", domain.RoleChild, time.Second)
	room.AddMember("s1", m)
	room.AddMember("s2", c)

	env, _ := protocol.Seal("", "ghost", protocol.ModeChange{Mode: "x"})
	if res, err := room.Route("s1", env); err != nil || res.SendTo != 0 {
		t.Errorf("offline target: res = %+v, err = %v", res, err)
	}
	if _, err := room.Route("nobody", env); !errors.Is(err, ErrNotMember) {
		t.Errorf("non member err = %v", err)
	}

	cc.full = true
	env, _ = protocol.Seal("", "c1", protocol.ModeChange{Mode: "x"})
	res, _ := room.Route("s1", env)
	if len(res.Dropped) != 1 || res.Dropped[0] != "s2" {
		t.Errorf("Dropped = %v", res.Dropped)
	}
}

func TestRoomPresenceIsFullRoster(t *testing.T) {
	room := newRoom()
	m, mc := member("m1", domain.RoleMentor, 0)
	c, cc := member("c1", domain.RoleChild, time.Second)
	room.AddMember("s1", m)
	room.BroadcastPresence()
	room.AddMember("s2", c)
	room.BroadcastPresence()

	if r := mc.lastRoster(); len(r) != 2 {
		t.Fatalf("mentor roster = %+v", r)
	}
	if r := cc.lastRoster(); len(r) != 2 {
		t.Fatalf("child roster = %+v", r)
	}

	room.RemoveMember("s2")
	room.BroadcastPresence()
	if r := mc.lastRoster(); len(r) != 1 || r[0].UserID != "m1" {
		t.Errorf("roster after leave = %+v", r)
	}
}
