package session

import (
	"testing"
	"time"

	"github.com/dkeye/Pairing/internal/clock"
)

func TestCursorTracker(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	tr := NewCursorTracker(fc)

	tr.Update("b", 1, 1)
	tr.Update("a", 5, 5)
	fc.Advance(2 * time.Second)
	tr.Update("b", 2, 2)

	got := tr.Active()
	if len(got) != 2 || got[0].UserID != "a" || got[1].X != 2 {
		t.Fatalf("active = %+v", got)
	}

	fc.Advance(time.Second)
	got = tr.Active()
	if len(got) != 1 || got[0].UserID != "b" {
		t.Fatalf("after 3s = %+v", got)
	}
	if !got[0].Timestamp.Equal(time.Unix(2, 0)) {
		t.Fatalf("timestamp = %s", got[0].Timestamp)
	}

	tr.Remove("b")
	if len(tr.Active()) != 0 {
		t.Fatal("remove kept cursor")
	}
}
