package session

import (
	"cmp"
	"slices"

	"github.com/dkeye/Pairing/internal/clock"
	"github.com/dkeye/Pairing/internal/domain"
	"github.com/dkeye/Pairing/internal/ttlcache"
)

// CursorTracker keeps the latest cursor of each remote participant for
// domain.CursorTTL after its last update.
type CursorTracker struct {
	clock     clock.Clock
	positions *ttlcache.Cache[domain.UserID, domain.CursorPosition]
}

func NewCursorTracker(c clock.Clock) *CursorTracker {
	if c == nil {
		c = clock.Real{}
	}
	return &CursorTracker{clock: c, positions: ttlcache.New[domain.UserID, domain.CursorPosition](c)}
}

// Update overwrites the position of id. The latest receipt wins.
func (t *CursorTracker) Update(id domain.UserID, x, y float64) {
	t.positions.Set(id, domain.CursorPosition{UserID: id, X: x, Y: y, Timestamp: t.clock.Now()}, domain.CursorTTL)
}

func (t *CursorTracker) Remove(id domain.UserID) { t.positions.Delete(id) }

func (t *CursorTracker) Clear() { t.positions.Clear() }

// Active lists unexpired cursors ordered by user id.
func (t *CursorTracker) Active() []domain.CursorPosition {
	items := t.positions.Items()
	out := make([]domain.CursorPosition, 0, len(items))
	for _, p := range items {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b domain.CursorPosition) int { return cmp.Compare(a.UserID, b.UserID) })
	return out
}
