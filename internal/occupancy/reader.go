// Package occupancy derives seat occupancy from the append-only usage ledger.
// Nothing here performs I/O: the reader folds a set of events into one
// latest event per seat, and the reconciler turns that snapshot into what a
// particular viewer should see at a particular instant.  Every client runs
// the same functions over the same events and so derives the same board.
package occupancy

import (
	"sort"

	"github.com/iliyamo/studyroom-seat-board/internal/model"
)

// Snapshot maps a seat number to the latest event recorded for it.
type Snapshot map[int]model.UsageEvent

// LatestBySeat keeps, for every seat, the event with the greatest ClickedAt.
// Malformed events are skipped.  The fold does not depend on input order:
// equal ClickedAt values are broken by the greater event ID, so replaying the
// same set in any order yields the same snapshot.
func LatestBySeat(events []model.UsageEvent) Snapshot {
	snap := make(Snapshot, len(events))
	for _, ev := range events {
		if ev.Validate() != nil {
			continue
		}
		prev, ok := snap[ev.SeatNumber]
		if !ok || newer(ev, prev) {
			snap[ev.SeatNumber] = ev
		}
	}
	return snap
}

func newer(a, b model.UsageEvent) bool {
	if a.ClickedAt.Equal(b.ClickedAt) {
		return a.ID > b.ID
	}
	return a.ClickedAt.After(b.ClickedAt)
}

// Seats returns the seat numbers present in the snapshot in ascending order.
func (s Snapshot) Seats() []int {
	out := make([]int, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}
