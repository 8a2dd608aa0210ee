package occupancy

import (
	"sort"
	"strings"
	"time"

	"github.com/iliyamo/studyroom-seat-board/internal/model"
)

// DefaultCutoffHour is the local hour at which supervised hours end.
const DefaultCutoffHour = 21

// Rules carries the room's closing rule.  Location is the room's time zone;
// both the cutoff and the start hour of a session are read in it.
type Rules struct {
	CutoffHour int
	Location   *time.Location
}

func (r Rules) loc() *time.Location {
	if r.Location == nil {
		return time.Local
	}
	return r.Location
}

// AfterCutoff reports whether now is at or past the cutoff hour.
func (r Rules) AfterCutoff(now time.Time) bool {
	return now.In(r.loc()).Hour() >= r.CutoffHour
}

// CutoffOn returns the cutoff instant on the given YYYY-MM-DD date.
func (r Rules) CutoffOn(date string) (time.Time, error) {
	day, err := time.ParseInLocation(model.DateLayout, date, r.loc())
	if err != nil {
		return time.Time{}, err
	}
	return day.Add(time.Duration(r.CutoffHour) * time.Hour), nil
}

// Local returns t in the room's time zone.
func (r Rules) Local(t time.Time) time.Time { return t.In(r.loc()) }

// Today formats now as the room's calendar date.
func (r Rules) Today(now time.Time) string {
	return now.In(r.loc()).Format(model.DateLayout)
}

// StartedHour returns the local hour a session started.  The event's Time
// field wins whenever it is at least two characters long, reading the
// leading digits of its first two characters; when those are not digits the
// hour is unknown and ok is false.  Without a usable Time field the hour of
// ClickedAt in the room's zone is used.
func (r Rules) StartedHour(ev model.UsageEvent) (hour int, ok bool) {
	if len(ev.Time) >= 2 {
		return leadingInt(ev.Time[:2])
	}
	if ev.ClickedAt.IsZero() {
		return 0, false
	}
	return ev.ClickedAt.In(r.loc()).Hour(), true
}

func leadingInt(s string) (int, bool) {
	n, digits := 0, 0
	for _, c := range s {
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
		digits++
	}
	return n, digits > 0
}

// Viewer identifies who is looking at the board.  The zero Viewer is the
// anonymous monitor.  Seat is the viewer's record of the seat they claimed
// today, if any.
type Viewer struct {
	StudentID string
	Email     string
	Seat      *model.LocalSeatRecord
}

// IsAnonymous reports whether the viewer carries no identity.
func (v Viewer) IsAnonymous() bool {
	return v.StudentID == "" && v.Email == ""
}

// Owns reports whether an event was written by this viewer.  Email is the
// stable key when both sides have one; otherwise the student id is compared.
func (v Viewer) Owns(ev model.UsageEvent) bool {
	if v.IsAnonymous() {
		return false
	}
	if v.Email != "" && ev.Email != "" {
		return strings.EqualFold(v.Email, ev.Email)
	}
	return v.StudentID != "" && v.StudentID == ev.StudentID
}

// Status is what a seat looks like to a viewer.
type Status string

const (
	StatusAvailable Status = "available"
	StatusOccupied  Status = "occupied"
	StatusMine      Status = "mine"
)

// SeatState is the resolved view of one seat.
type SeatState struct {
	Number    int        `json:"seat_number"`
	Status    Status     `json:"status"`
	StudentID string     `json:"student_id,omitempty"`
	UserName  string     `json:"user_name,omitempty"`
	Email     string     `json:"email,omitempty"`
	Time      string     `json:"time,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`

	event model.UsageEvent
}

// Occupied reports whether the seat is held by anyone, the viewer included.
func (s SeatState) Occupied() bool { return s.Status != StatusAvailable }

// Event returns the claim event holding the seat.  It is the zero value for
// an available seat.
func (s SeatState) Event() model.UsageEvent { return s.event }

// Board is the outcome of Resolve: every occupied seat and the instant it
// was resolved for.  Seats absent from the board are available.
type Board struct {
	ResolvedAt  time.Time
	AfterCutoff bool

	seats    map[int]SeatState
	stranded []model.UsageEvent
}

// State returns the resolved state of seat n.
func (b Board) State(n int) SeatState {
	if st, ok := b.seats[n]; ok {
		return st
	}
	return SeatState{Number: n, Status: StatusAvailable}
}

// Occupied lists occupied seats in ascending seat order.
func (b Board) Occupied() []SeatState {
	out := make([]SeatState, 0, len(b.seats))
	for _, st := range b.seats {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// States renders the given seat numbers in their given order.
func (b Board) States(seats []int) []SeatState {
	out := make([]SeatState, 0, len(seats))
	for _, n := range seats {
		out = append(out, b.State(n))
	}
	return out
}

// HeldBy lists occupied seats whose claim was written by v, newest first.
func (b Board) HeldBy(v Viewer) []SeatState {
	var out []SeatState
	for _, st := range b.seats {
		if v.Owns(st.event) {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].event.ClickedAt.After(out[j].event.ClickedAt)
	})
	return out
}

// StrandedBy lists seats whose latest event is an open claim by v that lost
// to v's newer claim elsewhere, in ascending seat order.  Nobody else holds
// them, so releasing them only closes v's own leftover sessions.
func (b Board) StrandedBy(v Viewer) []int {
	var out []int
	for _, ev := range b.stranded {
		if v.Owns(ev) {
			out = append(out, ev.SeatNumber)
		}
	}
	sort.Ints(out)
	return out
}

// MySeat returns the seat shown to the viewer as theirs, if any.
func (b Board) MySeat() (SeatState, bool) {
	for _, st := range b.seats {
		if st.Status == StatusMine {
			return st, true
		}
	}
	return SeatState{}, false
}

// actorKey identifies the writer of an event for the one-seat-per-student
// rule.
func actorKey(ev model.UsageEvent) string {
	if ev.Email != "" {
		return "e:" + strings.ToLower(ev.Email)
	}
	return "s:" + ev.StudentID
}

// Resolve applies release filtering, the daily cutoff and the ownership
// check to a snapshot.  A seat is occupied only if its latest event is a
// claim that the cutoff has not closed.  A student holds at most one seat:
// when the same writer's claim is the latest event on several seats (a seat
// change whose release write was lost), only the newest claim counts.  Among
// occupied seats, the one named by the viewer's local record and written by
// the viewer is "mine".
func Resolve(snap Snapshot, v Viewer, now time.Time, rules Rules) Board {
	b := Board{
		ResolvedAt:  now,
		AfterCutoff: rules.AfterCutoff(now),
		seats:       make(map[int]SeatState, len(snap)),
	}
	active := make(map[string]model.UsageEvent, len(snap))
	for _, ev := range snap {
		if ev.Released {
			continue
		}
		if b.AfterCutoff {
			if h, ok := rules.StartedHour(ev); ok && h < rules.CutoffHour {
				continue
			}
		}
		key := actorKey(ev)
		prev, ok := active[key]
		switch {
		case !ok:
			active[key] = ev
		case newer(ev, prev):
			b.stranded = append(b.stranded, prev)
			active[key] = ev
		default:
			b.stranded = append(b.stranded, ev)
		}
	}
	for _, ev := range active {
		n := ev.SeatNumber
		started := ev.ClickedAt
		st := SeatState{
			Number:    n,
			Status:    StatusOccupied,
			StudentID: ev.StudentID,
			UserName:  ev.UserName,
			Email:     ev.Email,
			Time:      ev.Time,
			StartedAt: &started,
			event:     ev,
		}
		if v.Seat != nil && v.Seat.SeatNumber == n && v.Owns(ev) {
			st.Status = StatusMine
		}
		b.seats[n] = st
	}
	return b
}
