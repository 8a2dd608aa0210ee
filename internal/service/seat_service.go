// Package service holds the seat board use cases: opening a student session,
// reading and reconciling the board, claiming and releasing seats, and
// building usage history.  Storage is reached through the small interfaces
// below so tests can swap in fakes.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/iliyamo/studyroom-seat-board/internal/history"
	"github.com/iliyamo/studyroom-seat-board/internal/layout"
	"github.com/iliyamo/studyroom-seat-board/internal/metrics"
	"github.com/iliyamo/studyroom-seat-board/internal/model"
	"github.com/iliyamo/studyroom-seat-board/internal/occupancy"
	"github.com/iliyamo/studyroom-seat-board/internal/repository"
	"github.com/iliyamo/studyroom-seat-board/internal/validate"
)

// Ledger is the append-only seat usage store.
type Ledger interface {
	Append(ctx context.Context, ev model.UsageEvent) (model.UsageEvent, error)
	ListByDate(ctx context.Context, date string) ([]model.UsageEvent, error)
	ListByEmail(ctx context.Context, email string) ([]model.UsageEvent, error)
}

// SeatRecords keeps each student's LocalSeatRecord per day.
type SeatRecords interface {
	Load(ctx context.Context, uid, date string) (*model.LocalSeatRecord, error)
	Save(ctx context.Context, uid, date string, rec model.LocalSeatRecord) error
	Delete(ctx context.Context, uid, date string) error
	PurgeBefore(ctx context.Context, today string) (int, error)
}

// Profiles keeps the student id and name per identity.
type Profiles interface {
	Get(ctx context.Context, uid string) (model.Profile, error)
	Put(ctx context.Context, uid string, p model.Profile) error
}

// Announcer tells other instances about a ledger write.
type Announcer interface {
	UsageRecorded(ctx context.Context, ev model.UsageEvent) error
}

// DayNotifier refreshes this instance's open streams of a day.
type DayNotifier interface {
	Notify(date string)
}

// SeatService implements the student and monitor operations.
type SeatService struct {
	ledger   Ledger
	records  SeatRecords
	profiles Profiles
	layout   layout.Layout
	rules    occupancy.Rules

	announcer Announcer
	notifier  DayNotifier
	metrics   *metrics.Metrics
	now       func() time.Time
	guard     *writeGuard
}

// Option configures a SeatService.
type Option func(*SeatService)

func WithAnnouncer(a Announcer) Option { return func(s *SeatService) { s.announcer = a } }
func WithNotifier(n DayNotifier) Option { return func(s *SeatService) { s.notifier = n } }
func WithMetrics(m *metrics.Metrics) Option { return func(s *SeatService) { s.metrics = m } }
func WithClock(now func() time.Time) Option { return func(s *SeatService) { s.now = now } }

func NewSeatService(ledger Ledger, records SeatRecords, profiles Profiles, lay layout.Layout, rules occupancy.Rules, opts ...Option) *SeatService {
	s := &SeatService{
		ledger:   ledger,
		records:  records,
		profiles: profiles,
		layout:   lay,
		rules:    rules,
		now:      time.Now,
		guard:    newWriteGuard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Layout is the room the service validates seat numbers against.
func (s *SeatService) Layout() layout.Layout { return s.layout }

// Rules is the room's cutoff rule.
func (s *SeatService) Rules() occupancy.Rules { return s.rules }

// Today is the room's current calendar date.
func (s *SeatService) Today() string { return s.rules.Today(s.now()) }

// Profile returns the stored profile of id or ErrProfileRequired.
func (s *SeatService) Profile(ctx context.Context, id model.Identity) (model.Profile, error) {
	p, err := s.profiles.Get(ctx, id.UID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Profile{}, ErrProfileRequired
	}
	return p, err
}

// SaveProfile validates and stores p for id.
func (s *SeatService) SaveProfile(ctx context.Context, id model.Identity, p model.Profile) error {
	if err := validate.Struct(p); err != nil {
		return err
	}
	return s.profiles.Put(ctx, id.UID, p)
}

// OpenSession loads everything a request needs to act for id today.  A
// seat record that cannot be read is treated as absent; the next board read
// re-adopts it from the ledger.
func (s *SeatService) OpenSession(ctx context.Context, id model.Identity) (*Session, error) {
	p, err := s.Profile(ctx, id)
	if err != nil {
		return nil, err
	}
	sess := &Session{Identity: id, Profile: p, Date: s.Today()}
	rec, err := s.records.Load(ctx, id.UID, sess.Date)
	if err != nil {
		log.Printf("seat-service: load seat record of %s: %v", id.UID, err)
	}
	sess.Record = rec
	return sess, nil
}

// events reads one day of the ledger and records the read latency.
func (s *SeatService) events(ctx context.Context, date string) ([]model.UsageEvent, error) {
	start := time.Now()
	evs, err := s.ledger.ListByDate(ctx, date)
	s.metrics.Snapshot(time.Since(start))
	return evs, err
}

// Board reads today's ledger and resolves it for the session's student.
func (s *SeatService) Board(ctx context.Context, sess *Session) (occupancy.Board, error) {
	evs, err := s.events(ctx, sess.Date)
	if err != nil {
		return occupancy.Board{}, err
	}
	return s.ResolveFor(ctx, sess, evs), nil
}

// MonitorBoard reads today's ledger and resolves it for an anonymous viewer.
func (s *SeatService) MonitorBoard(ctx context.Context) (occupancy.Board, error) {
	evs, err := s.events(ctx, s.Today())
	if err != nil {
		return occupancy.Board{}, err
	}
	return s.ResolveAnonymous(evs), nil
}

// ResolveFor turns a full event set into the session's board, correcting the
// session's seat record against it first.
func (s *SeatService) ResolveFor(ctx context.Context, sess *Session, evs []model.UsageEvent) occupancy.Board {
	snap := occupancy.LatestBySeat(evs)
	now := s.now()
	b := occupancy.Resolve(snap, sess.Viewer(), now, s.rules)
	if s.Reconcile(ctx, sess, b) {
		b = occupancy.Resolve(snap, sess.Viewer(), now, s.rules)
	}
	return b
}

// ResolveAnonymous turns a full event set into the monitor board.
func (s *SeatService) ResolveAnonymous(evs []model.UsageEvent) occupancy.Board {
	return occupancy.Resolve(occupancy.LatestBySeat(evs), occupancy.Viewer{}, s.now(), s.rules)
}

// Reconcile corrects the session's seat record to what board shows and
// reports whether it changed.  A record naming a seat the student no longer
// holds is dropped; a seat the ledger shows the student holding is adopted.
// Store failures are logged: the in-session record is still corrected.
func (s *SeatService) Reconcile(ctx context.Context, sess *Session, b occupancy.Board) bool {
	v := sess.Viewer()
	var want *model.LocalSeatRecord
	if held := b.HeldBy(v); len(held) > 0 {
		want = &model.LocalSeatRecord{SeatNumber: held[0].Number, StartedAt: held[0].Event().ClickedAt}
	}
	have := sess.Record
	switch {
	case have == nil && want == nil:
		return false
	case have != nil && want != nil && have.SeatNumber == want.SeatNumber:
		return false
	}

	sess.Record = want
	if want == nil {
		if err := s.records.Delete(ctx, sess.Identity.UID, sess.Date); err != nil {
			log.Printf("seat-service: drop stale seat record of %s: %v", sess.Identity.UID, err)
		}
		return true
	}
	if err := s.records.Save(ctx, sess.Identity.UID, sess.Date, *want); err != nil {
		log.Printf("seat-service: adopt seat %d for %s: %v", want.SeatNumber, sess.Identity.UID, err)
	}
	return true
}

// ClaimResult describes what a successful Claim did.
type ClaimResult struct {
	Action   occupancy.ClaimAction
	Event    model.UsageEvent // the claim written; zero for a no-op
	Released int              // seat released first, zero if none
	Occupant occupancy.SeatState
}

// Claim moves the session's student onto seat.  The board is read fresh so
// the occupancy check never uses a stale view.  A seat held by someone else
// is refused without writing.  When the student holds another seat it is
// released first on a best-effort basis.  The seat record is saved only
// after the claim is in the ledger.
func (s *SeatService) Claim(ctx context.Context, sess *Session, seat int) (ClaimResult, error) {
	res, err := s.claim(ctx, sess, seat)
	s.metrics.Claim(outcome(res.Action, err))
	return res, err
}

func (s *SeatService) claim(ctx context.Context, sess *Session, seat int) (ClaimResult, error) {
	if !s.layout.Contains(seat) {
		return ClaimResult{}, ErrUnknownSeat
	}
	key := sess.guardKey()
	if !s.guard.acquire(key) {
		return ClaimResult{}, ErrSeatChangeInFlight
	}
	defer s.guard.release(key)

	b, err := s.Board(ctx, sess)
	if err != nil {
		return ClaimResult{}, err
	}
	plan := occupancy.PlanClaim(b, sess.Viewer(), seat)
	switch plan.Action {
	case occupancy.ClaimRefuse:
		return ClaimResult{Action: plan.Action, Occupant: plan.Occupant}, ErrSeatOccupied
	case occupancy.ClaimNoop:
		return ClaimResult{Action: plan.Action}, nil
	}

	res := ClaimResult{Action: occupancy.ClaimWrite}
	if plan.ReleaseFirst != 0 {
		if rel, err := s.write(ctx, sess, plan.ReleaseFirst, true); err != nil {
			log.Printf("seat-service: release seat %d before claiming %d: %v", plan.ReleaseFirst, seat, err)
		} else {
			res.Released = rel.SeatNumber
		}
	}
	ev, err := s.write(ctx, sess, seat, false)
	if err != nil {
		return ClaimResult{}, err
	}
	res.Event = ev
	s.releaseStranded(ctx, sess, b, seat)

	rec := model.LocalSeatRecord{SeatNumber: seat, StartedAt: ev.ClickedAt}
	sess.Record = &rec
	if err := s.records.Save(ctx, sess.Identity.UID, sess.Date, rec); err != nil {
		log.Printf("seat-service: save seat record of %s: %v", sess.Identity.UID, err)
	}
	return res, nil
}

// Release ends the seat the ledger shows the session's student holding,
// along with any claims a failed seat change left open.
func (s *SeatService) Release(ctx context.Context, sess *Session) (model.UsageEvent, error) {
	ev, err := s.release(ctx, sess)
	action := occupancy.ClaimWrite
	if errors.Is(err, ErrNoActiveSeat) {
		action = occupancy.ClaimNoop
	}
	s.metrics.Release(outcome(action, err))
	return ev, err
}

func (s *SeatService) release(ctx context.Context, sess *Session) (model.UsageEvent, error) {
	key := sess.guardKey()
	if !s.guard.acquire(key) {
		return model.UsageEvent{}, ErrSeatChangeInFlight
	}
	defer s.guard.release(key)

	// the stored record may be stale; only a seat the ledger shows as the
	// student's may be released
	b, err := s.Board(ctx, sess)
	if err != nil {
		return model.UsageEvent{}, err
	}
	mine, ok := b.MySeat()
	if !ok {
		return model.UsageEvent{}, ErrNoActiveSeat
	}
	ev, err := s.write(ctx, sess, mine.Number, true)
	if err != nil {
		return model.UsageEvent{}, err
	}
	s.releaseStranded(ctx, sess, b, 0)
	sess.Record = nil
	if err := s.records.Delete(ctx, sess.Identity.UID, sess.Date); err != nil {
		log.Printf("seat-service: delete seat record of %s: %v", sess.Identity.UID, err)
	}
	return ev, nil
}

// releaseStranded closes claims left open by an earlier seat change whose
// release write failed, except keep, the seat just claimed.  Failures are
// logged; the next seat change retries.
func (s *SeatService) releaseStranded(ctx context.Context, sess *Session, b occupancy.Board, keep int) {
	for _, n := range b.StrandedBy(sess.Viewer()) {
		if n == keep {
			continue
		}
		if _, err := s.write(ctx, sess, n, true); err != nil {
			log.Printf("seat-service: release stranded seat %d of %s: %v", n, sess.Identity.UID, err)
		}
	}
}

// write stamps and appends one event, then announces it.
func (s *SeatService) write(ctx context.Context, sess *Session, seat int, released bool) (model.UsageEvent, error) {
	ev := s.stamp(sess, seat, released)
	if err := ev.Validate(); err != nil {
		return model.UsageEvent{}, fmt.Errorf("stamp usage: %w", err)
	}
	stored, err := s.ledger.Append(ctx, ev)
	if err != nil {
		return model.UsageEvent{}, err
	}
	if s.notifier != nil {
		s.notifier.Notify(stored.Date)
	}
	if s.announcer != nil {
		_ = s.announcer.UsageRecorded(ctx, stored)
	}
	return stored, nil
}

// stamp builds an event at the current instant.  Date and Time are in the
// room's zone; ClickedAt is UTC truncated to the stored precision.
func (s *SeatService) stamp(sess *Session, seat int, released bool) model.UsageEvent {
	now := s.now()
	local := s.rules.Local(now)
	return model.UsageEvent{
		SeatNumber: seat,
		StudentID:  sess.Profile.StudentID,
		UserName:   sess.Profile.StudentName,
		Email:      sess.Identity.Email,
		Date:       local.Format(model.DateLayout),
		Time:       local.Format(model.ClockLayout),
		ClickedAt:  now.UTC().Truncate(time.Millisecond),
		Released:   released,
	}
}

// History builds the usage report of id from every event written under its
// email.
func (s *SeatService) History(ctx context.Context, id model.Identity) (history.Report, error) {
	evs, err := s.ledger.ListByEmail(ctx, id.Email)
	if err != nil {
		return history.Report{}, err
	}
	return history.Build(evs, s.now(), s.rules), nil
}

// PurgeStaleRecords drops seat records of past days.
func (s *SeatService) PurgeStaleRecords(ctx context.Context) (int, error) {
	return s.records.PurgeBefore(ctx, s.Today())
}

// outcome labels a claim or release for metrics.
func outcome(action occupancy.ClaimAction, err error) string {
	switch {
	case err == nil && action == occupancy.ClaimNoop:
		return "noop"
	case err == nil:
		return "ok"
	case errors.Is(err, ErrSeatOccupied):
		return "occupied"
	case errors.Is(err, ErrUnknownSeat):
		return "unknown"
	case errors.Is(err, ErrNoActiveSeat):
		return "none"
	case errors.Is(err, ErrSeatChangeInFlight):
		return "busy"
	case errors.Is(err, repository.ErrPermission):
		return "permission"
	case errors.Is(err, repository.ErrUnavailable):
		return "unavailable"
	}
	return "error"
}
