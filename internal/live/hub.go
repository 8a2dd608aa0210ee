// Package live pushes full ledger snapshots of a day to open board streams.
//
// Subscribers never see deltas: every delivery is the complete event set for
// the subscribed date, so the board is recomputed from scratch each time and
// a missed delivery loses nothing.
package live

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/iliyamo/studyroom-seat-board/internal/metrics"
	"github.com/iliyamo/studyroom-seat-board/internal/model"
)

const defaultQueryTimeout = 5 * time.Second

// Source reads the events of one day.  *repository.UsageEventRepo satisfies it.
type Source interface {
	ListByDate(ctx context.Context, date string) ([]model.UsageEvent, error)
}

// Snapshot is one delivery.  When Err is set, Events is empty and the client
// should keep showing a failure state until a later snapshot succeeds.
type Snapshot struct {
	Date   string
	Events []model.UsageEvent
	Err    error
	At     time.Time
}

// Subscription receives the snapshots of one date.
type Subscription struct {
	date  string
	snaps chan Snapshot
	done  chan struct{}
	hub   *Hub
	once  sync.Once
}

// Snapshots yields full event sets.  It holds at most one pending snapshot;
// a newer one replaces it.  The channel is closed when the subscription ends.
func (s *Subscription) Snapshots() <-chan Snapshot { return s.snaps }

// Done is closed when the subscription ends, by Close or by Hub.Stop.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Date is the day this subscription follows.
func (s *Subscription) Date() string { return s.date }

// Close ends the subscription.  It can be called any number of times; when
// it returns, no further snapshot is delivered.
func (s *Subscription) Close() {
	s.once.Do(func() {
		select {
		case s.hub.unregister <- s:
			<-s.done
		case <-s.hub.stopped:
		}
	})
}

type result struct {
	date   string
	events []model.UsageEvent
	err    error
	took   time.Duration
}

// Hub fans ledger snapshots out to subscriptions.  One goroutine owns all
// state; queries run on their own goroutines so a slow ledger never blocks
// Subscribe or Close.
type Hub struct {
	source       Source
	metrics      *metrics.Metrics
	queryTimeout time.Duration
	now          func() time.Time

	register   chan *Subscription
	unregister chan *Subscription
	notify     chan string
	results    chan result
	stop       chan struct{}
	stopped    chan struct{}
	stopOnce   sync.Once
}

// Option configures a Hub.
type Option func(*Hub)

// WithMetrics records subscriber counts and query latency.
func WithMetrics(m *metrics.Metrics) Option { return func(h *Hub) { h.metrics = m } }

// WithQueryTimeout bounds every ledger read.
func WithQueryTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.queryTimeout = d
		}
	}
}

// WithClock overrides the time stamped on snapshots.
func WithClock(now func() time.Time) Option { return func(h *Hub) { h.now = now } }

// NewHub creates a hub reading from source.  Call Run to start it.
func NewHub(source Source, opts ...Option) *Hub {
	h := &Hub{
		source:       source,
		queryTimeout: defaultQueryTimeout,
		now:          time.Now,
		register:     make(chan *Subscription),
		unregister:   make(chan *Subscription),
		notify:       make(chan string, 64),
		results:      make(chan result),
		stop:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run is the event loop.  It blocks until Stop is called.
func (h *Hub) Run() {
	subs := make(map[string]map[*Subscription]struct{})
	inflight := make(map[string]bool)
	dirty := make(map[string]bool)
	ctx, cancel := context.WithCancel(context.Background())
	var queries sync.WaitGroup
	defer func() {
		cancel()
		queries.Wait()
		close(h.stopped)
	}()

	fetch := func(date string) {
		if inflight[date] {
			dirty[date] = true
			return
		}
		inflight[date] = true
		queries.Add(1)
		go func() {
			defer queries.Done()
			qctx, qcancel := context.WithTimeout(ctx, h.queryTimeout)
			defer qcancel()
			start := time.Now()
			events, err := h.source.ListByDate(qctx, date)
			select {
			case h.results <- result{date: date, events: events, err: err, took: time.Since(start)}:
			case <-ctx.Done():
			}
		}()
	}

	for {
		select {
		case s := <-h.register:
			set := subs[s.date]
			if set == nil {
				set = make(map[*Subscription]struct{})
				subs[s.date] = set
			}
			set[s] = struct{}{}
			h.metrics.SubscriberAdded()
			// every subscriber of the date gets the fresh read; they are full sets
			fetch(s.date)

		case s := <-h.unregister:
			if set, ok := subs[s.date]; ok {
				if _, ok := set[s]; ok {
					delete(set, s)
					if len(set) == 0 {
						delete(subs, s.date)
					}
					close(s.done)
					close(s.snaps)
					h.metrics.SubscriberRemoved()
				}
			}

		case date := <-h.notify:
			if len(subs[date]) > 0 {
				fetch(date)
			}

		case r := <-h.results:
			inflight[r.date] = false
			h.metrics.Snapshot(r.took)
			snap := Snapshot{Date: r.date, Events: r.events, Err: r.err, At: h.now()}
			if r.err != nil {
				log.Printf("live-hub: snapshot %s failed: %v", r.date, r.err)
				snap.Events = nil
			}
			for s := range subs[r.date] {
				deliver(s, snap)
			}
			if dirty[r.date] {
				delete(dirty, r.date)
				if len(subs[r.date]) > 0 {
					fetch(r.date)
				}
			}

		case <-h.stop:
			for _, set := range subs {
				for s := range set {
					close(s.done)
					close(s.snaps)
					h.metrics.SubscriberRemoved()
				}
			}
			return
		}
	}
}

// deliver hands snap to s, replacing a snapshot s has not taken yet.  Only the
// hub loop sends, so after the drain the send cannot block.
func deliver(s *Subscription, snap Snapshot) {
	select {
	case s.snaps <- snap:
		return
	default:
	}
	select {
	case <-s.snaps:
	default:
	}
	select {
	case s.snaps <- snap:
	default:
	}
}

// Stop ends the loop and every subscription.  Safe to call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
	<-h.stopped
}

// Subscribe follows date.  The first snapshot arrives as soon as the ledger
// answers.  On a stopped hub the returned subscription is already closed.
func (h *Hub) Subscribe(date string) *Subscription {
	s := &Subscription{
		date:  date,
		snaps: make(chan Snapshot, 1),
		done:  make(chan struct{}),
		hub:   h,
	}
	select {
	case h.register <- s:
	case <-h.stopped:
		close(s.done)
		close(s.snaps)
	}
	return s
}

// Notify asks for a fresh read of date for its subscribers.  It never blocks;
// notifications that find the queue full are dropped because a pending one
// already covers them.
func (h *Hub) Notify(date string) {
	select {
	case h.notify <- date:
	case <-h.stopped:
	default:
		log.Printf("live-hub: notify queue full, coalescing %s", date)
	}
}
