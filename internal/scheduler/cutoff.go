// Package scheduler runs the study room's daily jobs.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Board is the part of the seat service the jobs need.
type Board interface {
	Today() string
	PurgeStaleRecords(ctx context.Context) (int, error)
}

// Notifier refreshes the open streams of a day.
type Notifier interface {
	Notify(date string)
}

// Cutoff pushes a fresh snapshot to every open stream when supervised hours
// end, so seats are shown auto-released without waiting for the next write,
// and clears seat records of past days after midnight.
type Cutoff struct {
	board    Board
	notifier Notifier
	hour     int
	loc      *time.Location
	s        gocron.Scheduler
}

// NewCutoff schedules the jobs at hour:00 and 00:01 in loc.  Call Start.
func NewCutoff(board Board, notifier Notifier, hour int, loc *time.Location) (*Cutoff, error) {
	if hour < 0 || hour > 23 {
		return nil, fmt.Errorf("cutoff hour %d out of range", hour)
	}
	if loc == nil {
		loc = time.Local
	}
	s, err := gocron.NewScheduler(gocron.WithLocation(loc))
	if err != nil {
		return nil, err
	}
	c := &Cutoff{board: board, notifier: notifier, hour: hour, loc: loc, s: s}

	if _, err := s.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(uint(hour), 0, 0))),
		gocron.NewTask(c.RunCutoff),
		gocron.WithName("seat-cutoff"),
	); err != nil {
		return nil, err
	}
	if _, err := s.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(0, 1, 0))),
		gocron.NewTask(c.RunPurge),
		gocron.WithName("seat-record-purge"),
	); err != nil {
		return nil, err
	}
	return c, nil
}

// Start begins running the jobs in the background.
func (c *Cutoff) Start() {
	c.s.Start()
	log.Printf("scheduler: cutoff at %02d:00 %s", c.hour, c.loc)
}

// Shutdown stops the scheduler and waits for running jobs.
func (c *Cutoff) Shutdown() error { return c.s.Shutdown() }

// RunCutoff notifies today's streams.
func (c *Cutoff) RunCutoff() {
	today := c.board.Today()
	log.Printf("scheduler: cutoff reached, refreshing %s", today)
	c.notifier.Notify(today)
}

// RunPurge drops seat records of days before today.
func (c *Cutoff) RunPurge() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	n, err := c.board.PurgeStaleRecords(ctx)
	if err != nil {
		log.Printf("scheduler: purge seat records: %v", err)
		return
	}
	log.Printf("scheduler: purged %d stale seat records", n)
}
