// Package history turns a student's usage events into sessions, daily totals
// and monthly totals for the personal history view.
package history

import (
	"fmt"
	"sort"
	"time"

	"github.com/iliyamo/studyroom-seat-board/internal/model"
	"github.com/iliyamo/studyroom-seat-board/internal/occupancy"
)

// Session is one claim paired with its release (or its derived end).
type Session struct {
	SeatNumber int       `json:"seat_number"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Minutes    int       `json:"minutes"`
	// Ongoing marks a session of today that has not ended yet; End is now.
	Ongoing bool `json:"ongoing,omitempty"`
	// AutoClosed marks a session without a release that was ended by the
	// daily cutoff or the end of its day.
	AutoClosed bool `json:"auto_closed,omitempty"`
}

// Day aggregates the sessions of one calendar date.
type Day struct {
	Date         string    `json:"date"`
	TotalMinutes int       `json:"total_minutes"`
	Sessions     []Session `json:"sessions"`
}

// Month aggregates the daily totals of one YYYY-MM month.
type Month struct {
	Month        string `json:"month"`
	TotalMinutes int    `json:"total_minutes"`
}

// Report is the full history of one student, newest first.
type Report struct {
	Days   []Day   `json:"days"`
	Months []Month `json:"months"`
}

// Build pairs claims and releases per date and seat.  Events are processed
// in ClickedAt order: a claim opens a session for its seat unless one is
// already open, and a release closes the open session of its seat.  Events
// without a date or ClickedAt are ignored.
func Build(events []model.UsageEvent, now time.Time, rules occupancy.Rules) Report {
	byDate := make(map[string][]model.UsageEvent)
	for _, ev := range events {
		if ev.Date == "" || ev.ClickedAt.IsZero() || ev.SeatNumber <= 0 {
			continue
		}
		byDate[ev.Date] = append(byDate[ev.Date], ev)
	}

	today := rules.Today(now)
	days := make([]Day, 0, len(byDate))
	for date, evs := range byDate {
		days = append(days, buildDay(date, evs, today, now, rules))
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date > days[j].Date })

	monthly := make(map[string]int)
	for _, d := range days {
		if len(d.Date) >= 7 {
			monthly[d.Date[:7]] += d.TotalMinutes
		}
	}
	months := make([]Month, 0, len(monthly))
	for m, total := range monthly {
		months = append(months, Month{Month: m, TotalMinutes: total})
	}
	sort.Slice(months, func(i, j int) bool { return months[i].Month > months[j].Month })

	return Report{Days: days, Months: months}
}

func buildDay(date string, evs []model.UsageEvent, today string, now time.Time, rules occupancy.Rules) Day {
	sort.SliceStable(evs, func(i, j int) bool { return evs[i].ClickedAt.Before(evs[j].ClickedAt) })

	day := Day{Date: date, Sessions: []Session{}}
	open := make(map[int]time.Time)
	for _, ev := range evs {
		if !ev.Released {
			if _, ok := open[ev.SeatNumber]; !ok {
				open[ev.SeatNumber] = ev.ClickedAt
			}
			continue
		}
		start, ok := open[ev.SeatNumber]
		if !ok {
			continue
		}
		delete(open, ev.SeatNumber)
		day.Sessions = append(day.Sessions, newSession(ev.SeatNumber, start, ev.ClickedAt))
	}

	for seat, start := range open {
		end, ongoing := unfinishedEnd(date, start, today, now, rules)
		s := newSession(seat, start, end)
		s.Ongoing = ongoing
		s.AutoClosed = !ongoing
		day.Sessions = append(day.Sessions, s)
	}

	sort.Slice(day.Sessions, func(i, j int) bool { return day.Sessions[i].Start.Before(day.Sessions[j].Start) })
	for _, s := range day.Sessions {
		day.TotalMinutes += s.Minutes
	}
	return day
}

// unfinishedEnd decides where a session without a release stops counting.
// Sessions started before the cutoff end at the cutoff once it has passed;
// sessions of earlier days started after it end at midnight.
func unfinishedEnd(date string, start time.Time, today string, now time.Time, rules occupancy.Rules) (time.Time, bool) {
	cutoff, err := rules.CutoffOn(date)
	if err != nil {
		return now, date == today
	}
	startedBefore := start.Before(cutoff)
	switch {
	case date >= today:
		if startedBefore && !now.Before(cutoff) {
			return cutoff, false
		}
		return now, true
	case startedBefore:
		return cutoff, false
	default:
		return cutoff.Add(-time.Duration(rules.CutoffHour) * time.Hour).AddDate(0, 0, 1), false
	}
}

func newSession(seat int, start, end time.Time) Session {
	minutes := int(end.Sub(start) / time.Minute)
	if minutes < 0 {
		minutes = 0
	}
	return Session{SeatNumber: seat, Start: start, End: end, Minutes: minutes}
}

// ForMonth returns the days of a YYYY-MM month, newest first.
func (r Report) ForMonth(month string) []Day {
	out := make([]Day, 0)
	for _, d := range r.Days {
		if len(d.Date) >= 7 && d.Date[:7] == month {
			out = append(out, d)
		}
	}
	return out
}

// FormatMinutes renders a minute count as "2h 5m", "45m" or "3h".
func FormatMinutes(minutes int) string {
	h, m := minutes/60, minutes%60
	switch {
	case h == 0:
		return fmt.Sprintf("%dm", m)
	case m == 0:
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dh %dm", h, m)
}
