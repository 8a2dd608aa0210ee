// Package queue defines message payloads exchanged over the message broker.
package queue

import "github.com/iliyamo/studyroom-seat-board/internal/model"

// SeatUsageExchange is the fanout exchange every instance binds a private
// queue to, so a ledger write on one instance refreshes streams on all.
const SeatUsageExchange = "seat.usage"

// SeatUsageRecorded is published after a usage event is appended to the
// ledger.  Consumers only need Date to refresh the matching streams; the
// remaining fields feed the usage log without a ledger query.
type SeatUsageRecorded struct {
	EventID    string `json:"event_id"`
	SeatNumber int    `json:"seat_number"`
	StudentID  string `json:"student_id"`
	UserName   string `json:"user_name"`
	Email      string `json:"email"`
	Date       string `json:"date"`
	Time       string `json:"time"`
	ClickedAt  string `json:"clicked_at"`
	Released   bool   `json:"released"`
	Origin     string `json:"origin"` // instance id of the publisher
}

// NewSeatUsageRecorded copies ev into a message from origin.
func NewSeatUsageRecorded(ev model.UsageEvent, origin string) SeatUsageRecorded {
	return SeatUsageRecorded{
		EventID:    ev.ID,
		SeatNumber: ev.SeatNumber,
		StudentID:  ev.StudentID,
		UserName:   ev.UserName,
		Email:      ev.Email,
		Date:       ev.Date,
		Time:       ev.Time,
		ClickedAt:  ev.ClickedAtString(),
		Released:   ev.Released,
		Origin:     origin,
	}
}
