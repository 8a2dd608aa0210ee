package model

import (
	"time"

	"github.com/iliyamo/studyroom-seat-board/internal/validate"
)

// ClickedAtLayout is the wire and storage form of UsageEvent.ClickedAt.  It
// is fixed width with millisecond precision in UTC, so lexical order of the
// stored strings equals chronological order.
const ClickedAtLayout = "2006-01-02T15:04:05.000Z"

// Date and clock layouts used to stamp events in the room's time zone.
const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

// EventKind tags a usage event as the start or the end of a seat session.
type EventKind string

const (
	KindClaim   EventKind = "claim"
	KindRelease EventKind = "release"
)

// UsageEvent is one append-only record in the seat usage ledger.  A claim
// and its later release are two separate events; nothing is ever updated in
// place.  Identity fields are captured when the event is written and are
// never re-resolved afterwards.
//
// Fields:
//
//	ID         – ledger document id (UUID).
//	SeatNumber – physical seat number; must belong to the room layout.
//	StudentID  – student number from the profile at write time.
//	UserName   – student display name at write time.
//	Email      – identity provider email, the key for history queries.
//	Date       – YYYY-MM-DD in the room's time zone; the partition key.
//	Time       – HH:mm in the room's time zone; display and cutoff only.
//	ClickedAt  – UTC instant of the write; the ordering key.
//	Released   – false for a claim, true for a release.
type UsageEvent struct {
	ID         string    `json:"id"`
	SeatNumber int       `json:"seatNumber" validate:"required,min=1"`
	StudentID  string    `json:"studentId" validate:"required"`
	UserName   string    `json:"userName" validate:"required"`
	Email      string    `json:"email" validate:"required"`
	Date       string    `json:"date" validate:"required"`
	Time       string    `json:"time"`
	ClickedAt  time.Time `json:"clickedAt" validate:"required"`
	Released   bool      `json:"released"`
}

// Kind reports whether the event claims or releases its seat.
func (e UsageEvent) Kind() EventKind {
	if e.Released {
		return KindRelease
	}
	return KindClaim
}

// Validate checks the fields every reader depends on.  Events that fail it
// are treated as malformed and skipped by readers rather than reported.
func (e UsageEvent) Validate() error {
	return validate.Struct(e)
}

// ClickedAtString formats ClickedAt in ClickedAtLayout.
func (e UsageEvent) ClickedAtString() string {
	return e.ClickedAt.UTC().Format(ClickedAtLayout)
}

// ParseClickedAt parses a stored ClickedAt value.  RFC 3339 strings with or
// without fractional seconds are accepted so rows written by other clients
// still order correctly.
func ParseClickedAt(s string) (time.Time, error) {
	if t, err := time.Parse(ClickedAtLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
