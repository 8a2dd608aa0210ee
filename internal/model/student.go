package model

import "time"

// Identity is what the identity provider knows about a signed-in user.  UID
// is stable for the lifetime of the account; Email is the foreign key used to
// look up a student's history in the ledger.
type Identity struct {
	UID         string // users.id rendered as a decimal string
	Email       string // users.email (normalized lower case)
	DisplayName string // users.display_name
	Role        string // STUDENT | TEACHER
}

// Profile is the student information stamped onto every usage event.  It is
// kept per identity in the profile store.
type Profile struct {
	StudentID   string `json:"student_id" validate:"required,max=32"`
	StudentName string `json:"student_name" validate:"required,max=64"`
}

// LocalSeatRecord remembers which seat a student claimed today so the board
// can mark it as theirs before, and independent of, the next ledger read.
// There is at most one record per student per calendar day.  The ledger
// always wins over this record when the two disagree.
type LocalSeatRecord struct {
	SeatNumber int       `json:"seatNumber"`
	StartedAt  time.Time `json:"startedAt"`
}
