package service

import "errors"

var (
	// ErrProfileRequired is returned until the student has saved a student id
	// and name.  Seat writes without them would stamp empty identity fields.
	ErrProfileRequired = errors.New("student profile required")
	// ErrUnknownSeat is returned for a seat number outside the room layout.
	ErrUnknownSeat = errors.New("seat is not part of the room layout")
	// ErrSeatOccupied is returned when another student holds the seat.
	ErrSeatOccupied = errors.New("seat is occupied")
	// ErrNoActiveSeat is returned by Release when the student holds no seat.
	ErrNoActiveSeat = errors.New("no active seat")
	// ErrSeatChangeInFlight is returned while the same student's previous
	// claim or release is still being written.
	ErrSeatChangeInFlight = errors.New("a seat change is already in progress")
)
