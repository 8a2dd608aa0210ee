package service

import (
	"github.com/iliyamo/studyroom-seat-board/internal/model"
	"github.com/iliyamo/studyroom-seat-board/internal/occupancy"
)

// Session is the state one request or one stream acts on: who the student
// is, the profile stamped on their events, the room date it was opened for
// and their seat record for that date.  Sessions are not shared between
// goroutines.
type Session struct {
	Identity model.Identity
	Profile  model.Profile
	Date     string
	Record   *model.LocalSeatRecord
}

// Viewer is the session seen by the reconciler.
func (s *Session) Viewer() occupancy.Viewer {
	return occupancy.Viewer{
		StudentID: s.Profile.StudentID,
		Email:     s.Identity.Email,
		Seat:      s.Record,
	}
}

func (s *Session) guardKey() string { return s.Identity.UID + "|" + s.Date }
