package occupancy

// ClaimAction is the decision PlanClaim makes for a claim attempt.
type ClaimAction int

const (
	// ClaimRefuse: the seat is held by someone else; write nothing.
	ClaimRefuse ClaimAction = iota + 1
	// ClaimNoop: the viewer already holds the seat.
	ClaimNoop
	// ClaimWrite: append a claim, after releasing ReleaseFirst if set.
	ClaimWrite
)

func (a ClaimAction) String() string {
	switch a {
	case ClaimRefuse:
		return "refuse"
	case ClaimNoop:
		return "noop"
	case ClaimWrite:
		return "write"
	}
	return "unknown"
}

// ClaimPlan describes the ledger writes for one claim attempt.
type ClaimPlan struct {
	Action ClaimAction
	Seat   int
	// ReleaseFirst is the seat the viewer holds and must give up before the
	// claim is written.  Zero means there is nothing to release.
	ReleaseFirst int
	// Occupant is the state of the requested seat when the plan refuses.
	Occupant SeatState
}

// PlanClaim decides how a viewer's claim on seat should proceed against the
// board they were shown.  A viewer may hold one seat at a time: when their
// local record names another seat that the board still shows as held by
// them, that seat is released first.  The release is advisory and the
// caller proceeds with the claim even if it fails.
func PlanClaim(b Board, v Viewer, seat int) ClaimPlan {
	st := b.State(seat)
	if st.Occupied() {
		if st.Status == StatusMine || v.Owns(st.event) {
			return ClaimPlan{Action: ClaimNoop, Seat: seat}
		}
		return ClaimPlan{Action: ClaimRefuse, Seat: seat, Occupant: st}
	}
	plan := ClaimPlan{Action: ClaimWrite, Seat: seat}
	if v.Seat != nil && v.Seat.SeatNumber != seat {
		prev := b.State(v.Seat.SeatNumber)
		if prev.Occupied() && v.Owns(prev.event) {
			plan.ReleaseFirst = prev.Number
		}
	}
	return plan
}
