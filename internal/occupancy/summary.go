package occupancy

// Summary is the teacher monitor's headline figures for a set of seats.
type Summary struct {
	Total     int         `json:"total"`
	Occupied  int         `json:"occupied"`
	Available int         `json:"available"`
	Usages    []SeatState `json:"usages"`
}

// Summarize counts occupied seats among the given seat numbers and lists
// their occupants in seat order.  Occupied seats outside the list are not
// counted, so a stale event for a removed seat cannot skew the totals.
func Summarize(b Board, seats []int) Summary {
	in := make(map[int]struct{}, len(seats))
	for _, n := range seats {
		in[n] = struct{}{}
	}
	s := Summary{Total: len(in), Usages: []SeatState{}}
	for _, st := range b.Occupied() {
		if _, ok := in[st.Number]; !ok {
			continue
		}
		s.Occupied++
		s.Usages = append(s.Usages, st)
	}
	s.Available = s.Total - s.Occupied
	return s
}
