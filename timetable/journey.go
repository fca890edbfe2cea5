package timetable

type LegType int

const (
	LegTrain LegType = iota
	LegFootpath
)

func (t LegType) String() string {
	if t == LegFootpath {
		return "Footpath"
	}
	return "Train"
}

// Leg is one ride on a trip or one walk. Times are seconds relative
// to midnight of the query date.
type Leg struct {
	Type          LegType
	TripID        int
	DepartureStop int
	ArrivalStop   int
	DepartureTime int
	ArrivalTime   int
}

func (l Leg) Duration() int {
	return l.ArrivalTime - l.DepartureTime
}

// Journey is a sequence of legs where each leg departs from the stop
// the previous leg arrived at.
type Journey struct {
	Legs []Leg

	// Query time, reported as departure and arrival of a journey
	// without legs.
	Start int
}

func (j *Journey) Departure() int {
	if len(j.Legs) == 0 {
		return j.Start
	}
	return j.Legs[0].DepartureTime
}

func (j *Journey) Arrival() int {
	if len(j.Legs) == 0 {
		return j.Start
	}
	return j.Legs[len(j.Legs)-1].ArrivalTime
}

// Changes counts the trips boarded after the first.
func (j *Journey) Changes() int {
	n := 0
	for _, l := range j.Legs {
		if l.Type == LegTrain {
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return n - 1
}
