package model

import (
	"strconv"
)

// Holds the GTFS records as they are read from a feed and kept in
// storage. The routing side works on timetable.Timetable, which is
// derived from these.

type LocationType int

const (
	LocationTypeStop LocationType = iota
	LocationTypeStation
	LocationTypeEntranceExit
	LocationTypeGenericNode
	LocationTypeBoardingArea
)

type RouteType int

const (
	RouteTypeTram       RouteType = 0
	RouteTypeSubway     RouteType = 1
	RouteTypeRail       RouteType = 2
	RouteTypeBus        RouteType = 3
	RouteTypeFerry      RouteType = 4
	RouteTypeCable      RouteType = 5
	RouteTypeAerial     RouteType = 6
	RouteTypeFunicular  RouteType = 7
	RouteTypeTrolleybus RouteType = 11
	RouteTypeMonorail   RouteType = 12
)

// Rail routes, including the extended railway types 100-199, are
// treated as long distance trips by the reliability model.
// Everything else uses the normal distance distribution.
func (t RouteType) LongDistance() bool {
	return t == RouteTypeRail || (t >= 100 && t < 200)
}

// Basic route types plus the extended types 100-1799.
func (t RouteType) Valid() bool {
	switch {
	case t >= RouteTypeTram && t <= RouteTypeFunicular:
		return true
	case t == RouteTypeTrolleybus || t == RouteTypeMonorail:
		return true
	case t >= 100 && t < 1800:
		return true
	}
	return false
}

type ExceptionType int8

const (
	ExceptionTypeAdded   ExceptionType = 1
	ExceptionTypeRemoved ExceptionType = 2
)

type TransferType int8

const (
	TransferTypeRecommended TransferType = 0
	TransferTypeTimed       TransferType = 1
	TransferTypeMinimumTime TransferType = 2
	TransferTypeNotPossible TransferType = 3
)

type Agency struct {
	ID       string
	Name     string
	URL      string
	Timezone string
}

type Calendar struct {
	ServiceID string
	StartDate string
	EndDate   string
	Weekday   int8
}

type CalendarDate struct {
	ServiceID     string
	Date          string
	ExceptionType ExceptionType
}

type Stop struct {
	ID            string
	Code          string
	Name          string
	Desc          string
	Lat           float64
	Lon           float64
	URL           string
	LocationType  LocationType
	ParentStation string
	PlatformCode  string
}

type Trip struct {
	ID          string
	RouteID     string
	ServiceID   string
	Headsign    string
	ShortName   string
	DirectionID int8
}

type Route struct {
	ID        string
	AgencyID  string
	ShortName string
	LongName  string
	Desc      string
	Type      RouteType
	URL       string
	Color     string
	TextColor string
}

// Display name of the route, preferring the short name.
func (r *Route) Name() string {
	if r.ShortName != "" {
		return r.ShortName
	}
	return r.LongName
}

type StopTime struct {
	TripID       string
	StopID       string
	Headsign     string
	StopSequence uint32
	Arrival      string
	Departure    string
}

// A walking transfer between two stops, as in transfers.txt.
type Transfer struct {
	FromStopID      string
	ToStopID        string
	Type            TransferType
	MinTransferTime int
}

// Arrival in seconds past midnight of the service day. Values past
// 24:00:00 are allowed.
func (st *StopTime) ArrivalSeconds() int {
	return hhmmssSeconds(st.Arrival)
}

// Departure in seconds past midnight of the service day.
func (st *StopTime) DepartureSeconds() int {
	return hhmmssSeconds(st.Departure)
}

func hhmmssSeconds(s string) int {
	if len(s) != 6 {
		return 0
	}
	h, _ := strconv.Atoi(s[0:2])
	m, _ := strconv.Atoi(s[2:4])
	sec, _ := strconv.Atoi(s[4:6])
	return h*3600 + m*60 + sec
}
