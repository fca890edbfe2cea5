package transit

import (
	"fmt"
	"sort"
	"strings"

	"tidbyt.dev/transit/decisiongraph"
	"tidbyt.dev/transit/timetable"
)

// Times past this many days from the query date can only come from
// an unreachable sentinel leaking into a result.
const maxFormatDays = 100

type JourneyResponse struct {
	RequestID     string        `json:"request_id,omitempty" yaml:"request_id,omitempty"`
	Source        string        `json:"source" yaml:"source"`
	Target        string        `json:"target" yaml:"target"`
	DepartureTime string        `json:"departure_time" yaml:"departure_time"`
	DepartureDate string        `json:"departure_date" yaml:"departure_date"`
	ArrivalTime   string        `json:"arrival_time" yaml:"arrival_time"`
	ArrivalDate   string        `json:"arrival_date" yaml:"arrival_date"`
	Changes       int           `json:"changes" yaml:"changes"`
	Legs          []LegResponse `json:"legs" yaml:"legs"`
}

// LegResponse is a ride on a trip or, with Type "Footpath", a walk.
type LegResponse struct {
	Type          string `json:"type" yaml:"type"`
	Route         string `json:"route,omitempty" yaml:"route,omitempty"`
	Trip          string `json:"trip,omitempty" yaml:"trip,omitempty"`
	Headsign      string `json:"headsign,omitempty" yaml:"headsign,omitempty"`
	From          string `json:"from" yaml:"from"`
	To            string `json:"to" yaml:"to"`
	DepartureTime string `json:"departure_time" yaml:"departure_time"`
	DepartureDate string `json:"departure_date" yaml:"departure_date"`
	ArrivalTime   string `json:"arrival_time" yaml:"arrival_time"`
	ArrivalDate   string `json:"arrival_date" yaml:"arrival_date"`

	// Seconds.
	Duration int `json:"duration" yaml:"duration"`
}

type ProfileResponse struct {
	RequestID string            `json:"request_id" yaml:"request_id"`
	Source    string            `json:"source" yaml:"source"`
	Target    string            `json:"target" yaml:"target"`
	Journeys  []JourneyResponse `json:"journeys" yaml:"journeys"`
}

type OptionResponse struct {
	Journey     JourneyResponse `json:"journey" yaml:"journey"`
	Reliability float64         `json:"reliability" yaml:"reliability"`
}

type MultiCriteriaResponse struct {
	RequestID string           `json:"request_id" yaml:"request_id"`
	Source    string           `json:"source" yaml:"source"`
	Target    string           `json:"target" yaml:"target"`
	Options   []OptionResponse `json:"options" yaml:"options"`
}

type MEATResponse struct {
	RequestID     string `json:"request_id" yaml:"request_id"`
	Source        string `json:"source" yaml:"source"`
	Target        string `json:"target" yaml:"target"`
	DepartureTime string `json:"departure_time" yaml:"departure_time"`
	DepartureDate string `json:"departure_date" yaml:"departure_date"`

	// Minimum expected arrival, rounded up to the second.
	MEATTime string `json:"meat_time" yaml:"meat_time"`
	MEATDate string `json:"meat_date" yaml:"meat_date"`

	// Seconds past midnight of the query date.
	ExpectedArrival float64 `json:"expected_arrival" yaml:"expected_arrival"`

	// Arrival of the strategy if no trip is delayed.
	ScheduledArrivalTime string `json:"scheduled_arrival_time" yaml:"scheduled_arrival_time"`
	ScheduledArrivalDate string `json:"scheduled_arrival_date" yaml:"scheduled_arrival_date"`

	EarliestArrivalTime     string `json:"earliest_arrival_time" yaml:"earliest_arrival_time"`
	EarliestArrivalDate     string `json:"earliest_arrival_date" yaml:"earliest_arrival_date"`
	EarliestSafeArrivalTime string `json:"earliest_safe_arrival_time" yaml:"earliest_safe_arrival_time"`
	EarliestSafeArrivalDate string `json:"earliest_safe_arrival_date" yaml:"earliest_safe_arrival_date"`

	// Trips allowed by the transfer optimal RAPTOR strategy. Zero
	// for connection scan.
	Round int `json:"round,omitempty" yaml:"round,omitempty"`

	Graph GraphResponse `json:"graph" yaml:"graph"`
}

type GraphResponse struct {
	Expanded ExpandedResponse `json:"expanded" yaml:"expanded"`
	Compact  CompactResponse  `json:"compact" yaml:"compact"`
}

type NodeResponse struct {
	ID   int    `json:"id" yaml:"id"`
	Stop string `json:"stop" yaml:"stop"`
	Time string `json:"time" yaml:"time"`
	Date string `json:"date" yaml:"date"`
	Role string `json:"role" yaml:"role"`
}

type LinkResponse struct {
	Source int    `json:"source" yaml:"source"`
	Target int    `json:"target" yaml:"target"`
	Type   string `json:"type" yaml:"type"`
	Route  string `json:"route,omitempty" yaml:"route,omitempty"`
}

type ClusterResponse struct {
	Name  string `json:"name" yaml:"name"`
	Nodes []int  `json:"nodes" yaml:"nodes"`
}

type ExpandedResponse struct {
	Nodes    []NodeResponse    `json:"nodes" yaml:"nodes"`
	Links    []LinkResponse    `json:"links" yaml:"links"`
	Clusters []ClusterResponse `json:"clusters" yaml:"clusters"`
}

type CompactNodeResponse struct {
	ID   int    `json:"id" yaml:"id"`
	Stop string `json:"stop" yaml:"stop"`

	// Arrival range, set on target nodes only.
	Arrival string `json:"arrival,omitempty" yaml:"arrival,omitempty"`
}

type CompactEdgeResponse struct {
	Source     int      `json:"source" yaml:"source"`
	Target     int      `json:"target" yaml:"target"`
	Type       string   `json:"type" yaml:"type"`
	Departure  string   `json:"departure" yaml:"departure"`
	Departures []string `json:"departures" yaml:"departures"`
	Routes     []string `json:"routes,omitempty" yaml:"routes,omitempty"`
}

type CompactResponse struct {
	Nodes []CompactNodeResponse `json:"nodes" yaml:"nodes"`
	Edges []CompactEdgeResponse `json:"edges" yaml:"edges"`
}

// Renders seconds relative to the query date as clock time and
// calendar date.
func (r *request) format(seconds int) (string, string, error) {
	days := timetable.DayOffset(seconds)
	if days > maxFormatDays || days < -maxFormatDays {
		return "", "", fmt.Errorf("time %d out of range", seconds)
	}
	return timetable.FormatClock(seconds), r.date.AddDate(0, 0, days).Format("2006-01-02"), nil
}

func (r *request) formatRange(first, last int) (string, error) {
	a, _, err := r.format(first)
	if err != nil {
		return "", err
	}
	if first == last {
		return a, nil
	}
	b, _, err := r.format(last)
	if err != nil {
		return "", err
	}
	return a + "-" + b, nil
}

// Distinct names of the given stops, joined.
func (p *Planner) stopNames(stops []int) string {
	seen := map[string]bool{}
	names := []string{}
	for _, s := range stops {
		name := p.tt.Stops[s].Name
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return strings.Join(names, ", ")
}

func (p *Planner) routeName(trip int) string {
	if trip < 0 {
		return ""
	}
	return p.tt.Routes[p.tt.Trips[trip].RouteID].Name
}

func (p *Planner) journeyResponse(r *request, j *timetable.Journey) (*JourneyResponse, error) {
	resp := &JourneyResponse{
		RequestID: r.id,
		Source:    p.stopNames(r.sources),
		Target:    p.stopNames(r.targets),
		Changes:   j.Changes(),
		Legs:      []LegResponse{},
	}
	if len(j.Legs) > 0 {
		resp.Source = p.tt.Stops[j.Legs[0].DepartureStop].Name
		resp.Target = p.tt.Stops[j.Legs[len(j.Legs)-1].ArrivalStop].Name
	}

	var err error
	resp.DepartureTime, resp.DepartureDate, err = r.format(j.Departure())
	if err != nil {
		return nil, err
	}
	resp.ArrivalTime, resp.ArrivalDate, err = r.format(j.Arrival())
	if err != nil {
		return nil, err
	}

	for _, l := range j.Legs {
		if l.ArrivalTime < l.DepartureTime {
			return nil, fmt.Errorf("leg arrives at %d before departing at %d", l.ArrivalTime, l.DepartureTime)
		}
		leg := LegResponse{
			Type:     l.Type.String(),
			From:     p.tt.Stops[l.DepartureStop].Name,
			To:       p.tt.Stops[l.ArrivalStop].Name,
			Duration: l.Duration(),
		}
		if l.Type == timetable.LegTrain {
			trip := p.tt.Trips[l.TripID]
			leg.Route = p.routeName(l.TripID)
			leg.Trip = trip.Code
			leg.Headsign = trip.Headsign
		}
		leg.DepartureTime, leg.DepartureDate, err = r.format(l.DepartureTime)
		if err != nil {
			return nil, err
		}
		leg.ArrivalTime, leg.ArrivalDate, err = r.format(l.ArrivalTime)
		if err != nil {
			return nil, err
		}
		resp.Legs = append(resp.Legs, leg)
	}

	return resp, nil
}

func (p *Planner) graphResponse(r *request, g *decisiongraph.Graph) GraphResponse {
	resp := GraphResponse{
		Expanded: ExpandedResponse{
			Nodes:    []NodeResponse{},
			Links:    []LinkResponse{},
			Clusters: []ClusterResponse{},
		},
		Compact: CompactResponse{
			Nodes: []CompactNodeResponse{},
			Edges: []CompactEdgeResponse{},
		},
	}

	// Graph times come from the same search that produced the
	// response's other times, which have already been checked.
	clock := func(s int) string {
		c, _, _ := r.format(s)
		return c
	}

	for _, n := range g.Expanded.Nodes {
		c, d, _ := r.format(n.Time)
		resp.Expanded.Nodes = append(resp.Expanded.Nodes, NodeResponse{
			ID:   n.ID,
			Stop: p.tt.Stops[n.Stop].Name,
			Time: c,
			Date: d,
			Role: string(n.Role),
		})
	}
	for _, l := range g.Expanded.Links {
		resp.Expanded.Links = append(resp.Expanded.Links, LinkResponse{
			Source: l.Source,
			Target: l.Target,
			Type:   string(l.Type),
			Route:  p.routeName(l.TripID),
		})
	}
	for _, c := range g.Expanded.Clusters {
		resp.Expanded.Clusters = append(resp.Expanded.Clusters, ClusterResponse{Name: c.Name, Nodes: c.Nodes})
	}

	for _, n := range g.Compact.Nodes {
		node := CompactNodeResponse{ID: n.ID, Stop: p.tt.Stops[n.Stop].Name}
		if n.Target {
			node.Arrival, _ = r.formatRange(n.FirstArrival, n.LastArrival)
		}
		resp.Compact.Nodes = append(resp.Compact.Nodes, node)
	}
	for _, e := range g.Compact.Edges {
		edge := CompactEdgeResponse{
			Source:     e.Source,
			Target:     e.Target,
			Type:       string(e.Type),
			Departures: []string{},
		}
		edge.Departure, _ = r.formatRange(e.FirstDeparture, e.LastDeparture)
		for _, d := range e.Departures {
			edge.Departures = append(edge.Departures, clock(d))
		}
		routes := map[string]bool{}
		for _, trip := range e.TripIDs {
			if name := p.routeName(trip); name != "" {
				routes[name] = true
			}
		}
		for name := range routes {
			edge.Routes = append(edge.Routes, name)
		}
		sort.Strings(edge.Routes)
		resp.Compact.Edges = append(resp.Compact.Edges, edge)
	}

	return resp
}
