package decisiongraph

import (
	"sort"

	"tidbyt.dev/transit/timetable"
)

type EdgeType string

const (
	Train    EdgeType = "Train"
	Footpath EdgeType = "Footpath"
)

// Edge is one concrete ride or walk that a traveller following a
// minimum expected arrival strategy may take. Times are seconds
// relative to midnight of the query date.
type Edge struct {
	DepartureStop int
	ArrivalStop   int
	DepartureTime int
	ArrivalTime   int
	Type          EdgeType

	// -1 for footpaths.
	TripID int
}

type Role string

const (
	RoleDeparture Role = "departure"
	RoleArrival   Role = "arrival"
)

type Node struct {
	ID   int
	Stop int
	Time int
	Role Role
}

type Link struct {
	Source int
	Target int
	Type   EdgeType
	TripID int
}

// Cluster groups the nodes at stops sharing a name.
type Cluster struct {
	Name  string
	Nodes []int
}

// Expanded has a departure and an arrival node for every edge.
type Expanded struct {
	Nodes    []Node
	Links    []Link
	Clusters []Cluster
}

type CompactNode struct {
	ID   int
	Stop int

	// Set on target nodes: the range of arrival times.
	FirstArrival int
	LastArrival  int
	Target       bool
}

// CompactEdge merges all edges between the same pair of stops with
// the same type.
type CompactEdge struct {
	Source         int
	Target         int
	Type           EdgeType
	FirstDeparture int
	LastDeparture  int
	FirstArrival   int
	LastArrival    int
	Departures     []int
	TripIDs        []int
}

// Compact has one node per stop.
type Compact struct {
	Nodes []CompactNode
	Edges []CompactEdge
}

type Graph struct {
	Expanded Expanded
	Compact  Compact
}

// Build turns harvested edges into presentation graphs. Duplicate
// edges are ignored.
func Build(tt *timetable.Timetable, edges []Edge, targets []int) *Graph {
	edges = dedupe(edges)
	sort.SliceStable(edges, func(i, j int) bool {
		if edges[i].DepartureTime != edges[j].DepartureTime {
			return edges[i].DepartureTime < edges[j].DepartureTime
		}
		return edges[i].ArrivalTime < edges[j].ArrivalTime
	})

	isTarget := map[int]bool{}
	for _, t := range targets {
		isTarget[t] = true
	}

	return &Graph{
		Expanded: expand(tt, snapFootpaths(edges)),
		Compact:  compact(edges, isTarget),
	}
}

func dedupe(edges []Edge) []Edge {
	seen := map[Edge]bool{}
	out := make([]Edge, 0, len(edges))
	for _, e := range edges {
		if seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}

// Footpaths are walked whenever the traveller arrives, so their
// departure moves back to the latest arrival at the stop before the
// recorded departure.
func snapFootpaths(edges []Edge) []Edge {
	arrivals := map[int][]int{}
	for _, e := range edges {
		if e.Type == Train {
			arrivals[e.ArrivalStop] = append(arrivals[e.ArrivalStop], e.ArrivalTime)
		}
	}
	for stop := range arrivals {
		sort.Ints(arrivals[stop])
	}

	out := make([]Edge, len(edges))
	for i, e := range edges {
		out[i] = e
		if e.Type != Footpath {
			continue
		}
		times := arrivals[e.DepartureStop]
		j := sort.SearchInts(times, e.DepartureTime+1)
		if j == 0 {
			continue
		}
		shift := e.DepartureTime - times[j-1]
		out[i].DepartureTime -= shift
		out[i].ArrivalTime -= shift
	}
	return out
}

type nodeKey struct {
	stop int
	time int
	role Role
}

func expand(tt *timetable.Timetable, edges []Edge) Expanded {
	g := Expanded{}
	nodes := map[nodeKey]int{}
	node := func(stop, time int, role Role) int {
		key := nodeKey{stop, time, role}
		if id, found := nodes[key]; found {
			return id
		}
		id := len(g.Nodes)
		g.Nodes = append(g.Nodes, Node{ID: id, Stop: stop, Time: time, Role: role})
		nodes[key] = id
		return id
	}

	links := map[Link]bool{}
	for _, e := range edges {
		link := Link{
			Source: node(e.DepartureStop, e.DepartureTime, RoleDeparture),
			Target: node(e.ArrivalStop, e.ArrivalTime, RoleArrival),
			Type:   e.Type,
			TripID: e.TripID,
		}
		if links[link] {
			continue
		}
		links[link] = true
		g.Links = append(g.Links, link)
	}

	clusterIdx := map[string]int{}
	for _, n := range g.Nodes {
		name := tt.Stops[n.Stop].Name
		i, found := clusterIdx[name]
		if !found {
			i = len(g.Clusters)
			clusterIdx[name] = i
			g.Clusters = append(g.Clusters, Cluster{Name: name})
		}
		g.Clusters[i].Nodes = append(g.Clusters[i].Nodes, n.ID)
	}

	return g
}

type compactKey struct {
	from int
	to   int
	typ  EdgeType
}

func compact(edges []Edge, isTarget map[int]bool) Compact {
	g := Compact{}
	nodes := map[int]int{}
	node := func(stop int) int {
		if id, found := nodes[stop]; found {
			return id
		}
		id := len(g.Nodes)
		g.Nodes = append(g.Nodes, CompactNode{ID: id, Stop: stop, Target: isTarget[stop]})
		nodes[stop] = id
		return id
	}

	groups := map[compactKey]int{}
	reached := map[int]bool{}
	for _, e := range edges {
		key := compactKey{e.DepartureStop, e.ArrivalStop, e.Type}
		i, found := groups[key]
		if !found {
			i = len(g.Edges)
			groups[key] = i
			g.Edges = append(g.Edges, CompactEdge{
				Source:         node(e.DepartureStop),
				Target:         node(e.ArrivalStop),
				Type:           e.Type,
				FirstDeparture: e.DepartureTime,
				LastDeparture:  e.DepartureTime,
				FirstArrival:   e.ArrivalTime,
				LastArrival:    e.ArrivalTime,
			})
		}

		ce := &g.Edges[i]
		ce.Departures = append(ce.Departures, e.DepartureTime)
		if e.Type == Train {
			ce.TripIDs = append(ce.TripIDs, e.TripID)
		}
		ce.FirstDeparture = min(ce.FirstDeparture, e.DepartureTime)
		ce.LastDeparture = max(ce.LastDeparture, e.DepartureTime)
		ce.FirstArrival = min(ce.FirstArrival, e.ArrivalTime)
		ce.LastArrival = max(ce.LastArrival, e.ArrivalTime)

		if isTarget[e.ArrivalStop] {
			n := &g.Nodes[nodes[e.ArrivalStop]]
			if !reached[e.ArrivalStop] {
				reached[e.ArrivalStop] = true
				n.FirstArrival, n.LastArrival = e.ArrivalTime, e.ArrivalTime
			}
			n.FirstArrival = min(n.FirstArrival, e.ArrivalTime)
			n.LastArrival = max(n.LastArrival, e.ArrivalTime)
		}
	}

	return g
}
