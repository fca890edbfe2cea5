package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"tidbyt.dev/transit"
	"tidbyt.dev/transit/decisiongraph"
	"tidbyt.dev/transit/timetable"
)

// Results with a human readable rendering for --output text. Others
// are written as YAML.
type texter interface {
	text() string
}

func write(w io.Writer, v any) error {
	switch cfg.Output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "text":
		if t, ok := v.(texter); ok {
			_, err := io.WriteString(w, t.text())
			return err
		}
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func journeyText(b *strings.Builder, j *transit.JourneyResponse) {
	fmt.Fprintf(b, "%s %s -> %s %s (%d changes)\n", j.DepartureTime, j.Source, j.ArrivalTime, j.Target, j.Changes)
	for _, l := range j.Legs {
		if l.Type == timetable.LegFootpath.String() {
			fmt.Fprintf(b, "  %s  walk %s -> %s (%d min)\n", l.DepartureTime, l.From, l.To, (l.Duration+59)/60)
			continue
		}
		fmt.Fprintf(b, "  %s  %s %s -> %s, arrives %s", l.DepartureTime, l.Route, l.From, l.To, l.ArrivalTime)
		if l.Headsign != "" {
			fmt.Fprintf(b, " (towards %s)", l.Headsign)
		}
		b.WriteString("\n")
	}
}

type journeyOutput struct {
	transit.JourneyResponse `yaml:",inline"`
}

func (o journeyOutput) text() string {
	b := &strings.Builder{}
	journeyText(b, &o.JourneyResponse)
	return b.String()
}

type profileOutput struct {
	transit.ProfileResponse `yaml:",inline"`
}

func (o profileOutput) text() string {
	b := &strings.Builder{}
	for i := range o.Journeys {
		journeyText(b, &o.Journeys[i])
	}
	return b.String()
}

type multiCriteriaOutput struct {
	transit.MultiCriteriaResponse `yaml:",inline"`
}

func (o multiCriteriaOutput) text() string {
	b := &strings.Builder{}
	for i := range o.Options {
		fmt.Fprintf(b, "%.1f%% ", 100*o.Options[i].Reliability)
		journeyText(b, &o.Options[i].Journey)
	}
	return b.String()
}

type meatOutput struct {
	transit.MEATResponse `yaml:",inline"`
}

func (o meatOutput) text() string {
	b := &strings.Builder{}
	fmt.Fprintf(b, "%s -> %s, departing %s %s\n", o.Source, o.Target, o.DepartureDate, o.DepartureTime)
	fmt.Fprintf(b, "  expected arrival      %s\n", o.MEATTime)
	fmt.Fprintf(b, "  scheduled arrival     %s\n", o.ScheduledArrivalTime)
	fmt.Fprintf(b, "  earliest arrival      %s\n", o.EarliestArrivalTime)
	fmt.Fprintf(b, "  earliest safe arrival %s\n", o.EarliestSafeArrivalTime)
	if o.Round > 0 {
		fmt.Fprintf(b, "  trips                 %d\n", o.Round)
	}

	stops := map[int]string{}
	for _, n := range o.Graph.Compact.Nodes {
		stops[n.ID] = n.Stop
		if n.Arrival != "" {
			stops[n.ID] += " (" + n.Arrival + ")"
		}
	}
	b.WriteString("\n")
	for _, e := range o.Graph.Compact.Edges {
		via := strings.Join(e.Routes, "/")
		if e.Type == string(decisiongraph.Footpath) {
			via = "walk"
		}
		fmt.Fprintf(b, "  %s: %s -> %s [%s]\n", stops[e.Source], via, stops[e.Target], strings.Join(e.Departures, " "))
	}
	return b.String()
}
