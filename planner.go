package transit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"tidbyt.dev/transit/csa"
	"tidbyt.dev/transit/decisiongraph"
	"tidbyt.dev/transit/raptor"
	"tidbyt.dev/transit/reliability"
	"tidbyt.dev/transit/timetable"
)

var (
	ErrInvalidQuery = errors.New("invalid query")
	ErrNoConnection = errors.New("no connection found")
	ErrInternal     = errors.New("internal error")
)

type Algorithm string

const (
	AlgorithmCSA    Algorithm = "csa"
	AlgorithmRAPTOR Algorithm = "raptor"
)

// Search window multiplier used when a query leaves Alpha unset.
const DefaultAlpha = 2.0

// Query is a journey planning request as it arrives from a user.
// Source and Target are GTFS stop ids, dense stop ids or stop names.
type Query struct {
	Source string `validate:"required"`
	Target string `validate:"required"`

	// HH:MM:SS, hours past 23 allowed.
	Time string `validate:"required,clock"`

	// YYYY-MM-DD, selecting the weekday whose calendars apply.
	Date string `validate:"required,datetime=2006-01-02"`

	// The MEAT and profile searches consider connections up to
	// Time + Alpha * (baseline - Time). Zero means DefaultAlpha.
	Alpha float64 `validate:"omitempty,gte=1"`
}

// Planner answers queries against a single timetable. It holds no
// per-query state and is safe for concurrent use.
type Planner struct {
	// Service days searched past the query date. Zero uses the
	// algorithms' default.
	MaxDays int

	tt       *timetable.Timetable
	rel      *reliability.Model
	logger   *zap.Logger
	validate *validator.Validate
}

func NewPlanner(tt *timetable.Timetable, rel *reliability.Model, logger *zap.Logger) *Planner {
	v := validator.New()
	v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		_, err := timetable.ParseClock(fl.Field().String())
		return err == nil
	})

	return &Planner{
		tt:       tt,
		rel:      rel,
		logger:   logger,
		validate: v,
	}
}

func (p *Planner) Timetable() *timetable.Timetable {
	return p.tt
}

// A validated query with stops resolved to dense ids.
type request struct {
	id      string
	sources []int
	targets []int
	time    int
	date    time.Time
	alpha   float64
	logger  *zap.Logger
}

func (p *Planner) resolve(q Query) (*request, error) {
	if err := p.validate.Struct(q); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidQuery, err)
	}

	sources, err := p.ResolveStop(q.Source)
	if err != nil {
		return nil, err
	}
	targets, err := p.ResolveStop(q.Target)
	if err != nil {
		return nil, err
	}

	t, err := timetable.ParseClock(q.Time)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidQuery, err)
	}
	date, err := time.Parse("2006-01-02", q.Date)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidQuery, err)
	}

	alpha := q.Alpha
	if alpha == 0 {
		alpha = DefaultAlpha
	}

	id := uuid.NewString()
	return &request{
		id:      id,
		sources: sources,
		targets: targets,
		time:    t,
		date:    date,
		alpha:   alpha,
		logger: p.logger.With(
			zap.String("request_id", id),
			zap.String("source", q.Source),
			zap.String("target", q.Target),
			zap.String("time", q.Time),
			zap.String("date", q.Date),
		),
	}, nil
}

// ResolveStop maps a GTFS stop id, a dense stop id or a stop name to
// stop ids. GTFS ids take precedence, so feeds with numeric stop ids
// resolve as expected.
func (p *Planner) ResolveStop(s string) ([]int, error) {
	if id, ok := p.tt.StopByCode(s); ok {
		return []int{id}, nil
	}
	if id, err := strconv.Atoi(s); err == nil && id >= 0 && id < len(p.tt.Stops) {
		return []int{id}, nil
	}
	if ids := p.tt.StopsByName(s); len(ids) > 0 {
		return append([]int{}, ids...), nil
	}
	return nil, fmt.Errorf("%w: unknown stop %q", ErrInvalidQuery, s)
}

// Maps algorithm errors onto the planner's taxonomy. Anything that
// isn't a missing connection or a canceled context is a defect.
func (p *Planner) fail(r *request, query string, algo Algorithm, err error) error {
	switch {
	case errors.Is(err, csa.ErrNoConnection), errors.Is(err, raptor.ErrNoConnection), errors.Is(err, ErrNoConnection):
		observe(query, algo, "no_connection")
		r.logger.Info("no connection", zap.String("query", query))
		return ErrNoConnection
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		observe(query, algo, "canceled")
		return err
	}
	observe(query, algo, "error")
	r.logger.Error("query failed", zap.String("query", query), zap.String("algorithm", string(algo)), zap.Error(err))
	return fmt.Errorf("%w: %s", ErrInternal, err)
}

func (p *Planner) earliest(ctx context.Context, r *request, algo Algorithm) (*timetable.Journey, error) {
	switch algo {
	case AlgorithmCSA:
		return csa.EarliestArrival(ctx, p.tt, csa.Query{
			Sources: r.sources,
			Targets: r.targets,
			Time:    r.time,
			Weekday: r.date.Weekday(),
			MaxDays: p.MaxDays,
		})
	case AlgorithmRAPTOR:
		return raptor.EarliestArrival(ctx, p.tt, raptor.Query{
			Sources: r.sources,
			Targets: r.targets,
			Time:    r.time,
			Weekday: r.date.Weekday(),
			MaxDays: p.MaxDays,
		})
	}
	return nil, fmt.Errorf("%w: unknown algorithm %q", ErrInvalidQuery, algo)
}

func (p *Planner) horizon(r *request, baseline int) int {
	return r.time + int(math.Ceil(r.alpha*float64(baseline-r.time)))
}

// EarliestArrival finds the journey reaching the target first.
func (p *Planner) EarliestArrival(ctx context.Context, q Query, algo Algorithm) (*JourneyResponse, error) {
	r, err := p.resolve(q)
	if err != nil {
		observe("earliest", algo, "invalid")
		return nil, err
	}
	defer timer("earliest", algo)()

	j, err := p.earliest(ctx, r, algo)
	if errors.Is(err, ErrInvalidQuery) {
		observe("earliest", algo, "invalid")
		return nil, err
	}
	if err != nil {
		return nil, p.fail(r, "earliest", algo, err)
	}

	resp, err := p.journeyResponse(r, j)
	if err != nil {
		return nil, p.fail(r, "earliest", algo, err)
	}
	observe("earliest", algo, "ok")
	r.logger.Debug("earliest arrival", zap.String("arrival", resp.ArrivalTime), zap.Int("changes", resp.Changes))
	return resp, nil
}

// Profile lists the Pareto optimal journeys departing within the
// search window, latest departure first.
func (p *Planner) Profile(ctx context.Context, q Query) (*ProfileResponse, error) {
	r, err := p.resolve(q)
	if err != nil {
		observe("profile", AlgorithmCSA, "invalid")
		return nil, err
	}
	defer timer("profile", AlgorithmCSA)()

	ea, err := p.earliest(ctx, r, AlgorithmCSA)
	if err != nil {
		return nil, p.fail(r, "profile", AlgorithmCSA, err)
	}

	res, err := csa.Profile(ctx, p.tt, csa.ProfileQuery{
		Sources: r.sources,
		Targets: r.targets,
		Time:    r.time,
		Horizon: p.horizon(r, ea.Arrival()),
		Weekday: r.date.Weekday(),
		MaxDays: p.MaxDays,
	})
	if err != nil {
		return nil, p.fail(r, "profile", AlgorithmCSA, err)
	}
	if len(res.Entries) == 0 {
		return nil, p.fail(r, "profile", AlgorithmCSA, ErrNoConnection)
	}

	resp := &ProfileResponse{
		RequestID: r.id,
		Source:    p.stopNames(r.sources),
		Target:    p.stopNames(r.targets),
	}
	for _, e := range res.Entries {
		j, err := res.Journey(e)
		if err != nil {
			return nil, p.fail(r, "profile", AlgorithmCSA, err)
		}
		jr, err := p.journeyResponse(r, j)
		if err != nil {
			return nil, p.fail(r, "profile", AlgorithmCSA, err)
		}
		resp.Journeys = append(resp.Journeys, *jr)
	}

	observe("profile", AlgorithmCSA, "ok")
	return resp, nil
}

// MultiCriteria lists journeys trading arrival time against the
// probability of catching every transfer.
func (p *Planner) MultiCriteria(ctx context.Context, q Query) (*MultiCriteriaResponse, error) {
	r, err := p.resolve(q)
	if err != nil {
		observe("multicriteria", AlgorithmRAPTOR, "invalid")
		return nil, err
	}
	defer timer("multicriteria", AlgorithmRAPTOR)()

	options, err := raptor.MultiCriteria(ctx, p.tt, p.rel, raptor.Query{
		Sources: r.sources,
		Targets: r.targets,
		Time:    r.time,
		Weekday: r.date.Weekday(),
		MaxDays: p.MaxDays,
	})
	if err != nil {
		return nil, p.fail(r, "multicriteria", AlgorithmRAPTOR, err)
	}

	resp := &MultiCriteriaResponse{
		RequestID: r.id,
		Source:    p.stopNames(r.sources),
		Target:    p.stopNames(r.targets),
	}
	for _, o := range options {
		jr, err := p.journeyResponse(r, o.Journey)
		if err != nil {
			return nil, p.fail(r, "multicriteria", AlgorithmRAPTOR, err)
		}
		resp.Options = append(resp.Options, OptionResponse{Journey: *jr, Reliability: o.Reliability})
	}

	observe("multicriteria", AlgorithmRAPTOR, "ok")
	return resp, nil
}

// MEAT computes the minimum expected arrival time and the decision
// graph of the strategy reaching it. The earliest arrival and
// earliest safe arrival are computed first; the latter bounds the
// search window via Alpha.
func (p *Planner) MEAT(ctx context.Context, q Query, algo Algorithm) (*MEATResponse, error) {
	r, err := p.resolve(q)
	if err != nil {
		observe("meat", algo, "invalid")
		return nil, err
	}
	if algo != AlgorithmCSA && algo != AlgorithmRAPTOR {
		observe("meat", algo, "invalid")
		return nil, fmt.Errorf("%w: unknown algorithm %q", ErrInvalidQuery, algo)
	}
	defer timer("meat", algo)()

	ea, err := p.earliest(ctx, r, AlgorithmCSA)
	if err != nil {
		return nil, p.fail(r, "meat", algo, err)
	}
	esa, err := csa.EarliestSafeArrival(ctx, p.tt, p.rel, csa.Query{
		Sources: r.sources,
		Targets: r.targets,
		Time:    r.time,
		Weekday: r.date.Weekday(),
		MaxDays: p.MaxDays,
	})
	if err != nil {
		return nil, p.fail(r, "meat", algo, err)
	}

	horizon := p.horizon(r, esa.Arrival())

	var (
		source, departure, arrival, round int
		expected                          float64
		edges                             []decisiongraph.Edge
	)
	switch algo {
	case AlgorithmCSA:
		res, err := csa.MEAT(ctx, p.tt, p.rel, csa.MEATQuery{
			Sources: r.sources,
			Targets: r.targets,
			Time:    r.time,
			Horizon: horizon,
			Weekday: r.date.Weekday(),
			MaxDays: p.MaxDays,
		})
		if err != nil {
			return nil, p.fail(r, "meat", algo, err)
		}
		source, departure, arrival, expected, edges = res.Source, res.Departure, res.Arrival, res.Expected, res.Edges
	case AlgorithmRAPTOR:
		res, err := raptor.MEAT(ctx, p.tt, p.rel, raptor.MEATQuery{
			Sources: r.sources,
			Targets: r.targets,
			Time:    r.time,
			Horizon: horizon,
			Weekday: r.date.Weekday(),
			MaxDays: p.MaxDays,
		})
		if err != nil {
			return nil, p.fail(r, "meat", algo, err)
		}
		source, departure, arrival, expected, edges = res.Source, res.Departure, res.Arrival, res.Expected, res.Edges
		round = res.Round
	}

	if math.IsInf(expected, 0) || math.IsNaN(expected) {
		return nil, p.fail(r, "meat", algo, fmt.Errorf("expected arrival is %v", expected))
	}

	resp := &MEATResponse{
		RequestID:       r.id,
		Source:          p.tt.Stops[source].Name,
		Target:          p.stopNames(r.targets),
		ExpectedArrival: expected,
		Round:           round,
	}
	meat := int(math.Ceil(expected))
	for _, f := range []struct {
		seconds    int
		clock, day *string
	}{
		{departure, &resp.DepartureTime, &resp.DepartureDate},
		{meat, &resp.MEATTime, &resp.MEATDate},
		{arrival, &resp.ScheduledArrivalTime, &resp.ScheduledArrivalDate},
		{ea.Arrival(), &resp.EarliestArrivalTime, &resp.EarliestArrivalDate},
		{esa.Arrival(), &resp.EarliestSafeArrivalTime, &resp.EarliestSafeArrivalDate},
	} {
		*f.clock, *f.day, err = r.format(f.seconds)
		if err != nil {
			return nil, p.fail(r, "meat", algo, err)
		}
	}

	graph := decisiongraph.Build(p.tt, edges, r.targets)
	resp.Graph = p.graphResponse(r, graph)

	observe("meat", algo, "ok")
	r.logger.Debug("meat",
		zap.String("algorithm", string(algo)),
		zap.Float64("expected", expected),
		zap.Int("edges", len(edges)),
	)
	return resp, nil
}
