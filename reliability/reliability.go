package reliability

import (
	"math"
	"math/rand"
)

// Params shape one delay distribution. The probability of a delay of
// at most t minutes is 1 - exp(ln(1-A) * t/B), truncated to 1 at
// Cutoff minutes.
type Params struct {
	A      float64
	B      float64
	Cutoff int
}

var (
	LongDistanceParams = Params{A: 0.9, B: 10, Cutoff: 30}
	NormalParams       = Params{A: 0.95, B: 5, Cutoff: 15}
)

// Model holds the discretized delay distributions for long distance
// and normal trips. It is read-only after construction and safe for
// concurrent use.
type Model struct {
	long   distribution
	normal distribution
}

type distribution struct {
	// cdf[i] is the probability of a delay of at most i minutes.
	cdf      []float64
	expected float64
}

func New() *Model {
	return NewWithParams(LongDistanceParams, NormalParams)
}

func NewWithParams(long, normal Params) *Model {
	return &Model{
		long:   newDistribution(long),
		normal: newDistribution(normal),
	}
}

func newDistribution(p Params) distribution {
	cdf := make([]float64, p.Cutoff+1)
	k := math.Log(1 - p.A)
	for i := 0; i <= p.Cutoff; i++ {
		cdf[i] = 1 - math.Exp(k*float64(i)/p.B)
	}
	cdf[p.Cutoff] = 1

	expected := 0.0
	for i := 1; i <= p.Cutoff; i++ {
		expected += float64(i) * (cdf[i] - cdf[i-1])
	}

	return distribution{cdf: cdf, expected: expected * 60}
}

func (m *Model) dist(longDistance bool) *distribution {
	if longDistance {
		return &m.long
	}
	return &m.normal
}

// CDF is the probability that a delay is at most the given number of
// seconds. Values between whole minutes are interpolated linearly.
func (m *Model) CDF(seconds int, longDistance bool) float64 {
	d := m.dist(longDistance)
	if seconds < 0 {
		return 0
	}
	cutoff := len(d.cdf) - 1
	if seconds >= cutoff*60 {
		return 1
	}
	i := seconds / 60
	frac := float64(seconds%60) / 60
	return d.cdf[i] + frac*(d.cdf[i+1]-d.cdf[i])
}

// ExpectedValue is the mean delay in seconds.
func (m *Model) ExpectedValue(longDistance bool) float64 {
	return m.dist(longDistance).expected
}

// ProbabilityOfInterval is the probability of a delay in (min, max]
// seconds. Negative lower bounds count from zero.
func (m *Model) ProbabilityOfInterval(min, max int, longDistance bool) float64 {
	if min < 0 {
		min = 0
	}
	if max <= min {
		return 0
	}
	return m.CDF(max, longDistance) - m.CDF(min, longDistance)
}

// MaxDelay is the largest delay in seconds the distribution allows.
func (m *Model) MaxDelay(longDistance bool) int {
	return (len(m.dist(longDistance).cdf) - 1) * 60
}

// RandomDelay draws a delay in seconds, rounded to whole minutes.
func (m *Model) RandomDelay(rng *rand.Rand, longDistance bool) int {
	d := m.dist(longDistance)
	x := rng.Float64()
	for i, p := range d.cdf {
		if x <= p {
			return i * 60
		}
	}
	return (len(d.cdf) - 1) * 60
}
