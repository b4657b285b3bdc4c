// Package correlation tracks each strategy's rolling daily returns and
// derives correlation/covariance matrices and correlated-pair queries
// across the portfolio (spec §4.5).
//
// Grounded on the teacher's pkg/metric/bootstrap.go, the pack's only
// consumer of gonum.org/v1/gonum/stat; this package generalizes that
// single-series statistic usage (stat.MeanStdDev, stat.Quantile) into
// pairwise stat.Correlation/stat.Covariance across every strategy pair.
package correlation

import (
	"sort"

	"github.com/kestrelfolio/portfoliocore/pkg/core"
	"github.com/kestrelfolio/portfoliocore/pkg/events"
	"gonum.org/v1/gonum/stat"
)

// Pair is an unordered pair of strategy ids with their correlation.
type Pair struct {
	A, B        string
	Correlation float64
}

// Config holds the analyzer's tunables.
type Config struct {
	RollingWindow              int
	LowCorrelationThreshold    float64
	HighCorrelationThreshold   float64
	CorrelationChangeThreshold float64
}

// DefaultConfig returns spec §6's enumerated defaults.
func DefaultConfig() Config {
	return Config{
		RollingWindow:               30,
		LowCorrelationThreshold:     0.3,
		HighCorrelationThreshold:    0.7,
		CorrelationChangeThreshold: 0.3,
	}
}

// Analyzer owns each strategy's rolling return window and the
// last-computed correlation/covariance matrices.
type Analyzer struct {
	cfg Config
	bus *events.Bus

	returns map[string]*core.RollingWindow[float64]
	order   []string // insertion order, for stable matrix iteration
}

// NewAnalyzer creates an empty Analyzer.
func NewAnalyzer(cfg Config, bus *events.Bus) *Analyzer {
	return &Analyzer{
		cfg:     cfg,
		bus:     bus,
		returns: make(map[string]*core.RollingWindow[float64]),
	}
}

// RecordReturn appends r to strategyId's rolling return window, creating
// it on first use. equity is accepted for interface symmetry with the
// spec (§4.5 recordReturn(strategyId, r, equity)) but is not itself part
// of the correlation/covariance computation.
func (a *Analyzer) RecordReturn(strategyID string, r float64, equity float64) {
	window, ok := a.returns[strategyID]
	if !ok {
		window = core.NewRollingWindow[float64](a.cfg.RollingWindow)
		a.returns[strategyID] = window
		a.order = append(a.order, strategyID)
	}
	window.Push(r)
}

// Matrix is a symmetric strategy-id-indexed matrix (correlation or
// covariance).
type Matrix struct {
	IDs    []string
	Values map[string]map[string]float64
}

// Get returns Values[a][b], or 0 if either id is absent.
func (m Matrix) Get(a, b string) float64 {
	row, ok := m.Values[a]
	if !ok {
		return 0
	}
	return row[b]
}

// BuildCorrelationMatrix computes the Pearson correlation of every pair's
// overlapping return windows. Pairs with fewer than 2 overlapping samples
// correlate at 0.
func (a *Analyzer) BuildCorrelationMatrix() Matrix {
	return a.buildMatrix(func(x, y []float64) float64 {
		if len(x) < 2 {
			return 0
		}
		return stat.Correlation(x, y, nil)
	})
}

// BuildCovarianceMatrix computes the sample covariance of every pair's
// overlapping return windows.
func (a *Analyzer) BuildCovarianceMatrix() Matrix {
	return a.buildMatrix(func(x, y []float64) float64 {
		if len(x) < 2 {
			return 0
		}
		return stat.Covariance(x, y, nil)
	})
}

func (a *Analyzer) buildMatrix(fn func(x, y []float64) float64) Matrix {
	ids := append([]string(nil), a.order...)
	sort.Strings(ids)

	values := make(map[string]map[string]float64, len(ids))
	for _, id := range ids {
		values[id] = make(map[string]float64, len(ids))
	}

	for i, idA := range ids {
		values[idA][idA] = 1
		for j := i + 1; j < len(ids); j++ {
			idB := ids[j]
			x, y := overlap(a.returns[idA].Values(), a.returns[idB].Values())
			v := fn(x, y)
			values[idA][idB] = v
			values[idB][idA] = v
		}
	}

	return Matrix{IDs: ids, Values: values}
}

// overlap aligns two return series to their common, most-recent length
// (the "overlapping-window" series the spec calls for).
func overlap(a, b []float64) ([]float64, []float64) {
	n := min(len(a), len(b))
	return a[len(a)-n:], b[len(b)-n:]
}

// FindHighCorrelationPairs returns every pair with |correlation| >=
// threshold, sorted by descending |correlation|.
func (a *Analyzer) FindHighCorrelationPairs(threshold float64) []Pair {
	m := a.BuildCorrelationMatrix()
	var pairs []Pair
	for i, idA := range m.IDs {
		for j := i + 1; j < len(m.IDs); j++ {
			idB := m.IDs[j]
			rho := m.Get(idA, idB)
			if abs(rho) >= threshold {
				pairs = append(pairs, Pair{A: idA, B: idB, Correlation: rho})
			}
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return abs(pairs[i].Correlation) > abs(pairs[j].Correlation) })

	if a.bus != nil && len(pairs) > 0 {
		a.bus.Publish(events.TopicHighCorrelationWarn, pairs)
	}
	return pairs
}

// FindLowCorrelationPairs returns every pair with |correlation| <=
// threshold.
func (a *Analyzer) FindLowCorrelationPairs(threshold float64) []Pair {
	m := a.BuildCorrelationMatrix()
	var pairs []Pair
	for i, idA := range m.IDs {
		for j := i + 1; j < len(m.IDs); j++ {
			idB := m.IDs[j]
			rho := m.Get(idA, idB)
			if abs(rho) <= threshold {
				pairs = append(pairs, Pair{A: idA, B: idB, Correlation: rho})
			}
		}
	}
	return pairs
}

// DetectCorrelationRegimeChange compares correlation over the first half
// of the overlapping window to the second half; detected is true when the
// absolute difference is at least threshold.
func (a *Analyzer) DetectCorrelationRegimeChange(strategyA, strategyB string, threshold float64) (detected bool, delta float64) {
	wa, okA := a.returns[strategyA]
	wb, okB := a.returns[strategyB]
	if !okA || !okB {
		return false, 0
	}
	x, y := overlap(wa.Values(), wb.Values())
	if len(x) < 4 {
		return false, 0
	}
	mid := len(x) / 2
	first := correlationOrZero(x[:mid], y[:mid])
	second := correlationOrZero(x[mid:], y[mid:])
	delta = second - first
	return abs(delta) >= threshold, delta
}

// StrategyIDs returns every strategy id currently tracked, in insertion
// order.
func (a *Analyzer) StrategyIDs() []string {
	return append([]string(nil), a.order...)
}

// AllReturns concatenates every tracked strategy's return window, for
// portfolio-wide VaR estimation (spec §4.7.2).
func (a *Analyzer) AllReturns() []float64 {
	var out []float64
	for _, id := range a.order {
		out = append(out, a.returns[id].Values()...)
	}
	return out
}

func correlationOrZero(x, y []float64) float64 {
	if len(x) < 2 {
		return 0
	}
	return stat.Correlation(x, y, nil)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
