package allocator

import (
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/kestrelfolio/portfoliocore/pkg/core"
	"github.com/kestrelfolio/portfoliocore/pkg/correlation"
	"github.com/kestrelfolio/portfoliocore/pkg/events"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/mat"
)

// Allocator owns per-strategy statistics, the last-computed covariance
// and correlation matrices, and the current allocation.
type Allocator struct {
	cfg   Config
	bus   *events.Bus
	clock core.Clock

	stats      map[string]StrategyStats
	order      []string
	covariance correlation.Matrix
	corr       correlation.Matrix
	current    AllocationResult
}

// NewAllocator creates an empty Allocator.
func NewAllocator(cfg Config, bus *events.Bus, clock core.Clock) *Allocator {
	return &Allocator{
		cfg:   cfg,
		bus:   bus,
		clock: clock,
		stats: make(map[string]StrategyStats),
	}
}

// SetStats registers or updates one strategy's statistics.
func (a *Allocator) SetStats(strategyID string, s StrategyStats) {
	if _, ok := a.stats[strategyID]; !ok {
		a.order = append(a.order, strategyID)
	}
	a.stats[strategyID] = s
}

// RemoveStats drops a strategy from consideration.
func (a *Allocator) RemoveStats(strategyID string) {
	delete(a.stats, strategyID)
	a.order = lo.Without(a.order, strategyID)
}

// SetCovariance / SetCorrelation record the latest matrices from the
// correlation analyzer (C5).
func (a *Allocator) SetCovariance(m correlation.Matrix) { a.covariance = m }
func (a *Allocator) SetCorrelation(m correlation.Matrix) { a.corr = m }

// Current returns the last computed allocation.
func (a *Allocator) Current() AllocationResult { return a.current }

// CalculateAllocation computes an AllocationResult via method. custom is
// only consulted when method == Custom.
func (a *Allocator) CalculateAllocation(method Method, custom map[string]float64) (AllocationResult, error) {
	ids := append([]string(nil), a.order...)
	sort.Strings(ids)
	if len(ids) == 0 {
		return AllocationResult{ID: uuid.NewString(), Method: method, Weights: map[string]float64{}, Allocations: map[string]Allocation{}, TotalCapital: a.cfg.TotalCapital, Timestamp: a.clock.Now()}, nil
	}

	var weights map[string]float64

	switch method {
	case EqualWeight:
		weights = a.equalWeight(ids)
	case RiskParity:
		weights = a.riskParity(ids)
	case MinVariance:
		weights = a.minVariance(ids)
	case MaxSharpe:
		weights = a.maxSharpe(ids)
	case MinCorrelation:
		weights = a.minCorrelation(ids)
	case Kelly:
		weights = a.kelly(ids)
	case Custom:
		weights = make(map[string]float64, len(ids))
		for _, id := range ids {
			weights[id] = custom[id]
		}
	default:
		return AllocationResult{}, fmt.Errorf("allocator: unknown allocation method %q", method)
	}

	weights = a.enforceConstraints(ids, weights)

	allocations := make(map[string]Allocation, len(ids))
	for _, id := range ids {
		w := weights[id]
		allocations[id] = Allocation{Weight: w, Amount: w * a.cfg.TotalCapital}
	}

	result := AllocationResult{
		ID:           uuid.NewString(),
		Method:       method,
		Weights:      weights,
		Allocations:  allocations,
		TotalCapital: a.cfg.TotalCapital,
		Timestamp:    a.clock.Now(),
	}
	a.current = result
	return result, nil
}

// Rebalance recomputes the allocation via method and reports per-strategy
// adjustments with |delta| > 0.01, per spec §4.6.
func (a *Allocator) Rebalance(method Method, trigger string) (AllocationResult, []Adjustment, error) {
	prev := a.current
	next, err := a.CalculateAllocation(method, nil)
	if err != nil {
		return AllocationResult{}, nil, err
	}

	var adjustments []Adjustment
	for id, newWeight := range next.Weights {
		oldWeight := prev.Weights[id]
		delta := newWeight - oldWeight
		if abs(delta) > 0.01 {
			adjustments = append(adjustments, Adjustment{
				StrategyID:  id,
				OldWeight:   oldWeight,
				NewWeight:   newWeight,
				Delta:       delta,
				DeltaAmount: delta * a.cfg.TotalCapital,
			})
		}
	}
	sort.Slice(adjustments, func(i, j int) bool { return adjustments[i].StrategyID < adjustments[j].StrategyID })

	if a.bus != nil {
		a.bus.Publish(events.TopicRebalanced, RebalancedEvent{Trigger: trigger, Allocation: next, Adjustments: adjustments})
	}
	return next, adjustments, nil
}

// RebalancedEvent is the payload published on TopicRebalanced.
type RebalancedEvent struct {
	Trigger     string
	Allocation  AllocationResult
	Adjustments []Adjustment
}

func (a *Allocator) equalWeight(ids []string) map[string]float64 {
	w := 1.0 / float64(len(ids))
	out := make(map[string]float64, len(ids))
	for _, id := range ids {
		out[id] = w
	}
	return out
}

func (a *Allocator) volatilities(ids []string) []float64 {
	vols := make([]float64, len(ids))
	for i, id := range ids {
		v := a.stats[id].Volatility
		if v <= 0 {
			v = 1e-6
		}
		vols[i] = v
	}
	return vols
}

// riskParity seeds wi ∝ 1/σi then applies one multiplicative Newton-style
// step equalizing risk contributions wi·(Σw)i using the covariance
// matrix, per spec §4.6.
func (a *Allocator) riskParity(ids []string) map[string]float64 {
	n := len(ids)
	vols := a.volatilities(ids)

	w := make([]float64, n)
	var sumInv float64
	for i, v := range vols {
		w[i] = 1 / v
		sumInv += w[i]
	}
	for i := range w {
		w[i] /= sumInv
	}

	sigma := a.covarianceDense(ids)
	if sigma != nil {
		wv := mat.NewVecDense(n, w)
		sw := mat.NewVecDense(n, nil)
		sw.MulVec(sigma, wv)

		rc := make([]float64, n) // risk contribution wi*(Σw)i
		var totalRC float64
		for i := range rc {
			rc[i] = w[i] * sw.AtVec(i)
			totalRC += rc[i]
		}
		if totalRC > 0 {
			target := totalRC / float64(n)
			for i := range w {
				if rc[i] > 0 {
					w[i] *= math.Sqrt(target / rc[i])
				}
			}
		}
	}

	return toMap(ids, w)
}

// minVariance solves min wᵀΣw s.t. Σw=1, 0<=wi<=max via projected
// gradient descent, per spec §4.6.
func (a *Allocator) minVariance(ids []string) map[string]float64 {
	n := len(ids)
	sigma := a.covarianceDense(ids)
	if sigma == nil {
		return a.equalWeight(ids)
	}

	w := equalSlice(n)
	const maxIter = 200
	const eps = 1e-8
	const lr = 0.05

	for iter := 0; iter < maxIter; iter++ {
		wv := mat.NewVecDense(n, w)
		grad := mat.NewVecDense(n, nil)
		grad.MulVec(sigma, wv)
		grad.ScaleVec(2*lr, grad)

		next := make([]float64, n)
		for i := range next {
			next[i] = w[i] - grad.AtVec(i)
		}
		next = projectSimplex(next, a.cfg.MaxSingleStrategyRatio)

		if diffNorm(w, next) < eps {
			w = next
			break
		}
		w = next
	}

	return toMap(ids, w)
}

// maxSharpe maximizes (wᵀμ − rf)/√(wᵀΣw) via projected gradient ascent
// on the same solver framework as minVariance, per spec §4.6.
func (a *Allocator) maxSharpe(ids []string) map[string]float64 {
	n := len(ids)
	sigma := a.covarianceDense(ids)
	if sigma == nil {
		return a.equalWeight(ids)
	}

	mu := make([]float64, n)
	for i, id := range ids {
		mu[i] = a.stats[id].ExpectedReturn
	}

	w := equalSlice(n)
	const maxIter = 200
	const eps = 1e-8
	const lr = 0.05

	for iter := 0; iter < maxIter; iter++ {
		wv := mat.NewVecDense(n, w)
		sw := mat.NewVecDense(n, nil)
		sw.MulVec(sigma, wv)

		variance := mat.Dot(wv, sw)
		stdDev := math.Sqrt(variance)
		if stdDev <= 0 {
			break
		}
		wMu := dot(w, mu) - a.cfg.RiskFreeRate

		grad := make([]float64, n)
		for i := range grad {
			grad[i] = mu[i]/stdDev - wMu*sw.AtVec(i)/(variance*stdDev)
		}

		next := make([]float64, n)
		for i := range next {
			next[i] = w[i] + lr*grad[i] // ascent
		}
		next = projectSimplex(next, a.cfg.MaxSingleStrategyRatio)

		if diffNorm(w, next) < eps {
			w = next
			break
		}
		w = next
	}

	return toMap(ids, w)
}

// minCorrelation greedily orders strategies by ascending mean |correlation|
// to the already-chosen set, then equal-weights the full selection, per
// spec §4.6.
func (a *Allocator) minCorrelation(ids []string) map[string]float64 {
	remaining := append([]string(nil), ids...)
	var chosen []string

	for len(remaining) > 0 {
		bestIdx, bestScore := 0, -1.0
		for i, candidate := range remaining {
			score := meanAbsCorrelation(a.corr, chosen, candidate)
			if bestScore < 0 || score < bestScore {
				bestIdx, bestScore = i, score
			}
		}
		chosen = append(chosen, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	return a.equalWeight(chosen)
}

func meanAbsCorrelation(m correlation.Matrix, chosen []string, candidate string) float64 {
	if len(chosen) == 0 {
		return 0
	}
	var sum float64
	for _, id := range chosen {
		sum += abs(m.Get(id, candidate))
	}
	return sum / float64(len(chosen))
}

// kelly implements the per-strategy Kelly fraction fi = (winRate·avgWin −
// lossRate·avgLoss)/avgWin, per spec §4.6.
func (a *Allocator) kelly(ids []string) map[string]float64 {
	out := make(map[string]float64, len(ids))
	for _, id := range ids {
		s := a.stats[id]
		if s.AvgWin <= 0 {
			out[id] = 0
			continue
		}
		lossRate := 1 - s.WinRate
		f := (s.WinRate*s.AvgWin - lossRate*s.AvgLoss) / s.AvgWin
		if f < 0 {
			f = 0
		}
		out[id] = f
	}
	if !lo.SomeBy(ids, func(id string) bool { return out[id] > 0 }) {
		return a.equalWeight(ids)
	}
	return out
}

// enforceConstraints clips negative weights to 0, caps each at
// maxSingleStrategyRatio, and renormalizes so weights sum to 1, per the
// invariant every allocation method must satisfy. When len(ids) times the
// cap is below 1 the two cannot both hold: every weight is pinned at the
// cap and the weights sum to len(ids) times the cap.
func (a *Allocator) enforceConstraints(ids []string, weights map[string]float64) map[string]float64 {
	raw := make([]float64, len(ids))
	for i, id := range ids {
		raw[i] = weights[id]
	}
	clipped := projectSimplex(raw, a.cfg.MaxSingleStrategyRatio)
	return toMap(ids, clipped)
}

// covarianceDense builds an n x n gonum matrix from the last-recorded
// covariance Matrix, in ids order. Returns nil if no covariance has been
// set yet (e.g. before the correlation analyzer has enough data).
func (a *Allocator) covarianceDense(ids []string) *mat.Dense {
	if a.covariance.Values == nil {
		return nil
	}
	n := len(ids)
	data := make([]float64, n*n)
	for i, idA := range ids {
		for j, idB := range ids {
			data[i*n+j] = a.covariance.Get(idA, idB)
		}
	}
	return mat.NewDense(n, n, data)
}

func toMap(ids []string, w []float64) map[string]float64 {
	out := make(map[string]float64, len(ids))
	for i, id := range ids {
		out[id] = w[i]
	}
	return out
}

func equalSlice(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1 / float64(n)
	}
	return w
}

// projectSimplex projects w onto the box-constrained simplex {x : Σx=1,
// 0<=xi<=max} by water-filling: weights above max are pinned at max and
// their excess is redistributed proportionally among the remaining
// uncapped weights, repeating until no uncapped weight exceeds max. A
// single clip-then-renormalize pass does not preserve the cap once more
// than one weight is clipped (renormalizing divides every weight,
// including ones already at the cap, back above it); water-filling fixes
// each newly-capped weight in place before the next redistribution round.
// Falls back to equal weight if every input is <= 0. If n*max < 1 every
// weight ends pinned at max and the result sums to n*max, not 1.
func projectSimplex(w []float64, max float64) []float64 {
	n := len(w)
	orig := make([]float64, n)
	var sum float64
	for i, v := range w {
		if v < 0 {
			v = 0
		}
		orig[i] = v
		sum += v
	}
	if sum <= 0 {
		orig = equalSlice(n)
	} else {
		for i := range orig {
			orig[i] /= sum
		}
	}

	capped := make([]bool, n)
	for round := 0; round < n; round++ {
		var freeOrigSum float64
		var free []int
		cappedCount := 0
		for i := range orig {
			if capped[i] {
				cappedCount++
			} else {
				freeOrigSum += orig[i]
				free = append(free, i)
			}
		}
		remaining := 1 - float64(cappedCount)*max
		if len(free) == 0 {
			break
		}
		if remaining <= 0 {
			break
		}

		var scale float64
		useEqual := freeOrigSum <= 0
		if !useEqual {
			scale = remaining / freeOrigSum
		}
		eq := remaining / float64(len(free))

		overflow := false
		for _, i := range free {
			candidate := eq
			if !useEqual {
				candidate = orig[i] * scale
			}
			if candidate > max+1e-12 {
				capped[i] = true
				overflow = true
			}
		}
		if !overflow {
			for _, i := range free {
				if useEqual {
					orig[i] = eq
				} else {
					orig[i] = orig[i] * scale
				}
			}
			break
		}
	}

	out := make([]float64, n)
	for i := range out {
		if capped[i] {
			out[i] = max
		} else {
			out[i] = orig[i]
		}
	}
	return out
}

func diffNorm(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
