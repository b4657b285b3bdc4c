package indicator

import "math"

// HurstExponent estimates the Hurst exponent of a price series via
// classical R/S (rescaled range) analysis (spec §4.1). It never panics and
// never returns NaN: any numeric fault (insufficient data, degenerate
// groups) falls back to 0.5, the random-walk value, per spec §7's
// NumericalFault handling. Grounded on the R/S method used by
// other_examples' CalculateHurstExponent (sawpanic-cryptorun), generalized
// to average over multiple group sizes per spec rather than a single
// window.
func HurstExponent(values []float64, minGroupSize int) float64 {
	const fallback = 0.5

	returns := logReturns(values)
	if len(returns) < 2*minGroupSize {
		return fallback
	}

	var sizes []int
	for s := minGroupSize; s <= len(returns)/2; s += 5 {
		sizes = append(sizes, s)
	}
	if len(sizes) < 2 {
		return fallback
	}

	logSizes := make([]float64, 0, len(sizes))
	logRS := make([]float64, 0, len(sizes))

	for _, s := range sizes {
		avg, groups := averageRS(returns, s)
		if groups < 2 || avg <= 0 {
			continue
		}
		logSizes = append(logSizes, math.Log(float64(s)))
		logRS = append(logRS, math.Log(avg))
	}

	if len(logSizes) < 2 {
		return fallback
	}

	h, ok := olsSlope(logSizes, logRS)
	if !ok || math.IsNaN(h) || math.IsInf(h, 0) {
		return fallback
	}

	return clamp(h, 0, 1)
}

// logReturns computes ln(v[i]/v[i-1]), skipping any pair where either value
// is non-positive (undefined log), per spec §4.1.
func logReturns(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for i := 1; i < len(values); i++ {
		if values[i] <= 0 || values[i-1] <= 0 {
			continue
		}
		out = append(out, math.Log(values[i]/values[i-1]))
	}
	return out
}

// averageRS computes the mean rescaled range over non-overlapping groups of
// size `size`, returning the number of full groups used.
func averageRS(returns []float64, size int) (avg float64, groups int) {
	n := len(returns) / size
	if n < 1 {
		return 0, 0
	}

	var sum float64
	for g := 0; g < n; g++ {
		group := returns[g*size : (g+1)*size]
		rs := rescaledRange(group)
		sum += rs
	}
	return sum / float64(n), n
}

// rescaledRange computes R/S for one group: R = max(cumDev)-min(cumDev) of
// the zero-mean cumulative series, S = sample standard deviation. Returns 0
// when S is 0 (flat series), per spec §4.1.
func rescaledRange(group []float64) float64 {
	mean := 0.0
	for _, v := range group {
		mean += v
	}
	mean /= float64(len(group))

	var cum, maxCum, minCum, variance float64
	for i, v := range group {
		dev := v - mean
		cum += dev
		if i == 0 || cum > maxCum {
			maxCum = cum
		}
		if i == 0 || cum < minCum {
			minCum = cum
		}
		variance += dev * dev
	}
	if len(group) > 1 {
		variance /= float64(len(group) - 1)
	}
	s := math.Sqrt(variance)
	if s == 0 {
		return 0
	}
	return (maxCum - minCum) / s
}

// olsSlope fits y = a + b*x via ordinary least squares and returns b.
func olsSlope(x, y []float64) (slope float64, ok bool) {
	n := float64(len(x))
	if n < 2 {
		return 0, false
	}
	var sumX, sumY, sumXY, sumXX float64
	for i := range x {
		sumX += x[i]
		sumY += y[i]
		sumXY += x[i] * y[i]
		sumXX += x[i] * x[i]
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, false
	}
	return (n*sumXY - sumX*sumY) / denom, true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
