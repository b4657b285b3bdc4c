package indicator

// Crossover reports whether fast crossed above slow, or below it, by
// comparing the last two samples of each series. Grounded on the teacher's
// generic Series[T].Crossover/Crossunder helpers (pkg/core/series.go in
// the pack), specialized to the spec's detectCrossover(fast, slow) (§4.1),
// which needs both directions from a single comparison of the same two
// series rather than two differently-typed series.
type Crossover struct {
	Bullish bool
	Bearish bool
}

// DetectCrossover compares the last two samples of fast and slow. Both
// slices must have at least 2 elements and equal length; otherwise it
// reports no crossover in either direction.
func DetectCrossover(fast, slow []float64) Crossover {
	n := len(fast)
	if n < 2 || len(slow) != n {
		return Crossover{}
	}
	fCur, fPrev := fast[n-1], fast[n-2]
	sCur, sPrev := slow[n-1], slow[n-2]

	return Crossover{
		Bullish: fCur > sCur && fPrev <= sPrev,
		Bearish: fCur < sCur && fPrev >= sPrev,
	}
}
