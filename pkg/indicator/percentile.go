package indicator

// Percentile returns the fraction of history that is less-than-or-equal-to
// value, expressed in [0,100]. The spec mandates an inclusive `<=`
// consistently (spec §9 "Percentile implementations" calls out that the
// source code mixed `<=` and `<` across call sites as a bug; this
// implementation is the single source of truth every caller shares).
//
// Returns 50 when history has fewer than 10 samples — too little history
// to rank meaningfully, per spec §4.1.
func Percentile(value float64, history []float64) float64 {
	if len(history) < 10 {
		return 50
	}
	count := 0
	for _, h := range history {
		if h <= value {
			count++
		}
	}
	return 100 * float64(count) / float64(len(history))
}
