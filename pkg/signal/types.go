// Package signal implements the adaptive, regime-aware signal engine: it
// retunes its own indicator parameters from the current volatility
// regime, generates independent sub-signals, and fuses them into one
// trade decision per bar per strategy.
//
// Grounded on the teacher's bbands/emacross/rsi strategies
// (strategy/bbands.go, strategy/emacross.go, strategy/rsi.go), which each
// compute one indicator family and vote a single direction; this package
// generalizes that shape into several sub-signal generators whose votes
// are combined by a weighted fusion step instead of each running as an
// independent, uncoordinated strategy.
package signal

import "github.com/kestrelfolio/portfoliocore/pkg/regime"

// AdaptiveParams are the indicator parameters retuned every bar from the
// current regime and volatility reading.
type AdaptiveParams struct {
	SMAFastPeriod int
	SMASlowPeriod int
	RSIOversold   float64
	RSIOverbought float64
	BBStdDev      float64
}

// Direction is a signed trade direction in [-1, 1]. Zero means no
// contribution.
type Direction float64

// SubSignal is one indicator family's independent vote.
type SubSignal struct {
	Direction Direction
	Strength  float64
	Reason    string
}

// Decision is the fused trade decision.
type Decision string

const (
	Buy  Decision = "Buy"
	Sell Decision = "Sell"
	None Decision = "None"
)

// Weights are the (renormalized) per-family fusion weights.
type Weights struct {
	SMA float64
	RSI float64
	BB  float64
}

// FusedSignal is the final, combined output of one Engine.Evaluate call.
type FusedSignal struct {
	Decision      Decision
	RawScore      float64
	Confidence    float64
	Reasons       []string
	Weights       Weights
	Params        AdaptiveParams
	TradingAllowed bool
}

// regimeVolatility groups the three regime.State readings the parameter
// update depends on. Evaluate and updateParams read them from
// regime.State directly; nothing in the package uses this type.
type regimeVolatility struct {
	Regime          regime.Regime
	VolatilityIndex float64
	ATRPercentile   float64
}
