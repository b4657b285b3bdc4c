// Package runtime implements the per-strategy stateful envelope: bar
// history, current position/entry-exit state, trailing stops, and the
// signal-to-order execution mapping.
//
// Grounded on the teacher's strategy/trailing.go (ATR-trailing stop logic,
// adapted below from a flat price-stop to the spec's
// highest-since-entry/ATR-multiple formulation) and strategy/dataframe.go
// (per-strategy rolling candle buffer), combined into one envelope type
// instead of the teacher's split dataframe-manager-plus-controller design,
// since the spec keeps bar history, position state and trailing-stop state
// together per strategy (§4.4).
package runtime

import (
	"time"

	"github.com/kestrelfolio/portfoliocore/pkg/core"
	"github.com/kestrelfolio/portfoliocore/pkg/signal"
)

// Signal is the strategy's most recently produced trade signal, with the
// reason and time it was set.
type Signal struct {
	Decision  signal.Decision
	Reason    string
	Timestamp time.Time
}

// ExitReason names why a position was closed.
type ExitReason string

const (
	ExitStopLoss         ExitReason = "StopLoss"
	ExitMomentumReversal ExitReason = "MomentumReversal"
	ExitExtremeExit      ExitReason = "ExtremeExit"
	ExitTrendReversal    ExitReason = "TrendReversal"
)

// Trade records one completed round trip for return/allocation bookkeeping.
type Trade struct {
	Symbol     string
	Side       core.SideType
	EntryPrice float64
	ExitPrice  float64
	Amount     float64
	PnL        float64
	ExitReason ExitReason
	ClosedAt   time.Time
}

// RiskBudget is a strategy's allocated-vs-used capital budget.
type RiskBudget struct {
	Budget    float64
	Used      float64
	Remaining float64
}

// StrategyState is the externally observable snapshot of one strategy's
// runtime state (spec §3 StrategyState).
type StrategyState struct {
	Positions      []core.PositionSnapshot
	PositionValue  float64
	Equity         float64
	Allocation     float64
	RiskBudget     RiskBudget
	DailyPnL       float64
	Trades         []Trade
	Returns        []float64
	TradingAllowed bool
}

// positionState tracks the open-position bookkeeping needed for the
// ATR-trailing stop and exit logic (§4.3.5). Zero value means flat.
type positionState struct {
	open              bool
	side              core.SideType
	entryPrice        float64
	amount            float64
	stopLoss          float64
	highestSinceEntry float64
}
