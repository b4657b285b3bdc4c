package portfolio

import (
	"time"

	"github.com/kestrelfolio/portfoliocore/pkg/allocator"
	"github.com/kestrelfolio/portfoliocore/pkg/regime"
	"github.com/kestrelfolio/portfoliocore/pkg/risk"
	"github.com/kestrelfolio/portfoliocore/pkg/runtime"
	"github.com/kestrelfolio/portfoliocore/pkg/signal"
)

// Status is the portfolio manager's lifecycle state.
type Status string

const (
	StatusInitializing Status = "Initializing"
	StatusRunning       Status = "Running"
	StatusPaused        Status = "Paused"
	StatusRebalancing   Status = "Rebalancing"
	StatusEmergency     Status = "Emergency"
	StatusStopped       Status = "Stopped"
)

// StrategyConfig is everything AddStrategy needs to wire a new strategy
// into the regime detector (C2), signal engine (C3), strategy runtime
// (C4) and risk manager (C7).
type StrategyConfig struct {
	Symbol     string
	Runtime    runtime.Config
	Regime     regime.Config
	Signal     signal.Config
	RiskBudget risk.RiskBudget
	Stats      allocator.StrategyStats
}

// strategyEntry bundles one strategy's per-component instances. Owned
// exclusively by Manager; never shared outside the package.
type strategyEntry struct {
	id     string
	symbol string
	cfg    StrategyConfig

	envelope *runtime.Envelope
	detector *regime.Detector
	engine   *signal.Engine
}

// StrategyAddedEvent is the payload published on TopicStrategyAdded.
type StrategyAddedEvent struct {
	ID     string
	Symbol string
}

// StrategyRemovedEvent is the payload published on TopicStrategyRemoved.
type StrategyRemovedEvent struct {
	ID string
}

// StatusUpdatedEvent is the payload published on TopicStatusUpdated.
type StatusUpdatedEvent struct {
	Status Status
	State  risk.PortfolioState
}

// TradingPausedEvent / TradingResumedEvent describe a pause and a resume.
// They are not used as bus payloads: the risk manager publishes a plain
// reason string (or the triggering risk.RiskCheckResult) on
// TopicTradingPaused and a nil payload on TopicTradingResumed.
type TradingPausedEvent struct {
	Reason string
}

type TradingResumedEvent struct{}

// BarResult is OnBar's return value: the regime classification, fused
// signal and any trade closed on this bar, for callers that want the
// detail beyond the emitted events.
type BarResult struct {
	Regime regime.State
	Fused  signal.FusedSignal
	Trade  *runtime.Trade
}

// ReportEvent is the payload published on TopicReportGenerated: a
// point-in-time snapshot of portfolio state, the current allocation,
// every strategy's state and recent risk history, for the report
// package to render.
type ReportEvent struct {
	GeneratedAt time.Time
	Status      Status
	State       risk.PortfolioState
	Allocation  allocator.AllocationResult
	Strategies  map[string]runtime.StrategyState
	RiskHistory []risk.HistoryEntry
}
