// Package portfolio implements the portfolio manager (C8): the
// orchestrator that owns the strategy map, wires the regime detector
// (C2), adaptive signal engine (C3) and strategy runtime (C4) per
// strategy, and the shared correlation analyzer (C5), capital allocator
// (C6) and portfolio risk manager (C7), forwarding their events to
// external subscribers (spec §4.8).
//
// Grounded on the teacher's order.Feed/Controller map-of-subscriptions
// ownership shape, generalized from a single order feed into the owner
// of five collaborating components.
package portfolio

import (
	"math"
	"time"

	"github.com/kestrelfolio/portfoliocore/pkg/allocator"
	"github.com/kestrelfolio/portfoliocore/pkg/core"
	"github.com/kestrelfolio/portfoliocore/pkg/coreerrs"
	"github.com/kestrelfolio/portfoliocore/pkg/correlation"
	"github.com/kestrelfolio/portfoliocore/pkg/events"
	"github.com/kestrelfolio/portfoliocore/pkg/indicator"
	"github.com/kestrelfolio/portfoliocore/pkg/logger"
	"github.com/kestrelfolio/portfoliocore/pkg/regime"
	"github.com/kestrelfolio/portfoliocore/pkg/risk"
	"github.com/kestrelfolio/portfoliocore/pkg/runtime"
	"github.com/kestrelfolio/portfoliocore/pkg/signal"
	"github.com/samber/lo"
)

// tradeStats accumulates the running win-rate/avg-win/avg-loss/volatility
// figures recordTrade needs to keep the allocator's StrategyStats current
// (spec §4.8 "updates win rate incrementally").
type tradeStats struct {
	count       int
	wins        int
	sumWin      float64
	sumLoss     float64
	sumReturn   float64
	sumReturnSq float64
}

// Manager is the portfolio coordination core's orchestrator.
type Manager struct {
	cfg   Config
	bus   *events.Bus
	clock core.Clock
	log   logger.Logger

	executor core.OrderExecutor

	strategies map[string]*strategyEntry
	order      []string
	trades     map[string]*tradeStats

	correlation *correlation.Analyzer
	allocator   *allocator.Allocator
	risk        *risk.Manager

	status           Status
	lastRebalance    time.Time
	lastStatusUpdate time.Time
	lastReport       time.Time
}

// NewManager wires C2-C7 and returns a Manager in Initializing status.
func NewManager(cfg Config, clock core.Clock, executor core.OrderExecutor, log logger.Logger) *Manager {
	bus := events.NewBus()
	corr := correlation.NewAnalyzer(cfg.Correlation, bus)
	alloc := allocator.NewAllocator(cfg.Allocator, bus, clock)
	riskMgr := risk.NewManager(cfg.Risk, bus, clock, executor, corr, alloc, cfg.AllocationMethod)

	return &Manager{
		cfg:         cfg,
		bus:         bus,
		clock:       clock,
		log:         log,
		executor:    executor,
		strategies:  make(map[string]*strategyEntry),
		trades:      make(map[string]*tradeStats),
		correlation: corr,
		allocator:   alloc,
		risk:        riskMgr,
		status:      StatusInitializing,
		lastRebalance:    clock.Now(),
		lastStatusUpdate: clock.Now(),
		lastReport:       clock.Now(),
	}
}

// Bus exposes the shared event bus for external subscribers (spec §6's
// event topology); every component publishes here and the manager never
// re-wraps their payloads.
func (m *Manager) Bus() *events.Bus { return m.bus }

// Subscribe registers handler for topic on the shared bus.
func (m *Manager) Subscribe(topic string, handler events.Handler) { m.bus.Subscribe(topic, handler) }

// Status returns the manager's current lifecycle status.
func (m *Manager) Status() Status { return m.status }

// RiskState returns the risk manager's current portfolio state snapshot.
func (m *Manager) RiskState() risk.PortfolioState { return m.risk.State() }

// Init transitions the manager to Initializing; a no-op beyond the
// constructor today, kept as an explicit lifecycle hook per spec §4.8.
func (m *Manager) Init() error {
	m.status = StatusInitializing
	return nil
}

// Start transitions the manager to Running and ensures trading is
// allowed.
func (m *Manager) Start() error {
	m.risk.ResumeTrading()
	m.status = StatusRunning
	m.bus.Publish(events.TopicStatusUpdated, StatusUpdatedEvent{Status: m.status, State: m.risk.State()})
	return nil
}

// Stop transitions the manager to Stopped. Idempotent: a second Stop call
// is a no-op (spec §5 cancellation semantics).
func (m *Manager) Stop() error {
	if m.status == StatusStopped {
		return nil
	}
	m.status = StatusStopped
	m.bus.Publish(events.TopicStatusUpdated, StatusUpdatedEvent{Status: m.status, State: m.risk.State()})
	return nil
}

// PauseTrading pauses new trades portfolio-wide with reason.
func (m *Manager) PauseTrading(reason string) {
	m.risk.PauseTrading(reason)
	m.status = StatusPaused
}

// ResumeTrading restores tradingAllowed=true and clears pauseReason (spec
// §8 round-trip property).
func (m *Manager) ResumeTrading() {
	m.risk.ResumeTrading()
	if m.status == StatusPaused {
		m.status = StatusRunning
	}
}

// AddStrategy registers strategy id, wiring a fresh regime detector,
// signal engine and runtime envelope, and seeding the risk manager and
// allocator. Returns coreerrs.ErrStrategyAlreadyRegistered for a known id
// (non-fatal; callers should warn and no-op per spec §7).
func (m *Manager) AddStrategy(id string, cfg StrategyConfig) error {
	if _, exists := m.strategies[id]; exists {
		return coreerrs.ErrStrategyAlreadyRegistered
	}

	entry := &strategyEntry{
		id:       id,
		symbol:   cfg.Symbol,
		cfg:      cfg,
		envelope: runtime.NewEnvelope(id, cfg.Runtime, m.clock),
		detector: regime.NewDetector(cfg.Regime, m.bus, m.log),
		engine:   signal.NewEngine(cfg.Signal),
	}
	m.strategies[id] = entry
	m.order = append(m.order, id)

	m.risk.RegisterStrategy(id, cfg.Symbol, cfg.RiskBudget)
	m.allocator.SetStats(id, cfg.Stats)

	m.bus.Publish(events.TopicStrategyAdded, StrategyAddedEvent{ID: id, Symbol: cfg.Symbol})

	if m.status == StatusRunning && m.cfg.AutoRebalance {
		if _, err := m.Rebalance("strategy_added"); err != nil {
			m.log.WithError(err).Warn("rebalance after AddStrategy failed")
		}
	}
	return nil
}

// RemoveStrategy unregisters id from every owned component. Returns
// coreerrs.ErrUnknownStrategy for an unknown id (non-fatal per spec §7).
func (m *Manager) RemoveStrategy(id string) error {
	if _, exists := m.strategies[id]; !exists {
		return coreerrs.ErrUnknownStrategy
	}
	delete(m.strategies, id)
	delete(m.trades, id)
	m.order = lo.Without(m.order, id)
	m.risk.RemoveStrategy(id)
	m.allocator.RemoveStats(id)
	m.bus.Publish(events.TopicStrategyRemoved, StrategyRemovedEvent{ID: id})
	return nil
}

// StrategyIDs returns the registered strategy ids in registration order.
func (m *Manager) StrategyIDs() []string { return append([]string(nil), m.order...) }

// StrategyState returns strategy id's externally observable state,
// merging the runtime envelope's view with the risk manager's budget and
// trading-allowed flag.
func (m *Manager) StrategyState(id string) (runtime.StrategyState, error) {
	entry, ok := m.strategies[id]
	if !ok {
		return runtime.StrategyState{}, coreerrs.ErrUnknownStrategy
	}
	price := lastClose(entry.envelope.History())
	state := entry.envelope.State(price)
	if rs, ok := m.risk.StrategyState(id); ok {
		state.RiskBudget = runtime.RiskBudget(rs.Budget)
		state.TradingAllowed = rs.Allowed
	}
	return state, nil
}

// UpdateStrategyState updates strategy id's equity and, when dailyReturn
// is non-nil, records it with the correlation analyzer (spec §4.8).
func (m *Manager) UpdateStrategyState(id string, equity float64, dailyReturn *float64) error {
	entry, ok := m.strategies[id]
	if !ok {
		return coreerrs.ErrUnknownStrategy
	}
	entry.envelope.SetEquity(equity)
	if dailyReturn != nil {
		m.correlation.RecordReturn(id, *dailyReturn, equity)
	}
	return nil
}

// OnBar implements the per-bar data/control flow of spec §2: append
// history, classify regime, recompute adaptive params/sub-signals/fusion,
// maybe execute (checked by the risk manager), record the trade, and
// refresh the risk manager's position/equity accounting. The sequence
// below is strictly ordered per spec §5.
func (m *Manager) OnBar(id string, bar core.Bar) (BarResult, error) {
	entry, ok := m.strategies[id]
	if !ok {
		return BarResult{}, coreerrs.ErrUnknownStrategy
	}

	prevHistory := append([]core.Bar(nil), entry.envelope.History()...)
	entry.envelope.OnBar(bar)

	state := entry.detector.Update(bar, prevHistory)

	bars := entry.envelope.History()
	closes := make([]float64, len(bars))
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
		highs[i] = b.High
		lows[i] = b.Low
	}

	fused := entry.engine.Evaluate(state, closes)

	result := BarResult{Regime: state, Fused: fused}

	if !fused.TradingAllowed {
		// Extreme halt (spec §4.3.4): no trade this bar, but position and
		// equity accounting still runs so the risk manager's view of a
		// held position stays current while trading is disabled.
		m.refreshAccounting(id, entry, bar.Close)
		return result, nil
	}

	var atr float64
	if series, ok := indicator.ATR(highs, lows, closes, 14); ok && len(series) > 0 {
		atr = series[len(series)-1]
	}

	exits := runtime.ExitSignals{
		MomentumReversal: momentumReversal(state, closes, entry.cfg.Signal.BBPeriod),
		RegimeExtreme:    state.Regime == regime.Extreme,
		TrendReversal:    isTrendReversal(state),
	}

	decision := fused
	if fused.Decision == signal.Buy && !entry.envelope.InPosition() {
		check := m.risk.CheckOrder(risk.OrderRequest{
			StrategyID: id,
			Symbol:     entry.symbol,
			Amount:     m.orderAmount(entry, bar.Close),
			Price:      bar.Close,
		})
		if !check.Allowed {
			decision.Decision = signal.None
		}
	}

	trade, err := entry.envelope.Execute(entry.symbol, bar, decision, atr, exits, m.executor)
	if err != nil {
		// ExecutorError (spec §7): surfaced but contained, state updates
		// already applied are not rolled back, processing continues.
		m.log.WithError(err).WithField("strategy", id).Error("order execution failed")
		m.refreshAccounting(id, entry, bar.Close)
		return result, nil
	}

	if trade != nil {
		m.recordTrade(id, *trade)
		result.Trade = trade
	}

	m.refreshAccounting(id, entry, bar.Close)
	return result, nil
}

// refreshAccounting pushes the strategy's current position value into the
// risk manager and recomputes portfolio-wide equity/position totals.
func (m *Manager) refreshAccounting(id string, entry *strategyEntry, price float64) {
	m.risk.UpdateStrategyPosition(id, entry.envelope.PositionValue(price))
	m.risk.UpdateEquity(m.executor.GetEquity(), m.risk.TotalPositionValue())
}

// recordTrade appends the trade to the allocator's running statistics,
// incrementally updating win rate, average win/loss and volatility (spec
// §4.8), and records its return with the correlation analyzer.
func (m *Manager) recordTrade(id string, trade runtime.Trade) {
	ts := m.trades[id]
	if ts == nil {
		ts = &tradeStats{}
		m.trades[id] = ts
	}

	equity := m.executor.GetEquity()
	var ret float64
	if equity > 0 {
		ret = trade.PnL / equity
	}

	ts.count++
	if ret >= 0 {
		ts.wins++
		ts.sumWin += ret
	} else {
		ts.sumLoss += -ret
	}
	ts.sumReturn += ret
	ts.sumReturnSq += ret * ret

	winRate := float64(ts.wins) / float64(ts.count)
	var avgWin float64
	if ts.wins > 0 {
		avgWin = ts.sumWin / float64(ts.wins)
	}
	var avgLoss float64
	if losses := ts.count - ts.wins; losses > 0 {
		avgLoss = ts.sumLoss / float64(losses)
	}
	mean := ts.sumReturn / float64(ts.count)
	variance := ts.sumReturnSq/float64(ts.count) - mean*mean
	if variance < 0 {
		variance = 0
	}

	m.allocator.SetStats(id, allocator.StrategyStats{
		ExpectedReturn: mean,
		Volatility:     math.Sqrt(variance),
		WinRate:        winRate,
		AvgWin:         avgWin,
		AvgLoss:        avgLoss,
	})

	m.correlation.RecordReturn(id, ret, equity)
}

// orderAmount sizes a prospective Buy order for the pre-order risk check,
// matching the position-percent sizing the runtime envelope's Execute
// will itself request from the executor.
func (m *Manager) orderAmount(entry *strategyEntry, price float64) float64 {
	if price <= 0 {
		return 0
	}
	return (m.executor.GetEquity() * entry.cfg.Runtime.PositionPercent) / price
}

// Tick runs the risk manager's periodic multi-check and, when due,
// triggers a scheduled rebalance, a status-update snapshot and a full
// report snapshot (spec §4.7.2, §6 rebalancePeriod/statusUpdateInterval/
// reportInterval).
func (m *Manager) Tick() []risk.RiskCheckResult {
	results := m.risk.RunPeriodicCheck()
	m.syncStatus()

	now := m.clock.Now()

	if m.cfg.AutoRebalance && now.Sub(m.lastRebalance) >= m.cfg.RebalancePeriod {
		if _, err := m.Rebalance("scheduled"); err != nil {
			m.log.WithError(err).Warn("scheduled rebalance failed")
		}
	}

	if m.cfg.StatusUpdateInterval > 0 && now.Sub(m.lastStatusUpdate) >= m.cfg.StatusUpdateInterval {
		m.lastStatusUpdate = now
		m.bus.Publish(events.TopicStatusUpdated, StatusUpdatedEvent{Status: m.status, State: m.risk.State()})
	}

	if m.cfg.ReportInterval > 0 && now.Sub(m.lastReport) >= m.cfg.ReportInterval {
		m.lastReport = now
		m.bus.Publish(events.TopicReportGenerated, m.buildReport(now))
	}

	return results
}

// buildReport assembles the point-in-time snapshot published on
// TopicReportGenerated (spec §6's supplemented report feature).
func (m *Manager) buildReport(now time.Time) ReportEvent {
	strategies := make(map[string]runtime.StrategyState, len(m.order))
	for _, id := range m.order {
		if state, err := m.StrategyState(id); err == nil {
			strategies[id] = state
		}
	}
	return ReportEvent{
		GeneratedAt: now,
		Status:      m.status,
		State:       m.risk.State(),
		Allocation:  m.allocator.Current(),
		Strategies:  strategies,
		RiskHistory: m.risk.History(),
	}
}

// Rebalance recomputes the allocation via the configured method and
// notifies each strategy's onAllocationChange capability (spec §4.6,
// §4.8).
func (m *Manager) Rebalance(reason string) ([]allocator.Adjustment, error) {
	prevStatus := m.status
	m.status = StatusRebalancing

	_, adjustments, err := m.allocator.Rebalance(m.cfg.AllocationMethod, reason)
	if err != nil {
		m.status = prevStatus
		return nil, err
	}

	current := m.allocator.Current()
	for id, w := range current.Weights {
		if entry, ok := m.strategies[id]; ok {
			entry.envelope.OnAllocationChange(w)
		}
	}
	m.bus.Publish(events.TopicAllocationUpdated, current)

	m.lastRebalance = m.clock.Now()
	if prevStatus == StatusRunning || prevStatus == StatusRebalancing {
		m.status = StatusRunning
	} else {
		m.status = prevStatus
	}
	return adjustments, nil
}

func (m *Manager) syncStatus() {
	state := m.risk.State()
	switch {
	case state.RiskLevel == risk.LevelEmergency:
		m.status = StatusEmergency
	case !state.TradingAllowed:
		if m.status != StatusEmergency {
			m.status = StatusPaused
		}
	case m.status == StatusPaused || m.status == StatusEmergency:
		m.status = StatusRunning
	}
}

func lastClose(bars []core.Bar) float64 {
	if len(bars) == 0 {
		return 0
	}
	return bars[len(bars)-1].Close
}

// momentumReversal implements the "momentum reversal below mid band" exit
// condition of spec §4.3.5: the regime detector's momentum reading has
// turned negative while price sits below the Bollinger middle band.
func momentumReversal(state regime.State, closes []float64, bbPeriod int) bool {
	if state.Indicators.Momentum >= 0 || len(closes) == 0 {
		return false
	}
	mid, ok := indicator.SMA(closes, bbPeriod)
	if !ok || len(mid) == 0 {
		return false
	}
	return closes[len(closes)-1] < mid[len(mid)-1]
}

// isTrendReversal reports an Up<->Down regime transition (spec §4.2 step
// 5's TrendReversal event / §4.3.5's TrendReversal exit).
func isTrendReversal(state regime.State) bool {
	return (state.PrevRegime == regime.TrendingUp && state.Regime == regime.TrendingDown) ||
		(state.PrevRegime == regime.TrendingDown && state.Regime == regime.TrendingUp)
}
