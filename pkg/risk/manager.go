package risk

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/kestrelfolio/portfoliocore/pkg/allocator"
	"github.com/kestrelfolio/portfoliocore/pkg/core"
	"github.com/kestrelfolio/portfoliocore/pkg/correlation"
	"github.com/kestrelfolio/portfoliocore/pkg/events"
)

// CorrelationSource is the subset of the correlation analyzer (C5) the
// risk manager's periodic correlation/VaR checks need.
type CorrelationSource interface {
	FindHighCorrelationPairs(threshold float64) []correlation.Pair
	DetectCorrelationRegimeChange(a, b string, threshold float64) (bool, float64)
	StrategyIDs() []string
	AllReturns() []float64
}

// AllocatorSource is the subset of the capital allocator (C6) the risk
// manager's Rebalance action needs.
type AllocatorSource interface {
	Rebalance(method allocator.Method, trigger string) (allocator.AllocationResult, []allocator.Adjustment, error)
}

// Manager implements the periodic multi-check and pre-order check of
// spec §4.7.
type Manager struct {
	cfg   Config
	bus   *events.Bus
	clock core.Clock

	executor        core.OrderExecutor
	correlationSrc  CorrelationSource
	allocatorSrc    AllocatorSource
	rebalanceMethod allocator.Method

	state      PortfolioState
	strategies map[string]*StrategyRiskState

	lastDeRiskTime time.Time
	dayStart       time.Time
	weekStart      time.Time

	history *core.RollingWindow[HistoryEntry]
}

// NewManager creates a Manager. rebalanceMethod is the allocation method
// used when a Rebalance action fires.
func NewManager(
	cfg Config,
	bus *events.Bus,
	clock core.Clock,
	executor core.OrderExecutor,
	correlationSrc CorrelationSource,
	allocatorSrc AllocatorSource,
	rebalanceMethod allocator.Method,
) *Manager {
	now := clock.Now()
	return &Manager{
		cfg:             cfg,
		bus:             bus,
		clock:           clock,
		executor:        executor,
		correlationSrc:  correlationSrc,
		allocatorSrc:    allocatorSrc,
		rebalanceMethod: rebalanceMethod,
		state:           PortfolioState{TradingAllowed: true},
		strategies:      make(map[string]*StrategyRiskState),
		dayStart:        dayStart(now),
		weekStart:       weekStart(now),
		history:         core.NewRollingWindow[HistoryEntry](200),
	}
}

// State returns the current portfolio state snapshot.
func (m *Manager) State() PortfolioState { return m.state }

// History returns up to the last 200 risk events, oldest first.
func (m *Manager) History() []HistoryEntry { return m.history.Values() }

// RegisterStrategy adds or updates a strategy's risk tracking.
func (m *Manager) RegisterStrategy(id, symbol string, budget RiskBudget) {
	m.strategies[id] = &StrategyRiskState{ID: id, Symbol: symbol, Budget: budget, Allowed: true}
}

// RemoveStrategy drops a strategy from risk tracking.
func (m *Manager) RemoveStrategy(id string) { delete(m.strategies, id) }

// StrategyState returns a copy of a strategy's risk-tracked state.
func (m *Manager) StrategyState(id string) (StrategyRiskState, bool) {
	s, ok := m.strategies[id]
	if !ok {
		return StrategyRiskState{}, false
	}
	return *s, true
}

// UpdateStrategyPosition records strategy id's current mark-to-market
// position value, used by the global-position and largest-strategy
// de-risk checks.
func (m *Manager) UpdateStrategyPosition(id string, positionValue float64) {
	if s, ok := m.strategies[id]; ok {
		s.PositionValue = positionValue
	}
}

// TotalPositionValue sums every tracked strategy's position value.
func (m *Manager) TotalPositionValue() float64 {
	var sum float64
	for _, s := range m.strategies {
		sum += s.PositionValue
	}
	return sum
}

// PauseTrading sets tradingAllowed=false with reason, per the
// pauseTrading/resumeTrading round-trip property (spec §8).
func (m *Manager) PauseTrading(reason string) {
	m.state.TradingAllowed = false
	m.state.PauseReason = reason
	if m.bus != nil {
		m.bus.Publish(events.TopicTradingPaused, reason)
	}
}

// ResumeTrading restores tradingAllowed=true and clears pauseReason.
func (m *Manager) ResumeTrading() {
	m.state.TradingAllowed = true
	m.state.PauseReason = ""
	if m.bus != nil {
		m.bus.Publish(events.TopicTradingResumed, nil)
	}
}

// UpdateEquity recomputes peakEquity/currentDrawdown from a new total
// equity reading; the portfolio manager calls it after every bar.
func (m *Manager) UpdateEquity(totalEquity, totalPositionValue float64) {
	m.state.TotalEquity = totalEquity
	m.state.TotalPositionValue = totalPositionValue
	if totalEquity > 0 {
		m.state.PositionRatio = totalPositionValue / totalEquity
	} else {
		m.state.PositionRatio = 0
	}
	if totalEquity > m.state.PeakEquity {
		m.state.PeakEquity = totalEquity
	}
	if m.state.PeakEquity > 0 {
		m.state.CurrentDrawdown = (m.state.PeakEquity - totalEquity) / m.state.PeakEquity
	} else {
		m.state.CurrentDrawdown = 0
	}
	// Seed both baselines from the first equity reading rather than
	// waiting for applyTimeWindowResets to cross a day/week boundary, so
	// daily/weekly drawdown checks are live from day one of a run instead
	// of only after its first calendar rollover.
	if m.state.DailyStartEquity == 0 {
		m.state.DailyStartEquity = totalEquity
	}
	if m.state.WeeklyStartEquity == 0 {
		m.state.WeeklyStartEquity = totalEquity
	}
	if m.state.DailyStartEquity > 0 {
		m.state.DailyDrawdown = math.Max(0, (m.state.DailyStartEquity-totalEquity)/m.state.DailyStartEquity)
	}
	if m.state.WeeklyStartEquity > 0 {
		m.state.WeeklyDrawdown = math.Max(0, (m.state.WeeklyStartEquity-totalEquity)/m.state.WeeklyStartEquity)
	}
}

// CheckOrder implements spec §4.7.1.
func (m *Manager) CheckOrder(req OrderRequest) CheckOrderResult {
	result := CheckOrderResult{Allowed: true, RiskLevel: m.state.RiskLevel}

	if !m.state.TradingAllowed {
		result.Allowed = false
		reason := m.state.PauseReason
		if reason == "" {
			reason = "trading paused"
		}
		result.Reasons = append(result.Reasons, reason)
		return result
	}

	strat, ok := m.strategies[req.StrategyID]
	if !ok || !strat.Allowed {
		result.Allowed = false
		result.Reasons = append(result.Reasons, "strategy not allowed to trade")
		return result
	}

	orderValue := req.Amount * req.Price

	if m.state.TotalEquity > 0 {
		newRatio := (m.state.TotalPositionValue + orderValue) / m.state.TotalEquity
		if newRatio > m.cfg.MaxTotalPositionRatio {
			result.Allowed = false
			result.Reasons = append(result.Reasons, "order would exceed max total position ratio")
		} else if newRatio > m.cfg.PositionWarningRatio {
			result.Warnings = append(result.Warnings, "order approaches max total position ratio")
		}

		stratRatio := (strat.PositionValue + orderValue) / m.state.TotalEquity
		if stratRatio > m.cfg.MaxSingleStrategyRatio {
			result.Allowed = false
			result.Reasons = append(result.Reasons, "order would exceed max single strategy ratio")
		}
	}

	assumedRisk := 0.02 * orderValue
	if assumedRisk > strat.Budget.Remaining {
		result.Allowed = false
		result.Reasons = append(result.Reasons, "order exceeds remaining risk budget")
	}

	if result.Allowed {
		strat.Budget.Used += assumedRisk
		strat.Budget.Remaining -= assumedRisk
	}

	if m.state.CurrentDrawdown > m.cfg.DrawdownWarningThreshold {
		result.Warnings = append(result.Warnings, "portfolio drawdown above warning threshold")
	}

	if m.state.RiskLevel == LevelHigh || m.state.RiskLevel == LevelCritical {
		result.Warnings = append(result.Warnings, "portfolio risk level elevated")
		if m.state.RiskLevel == LevelCritical {
			reduction := 0.5
			result.SuggestedReduction = &reduction
		}
	}

	return result
}

// RunPeriodicCheck implements spec §4.7.2-4.7.4: the four independent
// checks, the max-severity action, and the time-window resets. The tick's
// time is read from the manager's clock.
func (m *Manager) RunPeriodicCheck() []RiskCheckResult {
	m.applyTimeWindowResets()

	var results []RiskCheckResult
	results = append(results, m.checkDrawdown()...)
	results = append(results, m.checkGlobalPosition()...)
	results = append(results, m.checkCorrelation()...)
	results = append(results, m.checkVaR()...)

	maxLevel := LevelSafe
	for _, r := range results {
		if r.Level > maxLevel {
			maxLevel = r.Level
		}
	}
	if maxLevel != m.state.RiskLevel {
		m.state.RiskLevel = maxLevel
		if m.bus != nil {
			m.bus.Publish(events.TopicRiskLevelChanged, maxLevel)
		}
	}

	if action, result, ok := highestSeverity(results); ok {
		m.executeAction(action, result)
	}

	for _, r := range results {
		m.history.Push(HistoryEntry{ID: uuid.NewString(), Type: r.Type, Details: r.Details, Snapshot: m.state, Timestamp: m.clock.Now()})
	}

	return results
}

func highestSeverity(results []RiskCheckResult) (RiskAction, RiskCheckResult, bool) {
	if len(results) == 0 {
		return ActionNone, RiskCheckResult{}, false
	}
	best := results[0]
	for _, r := range results[1:] {
		if r.Action > best.Action {
			best = r
		}
	}
	return best.Action, best, true
}

func (m *Manager) checkDrawdown() []RiskCheckResult {
	var out []RiskCheckResult
	d := m.state.CurrentDrawdown
	switch {
	case d >= m.cfg.MaxPortfolioDrawdown:
		out = append(out, RiskCheckResult{Type: CheckDrawdown, Action: ActionEmergencyClose, Level: LevelEmergency, Message: "portfolio drawdown at or above maximum"})
	case d >= m.cfg.DrawdownWarningThreshold:
		out = append(out, RiskCheckResult{Type: CheckDrawdown, Action: ActionReduceExposure, Level: LevelHigh, Message: "portfolio drawdown above warning threshold"})
	}
	if m.state.DailyDrawdown >= m.cfg.MaxDailyDrawdown {
		out = append(out, RiskCheckResult{Type: CheckDrawdown, Action: ActionPauseNewTrades, Level: LevelHigh, Message: "daily drawdown at or above maximum"})
	}
	if m.state.WeeklyDrawdown >= m.cfg.MaxWeeklyDrawdown {
		out = append(out, RiskCheckResult{Type: CheckDrawdown, Action: ActionReduceAll, Level: LevelCritical, Message: "weekly drawdown at or above maximum"})
	}
	return out
}

func (m *Manager) checkGlobalPosition() []RiskCheckResult {
	var out []RiskCheckResult
	switch {
	case m.state.PositionRatio >= m.cfg.MaxTotalPositionRatio:
		out = append(out, RiskCheckResult{Type: CheckPosition, Action: ActionPauseNewTrades, Level: LevelHigh, Message: "total position ratio at or above maximum"})
	case m.state.PositionRatio >= m.cfg.PositionWarningRatio:
		out = append(out, RiskCheckResult{Type: CheckPosition, Action: ActionAlert, Level: LevelElevated, Message: "total position ratio above warning threshold"})
	}
	openPositions := 0
	for _, s := range m.strategies {
		if s.PositionValue > 0 {
			openPositions++
		}
	}
	if openPositions > m.cfg.MaxPositionCount {
		out = append(out, RiskCheckResult{Type: CheckPosition, Action: ActionAlert, Level: LevelElevated, Message: "open position count above maximum"})
	}
	return out
}

func (m *Manager) checkCorrelation() []RiskCheckResult {
	if m.correlationSrc == nil {
		return nil
	}
	var out []RiskCheckResult

	highPairs := m.correlationSrc.FindHighCorrelationPairs(m.cfg.HighCorrelationThreshold)
	if len(highPairs) > m.cfg.MaxHighCorrelationPairs {
		out = append(out, RiskCheckResult{
			Type: CheckCorrelation, Action: ActionRebalance, Level: LevelElevated,
			Details: map[string]any{"pairs": highPairs},
			Message: "too many highly correlated strategy pairs",
		})
	}

	ids := m.correlationSrc.StrategyIDs()
	for i, a := range ids {
		for j := i + 1; j < len(ids); j++ {
			b := ids[j]
			if detected, delta := m.correlationSrc.DetectCorrelationRegimeChange(a, b, m.cfg.CorrelationChangeThreshold); detected {
				out = append(out, RiskCheckResult{
					Type: CheckCorrelation, Action: ActionAlert, Level: LevelElevated,
					Details: map[string]any{"a": a, "b": b, "delta": delta},
					Message: "correlation regime change detected",
				})
			}
		}
	}
	return out
}

func (m *Manager) checkVaR() []RiskCheckResult {
	if m.correlationSrc == nil || m.state.TotalEquity <= 0 {
		return nil
	}
	returns := m.correlationSrc.AllReturns()

	var valueAtRisk, conditionalVaR float64
	if len(returns) < 10 {
		valueAtRisk = m.state.TotalPositionValue * 0.02 * 1.65
		conditionalVaR = valueAtRisk * 1.2
	} else {
		sorted := append([]float64(nil), returns...)
		sort.Float64s(sorted)
		idx := int(float64(len(sorted)) * (1 - m.cfg.VarConfidenceLevel))
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		valueAtRisk = math.Abs(sorted[idx]) * m.state.TotalPositionValue
		var sum float64
		for _, r := range sorted[:idx+1] {
			sum += math.Abs(r)
		}
		conditionalVaR = (sum / float64(idx+1)) * m.state.TotalPositionValue
	}

	var out []RiskCheckResult
	if valueAtRisk/m.state.TotalEquity >= m.cfg.MaxVaR {
		out = append(out, RiskCheckResult{
			Type: CheckVaR, Action: ActionReduceExposure, Level: LevelHigh,
			Details: map[string]any{"var": valueAtRisk}, Message: "value at risk above maximum",
		})
	}
	if conditionalVaR/m.state.TotalEquity >= m.cfg.MaxCVaR {
		out = append(out, RiskCheckResult{
			Type: CheckVaR, Action: ActionReduceAll, Level: LevelCritical,
			Details: map[string]any{"cvar": conditionalVaR}, Message: "conditional value at risk above maximum",
		})
	}
	return out
}

func (m *Manager) executeAction(action RiskAction, result RiskCheckResult) {
	switch action {
	case ActionEmergencyClose:
		m.state.TradingAllowed = false
		m.state.PauseReason = result.Message
		if err := m.executor.EmergencyCloseAll(); err != nil {
			// ExecutorError: surfaced but contained (spec §7); state
			// updates already applied are not rolled back.
			_ = err
		}
		if m.bus != nil {
			m.bus.Publish(events.TopicEmergencyClose, result)
		}
	case ActionReduceAll:
		if !m.cfg.EnableAutoDeRisk {
			return
		}
		if m.clock.Now().Sub(m.lastDeRiskTime) < m.cfg.DeRiskCooldown {
			return
		}
		for _, strat := range m.strategies {
			_, _ = m.executor.ExecuteMarketOrder(core.MarketOrderRequest{
				Symbol: strat.Symbol, Side: core.SideSell, Amount: strat.PositionValue * m.cfg.DeRiskRatio, ReduceOnly: true,
			})
		}
		m.lastDeRiskTime = m.clock.Now()
		if m.bus != nil {
			m.bus.Publish(events.TopicReduceAll, result)
		}
	case ActionReduceExposure:
		if !m.cfg.EnableAutoDeRisk {
			return
		}
		if m.clock.Now().Sub(m.lastDeRiskTime) < m.cfg.DeRiskCooldown {
			return
		}
		largest := m.largestStrategy()
		if largest != nil {
			_, _ = m.executor.ExecuteMarketOrder(core.MarketOrderRequest{
				Symbol: largest.Symbol, Side: core.SideSell, Amount: largest.PositionValue * m.cfg.DeRiskRatio / 2, ReduceOnly: true,
			})
		}
		m.lastDeRiskTime = m.clock.Now()
		if m.bus != nil {
			m.bus.Publish(events.TopicReduceExposure, result)
		}
	case ActionPauseNewTrades:
		m.state.TradingAllowed = false
		m.state.PauseReason = result.Message
		if m.bus != nil {
			m.bus.Publish(events.TopicTradingPaused, result)
		}
	case ActionRebalance:
		if m.allocatorSrc != nil {
			_, _, _ = m.allocatorSrc.Rebalance(m.rebalanceMethod, "risk_triggered")
		}
		if m.bus != nil {
			m.bus.Publish(events.TopicRebalanceTriggered, result)
		}
	case ActionAlert:
		if m.bus != nil {
			m.bus.Publish(events.TopicRiskAlert, result)
		}
	case ActionNone:
	}
}

func (m *Manager) largestStrategy() *StrategyRiskState {
	var largest *StrategyRiskState
	for _, s := range m.strategies {
		if largest == nil || s.PositionValue > largest.PositionValue {
			largest = s
		}
	}
	return largest
}

// applyTimeWindowResets implements spec §4.7.3: Sunday-based, local
// midnight day/week boundaries.
func (m *Manager) applyTimeWindowResets() {
	now := m.clock.Now()

	if ds := dayStart(now); ds.After(m.dayStart) {
		m.dayStart = ds
		m.state.DailyStartEquity = m.state.TotalEquity
		m.state.DailyDrawdown = 0
		if containsFold(m.state.PauseReason, "daily drawdown") {
			m.state.PauseReason = ""
		}
	}
	if ws := weekStart(now); ws.After(m.weekStart) {
		m.weekStart = ws
		m.state.WeeklyStartEquity = m.state.TotalEquity
		m.state.WeeklyDrawdown = 0
		if containsFold(m.state.PauseReason, "weekly drawdown") {
			m.state.PauseReason = ""
		}
	}
}

func dayStart(t time.Time) time.Time {
	t = t.Local()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// weekStart returns the most recent Sunday midnight at or before t.
func weekStart(t time.Time) time.Time {
	d := dayStart(t)
	offset := int(d.Weekday()) // Sunday == 0
	return d.AddDate(0, 0, -offset)
}

func containsFold(s, substr string) bool {
	return len(s) >= len(substr) && indexFold(s, substr) >= 0
}

func indexFold(s, substr string) int {
	lowerS, lowerSub := toLower(s), toLower(substr)
	for i := 0; i+len(lowerSub) <= len(lowerS); i++ {
		if lowerS[i:i+len(lowerSub)] == lowerSub {
			return i
		}
	}
	return -1
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
