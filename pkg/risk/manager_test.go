package risk

import (
	"testing"
	"time"

	"github.com/kestrelfolio/portfoliocore/pkg/allocator"
	"github.com/kestrelfolio/portfoliocore/pkg/core"
	"github.com/kestrelfolio/portfoliocore/pkg/correlation"
	"github.com/kestrelfolio/portfoliocore/pkg/events"
	"github.com/stretchr/testify/require"
)

type fakeExecutor struct {
	equity            float64
	emergencyCalled   bool
	marketOrders      []core.MarketOrderRequest
}

func (f *fakeExecutor) Buy(symbol string, amount float64) (core.Order, error)  { return core.Order{}, nil }
func (f *fakeExecutor) Sell(symbol string, amount float64) (core.Order, error) { return core.Order{}, nil }
func (f *fakeExecutor) BuyPercent(symbol string, pct float64) (core.Order, error) {
	return core.Order{}, nil
}
func (f *fakeExecutor) ClosePosition(symbol string) (*core.Order, error) { return nil, nil }
func (f *fakeExecutor) ExecuteMarketOrder(req core.MarketOrderRequest) (core.Order, error) {
	f.marketOrders = append(f.marketOrders, req)
	return core.Order{}, nil
}
func (f *fakeExecutor) EmergencyCloseAll() error {
	f.emergencyCalled = true
	return nil
}
func (f *fakeExecutor) GetPosition(symbol string) (*core.PositionSnapshot, error) { return nil, nil }
func (f *fakeExecutor) GetCapital() float64                                      { return f.equity }
func (f *fakeExecutor) GetEquity() float64                                       { return f.equity }

type fakeCorrelationSource struct {
	pairs   []correlation.Pair
	ids     []string
	returns []float64
}

func (f *fakeCorrelationSource) FindHighCorrelationPairs(threshold float64) []correlation.Pair {
	return f.pairs
}
func (f *fakeCorrelationSource) DetectCorrelationRegimeChange(a, b string, threshold float64) (bool, float64) {
	return false, 0
}
func (f *fakeCorrelationSource) StrategyIDs() []string { return f.ids }
func (f *fakeCorrelationSource) AllReturns() []float64 { return f.returns }

type fakeAllocatorSource struct {
	rebalanceCalls int
}

func (f *fakeAllocatorSource) Rebalance(method allocator.Method, trigger string) (allocator.AllocationResult, []allocator.Adjustment, error) {
	f.rebalanceCalls++
	return allocator.AllocationResult{}, nil, nil
}

func newTestManager(t *testing.T, clock core.Clock, exec *fakeExecutor) *Manager {
	t.Helper()
	bus := events.NewBus()
	corr := &fakeCorrelationSource{}
	alloc := &fakeAllocatorSource{}
	return NewManager(DefaultConfig(), bus, clock, exec, corr, alloc, allocator.RiskParity)
}

func TestCheckOrder_DeniesWhenTradingPaused(t *testing.T) {
	exec := &fakeExecutor{equity: 100000}
	m := newTestManager(t, core.RealClock{}, exec)
	m.RegisterStrategy("s1", "BTCUSDT", RiskBudget{Budget: 1000, Remaining: 1000})
	m.PauseTrading("manual pause")

	result := m.CheckOrder(OrderRequest{StrategyID: "s1", Symbol: "BTCUSDT", Amount: 1, Price: 100})
	require.False(t, result.Allowed)
	require.Contains(t, result.Reasons, "manual pause")
}

func TestCheckOrder_DeniesUnknownStrategy(t *testing.T) {
	exec := &fakeExecutor{equity: 100000}
	m := newTestManager(t, core.RealClock{}, exec)

	result := m.CheckOrder(OrderRequest{StrategyID: "ghost", Symbol: "BTCUSDT", Amount: 1, Price: 100})
	require.False(t, result.Allowed)
}

func TestCheckOrder_DeniesOverMaxTotalPositionRatio(t *testing.T) {
	exec := &fakeExecutor{equity: 100000}
	m := newTestManager(t, core.RealClock{}, exec)
	m.RegisterStrategy("s1", "BTCUSDT", RiskBudget{Budget: 100000, Remaining: 100000})
	m.UpdateEquity(100000, 0)

	result := m.CheckOrder(OrderRequest{StrategyID: "s1", Symbol: "BTCUSDT", Amount: 700, Price: 100})
	require.False(t, result.Allowed)
	require.Contains(t, result.Reasons, "order would exceed max total position ratio")
}

func TestCheckOrder_DeniesOverRemainingRiskBudget(t *testing.T) {
	exec := &fakeExecutor{equity: 100000}
	m := newTestManager(t, core.RealClock{}, exec)
	m.RegisterStrategy("s1", "BTCUSDT", RiskBudget{Budget: 1, Remaining: 1})
	m.UpdateEquity(100000, 0)

	result := m.CheckOrder(OrderRequest{StrategyID: "s1", Symbol: "BTCUSDT", Amount: 1, Price: 100})
	require.False(t, result.Allowed)
	require.Contains(t, result.Reasons, "order exceeds remaining risk budget")
}

func TestRunPeriodicCheck_EmergencyCloseOnMaxDrawdown(t *testing.T) {
	exec := &fakeExecutor{equity: 85000}
	m := newTestManager(t, core.RealClock{}, exec)
	m.UpdateEquity(100000, 0)
	m.UpdateEquity(85000, 0) // peak 100k, now 85k: 15% drawdown == MaxPortfolioDrawdown

	results := m.RunPeriodicCheck()
	require.NotEmpty(t, results)
	require.True(t, exec.emergencyCalled)
	require.False(t, m.State().TradingAllowed)
	require.Equal(t, LevelEmergency, m.State().RiskLevel)
}

func TestRunPeriodicCheck_HighestSeverityActionWinsAcrossChecks(t *testing.T) {
	exec := &fakeExecutor{equity: 70000}
	m := newTestManager(t, core.RealClock{}, exec)
	m.UpdateEquity(100000, 0)
	// Drawdown above warning (10%) but below max (15%): ActionReduceExposure,
	// LevelHigh. Position ratio also over max: ActionPauseNewTrades,
	// LevelHigh. The daily and weekly baselines were seeded at 100000, so
	// the 12% fall also fires the daily check (ActionPauseNewTrades,
	// LevelHigh) and the weekly check (ActionReduceAll, LevelCritical),
	// which sets the overall level.
	m.UpdateEquity(88000, 65000)

	results := m.RunPeriodicCheck()
	require.NotEmpty(t, results)
	require.Equal(t, LevelCritical, m.State().RiskLevel)
}

func TestRunPeriodicCheck_NoActionWhenWithinLimits(t *testing.T) {
	exec := &fakeExecutor{equity: 100000}
	m := newTestManager(t, core.RealClock{}, exec)
	m.UpdateEquity(100000, 10000)

	results := m.RunPeriodicCheck()
	require.Empty(t, results)
	require.Equal(t, LevelSafe, m.State().RiskLevel)
	require.True(t, m.State().TradingAllowed)
}

func TestExecuteAction_ReduceAllRespectsCooldown(t *testing.T) {
	start := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC) // a Monday
	clock := core.NewFixedClock(start)
	exec := &fakeExecutor{equity: 100000}
	m := newTestManager(t, clock, exec)
	m.RegisterStrategy("s1", "BTCUSDT", RiskBudget{Budget: 1000, Remaining: 1000})
	m.UpdateStrategyPosition("s1", 50000)
	m.UpdateEquity(100000, 50000)

	// Cross the week boundary so weeklyStartEquity seeds from 100000.
	clock.Set(start.Add(7 * 24 * time.Hour))
	m.RunPeriodicCheck()
	require.Equal(t, 100000.0, m.State().WeeklyStartEquity)

	m.UpdateEquity(89000, 50000) // weekly drawdown 11% >= MaxWeeklyDrawdown (10%): ActionReduceAll
	results := m.RunPeriodicCheck()
	require.NotEmpty(t, results)
	require.Len(t, exec.marketOrders, 1)

	clock.Advance(time.Minute)
	exec.marketOrders = nil
	m.RunPeriodicCheck()
	require.Empty(t, exec.marketOrders, "cooldown should suppress a second de-risk within DeRiskCooldown")
}

func TestApplyTimeWindowResets_NewDayResetsDailyDrawdown(t *testing.T) {
	day0 := time.Date(2026, 1, 5, 23, 0, 0, 0, time.UTC)
	clock := core.NewFixedClock(day0)
	exec := &fakeExecutor{equity: 100000}
	m := newTestManager(t, clock, exec)
	m.UpdateEquity(100000, 0)

	// Cross into day1: the reset seeds dailyStartEquity from the current
	// equity reading.
	clock.Set(day0.Add(2 * time.Hour))
	m.RunPeriodicCheck()
	require.Equal(t, 100000.0, m.State().DailyStartEquity)
	require.Equal(t, 0.0, m.State().DailyDrawdown)

	m.UpdateEquity(96000, 0)
	m.RunPeriodicCheck()
	require.Greater(t, m.State().DailyDrawdown, 0.0)

	// Cross into day2: daily drawdown resets again against the new baseline.
	clock.Set(day0.Add(26 * time.Hour))
	m.RunPeriodicCheck()
	require.Equal(t, 0.0, m.State().DailyDrawdown)
	require.Equal(t, 96000.0, m.State().DailyStartEquity)
}

func TestUpdateEquity_SeedsDailyAndWeeklyBaselinesOnFirstCall(t *testing.T) {
	start := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC) // a Monday, mid-day
	clock := core.NewFixedClock(start)
	exec := &fakeExecutor{equity: 100000}
	m := newTestManager(t, clock, exec)

	// No day/week boundary has been crossed yet; the baselines must still
	// be live from the very first equity reading, not stuck at zero until
	// applyTimeWindowResets fires.
	m.UpdateEquity(100000, 0)
	require.Equal(t, 100000.0, m.State().DailyStartEquity)
	require.Equal(t, 100000.0, m.State().WeeklyStartEquity)

	m.UpdateEquity(88000, 0) // 12% daily drawdown, same calendar day
	require.Greater(t, m.State().DailyDrawdown, 0.0)

	results := m.RunPeriodicCheck()
	require.NotEmpty(t, results, "daily drawdown check must fire on day one of a run")
}

func TestCheckOrder_DecrementsRiskBudgetOnAllowedOrder(t *testing.T) {
	exec := &fakeExecutor{equity: 100000}
	m := newTestManager(t, core.RealClock{}, exec)
	m.RegisterStrategy("s1", "BTCUSDT", RiskBudget{Budget: 1000, Remaining: 1000})
	m.UpdateEquity(100000, 0)

	result := m.CheckOrder(OrderRequest{StrategyID: "s1", Symbol: "BTCUSDT", Amount: 1, Price: 100})
	require.True(t, result.Allowed)

	state, ok := m.StrategyState("s1")
	require.True(t, ok)
	require.Equal(t, 2.0, state.Budget.Used)       // 0.02 * (1*100)
	require.Equal(t, 998.0, state.Budget.Remaining)

	// A second allowed order keeps consuming the same ledger.
	result = m.CheckOrder(OrderRequest{StrategyID: "s1", Symbol: "BTCUSDT", Amount: 1, Price: 100})
	require.True(t, result.Allowed)
	state, _ = m.StrategyState("s1")
	require.Equal(t, 4.0, state.Budget.Used)
	require.Equal(t, 996.0, state.Budget.Remaining)
}

func TestCheckOrder_DeniedOrderDoesNotConsumeRiskBudget(t *testing.T) {
	exec := &fakeExecutor{equity: 100000}
	m := newTestManager(t, core.RealClock{}, exec)
	m.RegisterStrategy("s1", "BTCUSDT", RiskBudget{Budget: 1000, Remaining: 1000})
	m.PauseTrading("manual pause")

	result := m.CheckOrder(OrderRequest{StrategyID: "s1", Symbol: "BTCUSDT", Amount: 1, Price: 100})
	require.False(t, result.Allowed)

	state, ok := m.StrategyState("s1")
	require.True(t, ok)
	require.Equal(t, 0.0, state.Budget.Used)
	require.Equal(t, 1000.0, state.Budget.Remaining)
}

func TestPauseResumeTrading_RoundTrip(t *testing.T) {
	exec := &fakeExecutor{equity: 100000}
	m := newTestManager(t, core.RealClock{}, exec)

	m.PauseTrading("manual")
	require.False(t, m.State().TradingAllowed)
	require.Equal(t, "manual", m.State().PauseReason)

	m.ResumeTrading()
	require.True(t, m.State().TradingAllowed)
	require.Empty(t, m.State().PauseReason)
}
