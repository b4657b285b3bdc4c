package portfolio

import (
	"testing"
	"time"

	"github.com/kestrelfolio/portfoliocore/pkg/allocator"
	"github.com/kestrelfolio/portfoliocore/pkg/core"
	"github.com/kestrelfolio/portfoliocore/pkg/events"
	zlog "github.com/kestrelfolio/portfoliocore/pkg/logger/zerolog"
	"github.com/kestrelfolio/portfoliocore/pkg/regime"
	"github.com/kestrelfolio/portfoliocore/pkg/risk"
	"github.com/kestrelfolio/portfoliocore/pkg/runtime"
	"github.com/kestrelfolio/portfoliocore/pkg/signal"
	"github.com/stretchr/testify/require"
)

type fakeExecutor struct {
	equity   float64
	position *core.PositionSnapshot
}

func (f *fakeExecutor) Buy(symbol string, amount float64) (core.Order, error)  { return core.Order{}, nil }
func (f *fakeExecutor) Sell(symbol string, amount float64) (core.Order, error) { return core.Order{}, nil }
func (f *fakeExecutor) BuyPercent(symbol string, pct float64) (core.Order, error) {
	return core.Order{Symbol: symbol, Side: core.SideBuy, Price: 100, Amount: 1}, nil
}
func (f *fakeExecutor) ClosePosition(symbol string) (*core.Order, error) {
	return &core.Order{Symbol: symbol, Side: core.SideSell}, nil
}
func (f *fakeExecutor) ExecuteMarketOrder(req core.MarketOrderRequest) (core.Order, error) {
	return core.Order{}, nil
}
func (f *fakeExecutor) EmergencyCloseAll() error { return nil }
func (f *fakeExecutor) GetPosition(symbol string) (*core.PositionSnapshot, error) {
	return f.position, nil
}
func (f *fakeExecutor) GetCapital() float64 { return f.equity }
func (f *fakeExecutor) GetEquity() float64  { return f.equity }

func testLogger(t *testing.T) *zlog.ZerologAdapter {
	t.Helper()
	l, err := zlog.NewZerolog("disabled", time.RFC3339, false, true)
	require.NoError(t, err)
	return l
}

func testStrategyConfig(symbol string) StrategyConfig {
	return StrategyConfig{
		Symbol:     symbol,
		Runtime:    runtime.DefaultConfig(),
		Regime:     regime.DefaultConfig(),
		Signal:     signal.DefaultConfig(),
		RiskBudget: risk.RiskBudget{Budget: 10000, Remaining: 10000},
		Stats:      allocator.StrategyStats{},
	}
}

func bar(i int, close float64) core.Bar {
	return core.Bar{Symbol: "X", Timestamp: int64(i), Open: close, High: close + 1, Low: close - 1, Close: close}
}

func TestManager_AddStrategy_RejectsDuplicate(t *testing.T) {
	m := NewManager(DefaultConfig(), core.RealClock{}, &fakeExecutor{equity: 100000}, testLogger(t))
	require.NoError(t, m.AddStrategy("s1", testStrategyConfig("X")))
	require.Error(t, m.AddStrategy("s1", testStrategyConfig("X")))
	require.Equal(t, []string{"s1"}, m.StrategyIDs())
}

func TestManager_RemoveStrategy_UnknownIsError(t *testing.T) {
	m := NewManager(DefaultConfig(), core.RealClock{}, &fakeExecutor{equity: 100000}, testLogger(t))
	require.Error(t, m.RemoveStrategy("ghost"))
}

func TestManager_RemoveStrategy_DropsFromEveryComponent(t *testing.T) {
	m := NewManager(DefaultConfig(), core.RealClock{}, &fakeExecutor{equity: 100000}, testLogger(t))
	require.NoError(t, m.AddStrategy("s1", testStrategyConfig("X")))
	require.NoError(t, m.RemoveStrategy("s1"))
	require.Empty(t, m.StrategyIDs())
	_, err := m.StrategyState("s1")
	require.Error(t, err)
}

func TestManager_OnBar_UnknownStrategyIsError(t *testing.T) {
	m := NewManager(DefaultConfig(), core.RealClock{}, &fakeExecutor{equity: 100000}, testLogger(t))
	_, err := m.OnBar("ghost", bar(0, 100))
	require.Error(t, err)
}

func TestManager_OnBar_FeedsHistoryAndClassifiesRegime(t *testing.T) {
	exec := &fakeExecutor{equity: 100000}
	m := NewManager(DefaultConfig(), core.RealClock{}, exec, testLogger(t))
	require.NoError(t, m.AddStrategy("s1", testStrategyConfig("X")))

	var last BarResult
	for i := 0; i < 60; i++ {
		var err error
		last, err = m.OnBar("s1", bar(i, 100+float64(i%5)))
		require.NoError(t, err)
	}
	require.NotEmpty(t, last.Regime.Regime)
}

func TestManager_OnBar_DeniedOrderDowngradesToNone(t *testing.T) {
	exec := &fakeExecutor{equity: 100000}
	cfg := DefaultConfig()
	m := NewManager(cfg, core.RealClock{}, exec, testLogger(t))
	sc := testStrategyConfig("X")
	sc.RiskBudget = risk.RiskBudget{Budget: 0, Remaining: 0}
	require.NoError(t, m.AddStrategy("s1", sc))
	require.NoError(t, m.Start())

	// Seed flat history, then drop the price below the lower band with RSI
	// at 0 so the signal engine produces a Buy, and force the strategy's
	// risk budget check to deny it: no trade should open even though the
	// fused decision wanted to.
	for i := 0; i < 40; i++ {
		_, err := m.OnBar("s1", bar(i, 100))
		require.NoError(t, err)
	}
	result, err := m.OnBar("s1", bar(40, 70))
	require.NoError(t, err)
	require.Nil(t, result.Trade)

	state, err := m.StrategyState("s1")
	require.NoError(t, err)
	require.Empty(t, state.Positions)
}

func TestManager_Rebalance_PublishesAllocationAndNotifiesStrategies(t *testing.T) {
	exec := &fakeExecutor{equity: 100000}
	m := NewManager(DefaultConfig(), core.RealClock{}, exec, testLogger(t))
	require.NoError(t, m.AddStrategy("s1", testStrategyConfig("X")))
	require.NoError(t, m.AddStrategy("s2", testStrategyConfig("Y")))

	var received allocator.AllocationResult
	m.Subscribe(events.TopicAllocationUpdated, func(payload any) {
		received = payload.(allocator.AllocationResult)
	})

	adjustments, err := m.Rebalance("manual")
	require.NoError(t, err)
	require.NotNil(t, adjustments)
	require.Contains(t, received.Weights, "s1")
	require.Contains(t, received.Weights, "s2")

	s1, err := m.StrategyState("s1")
	require.NoError(t, err)
	require.Equal(t, received.Weights["s1"], s1.Allocation)
}

func TestManager_Tick_TriggersScheduledRebalance(t *testing.T) {
	clock := core.NewFixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg := DefaultConfig()
	cfg.RebalancePeriod = time.Hour
	m := NewManager(cfg, clock, &fakeExecutor{equity: 100000}, testLogger(t))
	require.NoError(t, m.AddStrategy("s1", testStrategyConfig("X")))

	rebalanced := false
	m.Subscribe(events.TopicAllocationUpdated, func(payload any) { rebalanced = true })

	m.Tick()
	require.False(t, rebalanced, "rebalance should not fire before the period elapses")

	clock.Advance(2 * time.Hour)
	m.Tick()
	require.True(t, rebalanced)
}

func TestManager_Tick_TriggersStatusUpdateAndReportOnTheirOwnIntervals(t *testing.T) {
	clock := core.NewFixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg := DefaultConfig()
	cfg.AutoRebalance = false
	cfg.StatusUpdateInterval = 10 * time.Second
	cfg.ReportInterval = time.Minute
	m := NewManager(cfg, clock, &fakeExecutor{equity: 100000}, testLogger(t))
	require.NoError(t, m.AddStrategy("s1", testStrategyConfig("X")))

	var statusUpdates, reports int
	m.Subscribe(events.TopicStatusUpdated, func(payload any) { statusUpdates++ })
	m.Subscribe(events.TopicReportGenerated, func(payload any) {
		reports++
		event := payload.(ReportEvent)
		require.Contains(t, event.Strategies, "s1")
	})

	m.Tick()
	require.Equal(t, 0, statusUpdates, "status update should not fire before its interval elapses")
	require.Equal(t, 0, reports, "report should not fire before its interval elapses")

	clock.Advance(15 * time.Second)
	m.Tick()
	require.Equal(t, 1, statusUpdates)
	require.Equal(t, 0, reports, "report interval (1m) has not elapsed yet")

	clock.Advance(time.Minute)
	m.Tick()
	require.Equal(t, 2, statusUpdates)
	require.Equal(t, 1, reports)
}

func TestManager_PauseResumeTrading_UpdatesStatus(t *testing.T) {
	m := NewManager(DefaultConfig(), core.RealClock{}, &fakeExecutor{equity: 100000}, testLogger(t))
	require.NoError(t, m.Start())
	require.Equal(t, StatusRunning, m.Status())

	m.PauseTrading("manual")
	require.Equal(t, StatusPaused, m.Status())
	require.False(t, m.RiskState().TradingAllowed)

	m.ResumeTrading()
	require.Equal(t, StatusRunning, m.Status())
	require.True(t, m.RiskState().TradingAllowed)
}

func TestManager_Stop_IsIdempotent(t *testing.T) {
	m := NewManager(DefaultConfig(), core.RealClock{}, &fakeExecutor{equity: 100000}, testLogger(t))
	require.NoError(t, m.Start())
	require.NoError(t, m.Stop())
	require.Equal(t, StatusStopped, m.Status())
	require.NoError(t, m.Stop())
	require.Equal(t, StatusStopped, m.Status())
}
