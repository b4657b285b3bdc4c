package runtime

import (
	"strings"

	"github.com/kestrelfolio/portfoliocore/pkg/core"
	"github.com/kestrelfolio/portfoliocore/pkg/signal"
)

// Envelope is the stateful per-strategy runtime: bar history, kv state,
// indicator snapshot, current signal, position/trailing-stop state and
// trade log (spec §4.4 / §4.3.5).
type Envelope struct {
	ID  string
	cfg Config

	history *core.RollingWindow[core.Bar]

	state      map[string]any
	indicators map[string]float64
	current    Signal

	position   positionState
	trades     []Trade
	equity     float64
	allocation float64
	clock      core.Clock
}

// NewEnvelope creates an Envelope for strategy id. clock is used to
// timestamp closed trades; pass core.RealClock{} in production and a
// core.FixedClock in tests.
func NewEnvelope(id string, cfg Config, clock core.Clock) *Envelope {
	return &Envelope{
		ID:         id,
		cfg:        cfg,
		history:    core.NewRollingWindow[core.Bar](cfg.MaxCandleHistory),
		state:      make(map[string]any),
		indicators: make(map[string]float64),
		clock:      clock,
	}
}

// OnInit is the onInit lifecycle capability; no-op beyond clearing
// transient signal state, kept as an explicit hook for symmetry with
// OnBar/OnFinish and for strategies that override it.
func (e *Envelope) OnInit() {
	e.current = Signal{Decision: signal.None}
}

// OnBar appends bar to the bounded history, evicting the oldest bar when
// full.
func (e *Envelope) OnBar(bar core.Bar) {
	e.history.Push(bar)
}

// OnFinish is the onFinish lifecycle capability.
func (e *Envelope) OnFinish() {}

// History returns the bars held, oldest first.
func (e *Envelope) History() []core.Bar { return e.history.Values() }

// SetState / GetState expose arbitrary per-strategy key-value state.
func (e *Envelope) SetState(key string, value any) { e.state[key] = value }
func (e *Envelope) GetState(key string) (any, bool) { v, ok := e.state[key]; return v, ok }

// SetIndicator / GetIndicator expose the last-computed indicator snapshot.
func (e *Envelope) SetIndicator(name string, value float64) { e.indicators[name] = value }
func (e *Envelope) GetIndicator(name string) (float64, bool) {
	v, ok := e.indicators[name]
	return v, ok
}

// SetSignal / CurrentSignal expose the strategy's current trade signal.
func (e *Envelope) SetSignal(s Signal) { e.current = s }
func (e *Envelope) CurrentSignal() Signal { return e.current }

// InPosition reports whether the strategy currently holds an open position.
func (e *Envelope) InPosition() bool { return e.position.open }

// Trades returns the completed round trips recorded so far.
func (e *Envelope) Trades() []Trade { return e.trades }

// SetEquity / Equity track the strategy's current equity, as reported by
// the portfolio manager's updateStrategyState operation (spec §4.8).
func (e *Envelope) SetEquity(equity float64) { e.equity = equity }
func (e *Envelope) Equity() float64          { return e.equity }

// OnAllocationChange is the onAllocationChange capability a strategy
// receives when the capital allocator rebalances (spec §4.6, §6).
func (e *Envelope) OnAllocationChange(weight float64) { e.allocation = weight }

// Allocation returns the strategy's most recently assigned weight.
func (e *Envelope) Allocation() float64 { return e.allocation }

// PositionValue returns the mark-to-market value of the open position at
// currentPrice, or 0 when flat.
func (e *Envelope) PositionValue(currentPrice float64) float64 {
	if !e.position.open {
		return 0
	}
	return e.position.amount * currentPrice
}

// State builds the externally observable StrategyState snapshot (spec
// §3) at currentPrice. RiskBudget and TradingAllowed are left zero-valued
// here since the risk manager (C7), not the runtime envelope, owns them;
// callers merge those in from risk.Manager.
func (e *Envelope) State(currentPrice float64) StrategyState {
	var positions []core.PositionSnapshot
	if e.position.open {
		positions = []core.PositionSnapshot{{
			Side:       e.position.side,
			Amount:     e.position.amount,
			EntryPrice: e.position.entryPrice,
		}}
	}

	returns := make([]float64, 0, len(e.trades))
	for _, t := range e.trades {
		if e.equity > 0 {
			returns = append(returns, t.PnL/e.equity)
		}
	}

	return StrategyState{
		Positions:     positions,
		PositionValue: e.PositionValue(currentPrice),
		Equity:        e.equity,
		Allocation:    e.allocation,
		Trades:        append([]Trade(nil), e.trades...),
		Returns:       returns,
	}
}

// ExitSignals bundles the non-signal-driven exit triggers evaluated every
// bar alongside the trailing stop.
type ExitSignals struct {
	MomentumReversal bool
	RegimeExtreme    bool
	TrendReversal    bool
}

// Execute implements spec §4.3.5's execution mapping for one bar: entries
// on Buy-when-flat, exits on Sell-when-long, and the ATR-trailing stop with
// its exit-condition priority (stop loss checked first, then momentum
// reversal, extreme exit, trend reversal). Returns the closed Trade, if
// any, and the executor's error, if a call to it failed.
func (e *Envelope) Execute(
	symbol string,
	bar core.Bar,
	fused signal.FusedSignal,
	atr float64,
	exits ExitSignals,
	executor core.OrderExecutor,
) (*Trade, error) {
	if !e.position.open {
		if fused.Decision == signal.Buy {
			order, err := executor.BuyPercent(symbol, e.cfg.PositionPercent)
			if err != nil {
				return nil, err
			}
			entry := order.Price
			if entry == 0 {
				entry = bar.Close
			}
			e.position = positionState{
				open:              true,
				side:              core.SideBuy,
				entryPrice:        entry,
				amount:            order.Amount,
				stopLoss:          entry - e.cfg.StopLossMultiplier*atr,
				highestSinceEntry: entry,
			}
		}
		return nil, nil
	}

	// Position is open (long). Advance the trailing stop before checking
	// exit conditions, so a bar that both makes a new high and triggers the
	// stop uses the updated level (matches strategy/trailing.go's
	// update-then-compare order).
	if bar.High > e.position.highestSinceEntry {
		e.position.highestSinceEntry = bar.High
	}
	candidate := e.position.highestSinceEntry - e.cfg.StopLossMultiplier*atr
	if candidate > e.position.stopLoss {
		e.position.stopLoss = candidate
	}

	reason, shouldExit := e.checkExit(bar, fused, exits)
	if !shouldExit {
		return nil, nil
	}

	if _, err := executor.ClosePosition(symbol); err != nil {
		return nil, err
	}
	trade := e.closePosition(symbol, bar.Close, reason)
	return &trade, nil
}

func (e *Envelope) checkExit(bar core.Bar, fused signal.FusedSignal, exits ExitSignals) (ExitReason, bool) {
	switch {
	case bar.Close <= e.position.stopLoss:
		return ExitStopLoss, true
	case exits.MomentumReversal:
		return ExitMomentumReversal, true
	case exits.RegimeExtreme && e.cfg.DisableInExtreme:
		return ExitExtremeExit, true
	case exits.TrendReversal:
		return ExitTrendReversal, true
	case fused.Decision == signal.Sell:
		return exitReasonFromSignal(fused), true
	default:
		return "", false
	}
}

func exitReasonFromSignal(fused signal.FusedSignal) ExitReason {
	if len(fused.Reasons) > 0 {
		return ExitReason(strings.Join(fused.Reasons, "; "))
	}
	return "SignalSell"
}

func (e *Envelope) closePosition(symbol string, exitPrice float64, reason ExitReason) Trade {
	pos := e.position
	pnl := (exitPrice - pos.entryPrice) * pos.amount
	trade := Trade{
		Symbol:     symbol,
		Side:       pos.side,
		EntryPrice: pos.entryPrice,
		ExitPrice:  exitPrice,
		Amount:     pos.amount,
		PnL:        pnl,
		ExitReason: reason,
		ClosedAt:   e.clock.Now(),
	}
	e.trades = append(e.trades, trade)
	e.position = positionState{}
	return trade
}
