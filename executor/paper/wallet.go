// Package paper implements an in-memory core.OrderExecutor for running
// the portfolio core against simulated or replayed market data, with no
// exchange connection.
//
// Grounded on exchange/paper_wallet.go's PaperWallet — the mutex-guarded
// balance/position bookkeeping, weighted-average entry price on repeat
// buys, and taker-fee-on-fill accounting all carry over — trimmed from
// the teacher's long/short, OCO/limit/stop multi-order-type wallet down
// to the long-only, market-order-only surface core.OrderExecutor needs,
// since the strategy runtime (C4) only ever buys to open and sells to
// close.
package paper

import (
	"sync"
	"time"

	"github.com/kestrelfolio/portfoliocore/pkg/core"
	"github.com/kestrelfolio/portfoliocore/pkg/coreerrs"
)

// EquityPoint is one timestamped mark on the wallet's equity curve,
// mirroring the teacher's AssetValue (exchange/paper_wallet.go).
type EquityPoint struct {
	Time  time.Time
	Value float64
}

type position struct {
	side          core.SideType
	amount        float64
	avgEntryPrice float64
}

// Wallet is a simulated, single-quote-currency trading account.
type Wallet struct {
	mu sync.RWMutex

	clock    core.Clock
	makerFee float64
	takerFee float64

	cash float64

	positions map[string]*position
	lastPrice map[string]float64

	orders      []core.Order
	equityCurve []EquityPoint
}

// Option configures a Wallet at construction, mirroring the teacher's
// PaperWalletOption functional-options pattern.
type Option func(*Wallet)

// WithFees sets the maker/taker fee rates. Both default to zero. Every
// fill is charged the taker rate; the maker rate is stored but not
// applied to any fill.
func WithFees(maker, taker float64) Option {
	return func(w *Wallet) {
		w.makerFee = maker
		w.takerFee = taker
	}
}

// NewWallet creates a Wallet seeded with initialCash.
func NewWallet(initialCash float64, clock core.Clock, opts ...Option) *Wallet {
	w := &Wallet{
		clock:     clock,
		cash:      initialCash,
		positions: make(map[string]*position),
		lastPrice: make(map[string]float64),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.recordEquityLocked()
	return w
}

// MarkPrice records symbol's latest traded price; every Buy/Sell/
// BuyPercent call against symbol fills at this price until the next
// MarkPrice call. The bar feed driving the portfolio manager's OnBar
// calls this once per bar, before OnBar runs.
func (w *Wallet) MarkPrice(symbol string, price float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastPrice[symbol] = price
	w.recordEquityLocked()
}

func (w *Wallet) recordEquityLocked() {
	w.equityCurve = append(w.equityCurve, EquityPoint{Time: w.clock.Now(), Value: w.equityLocked()})
}

func (w *Wallet) equityLocked() float64 {
	total := w.cash
	for symbol, pos := range w.positions {
		total += pos.amount * w.lastPrice[symbol]
	}
	return total
}

// Buy opens or adds to a long position in symbol at the last marked
// price, deducting cash plus the taker fee. Grounded on
// validateBuyFunds/updateAveragePrice's long+buy branch
// (exchange/paper_wallet.go), which weighted-averages the entry price
// across repeat buys into the same position.
func (w *Wallet) Buy(symbol string, amount float64) (core.Order, error) {
	if amount <= 0 {
		return core.Order{}, coreerrs.ErrInvalidQuantity
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	price, ok := w.lastPrice[symbol]
	if !ok || price <= 0 {
		return core.Order{}, coreerrs.ErrNoMarketPrice
	}

	cost := amount * price * (1 + w.takerFee)
	if cost > w.cash {
		return core.Order{}, coreerrs.ErrInsufficientFunds
	}
	w.cash -= cost

	pos, exists := w.positions[symbol]
	if !exists {
		pos = &position{side: core.SideBuy}
		w.positions[symbol] = pos
	}
	pos.avgEntryPrice = (pos.avgEntryPrice*pos.amount + price*amount) / (pos.amount + amount)
	pos.amount += amount

	order := core.Order{Symbol: symbol, Side: core.SideBuy, Amount: amount, Price: price, CreatedAt: w.clock.Now()}
	w.orders = append(w.orders, order)
	w.recordEquityLocked()
	return order, nil
}

// Sell reduces (or fully closes, when amount >= the held amount) symbol's
// open long position, crediting proceeds net of the taker fee to cash.
func (w *Wallet) Sell(symbol string, amount float64) (core.Order, error) {
	if amount <= 0 {
		return core.Order{}, coreerrs.ErrInvalidQuantity
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	price, ok := w.lastPrice[symbol]
	if !ok || price <= 0 {
		return core.Order{}, coreerrs.ErrNoMarketPrice
	}
	pos, exists := w.positions[symbol]
	if !exists || pos.amount <= 0 {
		return core.Order{}, coreerrs.ErrInsufficientPosition
	}
	if amount > pos.amount {
		amount = pos.amount
	}

	proceeds := amount * price * (1 - w.takerFee)
	w.cash += proceeds
	pos.amount -= amount
	if pos.amount <= 1e-12 {
		delete(w.positions, symbol)
	}

	order := core.Order{Symbol: symbol, Side: core.SideSell, Amount: amount, Price: price, CreatedAt: w.clock.Now()}
	w.orders = append(w.orders, order)
	w.recordEquityLocked()
	return order, nil
}

// BuyPercent opens or adds to a position sized at pctOfEquity of current
// total equity — the sizing the strategy runtime's envelope requests on
// entry (spec §4.4).
func (w *Wallet) BuyPercent(symbol string, pctOfEquity float64) (core.Order, error) {
	w.mu.RLock()
	price, ok := w.lastPrice[symbol]
	equity := w.equityLocked()
	w.mu.RUnlock()
	if !ok || price <= 0 {
		return core.Order{}, coreerrs.ErrNoMarketPrice
	}
	amount := (equity * pctOfEquity) / price
	return w.Buy(symbol, amount)
}

// ClosePosition fully exits symbol's open position. A flat symbol is a
// no-op: nil order, nil error.
func (w *Wallet) ClosePosition(symbol string) (*core.Order, error) {
	w.mu.RLock()
	pos, exists := w.positions[symbol]
	var amount float64
	if exists {
		amount = pos.amount
	}
	w.mu.RUnlock()
	if !exists || amount <= 0 {
		return nil, nil
	}
	order, err := w.Sell(symbol, amount)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ExecuteMarketOrder implements the risk manager's de-risking capability
// (spec §4.7.2). Sell requests clamp to the held amount regardless of
// req.ReduceOnly, since this wallet never opens a short.
func (w *Wallet) ExecuteMarketOrder(req core.MarketOrderRequest) (core.Order, error) {
	switch req.Side {
	case core.SideBuy:
		return w.Buy(req.Symbol, req.Amount)
	case core.SideSell:
		return w.Sell(req.Symbol, req.Amount)
	default:
		return core.Order{}, coreerrs.ErrInvalidQuantity
	}
}

// EmergencyCloseAll closes every open position (spec §4.7.2 EmergencyClose).
func (w *Wallet) EmergencyCloseAll() error {
	w.mu.RLock()
	symbols := make([]string, 0, len(w.positions))
	for s := range w.positions {
		symbols = append(symbols, s)
	}
	w.mu.RUnlock()

	for _, s := range symbols {
		if _, err := w.ClosePosition(s); err != nil {
			return err
		}
	}
	return nil
}

// GetPosition returns symbol's current position snapshot, or nil if flat.
func (w *Wallet) GetPosition(symbol string) (*core.PositionSnapshot, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	pos, exists := w.positions[symbol]
	if !exists {
		return nil, nil
	}
	return &core.PositionSnapshot{Symbol: symbol, Side: pos.side, Amount: pos.amount, EntryPrice: pos.avgEntryPrice}, nil
}

// GetCapital returns the free (uninvested) cash balance.
func (w *Wallet) GetCapital() float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cash
}

// GetEquity returns cash plus the mark-to-market value of every open
// position.
func (w *Wallet) GetEquity() float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.equityLocked()
}

// EquityCurve returns the recorded equity history, oldest first.
func (w *Wallet) EquityCurve() []EquityPoint {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]EquityPoint(nil), w.equityCurve...)
}

// Orders returns every order filled so far, oldest first.
func (w *Wallet) Orders() []core.Order {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]core.Order(nil), w.orders...)
}

// MaxDrawdown returns the largest peak-to-trough decline across the
// recorded equity curve, grounded on the teacher's
// PaperWallet.MaxDrawdown (exchange/paper_wallet.go), simplified to just
// the drawdown ratio since this wallet tracks a single equity series
// rather than per-asset values.
func (w *Wallet) MaxDrawdown() float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var peak, maxDD float64
	for _, p := range w.equityCurve {
		if p.Value > peak {
			peak = p.Value
		}
		if peak > 0 {
			if dd := (peak - p.Value) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}
