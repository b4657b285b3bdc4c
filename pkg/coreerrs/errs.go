// Package coreerrs holds the sentinel errors shared across the portfolio
// core, in the teacher's flat errors.New style (core/errs.go in the pack).
package coreerrs

import "errors"

var (
	// ErrInvalidConfig is returned from a constructor when a supplied
	// configuration value falls outside its documented range.
	ErrInvalidConfig = errors.New("coreerrs: invalid configuration")

	// ErrStrategyAlreadyRegistered is returned by PortfolioManager.AddStrategy
	// when the id is already owned. Callers should warn and no-op, per spec §7.
	ErrStrategyAlreadyRegistered = errors.New("coreerrs: strategy already registered")

	// ErrUnknownStrategy is returned when an operation references a strategy
	// id the portfolio manager does not own.
	ErrUnknownStrategy = errors.New("coreerrs: unknown strategy")

	// ErrUnknownAllocationMethod is returned at construction when an
	// allocation method name isn't recognized.
	ErrUnknownAllocationMethod = errors.New("coreerrs: unknown allocation method")

	// ErrInvalidQuantity is returned by an OrderExecutor when an order
	// amount is zero or negative.
	ErrInvalidQuantity = errors.New("coreerrs: invalid order quantity")

	// ErrNoMarketPrice is returned by an OrderExecutor when no price has
	// been marked yet for the requested symbol.
	ErrNoMarketPrice = errors.New("coreerrs: no market price recorded for symbol")

	// ErrInsufficientFunds is returned by an OrderExecutor when cash on
	// hand cannot cover a buy order.
	ErrInsufficientFunds = errors.New("coreerrs: insufficient funds")

	// ErrInsufficientPosition is returned by an OrderExecutor when a sell
	// or close is requested against a symbol with no open position.
	ErrInsufficientPosition = errors.New("coreerrs: insufficient open position")
)
