// Package allocator computes per-strategy capital weights via a
// selectable allocation method and supports triggered rebalancing
// (spec §4.6).
//
// Grounded on the teacher's pkg/metric package for its use of
// gonum.org/v1/gonum/stat across the pack's statistics code; this
// package is the pack's first user of gonum.org/v1/gonum/mat, needed for
// the covariance-matrix-vector algebra the projected-gradient solvers
// (MinVariance, MaxSharpe) and the risk-parity Newton step require — none
// of which the teacher's own metric package does, since it only ever
// reduces a single bootstrap sample to scalar statistics.
package allocator

import "time"

// Method selects an allocation algorithm.
type Method string

const (
	EqualWeight    Method = "EqualWeight"
	RiskParity     Method = "RiskParity"
	MinVariance    Method = "MinVariance"
	MaxSharpe      Method = "MaxSharpe"
	MinCorrelation Method = "MinCorrelation"
	Kelly          Method = "Kelly"
	Custom         Method = "Custom"
)

// StrategyStats is the per-strategy summary the allocator needs.
type StrategyStats struct {
	ExpectedReturn float64
	Volatility     float64
	WinRate        float64
	AvgWin         float64
	AvgLoss        float64
}

// Allocation is one strategy's weight and absolute amount.
type Allocation struct {
	Weight float64
	Amount float64
}

// AllocationResult is the output of one CalculateAllocation/Rebalance
// call. ID identifies this particular result for audit/report
// correlation, since the caller never supplies one.
type AllocationResult struct {
	ID           string
	Method       Method
	Weights      map[string]float64
	Allocations  map[string]Allocation
	TotalCapital float64
	Timestamp    time.Time
}

// Adjustment describes one strategy's weight delta across a rebalance.
type Adjustment struct {
	StrategyID string
	OldWeight  float64
	NewWeight  float64
	Delta      float64
	DeltaAmount float64
}
