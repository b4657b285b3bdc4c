package portfolio

import (
	"time"

	"github.com/kestrelfolio/portfoliocore/pkg/allocator"
	"github.com/kestrelfolio/portfoliocore/pkg/correlation"
	"github.com/kestrelfolio/portfoliocore/pkg/risk"
)

// Config holds the portfolio manager's own tunables plus the sub-configs
// for the components it owns (spec §6).
type Config struct {
	TotalCapital     float64
	AllocationMethod allocator.Method
	AutoRebalance    bool
	RebalancePeriod  time.Duration

	StatusUpdateInterval time.Duration
	ReportInterval        time.Duration

	Correlation correlation.Config
	Risk        risk.Config
	Allocator   allocator.Config
}

// DefaultConfig returns spec §6's enumerated portfolio-level defaults,
// with each owned component's defaults nested in.
func DefaultConfig() Config {
	allocCfg := allocator.DefaultConfig()
	allocCfg.TotalCapital = 100000

	return Config{
		TotalCapital:     100000,
		AllocationMethod: allocator.RiskParity,
		AutoRebalance:    true,
		RebalancePeriod:  86_400 * time.Second,

		StatusUpdateInterval: 10 * time.Second,
		ReportInterval:        60 * time.Second,

		Correlation: correlation.DefaultConfig(),
		Risk:        risk.DefaultConfig(),
		Allocator:   allocCfg,
	}
}
