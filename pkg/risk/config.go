package risk

import "time"

// Config holds the risk manager's tunables, per spec §6's enumerated
// defaults.
type Config struct {
	MaxPortfolioDrawdown     float64
	DrawdownWarningThreshold float64
	MaxDailyDrawdown         float64
	MaxWeeklyDrawdown        float64
	MaxTotalPositionRatio    float64
	PositionWarningRatio     float64
	MaxSingleStrategyRatio   float64
	MaxPositionCount         int
	HighCorrelationThreshold float64
	MaxHighCorrelationPairs  int
	CorrelationChangeThreshold float64
	VarConfidenceLevel       float64
	MaxVaR                   float64
	MaxCVaR                  float64
	EnableAutoDeRisk         bool
	DeRiskRatio              float64
	DeRiskCooldown           time.Duration
	CheckInterval            time.Duration
}

// DefaultConfig returns the defaults enumerated in spec §6.
func DefaultConfig() Config {
	return Config{
		MaxPortfolioDrawdown:       0.15,
		DrawdownWarningThreshold:   0.10,
		MaxDailyDrawdown:           0.05,
		MaxWeeklyDrawdown:          0.10,
		MaxTotalPositionRatio:      0.60,
		PositionWarningRatio:       0.50,
		MaxSingleStrategyRatio:     0.25,
		MaxPositionCount:           10,
		HighCorrelationThreshold:   0.70,
		MaxHighCorrelationPairs:    2,
		CorrelationChangeThreshold: 0.30,
		VarConfidenceLevel:         0.95,
		MaxVaR:                     0.05,
		MaxCVaR:                    0.08,
		EnableAutoDeRisk:           true,
		DeRiskRatio:                0.30,
		DeRiskCooldown:             30 * time.Minute,
		CheckInterval:              5 * time.Second,
	}
}
