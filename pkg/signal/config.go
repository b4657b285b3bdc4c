package signal

// Config holds the adaptive signal engine's tunable parameters. Start
// from DefaultConfig and override.
type Config struct {
	EnableSMA         bool
	EnableRSI         bool
	EnableBB          bool
	EnableTrendFilter bool

	SMABaseFast int
	SMABaseSlow int
	SMARange    float64 // the `range` factor in spec §4.3.1

	RSITrendingOversold   float64
	RSITrendingOverbought float64
	RSIRangingOversold    float64
	RSIRangingOverbought  float64
	RSIHighVolOversold    float64
	RSIHighVolOverbought  float64
	RSIPeriod             int

	BBMinStdDev float64
	BBMaxStdDev float64
	BBPeriod    int

	TrendMAPeriod int

	LowVolThreshold  float64
	HighVolThreshold float64

	SignalThreshold float64
}

// DefaultConfig returns the defaults enumerated across spec §4.3.
func DefaultConfig() Config {
	return Config{
		EnableSMA:         true,
		EnableRSI:         true,
		EnableBB:          true,
		EnableTrendFilter: true,

		SMABaseFast: 10,
		SMABaseSlow: 30,
		SMARange:    0.5,

		RSITrendingOversold:   25,
		RSITrendingOverbought: 75,
		RSIRangingOversold:    35,
		RSIRangingOverbought:  65,
		RSIHighVolOversold:    30,
		RSIHighVolOverbought:  70,
		RSIPeriod:             14,

		BBMinStdDev: 1.5,
		BBMaxStdDev: 3.0,
		BBPeriod:    20,

		TrendMAPeriod: 50,

		LowVolThreshold:  25,
		HighVolThreshold: 75,

		SignalThreshold: 0.5,
	}
}
