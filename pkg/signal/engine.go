package signal

import (
	"github.com/kestrelfolio/portfoliocore/pkg/indicator"
	"github.com/kestrelfolio/portfoliocore/pkg/regime"
)

// Engine runs the adaptive parameter update, sub-signal generation and
// fusion steps once per bar per strategy (spec §4.3).
type Engine struct {
	cfg Config
}

// NewEngine creates an Engine from cfg.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Evaluate runs the full per-bar pipeline: adaptive parameter update,
// sub-signal generation, and fusion. closes must be ordered oldest-first
// and end with the bar the regime snapshot was computed from.
func (e *Engine) Evaluate(state regime.State, closes []float64) FusedSignal {
	if state.Regime == regime.Extreme {
		return FusedSignal{Decision: None, TradingAllowed: false}
	}

	params := e.updateParams(state)

	subs := make(map[string]SubSignal, 3)
	if e.cfg.EnableSMA {
		subs["SMA"] = e.smaSignal(closes, params)
	}
	if e.cfg.EnableRSI {
		subs["RSI"] = e.rsiSignal(closes, params)
	}
	if e.cfg.EnableBB {
		subs["BB"] = e.bbSignal(closes, params)
	}

	var trend *SubSignal
	if e.cfg.EnableTrendFilter {
		if s, ok := e.trendFilter(closes); ok {
			trend = &s
		}
	}

	fused := e.fuse(state.Regime, subs, trend)
	fused.Params = params
	fused.TradingAllowed = true
	return fused
}

// updateParams implements spec §4.3.1.
func (e *Engine) updateParams(state regime.State) AdaptiveParams {
	v := volatilityFactor(state.Indicators.VolatilityIndex, e.cfg.LowVolThreshold, e.cfg.HighVolThreshold)

	params := AdaptiveParams{}

	if e.cfg.EnableSMA {
		mult := 1 + e.cfg.SMARange*(1-2*v)
		fast := clampInt(roundInt(float64(e.cfg.SMABaseFast)*mult), 5, 30)
		slow := clampInt(roundInt(float64(e.cfg.SMABaseSlow)*mult), 15, 60)
		if fast >= slow {
			slow = fast + 10
		}
		params.SMAFastPeriod = fast
		params.SMASlowPeriod = slow
	}

	if e.cfg.EnableRSI {
		switch state.Regime {
		case regime.TrendingUp, regime.TrendingDown:
			params.RSIOversold, params.RSIOverbought = e.cfg.RSITrendingOversold, e.cfg.RSITrendingOverbought
		case regime.Ranging:
			params.RSIOversold, params.RSIOverbought = e.cfg.RSIRangingOversold, e.cfg.RSIRangingOverbought
		case regime.HighVolatility:
			params.RSIOversold, params.RSIOverbought = e.cfg.RSIHighVolOversold, e.cfg.RSIHighVolOverbought
		default:
			params.RSIOversold, params.RSIOverbought = e.cfg.RSITrendingOversold, e.cfg.RSITrendingOverbought
		}
	}

	if e.cfg.EnableBB {
		atrPct := state.Indicators.ATRPercentile
		sigma := e.cfg.BBMinStdDev + (e.cfg.BBMaxStdDev-e.cfg.BBMinStdDev)*(atrPct/100)
		params.BBStdDev = clampFloat(sigma, e.cfg.BBMinStdDev, e.cfg.BBMaxStdDev)
	}

	return params
}

// volatilityFactor maps volatilityIndex into [0,1] via the piecewise
// linear interpolation of spec §4.3.1.
func volatilityFactor(volatilityIndex, lowThr, highThr float64) float64 {
	if volatilityIndex <= lowThr {
		return 0
	}
	if volatilityIndex >= highThr {
		return 1
	}
	if highThr == lowThr {
		return 0
	}
	return (volatilityIndex - lowThr) / (highThr - lowThr)
}

func (e *Engine) smaSignal(closes []float64, params AdaptiveParams) SubSignal {
	fast, okF := indicator.SMA(closes, params.SMAFastPeriod)
	slow, okS := indicator.SMA(closes, params.SMASlowPeriod)
	if !okF || !okS || len(fast) < 2 || len(slow) < 2 {
		return SubSignal{}
	}

	n := min(len(fast), len(slow))
	fastTail := fast[len(fast)-n:]
	slowTail := slow[len(slow)-n:]
	cross := indicator.DetectCrossover(fastTail, slowTail)

	lastFast := fastTail[n-1]
	lastSlow := slowTail[n-1]
	strength := 0.0
	if lastSlow != 0 {
		strength = min1(100 * abs(lastFast-lastSlow) / lastSlow)
	}

	switch {
	case cross.Bullish:
		return SubSignal{Direction: 1, Strength: strength, Reason: "SMA bullish crossover"}
	case cross.Bearish:
		return SubSignal{Direction: -1, Strength: strength, Reason: "SMA bearish crossover"}
	default:
		return SubSignal{}
	}
}

func (e *Engine) rsiSignal(closes []float64, params AdaptiveParams) SubSignal {
	rsi, ok := indicator.RSI(closes, e.cfg.RSIPeriod)
	if !ok || len(rsi) == 0 {
		return SubSignal{}
	}
	current := rsi[len(rsi)-1]

	switch {
	case current <= params.RSIOversold:
		strength := 0.0
		if params.RSIOversold != 0 {
			strength = min1((params.RSIOversold - current) / params.RSIOversold)
		}
		return SubSignal{Direction: 1, Strength: strength, Reason: "RSI oversold"}
	case current >= params.RSIOverbought:
		denom := 100 - params.RSIOverbought
		strength := 0.0
		if denom != 0 {
			strength = min1((current - params.RSIOverbought) / denom)
		}
		return SubSignal{Direction: -1, Strength: strength, Reason: "RSI overbought"}
	}

	if len(rsi) >= 2 {
		prev := rsi[len(rsi)-2]
		wasInside := prev > params.RSIOversold && prev < params.RSIOverbought
		if wasInside {
			if current <= params.RSIOversold+5 && current > params.RSIOversold {
				return SubSignal{Direction: 0.5, Strength: 0.5, Reason: "RSI leaving oversold band"}
			}
			if current >= params.RSIOverbought-5 && current < params.RSIOverbought {
				return SubSignal{Direction: -0.5, Strength: 0.5, Reason: "RSI leaving overbought band"}
			}
		}
	}

	return SubSignal{}
}

func (e *Engine) bbSignal(closes []float64, params AdaptiveParams) SubSignal {
	upper, _, lower, ok := indicator.BollingerBands(closes, e.cfg.BBPeriod, params.BBStdDev)
	if !ok || len(upper) == 0 {
		return SubSignal{}
	}
	price := closes[len(closes)-1]
	u := upper[len(upper)-1]
	l := lower[len(lower)-1]

	if price <= l {
		strength := 0.0
		if l != 0 {
			strength = min1(100 * (l - price) / l)
		}
		return SubSignal{Direction: 1, Strength: strength, Reason: "price at/below lower band"}
	}
	if price >= u {
		strength := 0.0
		if u != 0 {
			strength = min1(100 * (price - u) / u)
		}
		return SubSignal{Direction: -1, Strength: strength, Reason: "price at/above upper band"}
	}

	if len(closes) >= 2 && len(upper) >= 2 {
		prevPrice := closes[len(closes)-2]
		prevU := upper[len(upper)-2]
		prevL := lower[len(lower)-2]
		if prevPrice <= prevL {
			return SubSignal{Direction: 1, Strength: 0.7, Reason: "bounced back inside from below lower band"}
		}
		if prevPrice >= prevU {
			return SubSignal{Direction: -1, Strength: 0.7, Reason: "bounced back inside from above upper band"}
		}
	}

	return SubSignal{}
}

func (e *Engine) trendFilter(closes []float64) (SubSignal, bool) {
	sma, ok := indicator.SMA(closes, e.cfg.TrendMAPeriod)
	if !ok || len(sma) == 0 {
		return SubSignal{}, false
	}
	price := closes[len(closes)-1]
	trendMA := sma[len(sma)-1]
	if trendMA == 0 {
		return SubSignal{}, false
	}

	direction := Direction(1)
	if price < trendMA {
		direction = -1
	}
	strength := min1(100 * abs(price-trendMA) / trendMA)
	return SubSignal{Direction: direction, Strength: strength, Reason: "trend filter"}, true
}

// fuse implements spec §4.3.3.
func (e *Engine) fuse(r regime.Regime, subs map[string]SubSignal, trend *SubSignal) FusedSignal {
	w := Weights{SMA: 0.4, RSI: 0.3, BB: 0.3}

	switch r {
	case regime.TrendingUp, regime.TrendingDown:
		w.SMA *= 1.5
		w.RSI *= 0.8
	case regime.Ranging:
		w.SMA *= 0.7
		w.RSI *= 1.3
		w.BB *= 1.2
	case regime.HighVolatility:
		w.SMA *= 0.8
		w.RSI *= 0.8
		w.BB *= 0.8
	}

	total := w.SMA + w.RSI + w.BB
	if total > 0 {
		w.SMA /= total
		w.RSI /= total
		w.BB /= total
	}

	weightsByName := map[string]float64{"SMA": w.SMA, "RSI": w.RSI, "BB": w.BB}

	var numerator, denominator float64
	var reasons []string
	for _, name := range []string{"SMA", "RSI", "BB"} {
		s, ok := subs[name]
		if !ok {
			continue
		}
		if s.Reason != "" {
			reasons = append(reasons, s.Reason)
		}
		if s.Direction == 0 {
			continue
		}
		wi := weightsByName[name]
		numerator += float64(s.Direction) * s.Strength * wi
		denominator += wi
	}

	raw := 0.0
	if denominator > 0 {
		raw = numerator / denominator
	}

	if trend != nil && trend.Direction != 0 {
		if (raw > 0 && trend.Direction > 0) || (raw < 0 && trend.Direction < 0) {
			raw *= 1.2
		} else if raw != 0 {
			raw *= 0.7
		}
		if trend.Reason != "" {
			reasons = append(reasons, trend.Reason)
		}
	}

	confidence := min1(abs(raw))

	decision := None
	switch {
	case raw >= e.cfg.SignalThreshold:
		decision = Buy
	case raw <= -e.cfg.SignalThreshold:
		decision = Sell
	}

	return FusedSignal{
		Decision:   decision,
		RawScore:   raw,
		Confidence: confidence,
		Reasons:    reasons,
		Weights:    w,
	}
}

func roundInt(v float64) int {
	if v < 0 {
		return int(v - 0.5)
	}
	return int(v + 0.5)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func min1(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
