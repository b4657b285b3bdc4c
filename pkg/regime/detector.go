package regime

import (
	"math"

	"github.com/kestrelfolio/portfoliocore/pkg/core"
	"github.com/kestrelfolio/portfoliocore/pkg/events"
	"github.com/kestrelfolio/portfoliocore/pkg/indicator"
	"github.com/kestrelfolio/portfoliocore/pkg/logger"
)

// Detector classifies bars into regimes with hysteresis. It is
// single-symbol, single-instance, and not safe for concurrent Update calls
// from multiple goroutines (the portfolio manager serializes bar delivery
// the same way the teacher's strategy controller feeds one candle at a
// time into its registered strategies).
type Detector struct {
	cfg Config
	bus *events.Bus
	log logger.Logger

	current Regime

	pendingCandidate Regime
	pendingCount     int

	bbWidthHistory *core.RollingWindow[float64]
	atrHistory     *core.RollingWindow[float64]
	history        *core.RollingWindow[State]
}

// NewDetector creates a Detector starting in Ranging (the neutral regime)
// with no pending transition.
func NewDetector(cfg Config, bus *events.Bus, log logger.Logger) *Detector {
	return &Detector{
		cfg:            cfg,
		bus:            bus,
		log:            log,
		current:        Ranging,
		bbWidthHistory: core.NewRollingWindow[float64](cfg.BBWidthLookback),
		atrHistory:     core.NewRollingWindow[float64](cfg.AtrLookback),
		history:        core.NewRollingWindow[State](500),
	}
}

// History returns up to the last 500 classifications, oldest first.
func (d *Detector) History() []State { return d.history.Values() }

// Current returns the currently confirmed regime.
func (d *Detector) Current() Regime { return d.current }

// Update classifies currentBar given the bars preceding it (oldest first,
// not including currentBar), per spec §4.2.
func (d *Detector) Update(currentBar core.Bar, history []core.Bar) State {
	bars := make([]core.Bar, 0, len(history)+1)
	bars = append(bars, history...)
	bars = append(bars, currentBar)

	required := d.cfg.requiredHistory()
	if len(bars) < required {
		return State{Regime: d.current, PrevRegime: d.current, Confidence: 0, Reason: "insufficient data"}
	}

	closes := make([]float64, len(bars))
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
		highs[i] = b.High
		lows[i] = b.Low
	}

	ind := d.computeIndicators(highs, lows, closes)

	candidate := d.classify(ind)
	confirmed, changed := d.debounce(candidate)

	state := State{
		Regime:         confirmed,
		PrevRegime:     d.current,
		Indicators:     ind,
		Confidence:     confidence(confirmed, ind, d.cfg),
		Recommendation: recommendation(confirmed),
	}

	if changed {
		prev := d.current
		d.current = confirmed
		state.PrevRegime = prev
		d.emitTransition(prev, confirmed)
	}

	d.history.Push(state)
	return state
}

func (d *Detector) computeIndicators(highs, lows, closes []float64) Indicators {
	var ind Indicators

	if adx, pdi, mdi, ok := indicator.ADX(highs, lows, closes, d.cfg.AdxPeriod); ok {
		ind.ADX = adx[len(adx)-1]
		ind.PDI = pdi[len(pdi)-1]
		ind.MDI = mdi[len(mdi)-1]
	}

	if upper, middle, lower, ok := indicator.BollingerBands(closes, d.cfg.BBPeriod, 2); ok {
		width := indicator.BollingerWidth(upper[len(upper)-1], middle[len(middle)-1], lower[len(lower)-1])
		d.bbWidthHistory.Push(width)
		ind.BBWidth = width
		ind.BBWidthPercentile = indicator.Percentile(width, d.bbWidthHistory.Values())
	}

	if atr, ok := indicator.ATR(highs, lows, closes, d.cfg.AtrPeriod); ok {
		last := atr[len(atr)-1]
		close := closes[len(closes)-1]
		normalizedATR := 0.0
		if close != 0 {
			normalizedATR = 100 * last / close
		}
		d.atrHistory.Push(normalizedATR)
		ind.ATR = normalizedATR
		ind.ATRPercentile = indicator.Percentile(normalizedATR, d.atrHistory.Values())
	}

	ind.VolatilityIndex = (ind.BBWidthPercentile + ind.ATRPercentile) / 2

	if fast, ok := indicator.EMA(closes, d.cfg.FastMAPeriod); ok {
		if slow, ok2 := indicator.SMA(closes, d.cfg.SlowMAPeriod); ok2 {
			f := fast[len(fast)-1]
			s := slow[len(slow)-1]
			if s != 0 {
				ind.MASpread = 100 * (f - s) / s
			}
		}
	}

	hurstWindow := closes
	if d.cfg.HurstPeriod > 0 && d.cfg.HurstPeriod < len(closes) {
		hurstWindow = closes[len(closes)-d.cfg.HurstPeriod:]
	}
	ind.Hurst = indicator.HurstExponent(hurstWindow, 10)

	if rsi, ok := indicator.RSI(closes, d.cfg.RSIPeriod); ok {
		ind.RSI = rsi[len(rsi)-1]
	}

	if n := d.cfg.MomentumBars; n > 0 && len(closes) > n {
		prior := closes[len(closes)-1-n]
		if prior != 0 {
			ind.Momentum = 100 * (closes[len(closes)-1] - prior) / prior
		}
	}

	return ind
}

// classify applies the candidate-regime decision rules; first match wins.
func (d *Detector) classify(ind Indicators) Regime {
	switch {
	case ind.VolatilityIndex >= d.cfg.ExtremeVolPercentile:
		return Extreme
	case ind.VolatilityIndex >= d.cfg.HighVolPercentile:
		return HighVolatility
	case ind.ADX >= d.cfg.AdxTrendThreshold && ind.PDI > ind.MDI && ind.MASpread > d.cfg.MaSpreadThreshold:
		return TrendingUp
	case ind.ADX >= d.cfg.AdxTrendThreshold && ind.MDI > ind.PDI && ind.MASpread < -d.cfg.MaSpreadThreshold:
		return TrendingDown
	default:
		return Ranging
	}
}

// debounce applies the state-machine hysteresis of spec §4.2 step 4,
// returning the confirmed regime for this tick and whether it changed
// from d.current.
func (d *Detector) debounce(candidate Regime) (confirmed Regime, changed bool) {
	if candidate == d.current {
		d.pendingCandidate = ""
		d.pendingCount = 0
		return d.current, false
	}

	if candidate == Extreme {
		return candidate, true
	}

	if d.current == Extreme {
		if candidate == d.pendingCandidate {
			d.pendingCount++
		} else {
			d.pendingCandidate = candidate
			d.pendingCount = 1
		}
		if d.pendingCount >= d.cfg.MinRegimeDuration {
			d.pendingCandidate = ""
			d.pendingCount = 0
			return candidate, true
		}
		return d.current, false
	}

	if candidate == d.pendingCandidate {
		d.pendingCount++
	} else {
		d.pendingCandidate = candidate
		d.pendingCount = 1
	}
	if d.pendingCount >= d.cfg.MinRegimeDuration {
		d.pendingCandidate = ""
		d.pendingCount = 0
		return candidate, true
	}
	return d.current, false
}

func (d *Detector) emitTransition(prev, next Regime) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(events.TopicRegimeChange, RegimeChangeEvent{From: prev, To: next})

	if next == Extreme {
		d.bus.Publish(events.TopicExtremeDetected, RegimeChangeEvent{From: prev, To: next})
	}
	if next == HighVolatility || next == Extreme {
		d.bus.Publish(events.TopicVolatilitySpike, RegimeChangeEvent{From: prev, To: next})
	}
	if (prev == TrendingUp && next == TrendingDown) || (prev == TrendingDown && next == TrendingUp) {
		d.bus.Publish(events.TopicTrendReversal, RegimeChangeEvent{From: prev, To: next})
	}
}

// RegimeChangeEvent is the payload published on TopicRegimeChange,
// TopicExtremeDetected, TopicVolatilitySpike and TopicTrendReversal.
type RegimeChangeEvent struct {
	From Regime
	To   Regime
}

// confidence implements spec §4.2 step 7, clamped to [0,100].
func confidence(r Regime, ind Indicators, cfg Config) float64 {
	base := 50.0
	switch r {
	case TrendingUp, TrendingDown:
		base += clampMin0((ind.ADX-cfg.AdxTrendThreshold)*1.5, 25)
		if ind.Hurst > 0.55 {
			base += 15
		}
	case Ranging:
		base += clampMin0((cfg.AdxTrendThreshold-ind.ADX)*2, 25)
		if ind.Hurst < 0.45 {
			base += 15
		}
	case HighVolatility, Extreme:
		base += clampMin0((ind.VolatilityIndex-75)*1.5, 30)
	}
	return clamp01to100(base)
}

func clampMin0(v, max float64) float64 {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

func clamp01to100(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	if math.IsNaN(v) {
		return 50
	}
	return v
}

func recommendation(r Regime) string {
	switch r {
	case TrendingUp, TrendingDown:
		return "favor trend-following signals; trail stops with the prevailing direction"
	case Ranging:
		return "favor mean-reversion signals; tighten bands around the range"
	case HighVolatility:
		return "reduce position sizing; widen stops"
	case Extreme:
		return "halt new entries; evaluate de-risking existing positions"
	default:
		return ""
	}
}
