// Package indicator implements the pure, stateless indicator functions
// consumed by the regime detector and adaptive signal engine (spec §4.1).
// Moving averages, oscillators and volatility bands are thin wrappers over
// github.com/markcheno/go-talib, the indicator library the teacher repo
// wraps the same way (pkg/indicator/talib.go in the pack); Hurst exponent
// and percentile rank have no talib equivalent and are implemented
// directly (hurst.go, percentile.go).
//
// Every wrapper here returns (values, ok bool) instead of talib's raw
// zero-padded arrays: ok is false when there isn't enough input to produce
// a single valid sample, which is the InsufficientData condition from
// spec §7 — non-fatal, resolved locally by the caller, never an error.
package indicator

import "github.com/markcheno/go-talib"

// MaType represents moving average type.
type MaType = talib.MaType

const (
	TypeSMA = talib.SMA
	TypeEMA = talib.EMA
)

// SMA computes the simple moving average. Result has length
// len(values)-period+1, oldest first.
func SMA(values []float64, period int) (result []float64, ok bool) {
	if period <= 0 || period > len(values) {
		return nil, false
	}
	return talib.Sma(values, period)[period-1:], true
}

// EMA computes the exponential moving average, seeded with the SMA of the
// first `period` values per spec §4.1 (this is exactly how talib's Ema
// seeds its warmup window).
func EMA(values []float64, period int) (result []float64, ok bool) {
	if period <= 0 || period > len(values) {
		return nil, false
	}
	return talib.Ema(values, period)[period-1:], true
}

// WMA computes the weighted moving average.
func WMA(values []float64, period int) (result []float64, ok bool) {
	if period <= 0 || period > len(values) {
		return nil, false
	}
	return talib.Wma(values, period)[period-1:], true
}

// RSI computes Wilder-smoothed Relative Strength Index.
func RSI(values []float64, period int) (result []float64, ok bool) {
	if period <= 0 || period >= len(values) {
		return nil, false
	}
	return talib.Rsi(values, period)[period:], true
}

// ATR computes Wilder's Average True Range from high/low/close triples.
func ATR(high, low, close []float64, period int) (result []float64, ok bool) {
	if period <= 0 || period >= len(close) {
		return nil, false
	}
	return talib.Atr(high, low, close, period)[period:], true
}

// BollingerBands returns upper, middle (=SMA) and lower bands for the given
// period and standard-deviation multiplier.
func BollingerBands(values []float64, period int, stdDev float64) (upper, middle, lower []float64, ok bool) {
	if period <= 0 || period > len(values) {
		return nil, nil, nil, false
	}
	u, m, l := talib.BBands(values, period, stdDev, stdDev, talib.SMA)
	return u[period-1:], m[period-1:], l[period-1:], true
}

// BollingerWidth computes (upper-lower)/middle for the most recent sample
// of a band triple produced by BollingerBands.
func BollingerWidth(upper, middle, lower float64) float64 {
	if middle == 0 {
		return 0
	}
	return (upper - lower) / middle
}

// KeltnerChannels returns upper=EMA+atrMult*ATR, middle=EMA, lower=EMA-atrMult*ATR.
func KeltnerChannels(high, low, close []float64, period int, atrMult float64) (upper, middle, lower []float64, ok bool) {
	ema, emaOK := EMA(close, period)
	atr, atrOK := ATR(high, low, close, period)
	if !emaOK || !atrOK {
		return nil, nil, nil, false
	}
	n := min(len(ema), len(atr))
	ema, atr = ema[len(ema)-n:], atr[len(atr)-n:]
	upper = make([]float64, n)
	lower = make([]float64, n)
	for i := range n {
		upper[i] = ema[i] + atrMult*atr[i]
		lower[i] = ema[i] - atrMult*atr[i]
	}
	return upper, ema, lower, true
}

// ADX returns ADX, +DI and -DI (Wilder's standard trend-strength triplet).
func ADX(high, low, close []float64, period int) (adx, pdi, mdi []float64, ok bool) {
	// talib's ADX needs roughly 2*period samples to settle.
	if period <= 0 || 2*period >= len(close) {
		return nil, nil, nil, false
	}
	a := talib.Adx(high, low, close, period)
	p := talib.PlusDI(high, low, close, period)
	m := talib.MinusDI(high, low, close, period)
	start := 2 * period
	return a[start:], p[start:], m[start:], true
}

// MACD returns the MACD line, signal line and histogram.
func MACD(values []float64, fast, slow, signal int) (macd, sig, hist []float64, ok bool) {
	if slow <= 0 || slow+signal >= len(values) {
		return nil, nil, nil, false
	}
	m, s, h := talib.Macd(values, fast, slow, signal)
	start := slow + signal - 1
	return m[start:], s[start:], h[start:], true
}

// Stochastic returns %K and %D.
func Stochastic(high, low, close []float64, fastK, slowK, slowD int) (k, d []float64, ok bool) {
	if fastK <= 0 || fastK >= len(close) {
		return nil, nil, false
	}
	kk, dd := talib.Stoch(high, low, close, fastK, slowK, talib.SMA, slowD, talib.SMA)
	start := fastK + slowK + slowD - 2
	if start >= len(kk) {
		return nil, nil, false
	}
	return kk[start:], dd[start:], true
}

// CCI computes the Commodity Channel Index.
func CCI(high, low, close []float64, period int) (result []float64, ok bool) {
	if period <= 0 || period >= len(close) {
		return nil, false
	}
	return talib.Cci(high, low, close, period)[period:], true
}

// OBV computes On-Balance Volume.
func OBV(close, volume []float64) []float64 {
	return talib.Obv(close, volume)
}

// MFI computes the Money Flow Index.
func MFI(high, low, close, volume []float64, period int) (result []float64, ok bool) {
	if period <= 0 || period >= len(close) {
		return nil, false
	}
	return talib.Mfi(high, low, close, volume, period)[period:], true
}

// TrueRange computes the single-bar True Range = max(high-low, |high-prevClose|, |low-prevClose|).
func TrueRange(high, low, prevClose float64) float64 {
	tr := high - low
	if d := abs(high - prevClose); d > tr {
		tr = d
	}
	if d := abs(low - prevClose); d > tr {
		tr = d
	}
	return tr
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
