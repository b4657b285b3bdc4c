package regime

import (
	"testing"

	"github.com/kestrelfolio/portfoliocore/pkg/core"
	"github.com/kestrelfolio/portfoliocore/pkg/events"
	"github.com/stretchr/testify/require"
)

func flatBars(n int, price float64) []core.Bar {
	bars := make([]core.Bar, n)
	for i := range bars {
		bars[i] = core.Bar{Symbol: "TEST", Timestamp: int64(i), Open: price, High: price, Low: price, Close: price, Volume: 1}
	}
	return bars
}

func trendingBars(n int, start, step float64) []core.Bar {
	bars := make([]core.Bar, n)
	price := start
	for i := range bars {
		bars[i] = core.Bar{
			Symbol: "TEST", Timestamp: int64(i),
			Open: price, Close: price + step, High: price + step + 0.1, Low: price - 0.1, Volume: 1,
		}
		price += step
	}
	return bars
}

func TestDetector_InsufficientData(t *testing.T) {
	d := NewDetector(DefaultConfig(), nil, nil)
	bars := flatBars(5, 100)
	state := d.Update(bars[len(bars)-1], bars[:len(bars)-1])
	require.Equal(t, 0.0, state.Confidence)
	require.Equal(t, "insufficient data", state.Reason)
}

func TestDetector_DebounceRequiresConsecutiveCandidates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinRegimeDuration = 3
	d := NewDetector(cfg, nil, nil)
	bars := trendingBars(200, 100, 0.8)

	var lastState State
	for i := cfg.requiredHistory(); i < len(bars); i++ {
		lastState = d.Update(bars[i], bars[:i])
	}

	// A strongly, steadily trending series should confirm a trend regime
	// eventually, never leaving the state machine stuck on a single
	// candidate observation.
	require.Equal(t, TrendingUp, lastState.Regime)
}

func TestDetector_ExtremeEntryIsImmediate(t *testing.T) {
	cfg := DefaultConfig()
	d := NewDetector(cfg, nil, nil)
	d.current = Ranging

	// Force classify() to report Extreme directly via debounce, bypassing
	// indicator computation, to isolate the state-machine rule under test:
	// entry into Extreme never waits for MinRegimeDuration confirmations.
	confirmed, changed := d.debounce(Extreme)
	require.True(t, changed)
	require.Equal(t, Extreme, confirmed)
}

func TestDetector_ExtremeExitRequiresMinRegimeDuration(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinRegimeDuration = 3
	d := NewDetector(cfg, nil, nil)
	d.current = Extreme

	confirmed, changed := d.debounce(Ranging)
	require.False(t, changed)
	require.Equal(t, Extreme, confirmed)

	confirmed, changed = d.debounce(Ranging)
	require.False(t, changed)
	require.Equal(t, Extreme, confirmed)

	confirmed, changed = d.debounce(Ranging)
	require.True(t, changed)
	require.Equal(t, Ranging, confirmed)
}

func TestDetector_DebounceMismatchResetsCounter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinRegimeDuration = 3
	d := NewDetector(cfg, nil, nil)
	d.current = Ranging

	_, changed := d.debounce(TrendingUp)
	require.False(t, changed)
	_, changed = d.debounce(TrendingDown) // mismatch resets counter to 1 with new candidate
	require.False(t, changed)
	require.Equal(t, TrendingDown, d.pendingCandidate)
	require.Equal(t, 1, d.pendingCount)
}

func TestDetector_EmitsRegimeChangeEvent(t *testing.T) {
	bus := events.NewBus()
	var received []RegimeChangeEvent
	bus.Subscribe(events.TopicRegimeChange, func(payload any) {
		received = append(received, payload.(RegimeChangeEvent))
	})

	cfg := DefaultConfig()
	cfg.MinRegimeDuration = 1
	d := NewDetector(cfg, bus, nil)
	d.current = Ranging

	d.emitTransition(Ranging, Extreme)
	require.Len(t, received, 1)
	require.Equal(t, Ranging, received[0].From)
	require.Equal(t, Extreme, received[0].To)
}

func TestDetector_EmitsTrendReversalOnUpDownFlip(t *testing.T) {
	bus := events.NewBus()
	var sawReversal bool
	bus.Subscribe(events.TopicTrendReversal, func(payload any) {
		sawReversal = true
	})

	d := NewDetector(DefaultConfig(), bus, nil)
	d.emitTransition(TrendingUp, TrendingDown)
	require.True(t, sawReversal)
}

func TestConfidence_ClampedToRange(t *testing.T) {
	cfg := DefaultConfig()
	ind := Indicators{ADX: 100, Hurst: 0.9}
	c := confidence(TrendingUp, ind, cfg)
	require.GreaterOrEqual(t, c, 0.0)
	require.LessOrEqual(t, c, 100.0)
}
