package correlation

import (
	"testing"

	"github.com/kestrelfolio/portfoliocore/pkg/events"
	"github.com/stretchr/testify/require"
)

func feed(a *Analyzer, id string, values []float64) {
	for _, v := range values {
		a.RecordReturn(id, v, 100000)
	}
}

func TestAnalyzer_PerfectPositiveCorrelation(t *testing.T) {
	a := NewAnalyzer(DefaultConfig(), nil)
	series := []float64{0.01, 0.02, -0.01, 0.03, -0.02, 0.015}
	feed(a, "s1", series)
	feed(a, "s2", series)

	m := a.BuildCorrelationMatrix()
	require.InDelta(t, 1.0, m.Get("s1", "s2"), 1e-9)
	require.InDelta(t, 1.0, m.Get("s1", "s1"), 1e-9)
}

func TestAnalyzer_PerfectNegativeCorrelation(t *testing.T) {
	a := NewAnalyzer(DefaultConfig(), nil)
	series := []float64{0.01, 0.02, -0.01, 0.03, -0.02, 0.015}
	inverse := make([]float64, len(series))
	for i, v := range series {
		inverse[i] = -v
	}
	feed(a, "s1", series)
	feed(a, "s2", inverse)

	m := a.BuildCorrelationMatrix()
	require.InDelta(t, -1.0, m.Get("s1", "s2"), 1e-9)
}

func TestAnalyzer_InsufficientOverlapReturnsZero(t *testing.T) {
	a := NewAnalyzer(DefaultConfig(), nil)
	feed(a, "s1", []float64{0.01})
	feed(a, "s2", []float64{0.02})

	m := a.BuildCorrelationMatrix()
	require.Equal(t, 0.0, m.Get("s1", "s2"))
}

func TestAnalyzer_FindHighCorrelationPairsEmitsWarning(t *testing.T) {
	bus := events.NewBus()
	var emitted bool
	bus.Subscribe(events.TopicHighCorrelationWarn, func(payload any) { emitted = true })

	a := NewAnalyzer(DefaultConfig(), bus)
	series := []float64{0.01, 0.02, -0.01, 0.03, -0.02, 0.015}
	feed(a, "s1", series)
	feed(a, "s2", series)

	pairs := a.FindHighCorrelationPairs(0.7)
	require.Len(t, pairs, 1)
	require.True(t, emitted)
}

func TestAnalyzer_FindLowCorrelationPairs(t *testing.T) {
	a := NewAnalyzer(DefaultConfig(), nil)
	feed(a, "s1", []float64{0.01, 0.02, -0.01, 0.03, -0.02, 0.015})
	feed(a, "s2", []float64{-0.02, 0.01, 0.03, -0.015, 0.02, -0.01})

	pairs := a.FindLowCorrelationPairs(0.3)
	require.NotNil(t, pairs)
}

func TestAnalyzer_RollingWindowEvictsOldest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RollingWindow = 3
	a := NewAnalyzer(cfg, nil)
	feed(a, "s1", []float64{1, 2, 3, 4, 5})
	require.Equal(t, []float64{3, 4, 5}, a.returns["s1"].Values())
}

func TestAnalyzer_DetectCorrelationRegimeChange(t *testing.T) {
	a := NewAnalyzer(DefaultConfig(), nil)
	// First half perfectly correlated, second half perfectly anti-correlated.
	x := []float64{1, 2, 3, 4, -1, -2, -3, -4}
	y := []float64{1, 2, 3, 4, 1, 2, 3, 4}
	feed(a, "s1", x)
	feed(a, "s2", y)

	detected, delta := a.DetectCorrelationRegimeChange("s1", "s2", 0.3)
	require.True(t, detected)
	require.NotEqual(t, 0.0, delta)
}
