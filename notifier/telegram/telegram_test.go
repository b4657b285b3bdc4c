package telegram

import (
	"errors"
	"testing"
	"time"

	"github.com/jpillora/backoff"
	"github.com/kestrelfolio/portfoliocore/pkg/events"
	"github.com/kestrelfolio/portfoliocore/pkg/regime"
	"github.com/kestrelfolio/portfoliocore/pkg/risk"
	"github.com/stretchr/testify/require"
	tb "gopkg.in/tucnak/telebot.v2"
)

type fakeSender struct {
	sent      []string
	failCount int
	started   bool
	stopped   bool
}

func (f *fakeSender) Send(to tb.Recipient, what interface{}, options ...interface{}) (*tb.Message, error) {
	if f.failCount > 0 {
		f.failCount--
		return nil, errors.New("send failed")
	}
	f.sent = append(f.sent, what.(string))
	return &tb.Message{}, nil
}
func (f *fakeSender) Start() { f.started = true }
func (f *fakeSender) Stop()  { f.stopped = true }

func newTestNotifier(sender *fakeSender) *Notifier {
	return &Notifier{
		client:  sender,
		userIDs: []int64{1, 2},
		retry:   backoff.Backoff{Min: 0, Max: 0, Factor: 1},
		maxTry:  3,
	}
}

func TestBroadcast_SendsToEveryUser(t *testing.T) {
	fake := &fakeSender{}
	n := newTestNotifier(fake)
	n.broadcast("hello")
	require.Len(t, fake.sent, 2)
}

func TestBroadcast_RetriesThenSucceeds(t *testing.T) {
	fake := &fakeSender{failCount: 1}
	n := newTestNotifier(fake)
	n.userIDs = []int64{1}
	n.broadcast("hello")
	require.Len(t, fake.sent, 1)
}

func TestBroadcast_GivesUpAfterMaxAttempts(t *testing.T) {
	fake := &fakeSender{failCount: 10}
	n := newTestNotifier(fake)
	n.userIDs = []int64{1}
	n.broadcast("hello")
	require.Empty(t, fake.sent)
}

func TestOnRiskCheck_RelaysMatchingPayload(t *testing.T) {
	fake := &fakeSender{}
	n := newTestNotifier(fake)
	handler := n.onRiskCheck("RISK ALERT")
	handler(risk.RiskCheckResult{Type: risk.CheckDrawdown, Action: risk.ActionAlert, Level: risk.LevelElevated, Message: "drawdown elevated"})
	require.Len(t, fake.sent, 2)
}

func TestOnRiskCheck_IgnoresWrongPayloadType(t *testing.T) {
	fake := &fakeSender{}
	n := newTestNotifier(fake)
	handler := n.onRiskCheck("RISK ALERT")
	handler("not a risk check result")
	require.Empty(t, fake.sent)
}

func TestOnRegimeChange_RelaysOnlyExtremeTransition(t *testing.T) {
	fake := &fakeSender{}
	n := newTestNotifier(fake)

	n.onRegimeChange(regime.RegimeChangeEvent{From: regime.TrendingUp, To: regime.Ranging})
	require.Empty(t, fake.sent)

	n.onRegimeChange(regime.RegimeChangeEvent{From: regime.TrendingUp, To: regime.Extreme})
	require.Len(t, fake.sent, 2)
}

func TestAttach_WiresEveryRelayedTopic(t *testing.T) {
	fake := &fakeSender{}
	n := newTestNotifier(fake)
	bus := events.NewBus()
	n.Attach(bus)

	bus.Publish(events.TopicRiskAlert, risk.RiskCheckResult{Type: risk.CheckVaR, Level: risk.LevelHigh})
	bus.Publish(events.TopicEmergencyClose, risk.RiskCheckResult{Type: risk.CheckDrawdown, Level: risk.LevelEmergency})
	bus.Publish(events.TopicRegimeChange, regime.RegimeChangeEvent{From: regime.Ranging, To: regime.Extreme})

	require.Len(t, fake.sent, 6) // 2 users x 3 relayed events
}

func TestStartStop_DelegatesToClient(t *testing.T) {
	fake := &fakeSender{}
	n := newTestNotifier(fake)
	n.Start()
	time.Sleep(time.Millisecond)
	require.True(t, fake.started)
	n.Stop()
	require.True(t, fake.stopped)
}
