// Package telegram relays the portfolio coordination core's risk and
// regime events to a Telegram chat. It is a pure consumer of the event
// topology (pkg/events) — it never imports pkg/portfolio and is never
// imported by a core package, so the core builds and runs with no
// knowledge of whether a notifier is attached.
//
// Grounded on notification/telegram.go's bot wiring and authorized-user
// middleware, trimmed of its order-control command handlers (/buy,
// /sell, /start, /stop): relaying risk alerts is read-only, order
// placement stays the operator's concern.
package telegram

import (
	"fmt"
	"strings"
	"time"

	"github.com/jpillora/backoff"
	"github.com/kestrelfolio/portfoliocore/pkg/events"
	"github.com/kestrelfolio/portfoliocore/pkg/logger"
	"github.com/kestrelfolio/portfoliocore/pkg/regime"
	"github.com/kestrelfolio/portfoliocore/pkg/risk"
	tb "gopkg.in/tucnak/telebot.v2"
)

// botSender is the subset of *tb.Bot's surface the notifier needs,
// factored out so tests can substitute a fake instead of authenticating
// a real bot.
type botSender interface {
	Send(to tb.Recipient, what interface{}, options ...interface{}) (*tb.Message, error)
	Start()
	Stop()
}

// Notifier relays portfolio-core events to a fixed set of authorized
// Telegram users.
type Notifier struct {
	client  botSender
	userIDs []int64
	log     logger.Logger
	retry   backoff.Backoff
	maxTry  int
}

// Option configures a Notifier at construction.
type Option func(*Notifier)

// WithLogger attaches a logger for send-failure diagnostics. Defaults to
// a no-op (nil-safe) logger when omitted.
func WithLogger(log logger.Logger) Option {
	return func(n *Notifier) { n.log = log }
}

// WithRetry overrides the backoff policy and max attempt count used when
// relaying a message fails transiently. Defaults to a 500ms-8s
// exponential backoff over 3 attempts.
func WithRetry(min, max time.Duration, maxAttempts int) Option {
	return func(n *Notifier) {
		n.retry = backoff.Backoff{Min: min, Max: max, Factor: 2, Jitter: true}
		n.maxTry = maxAttempts
	}
}

// NewNotifier creates and authenticates a Telegram bot client for the
// given token, restricted to userIDs.
func NewNotifier(token string, userIDs []int64, opts ...Option) (*Notifier, error) {
	client, err := tb.NewBot(tb.Settings{
		Token:     token,
		Poller:    &tb.LongPoller{Timeout: 10 * time.Second},
		ParseMode: tb.ModeMarkdown,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: failed to create bot: %w", err)
	}

	n := &Notifier{
		client:  client,
		userIDs: append([]int64(nil), userIDs...),
		retry:   backoff.Backoff{Min: 500 * time.Millisecond, Max: 8 * time.Second, Factor: 2, Jitter: true},
		maxTry:  3,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Attach subscribes the notifier to every event topic it relays. Safe to
// call once per Notifier; the underlying bus delivers events
// synchronously in the calling goroutine, so a slow Telegram send blocks
// whatever triggered the event (the risk manager's periodic check, the
// regime detector's update) until it returns.
func (n *Notifier) Attach(bus *events.Bus) {
	bus.Subscribe(events.TopicRiskAlert, n.onRiskCheck("RISK ALERT"))
	bus.Subscribe(events.TopicEmergencyClose, n.onRiskCheck("EMERGENCY CLOSE"))
	bus.Subscribe(events.TopicReduceAll, n.onRiskCheck("REDUCE ALL"))
	bus.Subscribe(events.TopicReduceExposure, n.onRiskCheck("REDUCE EXPOSURE"))
	bus.Subscribe(events.TopicRegimeChange, n.onRegimeChange)
}

// Start begins polling for updates in the background. Since this
// notifier registers no command handlers, Start exists only so a future
// interactive command (e.g. /status) has somewhere to hook in; today it
// simply keeps the bot's long-poller alive.
func (n *Notifier) Start() {
	go n.client.Start()
}

// Stop halts the long-poller.
func (n *Notifier) Stop() {
	n.client.Stop()
}

func (n *Notifier) onRiskCheck(title string) events.Handler {
	return func(payload any) {
		result, ok := payload.(risk.RiskCheckResult)
		if !ok {
			return
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "*%s*\n-----\n", title)
		fmt.Fprintf(&sb, "Type: `%s`\n", result.Type)
		fmt.Fprintf(&sb, "Action: `%s`\n", result.Action)
		fmt.Fprintf(&sb, "Level: `%s`\n", result.Level)
		if result.Message != "" {
			fmt.Fprintf(&sb, "%s\n", result.Message)
		}
		n.broadcast(sb.String())
	}
}

// onRegimeChange relays only a transition into the Extreme regime — the
// one regime change severe enough to warrant an interruption (spec
// §4.8's "Extreme" halt), per the supplemented feature's scope.
func (n *Notifier) onRegimeChange(payload any) {
	event, ok := payload.(regime.RegimeChangeEvent)
	if !ok || event.To != regime.Extreme {
		return
	}
	n.broadcast(fmt.Sprintf("*REGIME CHANGE*\n-----\n`%s` -> `%s`", event.From, event.To))
}

// broadcast sends text to every authorized user, retrying transient send
// failures with backoff before giving up and logging.
func (n *Notifier) broadcast(text string) {
	for _, id := range n.userIDs {
		n.sendWithRetry(&tb.User{ID: id}, text)
	}
}

func (n *Notifier) sendWithRetry(to *tb.User, text string) {
	retry := n.retry
	retry.Reset()

	var lastErr error
	for attempt := 0; attempt < n.maxTry; attempt++ {
		if _, err := n.client.Send(to, text); err != nil {
			lastErr = err
			time.Sleep(retry.Duration())
			continue
		}
		return
	}
	if lastErr != nil && n.log != nil {
		n.log.WithError(lastErr).WithField("user", to.ID).Error("telegram: failed to relay notification")
	}
}
