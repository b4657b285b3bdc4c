package report

import (
	"io"

	"github.com/kestrelfolio/portfoliocore/pkg/events"
	"github.com/kestrelfolio/portfoliocore/pkg/logger"
	"github.com/kestrelfolio/portfoliocore/pkg/portfolio"
)

// Reporter subscribes to TopicReportGenerated and writes each rendered
// snapshot to an output writer (stdout in production), logging a
// one-line notice through the shared logger as it does so.
type Reporter struct {
	out io.Writer
	log logger.Logger
}

// NewReporter creates a Reporter writing to out.
func NewReporter(out io.Writer, log logger.Logger) *Reporter {
	return &Reporter{out: out, log: log}
}

// Attach subscribes the reporter to bus's TopicReportGenerated topic.
func (r *Reporter) Attach(bus *events.Bus) {
	bus.Subscribe(events.TopicReportGenerated, func(payload any) {
		event, ok := payload.(portfolio.ReportEvent)
		if !ok {
			return
		}
		r.log.Info("report generated")
		io.WriteString(r.out, Render(event))
	})
}
