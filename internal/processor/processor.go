package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pauljones0/rfd-deal-digest/internal/metrics"
)

// Trigger says who asked for a run. It only changes the subject line and
// how the outcome is worded.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

const (
	SubjectScheduled = "Today's Top Deals"
	SubjectManual    = "Today's Top Deals - Test"
)

func (t Trigger) Subject() string {
	if t == TriggerManual {
		return SubjectManual
	}
	return SubjectScheduled
}

// Stage is a step of a run.
type Stage string

const (
	StageIdle        Stage = "idle"
	StageFetching    Stage = "fetching"
	StageParsing     Stage = "parsing"
	StageFormatting  Stage = "formatting"
	StageDispatching Stage = "dispatching"
	StageAborted     Stage = "aborted"
)

var (
	// ErrNoDeals covers both a failed fetch and a page with no deals.
	ErrNoDeals       = errors.New("no deals found")
	ErrNoSubscribers = errors.New("no subscribers found")
)

// Report is the outcome of one run. Err is nil on success.
type Report struct {
	RunID      string
	Trigger    Trigger
	Stage      Stage
	AbortedAt  Stage
	Deals      int
	Recipients int
	Duration   time.Duration
	Err        error
}

func (r Report) OK() bool { return r.Err == nil }

// Message is the operator-facing summary of the run.
func (r Report) Message() string {
	switch {
	case r.Err == nil && r.Trigger == TriggerManual:
		return fmt.Sprintf("Test email sent to %d subscribers!", r.Recipients)
	case r.Err == nil:
		return fmt.Sprintf("Daily email sent to %d subscribers", r.Recipients)
	case errors.Is(r.Err, ErrNoDeals):
		return "No deals found to send."
	case errors.Is(r.Err, ErrNoSubscribers):
		return "No subscribers found."
	default:
		return fmt.Sprintf("Error sending email: %v", r.Err)
	}
}

// DigestProcessor runs fetch, parse, format, subscriber lookup and
// dispatch once per call. It holds no per-run state, so concurrent runs
// are independent.
type DigestProcessor struct {
	fetcher     ListingFetcher
	parser      ListingParser
	formatter   DigestFormatter
	subscribers SubscriberLister
	dispatcher  DigestDispatcher
	listingURL  string
}

func New(f ListingFetcher, p ListingParser, fm DigestFormatter, s SubscriberLister, d DigestDispatcher, listingURL string) *DigestProcessor {
	return &DigestProcessor{
		fetcher:     f,
		parser:      p,
		formatter:   fm,
		subscribers: s,
		dispatcher:  d,
		listingURL:  listingURL,
	}
}

// Run never panics and never returns an error; failures are in the Report.
func (p *DigestProcessor) Run(ctx context.Context, trigger Trigger) (report Report) {
	report = Report{RunID: uuid.NewString(), Trigger: trigger, Stage: StageIdle}
	logger := slog.With("run_id", report.RunID, "trigger", trigger)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			report.Err = fmt.Errorf("panic during %s: %v", report.Stage, r)
			report.AbortedAt = report.Stage
			report.Stage = StageAborted
		}
		report.Duration = time.Since(start)
		p.finish(logger, &report)
	}()

	if err := p.run(ctx, logger, &report); err != nil {
		report.Err = err
		report.AbortedAt = report.Stage
		report.Stage = StageAborted
		return report
	}
	report.Stage = StageIdle
	return report
}

func (p *DigestProcessor) run(ctx context.Context, logger *slog.Logger, report *Report) error {
	report.Stage = StageFetching
	html, err := p.fetcher.Fetch(ctx, p.listingURL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoDeals, err)
	}

	report.Stage = StageParsing
	deals, err := p.parser.Parse(html)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoDeals, err)
	}
	if len(deals) == 0 {
		return ErrNoDeals
	}
	report.Deals = len(deals)
	logger.Info("Parsed deal list", "count", len(deals))

	report.Stage = StageFormatting
	body := p.formatter.Format(deals)

	report.Stage = StageDispatching
	recipients, err := p.subscribers.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoSubscribers, err)
	}
	if len(recipients) == 0 {
		return ErrNoSubscribers
	}

	if err := p.dispatcher.Send(ctx, report.Trigger.Subject(), body, recipients); err != nil {
		return err
	}
	report.Recipients = len(recipients)
	return nil
}

func (p *DigestProcessor) finish(logger *slog.Logger, report *Report) {
	outcome := "sent"
	switch {
	case report.Err == nil:
	case errors.Is(report.Err, ErrNoDeals):
		outcome = "no_deals"
	case errors.Is(report.Err, ErrNoSubscribers):
		outcome = "no_subscribers"
	default:
		outcome = "failed"
	}
	metrics.Runs.WithLabelValues(string(report.Trigger), outcome).Inc()

	if report.Err != nil {
		logger.Warn("Digest run aborted", "stage", report.AbortedAt, "error", report.Err, "elapsed", report.Duration)
		return
	}
	logger.Info("Digest run finished", "deals", report.Deals, "recipients", report.Recipients, "elapsed", report.Duration)
}
