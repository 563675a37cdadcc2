// Package pipeline sequences the per-event processing steps: decode,
// identity, uniqueness, bucket creation, counter merge, session touch.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"viewmill/internal/aggregates"
	"viewmill/internal/clock"
	"viewmill/internal/events"
	"viewmill/internal/metrics"
	"viewmill/internal/pkg/referrers"
	"viewmill/internal/sessions"
	"viewmill/internal/visitors"
)

// UniquenessTracker answers, atomically, whether a visitor signature was
// already known for a website and marks it known.
type UniquenessTracker interface {
	CheckAndMarkSeen(ctx context.Context, hash, websiteID string) (bool, error)
}

// AggregateStore owns the hourly rollup rows and the first-seen visitor log.
type AggregateStore interface {
	EnsureBucket(ctx context.Context, websiteID string, hour time.Time) error
	ApplyIncrement(ctx context.Context, websiteID string, hour time.Time, inc aggregates.Increment) error
	RecordVisitor(ctx context.Context, websiteID, userHash string) error
}

// SessionTracker applies one event to the visitor's session state.
type SessionTracker interface {
	Touch(ctx context.Context, userHash, websiteID string, at time.Time) (sessions.Transition, error)
}

// BrowserClassifier labels a user agent string.
type BrowserClassifier interface {
	Classify(userAgent string) string
}

// CountryResolver maps an IP address to an ISO alpha-2 country code, or ""
// when unknown.
type CountryResolver interface {
	CountryCode(ipAddr string) string
}

// CountryNormalizer validates a country code into its canonical form.
type CountryNormalizer interface {
	Normalize(code string) string
}

// Config wires a Processor. Tracker, Aggregates, Sessions, Classifier and
// Countries are required; Geo may be nil when no IP database is configured.
type Config struct {
	Tracker    UniquenessTracker
	Aggregates AggregateStore
	Sessions   SessionTracker
	Classifier BrowserClassifier
	Geo        CountryResolver
	Countries  CountryNormalizer
	Clock      clock.Clock
	Metrics    metrics.Sink
	Logger     *slog.Logger
}

// Processor runs the event pipeline. Every step is idempotent or
// commutative, so a redelivered message that was already partially processed
// converges to the same final state.
type Processor struct {
	cfg Config
}

// NewProcessor validates and captures the wiring.
func NewProcessor(cfg Config) *Processor {
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoopSink()
	}
	return &Processor{cfg: cfg}
}

// Process handles one raw queue message end to end. A returned
// events.MalformedError means the payload can never succeed; any other error
// is transient and the message should be retried.
func (p *Processor) Process(ctx context.Context, raw []byte) error {
	started := p.cfg.Clock.NowUTC()

	pv, err := events.Decode(raw)
	if err != nil {
		p.cfg.Metrics.EventMalformed()
		p.cfg.Logger.Warn("Discarding malformed event", slog.String("error", err.Error()))
		return err
	}

	hash := visitors.Signature(pv.Hostname, pv.UserAgent, pv.IPAddr, pv.WebsiteID)

	first, err := p.cfg.Tracker.CheckAndMarkSeen(ctx, hash, pv.WebsiteID)
	if err != nil {
		p.cfg.Metrics.EventFailed()
		return fmt.Errorf("check visitor uniqueness: %w", err)
	}
	if first {
		if err := p.cfg.Aggregates.RecordVisitor(ctx, pv.WebsiteID, hash); err != nil {
			p.cfg.Metrics.EventFailed()
			return err
		}
	}

	now := p.cfg.Clock.NowUTC()
	hour := p.cfg.Clock.HourOf(now)
	if err := p.cfg.Aggregates.EnsureBucket(ctx, pv.WebsiteID, hour); err != nil {
		p.cfg.Metrics.EventFailed()
		return err
	}

	inc := aggregates.Increment{
		Referer:     referrers.Label(pv.Referer),
		Page:        pv.Page,
		CountryCode: p.resolveCountry(pv),
		Browser:     p.cfg.Classifier.Classify(pv.UserAgent),
		Unique:      first,
	}
	if err := p.cfg.Aggregates.ApplyIncrement(ctx, pv.WebsiteID, hour, inc); err != nil {
		p.cfg.Metrics.EventFailed()
		return err
	}

	transition, err := p.cfg.Sessions.Touch(ctx, hash, pv.WebsiteID, now)
	if err != nil {
		p.cfg.Metrics.EventFailed()
		return err
	}
	switch transition {
	case sessions.Opened:
		p.cfg.Metrics.SessionOpened()
	case sessions.Reopened:
		p.cfg.Metrics.SessionClosed(1)
		p.cfg.Metrics.SessionOpened()
	default:
		p.cfg.Metrics.SessionExtended()
	}

	p.cfg.Metrics.EventProcessed(first, p.cfg.Clock.NowUTC().Sub(started))
	p.cfg.Logger.Debug("Processed page view",
		slog.String("website_id", pv.WebsiteID),
		slog.String("page", pv.Page),
		slog.Bool("unique", first))
	return nil
}

// resolveCountry prefers the code carried on the event, falls back to IP
// lookup, and always normalizes the result.
func (p *Processor) resolveCountry(pv *events.PageView) string {
	code := pv.CountryCode
	if code == "" && p.cfg.Geo != nil {
		code = p.cfg.Geo.CountryCode(pv.IPAddr)
	}
	return p.cfg.Countries.Normalize(code)
}
