package jobs

import (
	"context"
	"log/slog"
	"time"

	"viewmill/internal/metrics"
)

// SessionSweeper closes sessions whose visitors went quiet, so durations
// stay bounded even when no further event arrives for the pair.
type SessionSweeper struct {
	store   SweepStore
	metrics metrics.Sink
	logger  *slog.Logger
}

// SweepStore is the slice of the session store the sweeper needs.
type SweepStore interface {
	SweepIdle(ctx context.Context, now time.Time) (int64, error)
}

// NewSessionSweeper wires the sweeper job.
func NewSessionSweeper(store SweepStore, sink metrics.Sink, logger *slog.Logger) *SessionSweeper {
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	return &SessionSweeper{store: store, metrics: sink, logger: logger}
}

func (j *SessionSweeper) Name() string { return "session_sweeper" }

// Run closes every session idle past the window as of now.
func (j *SessionSweeper) Run(ctx context.Context) error {
	closed, err := j.store.SweepIdle(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	if closed > 0 {
		j.metrics.SessionClosed(int(closed))
		j.logger.Info("Closed idle sessions", slog.Int64("count", closed))
	}
	return nil
}
