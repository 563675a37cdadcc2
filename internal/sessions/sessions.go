// Package sessions tracks per-visitor session durations with an idle timeout.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"viewmill/internal/pkg/keymutex"
)

// DefaultIdleWindow closes a session after this much inactivity.
const DefaultIdleWindow = 30 * time.Minute

// UserSession is one session row. IdleTimeout 0 means open, 1 means closed;
// closed rows are kept as history. A partial unique index (created in the
// database migration) allows at most one open row per (user_hash, website_id).
type UserSession struct {
	ID             uint      `gorm:"primaryKey;autoIncrement"`
	UserHash       string    `gorm:"index:idx_user_sessions_pair;size:128;not null"`
	WebsiteID      string    `gorm:"index:idx_user_sessions_pair;size:64;not null"`
	StartedAt      time.Time `gorm:"not null"`
	LastActivityAt time.Time `gorm:"not null"`
	IdleTimeout    int       `gorm:"not null;default:0"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Store drives the session state machine. Every transition is a conditional
// UPDATE or constrained INSERT, so correctness holds under any interleaving;
// the keyed mutex only reduces wasted round-trips within this process.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	locks  *keymutex.KeyMutex
	idle   time.Duration
}

// NewStore wraps an open gorm connection owned by the caller. idle <= 0
// selects DefaultIdleWindow.
func NewStore(db *gorm.DB, logger *slog.Logger, idle time.Duration) *Store {
	if idle <= 0 {
		idle = DefaultIdleWindow
	}
	return &Store{
		db:     db,
		logger: logger,
		locks:  keymutex.New(128),
		idle:   idle,
	}
}

// Transition names what Touch did to the pair's session state.
type Transition int

const (
	// Extended means the open session's last activity moved forward.
	Extended Transition = iota
	// Opened means a fresh session started with no prior open row.
	Opened
	// Reopened means an idle session was closed and a fresh one started.
	Reopened
)

// Touch applies one event at time at to the pair's session state:
// no session -> open a new one; open within the idle window -> extend; open
// but idle -> close it (its last activity keeps the pre-gap value) and open a
// fresh one starting at at.
func (s *Store) Touch(ctx context.Context, userHash, websiteID string, at time.Time) (Transition, error) {
	key := userHash + "@" + websiteID
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	at = at.UTC()
	cutoff := at.Add(-s.idle)

	extended, err := s.extend(ctx, userHash, websiteID, at, cutoff)
	if err != nil {
		return Extended, err
	}
	if extended {
		return Extended, nil
	}

	closed, err := s.closeIdle(ctx, userHash, websiteID, cutoff)
	if err != nil {
		return Extended, err
	}
	transition := Opened
	if closed {
		transition = Reopened
	}

	err = s.db.WithContext(ctx).Exec(`
		INSERT INTO user_sessions (user_hash, website_id, started_at, last_activity_at, idle_timeout, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)
	`, userHash, websiteID, at, at, at, at).Error
	if err != nil {
		// The partial unique index rejected the insert: a concurrent worker
		// opened a session for the pair first. Ride on that row instead.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			extended, err = s.extend(ctx, userHash, websiteID, at, cutoff)
			if err != nil {
				return Extended, err
			}
			if extended {
				return Extended, nil
			}
			return Extended, fmt.Errorf("session open race unresolved for website %s", websiteID)
		}
		return transition, fmt.Errorf("open session: %w", err)
	}

	s.logger.Debug("Opened session",
		slog.String("website_id", websiteID),
		slog.Time("started_at", at))
	return transition, nil
}

// extend advances last_activity_at on the open row, but only when its last
// activity is within the idle window; a stale open row is never silently
// revived.
func (s *Store) extend(ctx context.Context, userHash, websiteID string, at, cutoff time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Exec(`
		UPDATE user_sessions
		SET last_activity_at = ?, updated_at = ?
		WHERE user_hash = ? AND website_id = ? AND idle_timeout = 0 AND last_activity_at >= ?
	`, at, at, userHash, websiteID, cutoff)
	if res.Error != nil {
		return false, fmt.Errorf("extend session: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// closeIdle closes an open row that idled out. last_activity_at is left at
// the last real event before the gap.
func (s *Store) closeIdle(ctx context.Context, userHash, websiteID string, cutoff time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Exec(`
		UPDATE user_sessions
		SET idle_timeout = 1, updated_at = ?
		WHERE user_hash = ? AND website_id = ? AND idle_timeout = 0 AND last_activity_at < ?
	`, time.Now().UTC(), userHash, websiteID, cutoff)
	if res.Error != nil {
		return false, fmt.Errorf("close idle session: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// SweepIdle closes every open session, for any pair, whose last activity is
// older than the idle window as of now. Used by the background sweeper so
// sessions end even when no further event arrives; the condition matches
// closeIdle, so the sweep cannot race Touch into closing a live session.
func (s *Store) SweepIdle(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Exec(`
		UPDATE user_sessions
		SET idle_timeout = 1, updated_at = ?
		WHERE idle_timeout = 0 AND last_activity_at < ?
	`, now.UTC(), now.UTC().Add(-s.idle))
	if res.Error != nil {
		return 0, fmt.Errorf("sweep idle sessions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// OpenSession fetches the open row for a pair, or gorm.ErrRecordNotFound.
func (s *Store) OpenSession(ctx context.Context, userHash, websiteID string) (*UserSession, error) {
	var session UserSession
	err := s.db.WithContext(ctx).
		Where("user_hash = ? AND website_id = ? AND idle_timeout = 0", userHash, websiteID).
		First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}
