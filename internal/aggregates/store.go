// Package aggregates owns the per-(website, hour) rollup rows and the
// first-seen visitor log.
package aggregates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"viewmill/internal/clock"
	"viewmill/internal/pkg/keymutex"
)

// DirectReferer is the bucket key recorded for events without a referer.
const DirectReferer = "Direct"

// Store executes the bucket lifecycle against Postgres. The keyed mutex only
// spares redundant round-trips within this process; the unique index and the
// idempotent insert are what actually guarantee one row per (website, hour)
// across instances.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	locks  *keymutex.KeyMutex
}

// NewStore wraps an open gorm connection owned by the caller.
func NewStore(db *gorm.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
		locks:  keymutex.New(128),
	}
}

func bucketKey(websiteID string, hour time.Time) string {
	return websiteID + "@" + clock.FormatHour(hour)
}

func (s *Store) bucketExists(ctx context.Context, websiteID string, hour time.Time) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&HourlyStat{}).
		Where("website_id = ? AND hour = ?", websiteID, hour).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// EnsureBucket guarantees that exactly one zeroed aggregate row exists for
// (websiteID, hour) once it returns. Existence check, per-key critical
// section, re-check, then an insert that ignores the conflict when a caller
// in another process won the race.
func (s *Store) EnsureBucket(ctx context.Context, websiteID string, hour time.Time) error {
	exists, err := s.bucketExists(ctx, websiteID, hour)
	if err != nil {
		return fmt.Errorf("check hour bucket: %w", err)
	}
	if exists {
		return nil
	}

	key := bucketKey(websiteID, hour)
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	// Re-check inside the critical section: another worker may have created
	// the row while we waited for the lock.
	exists, err = s.bucketExists(ctx, websiteID, hour)
	if err != nil {
		return fmt.Errorf("recheck hour bucket: %w", err)
	}
	if exists {
		return nil
	}

	now := time.Now().UTC()
	err = s.db.WithContext(ctx).Exec(`
		INSERT INTO hourly_stats (website_id, hour, views, unique_views, referers, pages, country_codes, browsers, created_at, updated_at)
		VALUES (?, ?, 0, 0, '{}', '{}', '{}', '{}', ?, ?)
		ON CONFLICT (website_id, hour) DO NOTHING
	`, websiteID, hour.UTC(), now, now).Error
	if err != nil {
		// A duplicate key here means a caller on another instance won the
		// race between our re-check and the insert. Normal outcome.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil
		}
		return fmt.Errorf("create hour bucket: %w", err)
	}

	s.logger.Debug("Created hour bucket",
		slog.String("website_id", websiteID),
		slog.String("hour", clock.FormatHour(hour)))
	return nil
}

// ApplyIncrement folds one event into the bucket's counters with a single
// arithmetic UPDATE. The read-modify-write happens entirely in the storage
// engine, so concurrent merges on the same bucket cannot lose updates.
func (s *Store) ApplyIncrement(ctx context.Context, websiteID string, hour time.Time, inc Increment) error {
	referer := inc.Referer
	if referer == "" {
		referer = DirectReferer
	}
	uniqueInc := 0
	if inc.Unique {
		uniqueInc = 1
	}

	res := s.db.WithContext(ctx).Exec(`
		UPDATE hourly_stats SET
			views = views + 1,
			unique_views = unique_views + ?,
			referers = jsonb_set(referers, ARRAY[?::text], to_jsonb(COALESCE((referers ->> ?)::bigint, 0) + 1)),
			pages = jsonb_set(pages, ARRAY[?::text], to_jsonb(COALESCE((pages ->> ?)::bigint, 0) + 1)),
			country_codes = jsonb_set(country_codes, ARRAY[?::text], to_jsonb(COALESCE((country_codes ->> ?)::bigint, 0) + 1)),
			browsers = jsonb_set(browsers, ARRAY[?::text], to_jsonb(COALESCE((browsers ->> ?)::bigint, 0) + 1)),
			updated_at = ?
		WHERE website_id = ? AND hour = ?
	`, uniqueInc,
		referer, referer,
		inc.Page, inc.Page,
		inc.CountryCode, inc.CountryCode,
		inc.Browser, inc.Browser,
		time.Now().UTC(), websiteID, hour.UTC())
	if res.Error != nil {
		return fmt.Errorf("apply increment: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("hour bucket missing for website %s at %s", websiteID, clock.FormatHour(hour))
	}
	return nil
}

// RecordVisitor logs the first sighting of a visitor signature. Idempotent:
// replays and races collapse into the existing row.
func (s *Store) RecordVisitor(ctx context.Context, websiteID, userHash string) error {
	err := s.db.WithContext(ctx).Exec(`
		INSERT INTO visitor_logs (website_id, user_hash, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (website_id, user_hash) DO NOTHING
	`, websiteID, userHash, time.Now().UTC()).Error
	if err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("record visitor: %w", err)
	}
	return nil
}

// GetBucket fetches the aggregate row for (websiteID, hour).
func (s *Store) GetBucket(ctx context.Context, websiteID string, hour time.Time) (*HourlyStat, error) {
	var stat HourlyStat
	err := s.db.WithContext(ctx).
		Where("website_id = ? AND hour = ?", websiteID, hour.UTC()).
		First(&stat).Error
	if err != nil {
		return nil, fmt.Errorf("get hour bucket: %w", err)
	}
	return &stat, nil
}
