package aggregates_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"viewmill/internal/aggregates"
	"viewmill/internal/testsupport"
)

func newStore(t *testing.T) *aggregates.Store {
	t.Helper()
	db := testsupport.SetupTestDB(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return aggregates.NewStore(db, logger)
}

func testHour() time.Time {
	return time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
}

func TestEnsureBucket(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	hour := testHour()

	t.Run("creates a zeroed row", func(t *testing.T) {
		websiteID := uuid.NewString()
		require.NoError(t, store.EnsureBucket(ctx, websiteID, hour))

		stat, err := store.GetBucket(ctx, websiteID, hour)
		require.NoError(t, err)
		assert.Equal(t, int64(0), stat.Views)
		assert.Equal(t, int64(0), stat.UniqueViews)
		assert.Empty(t, stat.Referers)
		assert.Empty(t, stat.Pages)
	})

	t.Run("is idempotent", func(t *testing.T) {
		websiteID := uuid.NewString()
		require.NoError(t, store.EnsureBucket(ctx, websiteID, hour))
		require.NoError(t, store.EnsureBucket(ctx, websiteID, hour))

		var count int64
		db := testsupport.SetupTestDB(t)
		require.NoError(t, db.Model(&aggregates.HourlyStat{}).
			Where("website_id = ?", websiteID).Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})

	t.Run("concurrent callers create exactly one row", func(t *testing.T) {
		websiteID := uuid.NewString()

		var wg sync.WaitGroup
		errs := make(chan error, 16)
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- store.EnsureBucket(ctx, websiteID, hour)
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		var count int64
		db := testsupport.SetupTestDB(t)
		require.NoError(t, db.Model(&aggregates.HourlyStat{}).
			Where("website_id = ?", websiteID).Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})

	t.Run("separate hours get separate rows", func(t *testing.T) {
		websiteID := uuid.NewString()
		require.NoError(t, store.EnsureBucket(ctx, websiteID, hour))
		require.NoError(t, store.EnsureBucket(ctx, websiteID, hour.Add(time.Hour)))

		var count int64
		db := testsupport.SetupTestDB(t)
		require.NoError(t, db.Model(&aggregates.HourlyStat{}).
			Where("website_id = ?", websiteID).Count(&count).Error)
		assert.Equal(t, int64(2), count)
	})
}

func TestApplyIncrement(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	hour := testHour()

	t.Run("merges every dimension", func(t *testing.T) {
		websiteID := uuid.NewString()
		require.NoError(t, store.EnsureBucket(ctx, websiteID, hour))

		require.NoError(t, store.ApplyIncrement(ctx, websiteID, hour, aggregates.Increment{
			Referer:     "https://news.ycombinator.com",
			Page:        "/pricing",
			CountryCode: "DE",
			Browser:     "firefox",
			Unique:      true,
		}))
		require.NoError(t, store.ApplyIncrement(ctx, websiteID, hour, aggregates.Increment{
			Referer:     "https://news.ycombinator.com",
			Page:        "/",
			CountryCode: "DE",
			Browser:     "chrome",
			Unique:      false,
		}))

		stat, err := store.GetBucket(ctx, websiteID, hour)
		require.NoError(t, err)
		assert.Equal(t, int64(2), stat.Views)
		assert.Equal(t, int64(1), stat.UniqueViews)
		assert.Equal(t, int64(2), stat.Referers["https://news.ycombinator.com"])
		assert.Equal(t, int64(1), stat.Pages["/pricing"])
		assert.Equal(t, int64(1), stat.Pages["/"])
		assert.Equal(t, int64(2), stat.CountryCodes["DE"])
		assert.Equal(t, int64(1), stat.Browsers["firefox"])
		assert.Equal(t, int64(1), stat.Browsers["chrome"])
	})

	t.Run("empty referer counts under Direct", func(t *testing.T) {
		websiteID := uuid.NewString()
		require.NoError(t, store.EnsureBucket(ctx, websiteID, hour))

		require.NoError(t, store.ApplyIncrement(ctx, websiteID, hour, aggregates.Increment{
			Page:        "/",
			CountryCode: "unknown",
			Browser:     "safari",
		}))

		stat, err := store.GetBucket(ctx, websiteID, hour)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stat.Referers[aggregates.DirectReferer])
	})

	t.Run("fails when the bucket is missing", func(t *testing.T) {
		err := store.ApplyIncrement(ctx, uuid.NewString(), hour, aggregates.Increment{Page: "/"})
		require.Error(t, err)
	})

	t.Run("concurrent increments lose nothing", func(t *testing.T) {
		websiteID := uuid.NewString()
		require.NoError(t, store.EnsureBucket(ctx, websiteID, hour))

		const workers = 8
		const perWorker = 5
		var wg sync.WaitGroup
		errs := make(chan error, workers*perWorker)
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < perWorker; i++ {
					errs <- store.ApplyIncrement(ctx, websiteID, hour, aggregates.Increment{
						Referer:     "https://example.com",
						Page:        fmt.Sprintf("/p/%d", w),
						CountryCode: "US",
						Browser:     "chrome",
						Unique:      w == 0,
					})
				}
			}(w)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		stat, err := store.GetBucket(ctx, websiteID, hour)
		require.NoError(t, err)
		assert.Equal(t, int64(workers*perWorker), stat.Views)
		assert.Equal(t, int64(perWorker), stat.UniqueViews)
		assert.Equal(t, int64(workers*perWorker), stat.Referers.Sum())
		assert.Equal(t, int64(workers*perWorker), stat.Pages.Sum())
		assert.Equal(t, int64(perWorker), stat.Pages["/p/0"])
	})
}

func TestRecordVisitor(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	t.Run("first sighting inserts a row", func(t *testing.T) {
		websiteID := uuid.NewString()
		require.NoError(t, store.RecordVisitor(ctx, websiteID, "hash-a"))

		var count int64
		db := testsupport.SetupTestDB(t)
		require.NoError(t, db.Model(&aggregates.VisitorLog{}).
			Where("website_id = ?", websiteID).Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})

	t.Run("replays collapse into one row", func(t *testing.T) {
		websiteID := uuid.NewString()
		require.NoError(t, store.RecordVisitor(ctx, websiteID, "hash-b"))
		require.NoError(t, store.RecordVisitor(ctx, websiteID, "hash-b"))

		var count int64
		db := testsupport.SetupTestDB(t)
		require.NoError(t, db.Model(&aggregates.VisitorLog{}).
			Where("website_id = ?", websiteID).Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})
}
