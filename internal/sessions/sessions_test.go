package sessions_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"viewmill/internal/sessions"
	"viewmill/internal/testsupport"
)

func newStore(t *testing.T) (*sessions.Store, *gorm.DB) {
	t.Helper()
	db := testsupport.SetupTestDB(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return sessions.NewStore(db, logger, sessions.DefaultIdleWindow), db
}

func countSessions(t *testing.T, db *gorm.DB, userHash, websiteID string) (open, closed int64) {
	t.Helper()
	require.NoError(t, db.Model(&sessions.UserSession{}).
		Where("user_hash = ? AND website_id = ? AND idle_timeout = 0", userHash, websiteID).
		Count(&open).Error)
	require.NoError(t, db.Model(&sessions.UserSession{}).
		Where("user_hash = ? AND website_id = ? AND idle_timeout = 1", userHash, websiteID).
		Count(&closed).Error)
	return open, closed
}

func TestTouch(t *testing.T) {
	store, db := newStore(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 14, 15, 4, 0, 0, time.UTC)

	t.Run("first event opens a session", func(t *testing.T) {
		userHash := uuid.NewString()
		websiteID := uuid.NewString()

		transition, err := store.Touch(ctx, userHash, websiteID, t0)
		require.NoError(t, err)
		assert.Equal(t, sessions.Opened, transition)

		s, err := store.OpenSession(ctx, userHash, websiteID)
		require.NoError(t, err)
		assert.True(t, s.StartedAt.Equal(t0))
		assert.True(t, s.LastActivityAt.Equal(t0))
	})

	t.Run("event inside the idle window extends", func(t *testing.T) {
		userHash := uuid.NewString()
		websiteID := uuid.NewString()

		_, err := store.Touch(ctx, userHash, websiteID, t0)
		require.NoError(t, err)
		transition, err := store.Touch(ctx, userHash, websiteID, t0.Add(10*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, sessions.Extended, transition)

		s, err := store.OpenSession(ctx, userHash, websiteID)
		require.NoError(t, err)
		assert.True(t, s.StartedAt.Equal(t0))
		assert.True(t, s.LastActivityAt.Equal(t0.Add(10*time.Minute)))

		open, closed := countSessions(t, db, userHash, websiteID)
		assert.Equal(t, int64(1), open)
		assert.Equal(t, int64(0), closed)
	})

	t.Run("event after the idle window closes and reopens", func(t *testing.T) {
		userHash := uuid.NewString()
		websiteID := uuid.NewString()

		_, err := store.Touch(ctx, userHash, websiteID, t0)
		require.NoError(t, err)
		transition, err := store.Touch(ctx, userHash, websiteID, t0.Add(40*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, sessions.Reopened, transition)

		open, closed := countSessions(t, db, userHash, websiteID)
		assert.Equal(t, int64(1), open)
		assert.Equal(t, int64(1), closed)

		s, err := store.OpenSession(ctx, userHash, websiteID)
		require.NoError(t, err)
		assert.True(t, s.StartedAt.Equal(t0.Add(40*time.Minute)))

		// The closed row keeps the last activity from before the gap.
		var stale sessions.UserSession
		require.NoError(t, db.
			Where("user_hash = ? AND website_id = ? AND idle_timeout = 1", userHash, websiteID).
			First(&stale).Error)
		assert.True(t, stale.LastActivityAt.Equal(t0))
	})

	t.Run("exactly at the window boundary still extends", func(t *testing.T) {
		userHash := uuid.NewString()
		websiteID := uuid.NewString()

		_, err := store.Touch(ctx, userHash, websiteID, t0)
		require.NoError(t, err)
		transition, err := store.Touch(ctx, userHash, websiteID, t0.Add(sessions.DefaultIdleWindow))
		require.NoError(t, err)
		assert.Equal(t, sessions.Extended, transition)

		open, closed := countSessions(t, db, userHash, websiteID)
		assert.Equal(t, int64(1), open)
		assert.Equal(t, int64(0), closed)
	})

	t.Run("pairs are independent", func(t *testing.T) {
		userHash := uuid.NewString()
		siteA := uuid.NewString()
		siteB := uuid.NewString()

		_, err := store.Touch(ctx, userHash, siteA, t0)
		require.NoError(t, err)
		_, err = store.Touch(ctx, userHash, siteB, t0)
		require.NoError(t, err)

		openA, _ := countSessions(t, db, userHash, siteA)
		openB, _ := countSessions(t, db, userHash, siteB)
		assert.Equal(t, int64(1), openA)
		assert.Equal(t, int64(1), openB)
	})

	t.Run("concurrent touches leave one open row", func(t *testing.T) {
		userHash := uuid.NewString()
		websiteID := uuid.NewString()

		var wg sync.WaitGroup
		errs := make(chan error, 16)
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := store.Touch(ctx, userHash, websiteID, t0.Add(time.Duration(i)*time.Second))
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		open, _ := countSessions(t, db, userHash, websiteID)
		assert.Equal(t, int64(1), open)
	})
}

func TestSweepIdle(t *testing.T) {
	store, db := newStore(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 14, 15, 4, 0, 0, time.UTC)

	t.Run("closes only sessions past the window", func(t *testing.T) {
		staleHash := uuid.NewString()
		liveHash := uuid.NewString()
		websiteID := uuid.NewString()

		_, err := store.Touch(ctx, staleHash, websiteID, t0)
		require.NoError(t, err)
		_, err = store.Touch(ctx, liveHash, websiteID, t0.Add(25*time.Minute))
		require.NoError(t, err)

		closed, err := store.SweepIdle(ctx, t0.Add(45*time.Minute))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, closed, int64(1))

		_, err = store.OpenSession(ctx, staleHash, websiteID)
		assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

		live, err := store.OpenSession(ctx, liveHash, websiteID)
		require.NoError(t, err)
		assert.True(t, live.LastActivityAt.Equal(t0.Add(25*time.Minute)))

		_, closedCount := countSessions(t, db, staleHash, websiteID)
		assert.Equal(t, int64(1), closedCount)
	})
}
