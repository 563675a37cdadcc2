// Package testsupport provides backing-store helpers for tests.
package testsupport

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"viewmill/internal/database"
)

// SetupTestDB opens the Postgres database named by TEST_DATABASE_URL and runs
// migrations. Tests that exercise SQL-level behavior (upsert arithmetic,
// partial indexes, jsonb merges) skip when the variable is unset.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping Postgres-backed test")
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	manager := database.NewManager(database.Config{
		DSN:          dsn,
		MaxOpenConns: 4,
		MaxIdleConns: 2,
	}, logger)

	db, err := manager.Connect()
	require.NoError(t, err)
	require.NoError(t, manager.Migrate())

	t.Cleanup(func() {
		require.NoError(t, manager.Close())
	})
	return db
}

// CleanTables deletes all rows from the given tables.
func CleanTables(t *testing.T, db *gorm.DB, tables ...string) {
	t.Helper()
	for _, table := range tables {
		require.NoError(t, db.Exec("DELETE FROM "+table).Error)
	}
}

// SetupTestRedis connects to the Redis instance named by TEST_REDIS_ADDR.
// Tests skip when the variable is unset.
func SetupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping Redis-backed test")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.Ping(ctx).Err())

	t.Cleanup(func() {
		require.NoError(t, client.Close())
	})
	return client
}
