// Package database owns the Postgres connection for the process.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"viewmill/internal/aggregates"
	"viewmill/internal/sessions"
)

// Config holds connection pool settings.
type Config struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

// Manager is the explicitly owned database handle: constructed once at
// startup, passed by reference into the stores, closed on shutdown.
type Manager struct {
	cfg    Config
	logger *slog.Logger
	db     *gorm.DB
}

// NewManager prepares a manager; Connect actually opens the pool.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	return &Manager{cfg: cfg, logger: logger}
}

// Connect opens the connection pool. TranslateError is on so unique
// violations surface as gorm.ErrDuplicatedKey, which the stores treat as the
// normal lost-the-race outcome.
func (m *Manager) Connect() (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(m.cfg.DSN), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap sql.DB: %w", err)
	}
	if m.cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(m.cfg.MaxOpenConns)
	}
	if m.cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(m.cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	m.db = db
	m.logger.Info("Connected to database")
	return db, nil
}

// GetConnection returns the open gorm handle, or nil before Connect.
func (m *Manager) GetConnection() *gorm.DB {
	return m.db
}

// Migrate creates the aggregate tables plus the raw-SQL index the session
// invariant depends on.
func (m *Manager) Migrate() error {
	if m.db == nil {
		return gorm.ErrInvalidDB
	}

	err := m.db.Transaction(func(tx *gorm.DB) error {
		return tx.AutoMigrate(
			&aggregates.HourlyStat{},
			&aggregates.VisitorLog{},
			&sessions.UserSession{},
		)
	})
	if err != nil {
		m.logger.Error("Failed to auto-migrate database", slog.Any("error", err))
		return err
	}

	// AutoMigrate cannot express a partial index. At most one open session
	// per (user_hash, website_id) is a storage-level invariant, not just
	// tracker discipline.
	err = m.db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_user_sessions_one_open
		ON user_sessions (user_hash, website_id)
		WHERE idle_timeout = 0
	`).Error
	if err != nil {
		return fmt.Errorf("create open-session index: %w", err)
	}

	m.logger.Info("Database migration completed")
	return nil
}

// Ping checks connectivity for health reporting.
func (m *Manager) Ping(ctx context.Context) error {
	if m.db == nil {
		return gorm.ErrInvalidDB
	}
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close tears down the connection pool.
func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
