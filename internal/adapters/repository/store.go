// Package repository persists ledger, scoring, leaderboard and payout state in SQLite through gorm.
package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/okian/yieldboard/pkg/logger"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const dbFileName = "yieldboard.sqlite"

// SQLStore implements the ledger, leaderboard, ingest and scheduler stores.
type SQLStore struct {
	db           *gorm.DB
	dataDir      string
	maxOpenConns int
	now          func() time.Time
	logger       logger.Logger
}

// Open opens or creates the database under dataDir. An empty dataDir keeps a
// private in-memory database, useful for tests.
func Open(dataDir string, opts ...Option) (*SQLStore, error) {
	s := &SQLStore{
		dataDir:      dataDir,
		maxOpenConns: 1,
		now:          time.Now,
		logger:       logger.Get().Named("repository"),
	}
	for _, opt := range opts {
		opt(s)
	}

	var dsn string
	if dataDir == "" {
		// Named so that every store gets its own database while the pool shares it.
		dsn = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	} else {
		if _, err := os.Stat(dataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read data dir: %w", err)
			}
			if err := os.MkdirAll(dataDir, fs.ModePerm); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		path := filepath.Join(dataDir, dbFileName)
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Discard,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(s.maxOpenConns)
	s.db = db

	for _, m := range MigrateModels {
		if err := db.AutoMigrate(m); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("migrate %T: %w", m, err)
		}
	}
	s.logger.Debug(context.Background(), "database ready",
		logger.String("data_dir", dataDir),
		logger.Int("tables", len(MigrateModels)),
	)
	return s, nil
}

// DB exposes the underlying handle.
func (s *SQLStore) DB() *gorm.DB {
	return s.db
}

// Close releases the database.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks that the database answers.
func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func notFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
