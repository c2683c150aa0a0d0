package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
	_ "github.com/glebarez/go-sqlite" // Pure Go SQLite driver
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/gmsas95/chronosage/internal/config"
)

const busyPrefix = "busy:"

// Store provides unified access to SQLite and BadgerDB
type Store struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	badger *badger.DB
}

// New opens the stores named in the configuration
func New(cfg *config.Config) (*Store, error) {
	sqlitePath := cfg.Storage.SQLitePath
	if sqlitePath == "" {
		sqlitePath = filepath.Join(cfg.Storage.DataDir, "chronosage.db")
	}
	badgerPath := cfg.Storage.BadgerPath
	if badgerPath == "" {
		badgerPath = filepath.Join(cfg.Storage.DataDir, "badger")
	}
	return Open(sqlitePath, badgerPath)
}

// Open opens the SQLite activity log at sqlitePath and the Badger cache at badgerPath
func Open(sqlitePath, badgerPath string) (*Store, error) {
	sqliteDB, err := sql.Open("sqlite", sqlitePath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	sqliteDB.SetMaxOpenConns(10)
	sqliteDB.SetMaxIdleConns(5)
	sqliteDB.SetConnMaxLifetime(time.Hour)

	db, err := gorm.Open(sqlite.Dialector{Conn: sqliteDB}, &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	})
	if err != nil {
		sqliteDB.Close()
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	if err := db.AutoMigrate(&Activity{}); err != nil {
		sqliteDB.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	badgerOpts := badger.DefaultOptions(badgerPath).
		WithLogger(nil).
		WithNumVersionsToKeep(1).
		WithCompactL0OnClose(true).
		WithValueLogFileSize(16 << 20).
		WithMemTableSize(16 << 20)

	badgerDB, err := badger.Open(badgerOpts)
	if err != nil {
		sqliteDB.Close()
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &Store{
		db:     db,
		sqlDB:  sqliteDB,
		badger: badgerDB,
	}, nil
}

// Close closes all database connections
func (s *Store) Close() error {
	return errors.Join(s.badger.Close(), s.sqlDB.Close())
}

// DB returns the GORM database instance
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Ping checks the SQLite connection
func (s *Store) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

// ==================== Activity Methods ====================

// RecordActivity appends an entry to the activity log
func (s *Store) RecordActivity(ctx context.Context, a *Activity) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	return s.db.WithContext(ctx).Create(a).Error
}

// ListActivity returns the most recent entries first. A non-positive limit
// returns everything.
func (s *Store) ListActivity(ctx context.Context, limit int) ([]Activity, error) {
	var out []Activity
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// ActivityForEvent returns the log entries for one calendar event, oldest first
func (s *Store) ActivityForEvent(ctx context.Context, eventID string) ([]Activity, error) {
	var out []Activity
	err := s.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

// PruneActivity deletes entries created before cutoff and reports how many went
func (s *Store) PruneActivity(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&Activity{})
	return res.RowsAffected, res.Error
}

// ==================== Free/Busy Cache (BadgerDB) ====================

// CacheBusy stores a serialized free/busy response for ttl
func (s *Store) CacheBusy(key string, value []byte, ttl time.Duration) error {
	return s.badger.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(busyPrefix+key), value).WithTTL(ttl)
		return txn.SetEntry(e)
	})
}

// CachedBusy returns a cached free/busy response. ok is false on a miss or
// after expiry.
func (s *Store) CachedBusy(key string) (value []byte, ok bool, err error) {
	err = s.badger.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(busyPrefix + key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// InvalidateBusy drops every cached free/busy response. Called after the
// calendar changes so suggestions see the new event.
func (s *Store) InvalidateBusy() error {
	return s.badger.DropPrefix([]byte(busyPrefix))
}

// RunGC reclaims value-log space until Badger reports nothing left to rewrite
func (s *Store) RunGC() error {
	for {
		err := s.badger.RunValueLogGC(0.5)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
