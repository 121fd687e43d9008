package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage persists trades, account snapshots and queryable log entries
// in a sqlite database.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (creating if necessary) the sqlite database at dbPath
// and migrates the trade journal schema.
func NewStorage(dbPath string) (*Storage, error) {
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&Trade{}, &AccountSnapshot{}, &LogEntry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// SaveTrade writes a completed position's trade record.
func (s *Storage) SaveTrade(t *Trade) error {
	return s.db.Save(t).Error
}

// ListTrades returns up to limit persisted trades, most recent first.
func (s *Storage) ListTrades(limit int) ([]Trade, error) {
	var trades []Trade
	err := s.db.Order("closed_unix_ms desc").Limit(limit).Find(&trades).Error
	return trades, err
}

// SaveSnapshot records a point-in-time account snapshot.
func (s *Storage) SaveSnapshot(a *AccountSnapshot) error {
	return s.db.Create(a).Error
}

// SaveLogEntry persists a queryable structured-log record.
func (s *Storage) SaveLogEntry(l *LogEntry) error {
	return s.db.Create(l).Error
}

// Close releases the underlying database connection.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
