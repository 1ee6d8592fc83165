package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// kvEntry is one row of the key/value table.
type kvEntry struct {
	UpdatedAt time.Time
	Key       string `gorm:"column:kv_key;primaryKey;size:64"`
	Value     []byte
}

func (kvEntry) TableName() string {
	return "kv_entries"
}

// SQLite stores keys as rows in a single SQLite table.
type SQLite struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewSQLite opens (or creates) the database file and migrates the table.
// Use ":memory:" for a private in-memory database.
func NewSQLite(path string, log *slog.Logger) (*SQLite, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	// SQLite allows a single writer; one connection also keeps :memory: databases shared.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&kvEntry{}); err != nil {
		return nil, fmt.Errorf("migrate kv table: %w", err)
	}

	return &SQLite{db: db, logger: log}, nil
}

// Get reads a row.
func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	var entry kvEntry
	err := s.db.WithContext(ctx).Where("kv_key = ?", key).Take(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read from sqlite: %w", err)
	}
	return entry.Value, nil
}

// Put upserts a row.
func (s *SQLite) Put(ctx context.Context, key string, data []byte) error {
	entry := kvEntry{Key: key, Value: data, UpdatedAt: time.Now()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kv_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("write to sqlite: %w", err)
	}
	return nil
}

// Delete removes a row.
func (s *SQLite) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where("kv_key = ?", key).Delete(&kvEntry{}).Error; err != nil {
		return fmt.Errorf("delete from sqlite: %w", err)
	}
	return nil
}

// Keys lists stored keys in lexical order.
func (s *SQLite) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	if err := s.db.WithContext(ctx).Model(&kvEntry{}).Order("kv_key").Pluck("kv_key", &keys).Error; err != nil {
		return nil, fmt.Errorf("list sqlite keys: %w", err)
	}
	return keys, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
