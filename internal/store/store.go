// Package store persists user-facing setpoints across restarts. The charger
// itself holds no configuration, so without this the distance target and
// price ceiling would reset on every daemon restart.
package store

import (
	"errors"
	"fmt"
	"strconv"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Setting is one persisted key/value pair, namespaced by charger name.
type Setting struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

// Store wraps the SQLite settings database.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the settings database at path.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open settings database: %w", err)
	}
	if err := db.AutoMigrate(&Setting{}); err != nil {
		return nil, fmt.Errorf("failed to migrate settings schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Get returns the stored value for key, with ok=false when absent.
func (s *Store) Get(key string) (string, bool, error) {
	var setting Setting
	err := s.db.First(&setting, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return setting.Value, true, nil
}

// GetFloat returns a stored numeric value, falling back to def when the key
// is absent or unparseable.
func (s *Store) GetFloat(key string, def float64) float64 {
	raw, ok, err := s.Get(key)
	if err != nil || !ok {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}

// Set stores or replaces the value for key.
func (s *Store) Set(key, value string) error {
	return s.db.Save(&Setting{Key: key, Value: value}).Error
}

// SetFloat stores a numeric value.
func (s *Store) SetFloat(key string, value float64) error {
	return s.Set(key, strconv.FormatFloat(value, 'f', -1, 64))
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
