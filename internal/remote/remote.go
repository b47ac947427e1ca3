// Package remote keeps the collections in a libSQL (Turso) database through
// gorm, for deployments where several consoles share one store.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/domain"
)

// Collection is one stored JSON document.
type Collection struct {
	Name      string `gorm:"primaryKey"`
	Payload   string `gorm:"not null"`
	UpdatedAt time.Time
}

type Store struct {
	db *gorm.DB
}

// Open connects to a libsql:// or https:// database URL.
func Open(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("libsql dsn is required")
	}
	gormDB, err := gorm.Open(sqlite.New(sqlite.Config{
		DriverName: "libsql",
		DSN:        dsn,
	}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("connect libsql: %w", err)
	}
	return New(gormDB)
}

// New wraps an existing gorm handle and migrates the collections table.
func New(gormDB *gorm.DB) (*Store, error) {
	if err := gormDB.AutoMigrate(&Collection{}); err != nil {
		return nil, fmt.Errorf("migrate collections: %w", err)
	}
	return &Store{db: gormDB}, nil
}

func (s *Store) Load(ctx context.Context, key string) ([]byte, error) {
	var c Collection
	err := s.db.WithContext(ctx).First(&c, "name = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	return []byte(c.Payload), nil
}

func (s *Store) Save(ctx context.Context, key string, payload []byte) error {
	c := Collection{Name: key, Payload: string(payload), UpdatedAt: time.Now().UTC()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(&c).Error
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
