// Package testing provides test utilities and database setup for package tests
package testing

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/amirphl/event-rsvp-engine/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

// TestDB represents a test database instance
type TestDB struct {
	DB   *gorm.DB
	Name string
}

// SetupTestDB creates a fresh in-memory database with the full schema migrated
func SetupTestDB() (*TestDB, error) {
	name := fmt.Sprintf("rsvp_test_%d", dbSeq.Add(1))
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", name)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open test database %s: %w", name, err)
	}

	// One connection serializes writers the way row locks would in postgres.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate test database %s: %w", name, err)
	}

	return &TestDB{DB: db, Name: name}, nil
}

// TeardownTestDB closes the database, which discards it
func (tdb *TestDB) TeardownTestDB() error {
	if tdb.DB == nil {
		return nil
	}
	sqlDB, err := tdb.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// TestWithDB runs fn against a fresh database and tears it down afterwards
func TestWithDB(fn func(*TestDB) error) error {
	testDB, err := SetupTestDB()
	if err != nil {
		return err
	}
	defer func() {
		_ = testDB.TeardownTestDB()
	}()

	return fn(testDB)
}

// CreateTestContext returns a context suitable for repository calls in tests
func CreateTestContext() context.Context {
	return context.Background()
}
