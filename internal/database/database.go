package database

import (
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/priyxstudio/kiwi/internal/models"
)

var (
	o  sync.Once
	db *gorm.DB
)

// Initialize opens the database at the given path and runs the migrations. It
// is only executed once, later calls are no-ops.
func Initialize(path string) error {
	var err error
	o.Do(func() {
		db, err = Open(path)
	})
	return err
}

// Instance returns the database instance created by Initialize.
func Instance() *gorm.DB {
	if db == nil {
		panic("database: attempt to access instance before initialized")
	}
	return db
}

// Open opens a sqlite database and migrates every model. Pass ":memory:" for a
// throwaway database.
func Open(path string) (*gorm.DB, error) {
	conn, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.New(gormWriter{}, logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, errors.Wrap(err, "database: could not open database file")
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	// sqlite only supports a single writer; an in-memory database also only
	// exists for the connection that created it.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if tx := conn.Exec("PRAGMA synchronous = OFF"); tx.Error != nil {
		return nil, errors.WithStack(tx.Error)
	}
	if tx := conn.Exec("PRAGMA journal_mode = MEMORY"); tx.Error != nil {
		return nil, errors.WithStack(tx.Error)
	}

	if err := conn.AutoMigrate(models.All()...); err != nil {
		return nil, errors.Wrap(err, "database: failed to run migrations")
	}

	log.WithField("path", path).Debug("database opened and migrated")
	return conn, nil
}

// gormWriter forwards gorm log lines to apex/log.
type gormWriter struct{}

func (gormWriter) Printf(format string, args ...interface{}) {
	log.WithField("component", "gorm").Warnf(format, args...)
}
