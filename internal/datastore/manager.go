// Package datastore opens the correlation store, migrates its schema and
// classifies transient write conflicts for retry.
package datastore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tphakala/threatlink/internal/conf"
	"github.com/tphakala/threatlink/internal/datastore/entities"
	"github.com/tphakala/threatlink/internal/datastore/repository"
	"github.com/tphakala/threatlink/internal/errors"
	"github.com/tphakala/threatlink/internal/logger"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Manager defines the interface for database lifecycle operations.
type Manager interface {
	// Initialize creates or migrates the schema.
	Initialize() error
	// DB returns the underlying GORM database.
	DB() *gorm.DB
	// Path returns the database location (file path for SQLite, host:port/db for MySQL).
	Path() string
	// Close closes the database connection.
	Close() error
	// IsMySQL returns true if this is a MySQL manager.
	IsMySQL() bool
}

// New opens the store selected by settings.Type.
func New(settings *conf.DatastoreSettings) (Manager, error) {
	switch settings.Type {
	case "", "sqlite":
		return NewSQLiteManager(settings.SQLite.Path, settings.SlowQueryThreshold)
	case "mysql":
		return NewMySQLManager(&settings.MySQL, settings.SlowQueryThreshold)
	default:
		return nil, errors.Newf("unsupported datastore type %q", settings.Type).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// Open opens, migrates and wraps the configured store.
func Open(settings *conf.DatastoreSettings) (Manager, *repository.Store, error) {
	m, err := New(settings)
	if err != nil {
		return nil, nil, err
	}
	if err := m.Initialize(); err != nil {
		_ = m.Close()
		return nil, nil, err
	}
	return m, repository.New(m.DB(), m.IsMySQL()), nil
}

// SQLiteManager handles the SQLite store.
type SQLiteManager struct {
	db     *gorm.DB
	dbPath string
}

// NewSQLiteManager opens dbPath, creating its directory when needed.
func NewSQLiteManager(dbPath string, slowThreshold time.Duration) (*SQLiteManager, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, errors.New(err).
				Component("datastore").
				Category(errors.CategoryDatabase).
				Context("path", dbPath).
				Build()
		}
	}

	// _txlock=immediate takes the write lock at BEGIN so concurrent writers
	// queue on the busy timeout instead of failing on lock upgrade.
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON&_txlock=immediate", dbPath)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.NewGormLoggerAdapter(GetLogger().Module("sql"), slowThreshold),
		TranslateError: true,
	})
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "open_sqlite").
			Context("path", dbPath).
			Build()
	}

	return &SQLiteManager{db: db, dbPath: dbPath}, nil
}

// Initialize creates the schema.
func (m *SQLiteManager) Initialize() error {
	if err := m.db.AutoMigrate(entities.All()...); err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "auto_migrate").
			Build()
	}
	GetLogger().Debug("schema migrated", logger.String("path", m.dbPath))
	return nil
}

// DB returns the underlying GORM database.
func (m *SQLiteManager) DB() *gorm.DB {
	return m.db
}

// Path returns the database file path.
func (m *SQLiteManager) Path() string {
	return m.dbPath
}

// Close checkpoints the WAL and closes the connection.
func (m *SQLiteManager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying database: %w", err)
	}
	if err := m.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)").Error; err != nil {
		GetLogger().Warn("wal checkpoint failed", logger.Error(err))
	}
	return sqlDB.Close()
}

// IsMySQL returns false for SQLite manager.
func (m *SQLiteManager) IsMySQL() bool {
	return false
}
