package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Connect opens a gorm handle against the given Postgres DSN
func Connect(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// Close closes the underlying sql.DB of a gorm handle
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RunMigrations applies all pending schema migrations against the primary
func RunMigrations(dsn string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Handles bundles the primary and optional replica database handles.
// Replica is nil when the deployment has no read replica configured.
type Handles struct {
	Primary *gorm.DB
	Replica *gorm.DB
}

// Open connects to the primary and, when replicaDSN is non-empty, the replica
func Open(dsn, replicaDSN string) (*Handles, error) {
	primary, err := Connect(dsn)
	if err != nil {
		return nil, err
	}

	h := &Handles{Primary: primary}
	if replicaDSN != "" {
		replica, err := Connect(replicaDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to replica: %w", err)
		}
		h.Replica = replica
	}
	return h, nil
}

// Close closes both handles
func (h *Handles) Close() error {
	if h.Replica != nil {
		if err := Close(h.Replica); err != nil {
			return err
		}
	}
	return Close(h.Primary)
}
