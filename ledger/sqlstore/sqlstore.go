// Package sqlstore implements the gateway's read replica on gorm, backed by
// postgres in production or sqlite for development and tests.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/vipnode/gateway/ledger"
)

// Drivers supported by Dialector.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Dialector returns the gorm dialector for a driver name and DSN.
func Dialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case DriverPostgres:
		return postgres.Open(dsn), nil
	case DriverSQLite, "":
		return sqlite.Open(dsn), nil
	}
	return nil, fmt.Errorf("unsupported database driver: %q", driver)
}

// NetworkMismatchError is returned when a replica built from one network is
// opened for another.
type NetworkMismatchError struct {
	Stored  string
	Network string
}

func (err NetworkMismatchError) Error() string {
	return fmt.Sprintf("read replica was built from network %q, not %q", err.Stored, err.Network)
}

var _ ledger.Store = &Store{}

// Store is the read replica. Reads run in read-only transactions, writes
// come from a single ingestion writer.
type Store struct {
	db       *gorm.DB
	network  string
	readOpts *sql.TxOptions
}

// Open connects to the database, migrates the schema and returns a Store
// for network.
func Open(dialector gorm.Dialector, network string) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{Logger: newGormLogger()})
	if err != nil {
		return nil, err
	}
	s, err := New(db, network)
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			sqlDB.Close()
		}
		return nil, err
	}
	return s, nil
}

// New returns a Store over an open database, migrating its schema.
func New(db *gorm.DB, network string) (*Store, error) {
	readOpts := &sql.TxOptions{ReadOnly: true}
	switch db.Dialector.Name() {
	case DriverSQLite:
		// A single connection serializes access and keeps in-memory
		// databases alive.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxIdleTime(0)
		sqlDB.SetConnMaxLifetime(0)
	case DriverPostgres:
		readOpts.Isolation = sql.LevelRepeatableRead
	}

	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate read replica: %w", err)
	}

	var status statusRow
	err := db.Take(&status, statusRowID).Error
	if err == nil && status.Network != "" && status.Network != network {
		return nil, NetworkMismatchError{Stored: status.Network, Network: network}
	} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	logger.Infof("Opened %s read replica for network %q at state version %d", db.Dialector.Name(), network, status.TopStateVersion)

	return &Store{db: db, network: network, readOpts: readOpts}, nil
}

// Network returns the network the replica serves.
func (s *Store) Network() string {
	return s.network
}

// View runs fn against a read-only snapshot.
func (s *Store) View(ctx context.Context, fn func(r ledger.Reader) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&reader{db: tx, network: s.network})
	}, s.readOpts)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// OpenInMemory returns a Store on a private in-memory sqlite database.
func OpenInMemory(network string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	return Open(sqlite.Open(dsn), network)
}
