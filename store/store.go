// Package store is the durable state layer and the sole arbiter of
// concurrent writes. Every primitive that claims work (credit deduction,
// expiry claim, status transition, session close) is an atomic conditional
// update checked via RowsAffected, so multiple orchestrator processes can
// share one database without read-modify-write races.
package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/projecteru2/hatchery/config"
)

var (
	// ErrNotFound is returned when a tenant or VM instance does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrNameTaken is returned when a provider-facing VM name collides.
	ErrNameTaken = errors.New("VM name already taken")
	// ErrQuotaExceeded is returned by CreateVMInstance when the tenant's
	// active-VM count has reached its tier limit.
	ErrQuotaExceeded = errors.New("active VM quota exceeded")
	// ErrInsufficientCredit is returned when a conditional credit deduction
	// affects zero rows.
	ErrInsufficientCredit = errors.New("insufficient credit")
	// ErrStaleStatus is returned when a conditional status update finds the
	// VM no longer in the expected state; the caller lost a race with a
	// concurrent transition and must not overwrite it.
	ErrStaleStatus = errors.New("VM status changed concurrently")
	// ErrSessionOpen is returned when opening a billing session for a VM
	// that already has one open. This is an invariant violation (a state
	// machine bug), not an expected outcome.
	ErrSessionOpen = errors.New("billing session already open")
)

// Store wraps the relational database.
type Store struct {
	db *gorm.DB
}

// Open connects to the configured database and migrates the schema.
func Open(conf *config.Config) (*Store, error) {
	dial, err := dialector(conf)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dial, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := db.AutoMigrate(&Tenant{}, &VMInstance{}, &BillingSession{}); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return &Store{db: db}, nil
}

func dialector(conf *config.Config) (gorm.Dialector, error) {
	switch conf.Store.Driver {
	case "sqlite", "":
		return sqlite.Open(sqliteDSN(conf.StoreDSN())), nil
	case "postgres":
		return postgres.Open(conf.StoreDSN()), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", conf.Store.Driver)
	}
}

// sqliteDSN appends the pragmas concurrent access needs: writers wait out
// the single-writer lock instead of failing, WAL keeps readers unblocked,
// and foreign keys make the tenant cascade effective.
func sqliteDSN(path string) string {
	if strings.Contains(path, "_pragma=") {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
}

// translate maps gorm-level errors onto the store's sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key value") {
		return fmt.Errorf("%w: %v", ErrNameTaken, err)
	}
	return err
}
