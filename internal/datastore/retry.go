package datastore

import (
	"context"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
	"github.com/tphakala/threatlink/internal/errors"
	"github.com/tphakala/threatlink/internal/logger"
	"gorm.io/gorm"
)

// MySQL server error numbers treated as transient.
const (
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
	mysqlDuplicateEntry  = 1062
)

// Default retry parameters for store transactions.
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 100 * time.Millisecond
	DefaultMaxDelay   = 2 * time.Second
)

// IsTransientConflict reports whether err is a lock, deadlock or racing
// unique-insert failure that succeeds when the transaction is re-run.
func IsTransientConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.IsConflict(err) || errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return true
		}
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return true
		}
	}

	var mysqlErr *mysqldriver.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case mysqlLockWaitTimeout, mysqlDeadlock, mysqlDuplicateEntry:
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}

// RetryObserver is told about every retried attempt.
type RetryObserver func(operation string, attempt int, err error)

// Retrier re-runs store operations that fail with a transient conflict.
type Retrier struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Observer   RetryObserver
}

// NewRetrier returns a Retrier with default parameters.
func NewRetrier(observer RetryObserver) *Retrier {
	return &Retrier{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		MaxDelay:   DefaultMaxDelay,
		Observer:   observer,
	}
}

// Do runs fn and re-runs it on transient conflicts with exponential backoff.
// Other errors return immediately. Exhausted retries return a conflict error
// wrapping the last failure.
func (r *Retrier) Do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= r.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.BaseDelay * time.Duration(1<<(attempt-1))
			if r.MaxDelay > 0 && delay > r.MaxDelay {
				delay = r.MaxDelay
			}
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return errors.New(ctx.Err()).
					Component("datastore").
					Category(errors.CategoryCancellation).
					Context("operation", operation).
					Build()
			case <-timer.C:
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsTransientConflict(lastErr) {
			return lastErr
		}

		if r.Observer != nil {
			r.Observer(operation, attempt+1, lastErr)
		}
		GetLogger().Debug("transient store conflict",
			logger.String("operation", operation),
			logger.Int("attempt", attempt+1),
			logger.Error(lastErr))
	}

	return errors.New(lastErr).
		Component("datastore").
		Category(errors.CategoryConflict).
		Context("operation", operation).
		Context("attempts", r.MaxRetries+1).
		Build()
}
