package database

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

// Busy retry tuning. Five retries add roughly three seconds on top of the
// driver's busy timeout.
const (
	DefaultBusyRetries = 5

	busyBaseDelay = 50 * time.Millisecond
	busyMaxDelay  = 500 * time.Millisecond
)

// RetryOnBusy runs f, retrying with jittered exponential backoff while SQLite
// reports the database as busy or locked. Other errors return immediately.
func RetryOnBusy(ctx context.Context, maxRetries int, f func() error) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil || !IsBusy(err) || attempt == maxRetries {
			return err
		}

		delay := busyBaseDelay << uint(attempt)
		if delay > busyMaxDelay {
			delay = busyMaxDelay
		}
		delay = delay - delay/4 + time.Duration(rand.IntN(int(delay/2)))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// IsBusy reports whether err is a SQLite BUSY or LOCKED error.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// IsUniqueConstraint reports whether err is a UNIQUE or PRIMARY KEY violation.
func IsUniqueConstraint(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
