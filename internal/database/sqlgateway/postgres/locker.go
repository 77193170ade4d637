package postgres

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/denismitr/evolve/internal/database"
)

const DefaultLockKey = 99887766

type Options struct {
	database.CommonOptions
	LockKey int64
	NoLock  bool
}

// Locker serializes apply cycles with a session level advisory lock.
type Locker struct {
	lockKey int64
	noLock  bool
}

var _ database.Locker = (*Locker)(nil)

func NewLocker(lockKey int64, noLock bool) *Locker {
	if lockKey == 0 {
		lockKey = DefaultLockKey
	}

	return &Locker{lockKey: lockKey, noLock: noLock}
}

func (l *Locker) Lock(ctx context.Context, conn *sql.Conn) error {
	if l.noLock {
		return nil
	}

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", l.lockKey); err != nil {
		return errors.Wrapf(database.ErrLockNotAcquired, "advisory lock [%d]: %v", l.lockKey, err)
	}

	return nil
}

func (l *Locker) Unlock(ctx context.Context, conn *sql.Conn) error {
	if l.noLock {
		return nil
	}

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockKey); err != nil {
		return errors.Wrapf(err, "could not release [%d] advisory lock", l.lockKey)
	}

	return nil
}
