package sqlgateway

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/denismitr/evolve/internal/database"
)

var ErrTxDeadlock = errors.New("transaction deadlock occurred")

const (
	mysqlDeadlock       = 1213
	mysqlLockWait       = 1205
	postgresDeadlock    = "40P01"
	postgresSerializing = "40001"
)

type TxConfig struct {
	Iso      sql.IsolationLevel
	ReadOnly bool
}

type TxConfigFunc func(*TxConfig)

type ISO int

const (
	Serializable ISO = iota
	RepeatableRead
	ReadCommitted
)

var isolationLevels = map[ISO]sql.IsolationLevel{
	Serializable:   sql.LevelSerializable,
	RepeatableRead: sql.LevelRepeatableRead,
	ReadCommitted:  sql.LevelReadCommitted,
}

func Isolation(iso ISO) TxConfigFunc {
	return func(txCfg *TxConfig) {
		if level, ok := isolationLevels[iso]; ok {
			txCfg.Iso = level
		}
	}
}

// txBeginner is satisfied by both *sqlx.DB and *sqlx.Conn.
type txBeginner interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type TxCallback func(context.Context, database.Executor) error

type TxManager interface {
	ReadOnly(context.Context, TxCallback, ...TxConfigFunc) error
	ReadWrite(context.Context, TxCallback, ...TxConfigFunc) error
}

type SqlxTxManager struct {
	db txBeginner
}

var _ TxManager = (*SqlxTxManager)(nil)

func NewTxManager(db txBeginner) *SqlxTxManager {
	return &SqlxTxManager{db: db}
}

func (txm *SqlxTxManager) ReadOnly(ctx context.Context, cb TxCallback, cfn ...TxConfigFunc) error {
	return txm.run(ctx, cb, TxConfig{Iso: sql.LevelDefault, ReadOnly: true}, cfn)
}

// ReadWrite runs the callback in a transaction using the engine's default
// isolation unless configured otherwise.
func (txm *SqlxTxManager) ReadWrite(ctx context.Context, cb TxCallback, cfn ...TxConfigFunc) error {
	return txm.run(ctx, cb, TxConfig{Iso: sql.LevelDefault}, cfn)
}

func (txm *SqlxTxManager) run(ctx context.Context, cb TxCallback, txCfg TxConfig, cfn []TxConfigFunc) error {
	for _, fn := range cfn {
		fn(&txCfg)
	}

	txx, err := txm.db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: txCfg.ReadOnly, Isolation: txCfg.Iso})
	if err != nil {
		return errors.Wrapf(err, "could not start transaction (%s)", txCfg)
	}

	if err := cb(ctx, txx); err != nil {
		if isDeadlock(err) {
			err = &deadlockError{cause: err, stage: "callback", cfg: txCfg}
		}

		if rbErr := txx.Rollback(); rbErr != nil {
			return errors.Wrapf(err, "rollback failed: %v", rbErr)
		}

		return err
	}

	if err := txx.Commit(); err != nil {
		if isDeadlock(err) {
			return &deadlockError{cause: err, stage: "commit", cfg: txCfg}
		}

		return errors.Wrapf(err, "could not commit transaction (%s)", txCfg)
	}

	return nil
}

// deadlockError is ErrTxDeadlock and still unwraps to the failure that caused it.
type deadlockError struct {
	cause error
	stage string
	cfg   TxConfig
}

func (e *deadlockError) Error() string {
	return fmt.Sprintf("%s (%s, on %s): %v", ErrTxDeadlock, e.cfg, e.stage, e.cause)
}

func (e *deadlockError) Is(target error) bool {
	return target == ErrTxDeadlock
}

func (e *deadlockError) Unwrap() error {
	return e.cause
}

func (c TxConfig) String() string {
	mode := "read-write"
	if c.ReadOnly {
		mode = "read-only"
	}

	return mode + ", isolation: " + c.Iso.String()
}

// isDeadlock recognizes the deadlock and serialization failures of every
// supported driver; other drivers fall back to the error text.
func isDeadlock(err error) bool {
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDeadlock || myErr.Number == mysqlLockWait
	}

	var pgErr *pq.Error
	if errors.As(err, &pgErr) {
		return pgErr.Code == postgresDeadlock || pgErr.Code == postgresSerializing
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}

	return strings.Contains(strings.ToLower(err.Error()), "deadlock")
}
