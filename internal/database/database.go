package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/denismitr/evolve/migration"
	"github.com/denismitr/evolve/operation"
	"github.com/denismitr/evolve/schema"
	"github.com/pkg/errors"
)

var (
	ErrUnsupportedOperation = errors.New("operation is not supported by the dialect")
	ErrExecutionFailure     = errors.New("statement execution failed")
	ErrHistoryUnavailable   = errors.New("migration history is unavailable")
	ErrNothingToMigrate     = errors.New("nothing to migrate")
	ErrLockNotAcquired      = errors.New("migration lock could not be acquired")
)

const (
	DefaultHistoryTable = "__MigrationHistory"

	MigrationNameColumn = "MigrationName"
	TimestampColumn     = "Timestamp"
	ContextKeyColumn    = "ContextKey"
)

type CommonOptions struct {
	HistoryTable string
	ContextKey   string
}

// HistoryTableName returns the configured history table or the default one.
func (o CommonOptions) HistoryTableName() schema.TableName {
	if o.HistoryTable == "" {
		return schema.Name(DefaultHistoryTable)
	}

	return schema.Name(o.HistoryTable)
}

// Statement is one executable SQL statement. When SkipIf is set it is a query
// returning a single integer; a positive value means the effect of SQL is
// already in place and SQL must not run.
type Statement struct {
	SQL    string
	Args   []interface{}
	SkipIf string
}

func (s Statement) String() string {
	return s.SQL
}

// Plan narrows one apply cycle.
type Plan struct {
	// Steps limits the number of migrations applied, zero means all of them.
	Steps int
	// Atomic applies the whole cycle, history rows included, in one transaction.
	Atomic bool
}

// Result reports the outcome of one apply cycle: the migrations committed and
// recorded, and the one that halted the cycle, if any.
type Result struct {
	Applied migration.Migrations
	Failed  *migration.Metadata
}

// Dialect turns operations into statements for one database engine.
type Dialect interface {
	Name() string
	// BindType is the sqlx bind type used for statement arguments.
	BindType() int
	QuoteIdent(name string) string
	QuoteTable(name schema.TableName) string
	Generate(ops []operation.Operation, idempotent bool) ([]Statement, error)
	// TableExists returns a query counting tables with the given name.
	TableExists(name schema.TableName) string
	// InlineGuard folds the SkipIf query of s into SQL that guards itself, so
	// a plain script can run it again. It reports false when the engine has
	// no construct to express the guard.
	InlineGuard(s Statement) (Statement, bool)
	// InsertIgnore inserts one row of literal values unless a row with the
	// same key is already there.
	InsertIgnore(table schema.TableName, columns []string, values []string) string
}

// Locker serializes apply cycles of concurrent processes on the cycle's connection.
type Locker interface {
	Lock(ctx context.Context, conn *sql.Conn) error
	Unlock(ctx context.Context, conn *sql.Conn) error
}

// NullLocker is used by engines without advisory locks.
type NullLocker struct{}

func (NullLocker) Lock(context.Context, *sql.Conn) error   { return nil }
func (NullLocker) Unlock(context.Context, *sql.Conn) error { return nil }

// Executor is satisfied by sqlx connections, databases and transactions.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// Gateway applies migrations against one physical database.
type Gateway interface {
	ReadHistory(ctx context.Context) ([]migration.Identity, error)
	Apply(ctx context.Context, local migration.Migrations, p Plan) (Result, error)
	Script(ctx context.Context, pending migration.Migrations, idempotent bool) ([]Statement, error)
	Close() error
}

type ConnCloser func() error

// Failure attaches an error kind to the cause reported by the driver,
// so callers can match either of them with errors.Is.
type Failure struct {
	Kind      error
	Migration string
	Err       error
}

func (f *Failure) Error() string {
	if f.Migration == "" {
		return fmt.Sprintf("%s: %v", f.Kind, f.Err)
	}

	return fmt.Sprintf("%s: migration [%s]: %v", f.Kind, f.Migration, f.Err)
}

func (f *Failure) Is(target error) bool {
	return target == f.Kind
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func NewExecutionFailure(migrationID string, err error) error {
	return &Failure{Kind: ErrExecutionFailure, Migration: migrationID, Err: err}
}

func NewHistoryFailure(err error) error {
	return &Failure{Kind: ErrHistoryUnavailable, Err: err}
}

// ScheduleForMigration picks the migrations one cycle should apply.
func ScheduleForMigration(local migration.Migrations, applied []migration.Identity, p Plan) migration.Migrations {
	pending := migration.Pending(local, applied)

	if p.Steps > 0 && len(pending) > p.Steps {
		return pending[:p.Steps]
	}

	return pending
}
