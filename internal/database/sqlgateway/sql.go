package sqlgateway

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/denismitr/evolve/internal/database"
	"github.com/denismitr/evolve/internal/database/sqlgateway/mysql"
	"github.com/denismitr/evolve/internal/database/sqlgateway/postgres"
	"github.com/denismitr/evolve/internal/database/sqlgateway/sqlite"
	"github.com/denismitr/evolve/internal/logger"
	"github.com/denismitr/evolve/migration"
)

var ErrContextKeyRequired = errors.New("context key is required")

// SQLGateway applies migrations of one context key to a relational database.
// Every cycle takes its own connection and releases it on return.
type SQLGateway struct {
	connector SQLConnector
	dialect   database.Dialect
	locker    database.Locker
	history   *HistoryRepository
	executor  statementExecutor
	lg        logger.Logger
}

var _ database.Gateway = (*SQLGateway)(nil)

func NewSQLGateway(
	connector SQLConnector,
	dialect database.Dialect,
	locker database.Locker,
	opts database.CommonOptions,
) (*SQLGateway, database.ConnCloser, error) {
	if opts.ContextKey == "" {
		return nil, nil, ErrContextKeyRequired
	}

	if locker == nil {
		locker = database.NullLocker{}
	}

	g := &SQLGateway{
		connector: connector,
		dialect:   dialect,
		locker:    locker,
	}

	g.SetLogger(logger.NullLogger{})
	g.history = NewHistoryRepository(dialect, opts.HistoryTableName(), opts.ContextKey, g.executor)

	return g, connector.Close, nil
}

func NewMySQLGateway(connector SQLConnector, opts *mysql.Options) (*SQLGateway, database.ConnCloser, error) {
	return NewSQLGateway(
		connector,
		mysql.NewDialect(opts.Charset),
		mysql.NewLocker(opts.LockKey, opts.LockFor, opts.NoLock),
		opts.CommonOptions,
	)
}

func NewPostgresGateway(connector SQLConnector, opts *postgres.Options) (*SQLGateway, database.ConnCloser, error) {
	return NewSQLGateway(
		connector,
		postgres.NewDialect(),
		postgres.NewLocker(opts.LockKey, opts.NoLock),
		opts.CommonOptions,
	)
}

func NewSqliteGateway(connector SQLConnector, opts *sqlite.Options) (*SQLGateway, database.ConnCloser, error) {
	return NewSQLGateway(connector, sqlite.NewDialect(), database.NullLocker{}, opts.CommonOptions)
}

func (g *SQLGateway) SetLogger(lg logger.Logger) {
	g.lg = lg
	g.executor = statementExecutor{lg: lg}

	if g.history != nil {
		g.history.executor = g.executor
	}
}

func (g *SQLGateway) Dialect() database.Dialect {
	return g.dialect
}

func (g *SQLGateway) Close() error {
	return g.connector.Close()
}

// ReadHistory returns the applied migrations of the context key.
func (g *SQLGateway) ReadHistory(ctx context.Context) ([]migration.Identity, error) {
	var applied []migration.Identity

	err := g.withConn(ctx, func(conn *sqlx.Conn) error {
		return NewTxManager(conn).ReadOnly(ctx, func(ctx context.Context, ex database.Executor) error {
			var err error
			applied, err = g.history.GetAppliedMigrations(ctx, ex)
			return err
		}, Isolation(ReadCommitted))
	})

	return applied, err
}

// Apply runs one cycle: it schedules the pending migrations, and when there
// are any, applies them under the lock in ascending order, halting on the first failure.
func (g *SQLGateway) Apply(ctx context.Context, local migration.Migrations, p database.Plan) (database.Result, error) {
	var result database.Result

	err := g.withConn(ctx, func(conn *sqlx.Conn) error {
		applied, err := g.history.GetAppliedMigrations(ctx, conn)
		if err != nil {
			return err
		}

		if len(database.ScheduleForMigration(local, applied, p)) == 0 {
			return database.ErrNothingToMigrate
		}

		result, err = g.execUnderLock(ctx, conn, local, p)
		return err
	})

	return result, err
}

// Script renders the statements a cycle would run for the given migrations,
// history bootstrap and history rows included. An idempotent script carries
// its guards in the SQL itself and fails with ErrUnsupportedOperation when
// the dialect cannot express one of them.
func (g *SQLGateway) Script(ctx context.Context, pending migration.Migrations, idempotent bool) ([]database.Statement, error) {
	var result []database.Statement

	err := g.withConn(ctx, func(conn *sqlx.Conn) error {
		exists, err := g.history.Exists(ctx, conn)
		if err != nil {
			return err
		}

		if !exists || idempotent {
			statements, err := g.history.CreateStatements(idempotent)
			if err != nil {
				return err
			}

			if statements, err = g.scriptable(statements, idempotent); err != nil {
				return err
			}
			result = append(result, statements...)
		}

		for _, m := range pending {
			statements, err := g.dialect.Generate(m.Upgrade, idempotent)
			if err == nil {
				statements, err = g.scriptable(statements, idempotent)
			}
			if err != nil {
				return errors.Wrapf(err, "migration [%s]", m.ID())
			}

			result = append(result, statements...)
			result = append(result, g.history.ScriptRecord(m.Identity(), idempotent))
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return result, nil
}

// scriptable moves the guards of idempotent statements into their SQL.
func (g *SQLGateway) scriptable(statements []database.Statement, idempotent bool) ([]database.Statement, error) {
	if !idempotent {
		return statements, nil
	}

	result := make([]database.Statement, 0, len(statements))
	for _, s := range statements {
		inlined, ok := g.dialect.InlineGuard(s)
		if !ok {
			return nil, errors.Wrapf(
				database.ErrUnsupportedOperation,
				"%s cannot guard [%s] in a plain script", g.dialect.Name(), s.SQL,
			)
		}

		result = append(result, inlined)
	}

	return result, nil
}

func (g *SQLGateway) withConn(ctx context.Context, f func(conn *sqlx.Conn) error) error {
	conn, err := g.connector.Connect(ctx)
	if err != nil {
		return errors.Wrap(err, "could not connect to database")
	}

	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			g.lg.Error(errors.Wrap(closeErr, "could not close connection"))
		}
	}()

	return f(conn)
}

func (g *SQLGateway) execUnderLock(
	ctx context.Context,
	conn *sqlx.Conn,
	local migration.Migrations,
	p database.Plan,
) (database.Result, error) {
	var result database.Result

	if err := g.locker.Lock(ctx, conn.Conn); err != nil {
		return result, errors.Wrap(err, "database lock failed")
	}

	defer func() {
		if err := g.locker.Unlock(ctx, conn.Conn); err != nil {
			g.lg.Error(err)
		}
	}()

	// another process may have applied migrations while we waited for the lock
	applied, err := g.history.GetAppliedMigrations(ctx, conn)
	if err != nil {
		return result, err
	}

	scheduled := database.ScheduleForMigration(local, applied, p)
	if len(scheduled) == 0 {
		return result, database.ErrNothingToMigrate
	}

	created, err := g.history.EnsureHistoryTableExists(ctx, conn)
	if err != nil {
		return result, err
	}

	if created {
		g.lg.Debugf("created history table")
	}

	txm := NewTxManager(conn)

	if p.Atomic {
		return g.migrateAtomically(ctx, txm, scheduled)
	}

	for _, m := range scheduled {
		if err := g.migrateOne(ctx, txm, m); err != nil {
			result.Failed = m
			return result, err
		}

		if err := g.history.RecordMigration(ctx, conn, m.Identity()); err != nil {
			result.Failed = m
			return result, err
		}

		g.lg.Successf("migrated [%s]", m.ID())
		result.Applied = append(result.Applied, m)
	}

	return result, nil
}

// migrateOne commits the statements of one migration as a unit.
func (g *SQLGateway) migrateOne(ctx context.Context, txm TxManager, m *migration.Metadata) error {
	statements, err := g.dialect.Generate(m.Upgrade, true)
	if err != nil {
		return errors.Wrapf(err, "migration [%s]", m.ID())
	}

	err = txm.ReadWrite(ctx, func(ctx context.Context, ex database.Executor) error {
		if err := g.executor.execute(ctx, ex, statements); err != nil {
			return database.NewExecutionFailure(m.ID(), err)
		}

		return nil
	})

	// the transaction itself may fail to begin or commit
	if err != nil && !errors.Is(err, database.ErrExecutionFailure) {
		return database.NewExecutionFailure(m.ID(), err)
	}

	return err
}

// migrateAtomically commits every scheduled migration and its history row in one transaction.
func (g *SQLGateway) migrateAtomically(
	ctx context.Context,
	txm TxManager,
	scheduled migration.Migrations,
) (database.Result, error) {
	var result database.Result

	err := txm.ReadWrite(ctx, func(ctx context.Context, ex database.Executor) error {
		for _, m := range scheduled {
			statements, err := g.dialect.Generate(m.Upgrade, true)
			if err != nil {
				result.Failed = m
				return errors.Wrapf(err, "migration [%s]", m.ID())
			}

			if err := g.executor.execute(ctx, ex, statements); err != nil {
				result.Failed = m
				return database.NewExecutionFailure(m.ID(), err)
			}

			if err := g.history.RecordMigration(ctx, ex, m.Identity()); err != nil {
				result.Failed = m
				return err
			}
		}

		return nil
	})

	if err != nil {
		// every failure inside the transaction names its migration, what is
		// left failed to begin or commit the transaction
		if result.Failed == nil {
			err = database.NewExecutionFailure("", err)
		}

		return result, err
	}

	for _, m := range scheduled {
		g.lg.Successf("migrated [%s]", m.ID())
	}

	result.Applied = scheduled

	return result, nil
}
