package evolve

import (
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/denismitr/evolve/internal/database"
	"github.com/denismitr/evolve/internal/database/sqlgateway"
	"github.com/denismitr/evolve/internal/database/sqlgateway/mysql"
	"github.com/denismitr/evolve/internal/database/sqlgateway/postgres"
	"github.com/denismitr/evolve/internal/database/sqlgateway/sqlite"
)

type (
	MySQLOptionFunc    func(*mysql.Options, *sqlgateway.ConnectOptions)
	PostgresOptionFunc func(*postgres.Options, *sqlgateway.ConnectOptions)
	SqliteOptionFunc   func(*sqlite.Options, *sqlgateway.ConnectOptions)
)

func UseMySQL(db *sql.DB, options ...MySQLOptionFunc) OptionFunc {
	return func(m *Migrator) error {
		mysqlOpts := &mysql.Options{
			LockFor: mysql.DefaultLockSeconds,
			LockKey: mysql.DefaultLockKey,
			Charset: mysql.DefaultCharset,
			CommonOptions: database.CommonOptions{
				HistoryTable: database.DefaultHistoryTable,
				ContextKey:   m.contextKey,
			},
		}

		connectOpts := sqlgateway.NewDefaultConnectOptions()

		for _, oFunc := range options {
			oFunc(mysqlOpts, connectOpts)
		}

		connector := sqlgateway.MakeRetryingConnector(sqlx.NewDb(db, mysql.DriverName), connectOpts)
		gateway, closer, err := sqlgateway.NewMySQLGateway(connector, mysqlOpts)
		if err != nil {
			return err
		}

		m.closerFns = append(m.closerFns, CloserFunc(closer))
		m.gateway = gateway

		return nil
	}
}

func UsePostgres(db *sql.DB, options ...PostgresOptionFunc) OptionFunc {
	return func(m *Migrator) error {
		pgOpts := &postgres.Options{
			LockKey: postgres.DefaultLockKey,
			CommonOptions: database.CommonOptions{
				HistoryTable: database.DefaultHistoryTable,
				ContextKey:   m.contextKey,
			},
		}

		connectOpts := sqlgateway.NewDefaultConnectOptions()

		for _, oFunc := range options {
			oFunc(pgOpts, connectOpts)
		}

		connector := sqlgateway.MakeRetryingConnector(sqlx.NewDb(db, postgres.DriverName), connectOpts)
		gateway, closer, err := sqlgateway.NewPostgresGateway(connector, pgOpts)
		if err != nil {
			return err
		}

		m.closerFns = append(m.closerFns, CloserFunc(closer))
		m.gateway = gateway

		return nil
	}
}

func UseSqlite(db *sql.DB, options ...SqliteOptionFunc) OptionFunc {
	return func(m *Migrator) error {
		sqliteOpts := &sqlite.Options{
			CommonOptions: database.CommonOptions{
				HistoryTable: database.DefaultHistoryTable,
				ContextKey:   m.contextKey,
			},
		}

		connectOpts := sqlgateway.NewDefaultConnectOptions()

		for _, oFunc := range options {
			oFunc(sqliteOpts, connectOpts)
		}

		connector := sqlgateway.MakeRetryingConnector(sqlx.NewDb(db, sqlite.DriverName), connectOpts)
		gateway, closer, err := sqlgateway.NewSqliteGateway(connector, sqliteOpts)
		if err != nil {
			return err
		}

		m.gateway = gateway
		m.closerFns = append(m.closerFns, CloserFunc(closer))

		return nil
	}
}

func WithSqliteHistoryTable(table string) SqliteOptionFunc {
	return func(sqliteOpts *sqlite.Options, _ *sqlgateway.ConnectOptions) {
		sqliteOpts.HistoryTable = table
	}
}

func WithSqliteMaxConnectionAttempts(attempts int) SqliteOptionFunc {
	return func(_ *sqlite.Options, connectOpts *sqlgateway.ConnectOptions) {
		connectOpts.MaxAttempts = attempts
	}
}

func WithSqliteConnectionTimeout(timeout time.Duration) SqliteOptionFunc {
	return func(_ *sqlite.Options, connectOpts *sqlgateway.ConnectOptions) {
		connectOpts.MaxTimeout = timeout
	}
}

func WithMySQLNoLock() MySQLOptionFunc {
	return func(mysqlOpts *mysql.Options, _ *sqlgateway.ConnectOptions) {
		mysqlOpts.NoLock = true
	}
}

func WithMySQLLockKey(key string) MySQLOptionFunc {
	return func(mysqlOpts *mysql.Options, _ *sqlgateway.ConnectOptions) {
		mysqlOpts.LockKey = key
	}
}

func WithMySQLHistoryTable(table string) MySQLOptionFunc {
	return func(mysqlOpts *mysql.Options, _ *sqlgateway.ConnectOptions) {
		mysqlOpts.HistoryTable = table
	}
}

func WithMySQLLockFor(lockFor int) MySQLOptionFunc {
	return func(mysqlOpts *mysql.Options, _ *sqlgateway.ConnectOptions) {
		mysqlOpts.LockFor = lockFor
	}
}

func WithMySQLCharset(charset string) MySQLOptionFunc {
	return func(mysqlOpts *mysql.Options, _ *sqlgateway.ConnectOptions) {
		mysqlOpts.Charset = charset
	}
}

func WithMySQLConnectionTimeout(timeout time.Duration) MySQLOptionFunc {
	return func(_ *mysql.Options, connectOpts *sqlgateway.ConnectOptions) {
		connectOpts.MaxTimeout = timeout
	}
}

func WithMySQLMaxConnectionAttempts(attempts int) MySQLOptionFunc {
	return func(_ *mysql.Options, connectOpts *sqlgateway.ConnectOptions) {
		connectOpts.MaxAttempts = attempts
	}
}

func WithPostgresNoLock() PostgresOptionFunc {
	return func(pgOpts *postgres.Options, _ *sqlgateway.ConnectOptions) {
		pgOpts.NoLock = true
	}
}

func WithPostgresLockKey(key int64) PostgresOptionFunc {
	return func(pgOpts *postgres.Options, _ *sqlgateway.ConnectOptions) {
		pgOpts.LockKey = key
	}
}

func WithPostgresHistoryTable(table string) PostgresOptionFunc {
	return func(pgOpts *postgres.Options, _ *sqlgateway.ConnectOptions) {
		pgOpts.HistoryTable = table
	}
}

func WithPostgresConnectionTimeout(timeout time.Duration) PostgresOptionFunc {
	return func(_ *postgres.Options, connectOpts *sqlgateway.ConnectOptions) {
		connectOpts.MaxTimeout = timeout
	}
}

func WithPostgresMaxConnectionAttempts(attempts int) PostgresOptionFunc {
	return func(_ *postgres.Options, connectOpts *sqlgateway.ConnectOptions) {
		connectOpts.MaxAttempts = attempts
	}
}
