package sqlgateway

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/denismitr/evolve/internal/database"
	"github.com/denismitr/evolve/internal/database/sqlgateway/mysql"
	"github.com/denismitr/evolve/internal/database/sqlgateway/postgres"
	"github.com/denismitr/evolve/internal/database/sqlgateway/sqlite"
	"github.com/denismitr/evolve/migration"
	"github.com/denismitr/evolve/operation"
	"github.com/denismitr/evolve/schema"
)

func TestNewSqliteGateway(t *testing.T) {
	t.Run("default options", func(t *testing.T) {
		g, closer, err := NewSqliteGateway(&RetryingConnector{}, &sqlite.Options{
			CommonOptions: database.CommonOptions{ContextKey: "app"},
		})

		require.NoError(t, err)
		require.NotNil(t, closer)
		require.NotNil(t, g)

		assert.Equal(t, schema.Name(database.DefaultHistoryTable), g.history.table)
		assert.Equal(t, "app", g.history.contextKey)
		assert.IsType(t, database.NullLocker{}, g.locker)
	})

	t.Run("custom options", func(t *testing.T) {
		g, _, err := NewSqliteGateway(&RetryingConnector{}, &sqlite.Options{
			CommonOptions: database.CommonOptions{ContextKey: "app", HistoryTable: "foo"},
		})

		require.NoError(t, err)
		assert.Equal(t, schema.Name("foo"), g.history.table)
	})

	t.Run("context key is required", func(t *testing.T) {
		g, closer, err := NewSqliteGateway(&RetryingConnector{}, &sqlite.Options{})

		require.ErrorIs(t, err, ErrContextKeyRequired)
		assert.Nil(t, g)
		assert.Nil(t, closer)
	})
}

func TestNewMySQLGateway(t *testing.T) {
	t.Run("default options", func(t *testing.T) {
		g, closer, err := NewMySQLGateway(&RetryingConnector{}, &mysql.Options{
			CommonOptions: database.CommonOptions{ContextKey: "app"},
		})

		require.NoError(t, err)
		require.NotNil(t, closer)

		locker, ok := g.locker.(*mysql.Locker)
		require.True(t, ok)
		assert.Equal(t, mysql.NewLocker("", 0, false), locker)
		assert.Equal(t, mysql.DriverName, g.Dialect().Name())
	})

	t.Run("custom options", func(t *testing.T) {
		g, _, err := NewMySQLGateway(&RetryingConnector{}, &mysql.Options{
			CommonOptions: database.CommonOptions{ContextKey: "app", HistoryTable: "foo"},
			LockKey:       "foobar",
			LockFor:       2,
		})

		require.NoError(t, err)
		assert.Equal(t, schema.Name("foo"), g.history.table)
		assert.Equal(t, mysql.NewLocker("foobar", 2, false), g.locker)
	})
}

func TestNewPostgresGateway(t *testing.T) {
	g, _, err := NewPostgresGateway(&RetryingConnector{}, &postgres.Options{
		CommonOptions: database.CommonOptions{ContextKey: "app"},
		LockKey:       42,
	})

	require.NoError(t, err)
	assert.Equal(t, postgres.NewLocker(42, false), g.locker)
	assert.Equal(t, postgres.DriverName, g.Dialect().Name())
}

func widgetsTable() schema.Table {
	return schema.Table{
		Name: schema.Name("widgets"),
		Columns: []schema.Column{
			{Name: "id", Type: schema.Int},
			{Name: "title", Type: schema.String, Length: 100},
		},
		PrimaryKey: &schema.PrimaryKey{Columns: []string{"id"}},
	}
}

func createWidgets() *migration.Metadata {
	return &migration.Metadata{
		Name:      "CreateWidgets",
		Timestamp: "202001010000000",
		Upgrade:   []operation.Operation{operation.CreateTable{Table: widgetsTable()}},
	}
}

func addColor() *migration.Metadata {
	return &migration.Metadata{
		Name:      "AddColor",
		Timestamp: "202001020000000",
		Upgrade: []operation.Operation{operation.AddColumn{
			Table:  schema.Name("widgets"),
			Column: schema.Column{Name: "color", Type: schema.String, Length: 20, Nullable: true},
		}},
	}
}

// breakWidgets creates a table, then fails on a table nobody created.
func breakWidgets() *migration.Metadata {
	return &migration.Metadata{
		Name:      "BreakWidgets",
		Timestamp: "202001030000000",
		Upgrade: []operation.Operation{
			operation.CreateTable{Table: schema.Table{
				Name:    schema.Name("gadgets"),
				Columns: []schema.Column{{Name: "id", Type: schema.Int}},
			}},
			operation.AddColumn{
				Table:  schema.Name("missing"),
				Column: schema.Column{Name: "weight", Type: schema.Int, Nullable: true},
			},
		},
	}
}

func tableCount(t *testing.T, db *sqlx.DB, name string) int {
	t.Helper()

	var count int
	require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name))

	return count
}

func sqliteGateway(t *testing.T, db *sqlx.DB, contextKey string) *SQLGateway {
	t.Helper()

	connector := MakeRetryingConnector(db, &ConnectOptions{
		MaxAttempts: 2,
		MaxTimeout:  5 * time.Second,
		RetryStep:   10 * time.Millisecond,
	})

	g, _, err := NewSqliteGateway(connector, &sqlite.Options{
		CommonOptions: database.CommonOptions{ContextKey: contextKey},
	})
	require.NoError(t, err)

	return g
}

func openSqlite(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := sqlx.Open(sqlite.DriverName, filepath.Join(t.TempDir(), "evolve.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return db
}

func TestSQLGateway_Apply(t *testing.T) {
	ctx := context.Background()

	t.Run("applies pending migrations and records them", func(t *testing.T) {
		db := openSqlite(t)
		g := sqliteGateway(t, db, "app")

		result, err := g.Apply(ctx, migration.Migrations{createWidgets(), addColor()}, database.Plan{})
		require.NoError(t, err)
		require.Len(t, result.Applied, 2)
		assert.Nil(t, result.Failed)

		applied, err := g.ReadHistory(ctx)
		require.NoError(t, err)
		assert.Equal(t, []migration.Identity{
			createWidgets().Identity(),
			addColor().Identity(),
		}, applied)

		var colors int
		require.NoError(t, db.Get(&colors, `SELECT COUNT(*) FROM pragma_table_info('widgets') WHERE name = 'color'`))
		assert.Equal(t, 1, colors)
	})

	t.Run("second run has nothing to migrate", func(t *testing.T) {
		db := openSqlite(t)
		g := sqliteGateway(t, db, "app")
		local := migration.Migrations{createWidgets()}

		_, err := g.Apply(ctx, local, database.Plan{})
		require.NoError(t, err)

		result, err := g.Apply(ctx, local, database.Plan{})
		require.ErrorIs(t, err, database.ErrNothingToMigrate)
		assert.Empty(t, result.Applied)
	})

	t.Run("nothing to migrate does not create history table", func(t *testing.T) {
		db := openSqlite(t)
		g := sqliteGateway(t, db, "app")

		_, err := g.Apply(ctx, nil, database.Plan{})
		require.ErrorIs(t, err, database.ErrNothingToMigrate)

		var tables int
		require.NoError(t, db.Get(&tables, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table'`))
		assert.Equal(t, 0, tables)
	})

	t.Run("steps limit the cycle", func(t *testing.T) {
		db := openSqlite(t)
		g := sqliteGateway(t, db, "app")
		local := migration.Migrations{createWidgets(), addColor()}

		result, err := g.Apply(ctx, local, database.Plan{Steps: 1})
		require.NoError(t, err)
		require.Len(t, result.Applied, 1)
		assert.Equal(t, "CreateWidgets", result.Applied[0].Name)

		result, err = g.Apply(ctx, local, database.Plan{})
		require.NoError(t, err)
		require.Len(t, result.Applied, 1)
		assert.Equal(t, "AddColor", result.Applied[0].Name)
	})

	t.Run("failure halts the cycle and keeps earlier migrations", func(t *testing.T) {
		db := openSqlite(t)
		g := sqliteGateway(t, db, "app")

		result, err := g.Apply(ctx, migration.Migrations{createWidgets(), breakWidgets(), addColor()}, database.Plan{})
		require.Error(t, err)
		assert.ErrorIs(t, err, database.ErrExecutionFailure)
		assert.Contains(t, err.Error(), "no such table")
		require.Len(t, result.Applied, 1)
		require.NotNil(t, result.Failed)
		assert.Equal(t, "BreakWidgets", result.Failed.Name)

		applied, err := g.ReadHistory(ctx)
		require.NoError(t, err)
		assert.Equal(t, []migration.Identity{createWidgets().Identity()}, applied)

		// the failed migration is undone as a whole, the earlier one stays
		assert.Equal(t, 0, tableCount(t, db, "gadgets"))
		assert.Equal(t, 1, tableCount(t, db, "widgets"))
	})

	t.Run("atomic cycle rolls back everything on failure", func(t *testing.T) {
		db := openSqlite(t)
		g := sqliteGateway(t, db, "app")

		result, err := g.Apply(ctx, migration.Migrations{createWidgets(), breakWidgets()}, database.Plan{Atomic: true})
		require.ErrorIs(t, err, database.ErrExecutionFailure)
		assert.Empty(t, result.Applied)
		require.NotNil(t, result.Failed)
		assert.Equal(t, "BreakWidgets", result.Failed.Name)

		applied, err := g.ReadHistory(ctx)
		require.NoError(t, err)
		assert.Empty(t, applied)

		assert.Equal(t, 0, tableCount(t, db, "widgets"))
		assert.Equal(t, 0, tableCount(t, db, "gadgets"))
	})

	t.Run("unsupported operation halts before execution", func(t *testing.T) {
		db := openSqlite(t)
		g := sqliteGateway(t, db, "app")

		alter := &migration.Metadata{
			Name:      "WidenTitle",
			Timestamp: "202001040000000",
			Upgrade: []operation.Operation{operation.AlterColumn{
				Table:  schema.Name("widgets"),
				Column: "title",
				Old:    schema.Column{Name: "title", Type: schema.String, Length: 100},
				New:    schema.Column{Name: "title", Type: schema.String, Length: 200},
			}},
		}

		result, err := g.Apply(ctx, migration.Migrations{createWidgets(), alter}, database.Plan{})
		require.ErrorIs(t, err, database.ErrUnsupportedOperation)
		assert.Len(t, result.Applied, 1)
		assert.Equal(t, "WidenTitle", result.Failed.Name)
	})

	t.Run("context keys keep separate histories", func(t *testing.T) {
		db := openSqlite(t)
		app := sqliteGateway(t, db, "app")
		reporting := sqliteGateway(t, db, "reporting")

		_, err := app.Apply(ctx, migration.Migrations{createWidgets()}, database.Plan{})
		require.NoError(t, err)

		applied, err := reporting.ReadHistory(ctx)
		require.NoError(t, err)
		assert.Empty(t, applied)

		// the table already exists, the guard skips its creation
		result, err := reporting.Apply(ctx, migration.Migrations{createWidgets()}, database.Plan{})
		require.NoError(t, err)
		assert.Len(t, result.Applied, 1)

		applied, err = reporting.ReadHistory(ctx)
		require.NoError(t, err)
		assert.Len(t, applied, 1)
	})
}

func TestSQLGateway_Script(t *testing.T) {
	ctx := context.Background()

	t.Run("includes history bootstrap when table is missing", func(t *testing.T) {
		g := sqliteGateway(t, openSqlite(t), "app")

		statements, err := g.Script(ctx, migration.Migrations{createWidgets()}, false)
		require.NoError(t, err)
		require.Len(t, statements, 3)

		assert.Contains(t, statements[0].SQL, `CREATE TABLE "__MigrationHistory"`)
		assert.Contains(t, statements[1].SQL, `CREATE TABLE "widgets"`)
		assert.Equal(t,
			`INSERT INTO "__MigrationHistory" ("MigrationName", "Timestamp", "ContextKey") VALUES ('CreateWidgets', '202001010000000', 'app')`,
			statements[2].SQL,
		)
	})

	t.Run("skips history bootstrap once the table exists", func(t *testing.T) {
		g := sqliteGateway(t, openSqlite(t), "app")

		_, err := g.Apply(ctx, migration.Migrations{createWidgets()}, database.Plan{})
		require.NoError(t, err)

		statements, err := g.Script(ctx, migration.Migrations{addColor()}, false)
		require.NoError(t, err)
		require.Len(t, statements, 2)
		assert.Empty(t, statements[0].SkipIf)
	})

	t.Run("idempotent script can run twice", func(t *testing.T) {
		db := openSqlite(t)
		g := sqliteGateway(t, db, "app")

		statements, err := g.Script(ctx, migration.Migrations{createWidgets()}, true)
		require.NoError(t, err)
		require.Len(t, statements, 3)
		assert.Equal(t,
			`INSERT OR IGNORE INTO "__MigrationHistory" ("MigrationName", "Timestamp", "ContextKey") VALUES ('CreateWidgets', '202001010000000', 'app')`,
			statements[2].SQL,
		)

		script := database.Render(statements)
		for i := 0; i < 2; i++ {
			_, err := db.ExecContext(ctx, script)
			require.NoError(t, err, "run %d", i+1)
		}

		applied, err := g.ReadHistory(ctx)
		require.NoError(t, err)
		assert.Equal(t, []migration.Identity{createWidgets().Identity()}, applied)
		assert.Equal(t, 1, tableCount(t, db, "widgets"))
	})

	t.Run("idempotent script refuses guards sqlite cannot express", func(t *testing.T) {
		g := sqliteGateway(t, openSqlite(t), "app")

		_, err := g.Apply(ctx, migration.Migrations{createWidgets()}, database.Plan{})
		require.NoError(t, err)

		statements, err := g.Script(ctx, migration.Migrations{addColor()}, true)
		require.ErrorIs(t, err, database.ErrUnsupportedOperation)
		assert.Contains(t, err.Error(), "AddColor")
		assert.Nil(t, statements)
	})

	t.Run("script does not touch the database", func(t *testing.T) {
		db := openSqlite(t)
		g := sqliteGateway(t, db, "app")

		_, err := g.Script(ctx, migration.Migrations{createWidgets()}, true)
		require.NoError(t, err)

		var tables int
		require.NoError(t, db.Get(&tables, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table'`))
		assert.Equal(t, 0, tables)
	})
}

// brokenCommitTxManager runs callbacks without a transaction and then
// reports the commit error it was given.
type brokenCommitTxManager struct {
	ex  database.Executor
	err error
}

func (m brokenCommitTxManager) ReadOnly(ctx context.Context, cb TxCallback, _ ...TxConfigFunc) error {
	return m.ReadWrite(ctx, cb)
}

func (m brokenCommitTxManager) ReadWrite(ctx context.Context, cb TxCallback, _ ...TxConfigFunc) error {
	if err := cb(ctx, m.ex); err != nil {
		return err
	}

	return m.err
}

func TestSQLGateway_CommitFailure(t *testing.T) {
	ctx := context.Background()
	commitErr := errors.New("connection reset during commit")

	t.Run("one migration at a time", func(t *testing.T) {
		db := openSqlite(t)
		g := sqliteGateway(t, db, "app")

		err := g.migrateOne(ctx, brokenCommitTxManager{ex: db, err: commitErr}, createWidgets())
		require.ErrorIs(t, err, database.ErrExecutionFailure)
		assert.ErrorIs(t, err, commitErr)
		assert.Contains(t, err.Error(), createWidgets().ID())
	})

	t.Run("statement failure is not wrapped twice", func(t *testing.T) {
		db := openSqlite(t)
		g := sqliteGateway(t, db, "app")

		err := g.migrateOne(ctx, brokenCommitTxManager{ex: db, err: commitErr}, breakWidgets())
		require.ErrorIs(t, err, database.ErrExecutionFailure)
		assert.NotErrorIs(t, err, commitErr)
		assert.Equal(t, 1, strings.Count(err.Error(), database.ErrExecutionFailure.Error()))
	})

	t.Run("atomic cycle", func(t *testing.T) {
		db := openSqlite(t)
		g := sqliteGateway(t, db, "app")

		_, err := g.history.EnsureHistoryTableExists(ctx, db)
		require.NoError(t, err)

		result, err := g.migrateAtomically(ctx, brokenCommitTxManager{ex: db, err: commitErr}, migration.Migrations{createWidgets()})
		require.ErrorIs(t, err, database.ErrExecutionFailure)
		assert.ErrorIs(t, err, commitErr)
		assert.Empty(t, result.Applied)
		assert.Nil(t, result.Failed)
	})

	t.Run("atomic cycle keeps the kind of an unsupported operation", func(t *testing.T) {
		db := openSqlite(t)
		g := sqliteGateway(t, db, "app")

		dropKey := &migration.Metadata{
			Name:      "DropKey",
			Timestamp: "202001040000000",
			Upgrade:   []operation.Operation{operation.DropPrimaryKey{Table: schema.Name("widgets")}},
		}

		result, err := g.migrateAtomically(ctx, brokenCommitTxManager{ex: db, err: commitErr}, migration.Migrations{dropKey})
		require.ErrorIs(t, err, database.ErrUnsupportedOperation)
		assert.NotErrorIs(t, err, database.ErrExecutionFailure)
		require.NotNil(t, result.Failed)
		assert.Equal(t, "DropKey", result.Failed.Name)
	})
}
