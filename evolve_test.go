package evolve

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/denismitr/evolve/internal/database/sqlgateway/sqlite"
	"github.com/denismitr/evolve/migration"
	"github.com/denismitr/evolve/operation"
	"github.com/denismitr/evolve/schema"
)

const appContext = "AppContext"

func widgets(extra ...schema.Column) schema.Table {
	return schema.Table{
		Name: schema.Name("Widgets"),
		Columns: append([]schema.Column{
			{Name: "Id", Type: schema.Int},
			{Name: "Name", Type: schema.String, Length: 100},
		}, extra...),
		PrimaryKey: &schema.PrimaryKey{Columns: []string{"Id"}},
	}
}

func price() schema.Column {
	return schema.Column{Name: "Price", Type: schema.Decimal, Precision: 10, Scale: 2, Nullable: true}
}

func clockAt(ts string) migration.ClockFunc {
	return func() time.Time {
		t, err := time.Parse("20060102150405", ts)
		if err != nil {
			panic(err)
		}
		return t
	}
}

type fixture struct {
	dbPath string
	folder string
}

func newFixture(t *testing.T) fixture {
	dir := t.TempDir()
	return fixture{dbPath: filepath.Join(dir, "evolve.db"), folder: filepath.Join(dir, "migrations")}
}

func (f fixture) open(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open(sqlite.DriverName, f.dbPath)
	require.NoError(t, err)

	return db
}

func (f fixture) migrator(t *testing.T, contextKey string, opts ...OptionFunc) *Migrator {
	t.Helper()

	opts = append([]OptionFunc{
		UseSqlite(f.open(t), WithSqliteMaxConnectionAttempts(2), WithSqliteConnectionTimeout(5*time.Second)),
		UseLocalFolderSource(f.folder),
	}, opts...)

	m, closer, err := NewMigrator(contextKey, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = closer() })

	return m
}

func (f fixture) columns(t *testing.T, table string) []string {
	t.Helper()

	db := f.open(t)
	defer db.Close()

	rows, err := db.Query("SELECT name FROM pragma_table_info(?) ORDER BY cid", table)
	require.NoError(t, err)
	defer rows.Close()

	var result []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		result = append(result, name)
	}
	require.NoError(t, rows.Err())

	return result
}

func Test_NewMigrator(t *testing.T) {
	t.Run("context key is required", func(t *testing.T) {
		_, _, err := NewMigrator("")
		assert.True(t, errors.Is(err, ErrContextKeyRequired))
	})

	t.Run("database is required", func(t *testing.T) {
		_, _, err := NewMigrator(appContext)
		assert.True(t, errors.Is(err, ErrGatewayNotInitialized))
	})

	t.Run("failing option closes what was opened", func(t *testing.T) {
		f := newFixture(t)
		db := f.open(t)

		_, _, err := NewMigrator(appContext, UseSqlite(db), UseModel(schema.NewModel(widgets(), widgets())))
		require.True(t, errors.Is(err, ErrModelInvalid))

		assert.Error(t, db.Ping())
	})
}

func Test_AuthorAndApply(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	f := newFixture(t)

	// authoring against a model with no prior migration
	author := f.migrator(t, appContext, UseModel(schema.NewModel(widgets())), WithClock(clockAt("20200101120000")))

	m1, err := author.AddMigration(ctx, "Init")
	require.NoError(t, err)
	assert.Equal(t, "202001011200000", m1.Timestamp)
	assert.Nil(t, m1.SourceModel)
	assert.Equal(t, []operation.Operation{operation.CreateTable{Table: widgets()}}, m1.Upgrade)
	assert.Equal(t, []operation.Operation{operation.DropTable{Table: schema.Name("Widgets")}}, m1.Downgrade)

	_, err = author.AddMigration(ctx, "Init")
	assert.True(t, errors.Is(err, ErrMigrationAlreadyExists))

	// empty database: history table is created and the migration recorded
	result, err := author.UpdateDatabase(ctx)
	require.NoError(t, err)
	require.Len(t, result.Applied, 1)
	assert.Nil(t, result.Failed)

	applied, err := author.GetDatabaseMigrations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []migration.Identity{{Name: "Init", Timestamp: "202001011200000"}}, applied)
	assert.Equal(t, []string{"Id", "Name"}, f.columns(t, "Widgets"))
	assert.Equal(t, []string{"MigrationName", "Timestamp", "ContextKey"}, f.columns(t, "__MigrationHistory"))

	// the model grows a column
	grown := f.migrator(t, appContext, UseModel(schema.NewModel(widgets(price()))), WithClock(clockAt("20200102120000")))

	m2, err := grown.AddMigration(ctx, "AddPrice")
	require.NoError(t, err)
	assert.Equal(t, schema.NewModel(widgets()), m2.SourceModel)
	assert.Equal(t, []operation.Operation{operation.AddColumn{Table: schema.Name("Widgets"), Column: price()}}, m2.Upgrade)
	assert.Equal(t, []operation.Operation{operation.DropColumn{Table: schema.Name("Widgets"), Column: "Price"}}, m2.Downgrade)

	pending, err := grown.GetPendingMigrations(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "AddPrice", pending[0].Name)

	since, err := grown.GetMigrationsSince(ctx, m1.ID())
	require.NoError(t, err)
	assert.Equal(t, pending.Identities(), since.Identities())

	result, err = grown.UpdateDatabase(ctx)
	require.NoError(t, err)
	require.Len(t, result.Applied, 1)

	applied, err = grown.GetDatabaseMigrations(ctx)
	require.NoError(t, err)
	assert.Len(t, applied, 2)
	assert.Equal(t, []string{"Id", "Name", "Price"}, f.columns(t, "Widgets"))

	_, err = grown.UpdateDatabase(ctx)
	assert.True(t, errors.Is(err, ErrNothingToMigrate))

	// nothing is left to script either
	_, err = grown.Script(ctx)
	assert.True(t, errors.Is(err, ErrNothingToMigrate))
}

func Test_FailedMigrationStaysPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	gadgets := schema.Table{Name: schema.Name("Gadgets"), Columns: []schema.Column{{Name: "Id", Type: schema.Int}}}
	weight := schema.Column{Name: "Weight", Type: schema.Int, Nullable: true}

	m := f.migrator(t, appContext, UseInMemorySource(
		&migration.Metadata{
			Name:        "M1",
			Timestamp:   "202001010000000",
			TargetModel: schema.NewModel(widgets()),
			Upgrade:     []operation.Operation{operation.CreateTable{Table: widgets()}},
		},
		&migration.Metadata{
			Name:        "M2",
			Timestamp:   "202001020000000",
			SourceModel: schema.NewModel(widgets()),
			TargetModel: schema.NewModel(widgets(), gadgets),
			// the second statement targets a table nobody created
			Upgrade: []operation.Operation{
				operation.CreateTable{Table: gadgets},
				operation.AddColumn{Table: schema.Name("Missing"), Column: weight},
			},
		},
	))

	result, err := m.UpdateDatabase(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExecutionFailure))
	require.Len(t, result.Applied, 1)
	assert.Equal(t, "M1", result.Applied[0].Name)
	require.NotNil(t, result.Failed)
	assert.Equal(t, "M2", result.Failed.Name)

	applied, err := m.GetDatabaseMigrations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []migration.Identity{{Name: "M1", Timestamp: "202001010000000"}}, applied)

	pending, err := m.GetPendingMigrations(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "M2", pending[0].Name)

	// the table created earlier in the failed migration was rolled back
	assert.Empty(t, f.columns(t, "Gadgets"))
	assert.Equal(t, []string{"Id", "Name"}, f.columns(t, "Widgets"))
}

func Test_ManuallyAppliedColumnIsSkipped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	m := f.migrator(t, appContext, UseInMemorySource(
		&migration.Metadata{
			Name:        "M1",
			Timestamp:   "202001010000000",
			TargetModel: schema.NewModel(widgets()),
			Upgrade:     []operation.Operation{operation.CreateTable{Table: widgets()}},
		},
	))

	_, err := m.UpdateDatabase(ctx)
	require.NoError(t, err)

	db := f.open(t)
	_, err = db.Exec(`ALTER TABLE "Widgets" ADD COLUMN "Price" NUMERIC(10,2)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	m2 := f.migrator(t, appContext, UseInMemorySource(
		&migration.Metadata{
			Name:        "M1",
			Timestamp:   "202001010000000",
			TargetModel: schema.NewModel(widgets()),
			Upgrade:     []operation.Operation{operation.CreateTable{Table: widgets()}},
		},
		&migration.Metadata{
			Name:        "M2",
			Timestamp:   "202001020000000",
			SourceModel: schema.NewModel(widgets()),
			TargetModel: schema.NewModel(widgets(price())),
			Upgrade:     []operation.Operation{operation.AddColumn{Table: schema.Name("Widgets"), Column: price()}},
		},
	))

	result, err := m2.UpdateDatabase(ctx)
	require.NoError(t, err)
	assert.Len(t, result.Applied, 1)
	assert.Equal(t, []string{"Id", "Name", "Price"}, f.columns(t, "Widgets"))
}

func Test_ContextKeysAreIsolated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	orders := schema.Table{
		Name:    schema.Name("Orders"),
		Columns: []schema.Column{{Name: "Id", Type: schema.Int}},
	}

	app := f.migrator(t, "X", UseModel(schema.NewModel(widgets())), WithClock(clockAt("20200101000000")))
	reporting := f.migrator(t, "Y", UseModel(schema.NewModel(orders)), WithClock(clockAt("20200102000000")))

	_, err := app.AddMigration(ctx, "Widgets")
	require.NoError(t, err)

	_, err = reporting.AddMigration(ctx, "Orders")
	require.NoError(t, err)

	// each context only sees its own migrations in the shared folder
	local, err := reporting.GetLocalMigrations(ctx)
	require.NoError(t, err)
	require.Len(t, local, 1)
	assert.Equal(t, "Orders", local[0].Name)
	assert.Nil(t, local[0].SourceModel)

	_, err = app.UpdateDatabase(ctx)
	require.NoError(t, err)

	applied, err := reporting.GetDatabaseMigrations(ctx)
	require.NoError(t, err)
	assert.Empty(t, applied)

	_, err = reporting.UpdateDatabase(ctx)
	require.NoError(t, err)

	applied, err = app.GetDatabaseMigrations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []migration.Identity{{Name: "Widgets", Timestamp: "202001010000000"}}, applied)
}

func Test_UpdateDatabaseActions(t *testing.T) {
	ctx := context.Background()

	local := func() []*migration.Metadata {
		return []*migration.Metadata{
			{
				Name:        "M1",
				Timestamp:   "202001010000000",
				TargetModel: schema.NewModel(widgets()),
				Upgrade:     []operation.Operation{operation.CreateTable{Table: widgets()}},
			},
			{
				Name:        "M2",
				Timestamp:   "202001020000000",
				TargetModel: schema.NewModel(widgets(price())),
				Upgrade:     []operation.Operation{operation.AddColumn{Table: schema.Name("Widgets"), Column: price()}},
			},
		}
	}

	t.Run("steps", func(t *testing.T) {
		f := newFixture(t)
		m := f.migrator(t, appContext, UseInMemorySource(local()...))

		result, err := m.UpdateDatabase(ctx, WithSteps(1))
		require.NoError(t, err)
		require.Len(t, result.Applied, 1)

		pending, err := m.GetPendingMigrations(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "M2", pending[0].Name)
	})

	t.Run("single transaction", func(t *testing.T) {
		f := newFixture(t)
		m := f.migrator(t, appContext, UseInMemorySource(local()...))

		result, err := m.UpdateDatabase(ctx, InSingleTransaction())
		require.NoError(t, err)
		assert.Len(t, result.Applied, 2)
	})

	t.Run("script", func(t *testing.T) {
		f := newFixture(t)
		m := f.migrator(t, appContext, UseInMemorySource(local()...))

		statements, err := m.Script(ctx, WithSteps(1))
		require.NoError(t, err)
		require.Len(t, statements, 3)

		script := RenderScript(statements)
		assert.Contains(t, script, `CREATE TABLE "__MigrationHistory"`)
		assert.Contains(t, script, `CREATE TABLE "Widgets"`)
		assert.Contains(t, script, `'M1', '202001010000000', 'AppContext'`)

		idempotent, err := m.Script(ctx, WithSteps(1), Idempotent())
		require.NoError(t, err)
		rerunnable := RenderScript(idempotent)
		assert.Contains(t, rerunnable, `CREATE TABLE IF NOT EXISTS "Widgets"`)
		assert.Contains(t, rerunnable, `INSERT OR IGNORE INTO "__MigrationHistory"`)

		db := f.open(t)
		defer db.Close()

		for i := 0; i < 2; i++ {
			_, err := db.ExecContext(ctx, rerunnable)
			require.NoError(t, err, "run %d", i+1)
		}

		applied, err := m.GetDatabaseMigrations(ctx)
		require.NoError(t, err)
		assert.Equal(t, []migration.Identity{{Name: "M1", Timestamp: "202001010000000"}}, applied)

		// SQLite has no way to guard an added column inside a script
		_, err = m.Script(ctx, Idempotent())
		assert.True(t, errors.Is(err, ErrUnsupportedOperation))
	})

	t.Run("migrations since an invalid id", func(t *testing.T) {
		f := newFixture(t)
		m := f.migrator(t, appContext, UseInMemorySource(local()...))

		_, err := m.GetMigrationsSince(ctx, "nope")
		assert.True(t, errors.Is(err, migration.ErrInvalidID))
	})

	t.Run("authoring needs a model", func(t *testing.T) {
		f := newFixture(t)
		m := f.migrator(t, appContext)

		_, err := m.AddMigration(ctx, "Init")
		assert.True(t, errors.Is(err, ErrModelNotConfigured))
	})
}
