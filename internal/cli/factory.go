package cli

import (
	"database/sql"
	"log"

	"github.com/pkg/errors"
	"github.com/xo/dburl"

	"github.com/denismitr/evolve"
	"github.com/denismitr/evolve/internal/database/sqlgateway/mysql"
	"github.com/denismitr/evolve/internal/database/sqlgateway/postgres"
	"github.com/denismitr/evolve/internal/database/sqlgateway/sqlite"
)

type (
	databaseOption    func(db *sql.DB, cfg Config) evolve.OptionFunc
	databaseOptionMap map[string]databaseOption
)

var drivers = databaseOptionMap{
	mysql.DriverName: func(db *sql.DB, cfg Config) evolve.OptionFunc {
		var opts []evolve.MySQLOptionFunc
		if cfg.HistoryTable != "" {
			opts = append(opts, evolve.WithMySQLHistoryTable(cfg.HistoryTable))
		}
		return evolve.UseMySQL(db, opts...)
	},
	postgres.DriverName: func(db *sql.DB, cfg Config) evolve.OptionFunc {
		var opts []evolve.PostgresOptionFunc
		if cfg.HistoryTable != "" {
			opts = append(opts, evolve.WithPostgresHistoryTable(cfg.HistoryTable))
		}
		return evolve.UsePostgres(db, opts...)
	},
	sqlite.DriverName: func(db *sql.DB, cfg Config) evolve.OptionFunc {
		var opts []evolve.SqliteOptionFunc
		if cfg.HistoryTable != "" {
			opts = append(opts, evolve.WithSqliteHistoryTable(cfg.HistoryTable))
		}
		return evolve.UseSqlite(db, opts...)
	},
}

func createMigrator(cfg Config, p *log.Logger) (*evolve.Migrator, evolve.CloserFunc, error) {
	u, err := dburl.Parse(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, errors.Wrap(err, "could not parse database url")
	}

	return createMigratorFrom(u.Driver, u.DSN, drivers, cfg, p)
}

func createMigratorFrom(
	driver, dsn string,
	options databaseOptionMap,
	cfg Config,
	p *log.Logger,
) (*evolve.Migrator, evolve.CloserFunc, error) {
	option, ok := options[driver]
	if !ok {
		return nil, nil, errors.Errorf("could not find factory for driver [%s]", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "could not open %s database", driver)
	}

	opts := []evolve.OptionFunc{
		evolve.UseColorLogger(p, cfg.Verbose, cfg.Verbose),
		option(db, cfg),
		evolve.UseLocalFolderSource(cfg.MigrationsFolder),
	}

	if cfg.ModelFile != "" {
		opts = append(opts, evolve.UseModelFile(cfg.ModelFile))
	}

	m, closer, err := evolve.NewMigrator(cfg.ContextKey, opts...)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	return m, closer, nil
}
