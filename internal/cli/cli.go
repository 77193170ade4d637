package cli

import (
	"context"
	"io/ioutil"
	"log"
	"os"

	"github.com/pkg/errors"

	"github.com/denismitr/evolve"
	"github.com/denismitr/evolve/migration"
)

var ErrConfigAlreadyExists = errors.New("configuration file already exists")

type (
	CloserFunc func() error

	Config struct {
		ContextKey       string
		DatabaseURL      string
		MigrationsFolder string
		ModelFile        string
		HistoryTable     string
		Verbose          bool
	}

	ActionConfig struct {
		Steps      int
		Atomic     bool
		Idempotent bool
	}

	App struct {
		migrator *evolve.Migrator
	}
)

func NewFromYaml(path string, verbose bool, p *log.Logger) (*App, CloserFunc, error) {
	cfg, err := createConfigFromYaml(path)
	if err != nil {
		return nil, nil, err
	}

	cfg.Verbose = verbose

	return New(cfg, p)
}

func New(cfg Config, p *log.Logger) (*App, CloserFunc, error) {
	if err := cfg.validate(); err != nil {
		return nil, nil, err
	}

	m, closer, err := createMigrator(cfg, p)
	if err != nil {
		return nil, nil, err
	}

	return &App{migrator: m}, CloserFunc(closer), nil
}

func (app *App) Update(ctx context.Context, cfg ActionConfig) (evolve.Result, error) {
	return app.migrator.UpdateDatabase(ctx, evolve.CreateConfigurators(cfg.Steps, cfg.Atomic, false)...)
}

func (app *App) Pending(ctx context.Context) (migration.Migrations, error) {
	return app.migrator.GetPendingMigrations(ctx)
}

func (app *App) History(ctx context.Context) ([]migration.Identity, error) {
	return app.migrator.GetDatabaseMigrations(ctx)
}

func (app *App) Add(ctx context.Context, name string) (*migration.Metadata, error) {
	return app.migrator.AddMigration(ctx, name)
}

func (app *App) Script(ctx context.Context, cfg ActionConfig) (string, error) {
	statements, err := app.migrator.Script(ctx, evolve.CreateConfigurators(cfg.Steps, false, cfg.Idempotent)...)
	if err != nil {
		return "", err
	}

	return evolve.RenderScript(statements), nil
}

// InitCfg writes a configuration stub. It never overwrites an existing file.
func InitCfg(path string) error {
	if FileExists(path) {
		return errors.Wrapf(ErrConfigAlreadyExists, "[%s]", path)
	}

	if err := ioutil.WriteFile(path, []byte(configFileStub), 0o644); err != nil {
		return errors.Wrap(err, "could not create config file")
	}

	return nil
}

func FileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}

	return err == nil && !info.IsDir()
}
