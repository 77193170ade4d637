package evolve

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/denismitr/evolve/diff"
	"github.com/denismitr/evolve/internal/database"
	"github.com/denismitr/evolve/internal/database/sqlgateway"
	"github.com/denismitr/evolve/internal/logger"
	"github.com/denismitr/evolve/internal/source"
	"github.com/denismitr/evolve/migration"
	"github.com/denismitr/evolve/operation"
	"github.com/denismitr/evolve/schema"
)

var (
	ErrGatewayNotInitialized    = errors.New("database gateway has not been initialized")
	ErrScaffolderNotInitialized = errors.New("migration scaffolder has not been initialized")
	ErrContextKeyRequired       = sqlgateway.ErrContextKeyRequired

	ErrModelInvalid           = schema.ErrModelInvalid
	ErrUnsupportedOperation   = database.ErrUnsupportedOperation
	ErrExecutionFailure       = database.ErrExecutionFailure
	ErrHistoryUnavailable     = database.ErrHistoryUnavailable
	ErrNothingToMigrate       = database.ErrNothingToMigrate
	ErrLockNotAcquired        = database.ErrLockNotAcquired
	ErrMigrationAlreadyExists = source.ErrMigrationAlreadyExists
	ErrModelNotConfigured     = source.ErrModelNotConfigured
)

type (
	CloserFunc func() error

	// Statement is one generated SQL statement, see Script.
	Statement = database.Statement

	// Result reports which migrations one update committed and which one halted it.
	Result = database.Result
)

type loggerAware interface {
	SetLogger(lg logger.Logger)
}

// Migrator evolves the schema of one context key. Several migrators with
// different context keys may share a database and its history table.
type Migrator struct {
	contextKey string
	lg         logger.Logger
	clock      migration.ClockFunc
	gateway    database.Gateway
	selector   source.Selector
	scaffolder source.Scaffolder
	models     source.ModelProvider
	closerFns  []CloserFunc
}

// NewMigrator creates a migrator for the given context key, customized with
// option callbacks. A database option is required, the rest have defaults:
// migrations are kept in DefaultMigrationsFolder and nothing is logged.
func NewMigrator(contextKey string, opts ...OptionFunc) (*Migrator, CloserFunc, error) {
	if contextKey == "" {
		return nil, nil, ErrContextKeyRequired
	}

	m := &Migrator{
		contextKey: contextKey,
		lg:         logger.NullLogger{},
		clock:      time.Now,
	}

	for _, oFunc := range opts {
		if err := oFunc(m); err != nil {
			return nil, nil, m.closeOnError(err)
		}
	}

	if m.gateway == nil {
		return nil, nil, m.closeOnError(ErrGatewayNotInitialized)
	}

	if m.selector == nil {
		m.selector = source.NewLocalFSSource(source.DefaultMigrationsFolder, m.lg)
	}

	if m.scaffolder == nil {
		if s, ok := m.selector.(source.Scaffolder); ok {
			m.scaffolder = s
		}
	}

	// options run in any order, the final logger reaches every component here
	for _, c := range []interface{}{m.gateway, m.selector, m.scaffolder} {
		if la, ok := c.(loggerAware); ok {
			la.SetLogger(m.lg)
		}
	}

	return m, m.close, nil
}

func (m *Migrator) ContextKey() string {
	return m.contextKey
}

// UpdateDatabase applies the pending migrations in ascending timestamp order,
// creating the history table on the first run. It halts on the first failing
// migration; the result lists what was committed before it.
func (m *Migrator) UpdateDatabase(ctx context.Context, cfs ...ActionConfigurator) (Result, error) {
	act := newAction(cfs)

	local, err := m.GetLocalMigrations(ctx)
	if err != nil {
		return Result{}, err
	}

	result, err := m.gateway.Apply(ctx, local, database.Plan{Steps: act.steps, Atomic: act.atomic})
	if err != nil {
		if !errors.Is(err, ErrNothingToMigrate) {
			m.lg.Error(err)
		}

		return result, err
	}

	return result, nil
}

// GetLocalMigrations lists the migrations discovered for the context key,
// ordered by timestamp then name.
func (m *Migrator) GetLocalMigrations(ctx context.Context) (migration.Migrations, error) {
	local, err := m.selector.Select(ctx, source.Filter{ContextKey: m.contextKey})
	if err != nil {
		m.lg.Error(err)
		return nil, errors.Wrap(err, "could not read local migrations")
	}

	return local.Sorted(), nil
}

// GetDatabaseMigrations lists the migrations recorded in history for the context key.
func (m *Migrator) GetDatabaseMigrations(ctx context.Context) ([]migration.Identity, error) {
	applied, err := m.gateway.ReadHistory(ctx)
	if err != nil {
		m.lg.Error(err)
		return nil, err
	}

	return applied, nil
}

// GetPendingMigrations lists the local migrations whose name is not in history.
func (m *Migrator) GetPendingMigrations(ctx context.Context) (migration.Migrations, error) {
	local, err := m.GetLocalMigrations(ctx)
	if err != nil {
		return nil, err
	}

	applied, err := m.GetDatabaseMigrations(ctx)
	if err != nil {
		return nil, err
	}

	return migration.Pending(local, applied), nil
}

// GetMigrationsSince lists the local migrations after the given migration id.
// An empty id lists all of them.
func (m *Migrator) GetMigrationsSince(ctx context.Context, id string) (migration.Migrations, error) {
	if id != "" {
		if _, err := migration.ParseID(id); err != nil {
			return nil, err
		}
	}

	local, err := m.GetLocalMigrations(ctx)
	if err != nil {
		return nil, err
	}

	return migration.Since(local, id), nil
}

// Script generates the statements UpdateDatabase would run without running them.
func (m *Migrator) Script(ctx context.Context, cfs ...ActionConfigurator) ([]Statement, error) {
	act := newAction(cfs)

	pending, err := m.GetPendingMigrations(ctx)
	if err != nil {
		return nil, err
	}

	if act.steps > 0 && act.steps < len(pending) {
		pending = pending[:act.steps]
	}

	if len(pending) == 0 {
		return nil, ErrNothingToMigrate
	}

	statements, err := m.gateway.Script(ctx, pending, act.idempotent)
	if err != nil {
		m.lg.Error(err)
		return nil, err
	}

	return statements, nil
}

// AddMigration authors a migration from the difference between the target
// model of the latest local migration and the current model, and hands it to
// the scaffolder. It does not touch the database.
func (m *Migrator) AddMigration(ctx context.Context, name string) (*migration.Metadata, error) {
	if err := migration.ValidateName(name); err != nil {
		return nil, err
	}

	if m.models == nil {
		return nil, ErrModelNotConfigured
	}

	if m.scaffolder == nil {
		return nil, ErrScaffolderNotInitialized
	}

	local, err := m.GetLocalMigrations(ctx)
	if err != nil {
		return nil, err
	}

	if _, ok := local.Find(name); ok {
		return nil, errors.Wrapf(ErrMigrationAlreadyExists, "[%s]", name)
	}

	target, err := m.models.Model(ctx)
	if err != nil {
		return nil, err
	}

	var sourceModel *schema.Model
	if last, ok := local.Last(); ok {
		sourceModel = last.TargetModel.Clone()
	}

	upgrade, downgrade, err := diffBothWays(sourceModel, target)
	if err != nil {
		return nil, err
	}

	if len(upgrade) == 0 {
		m.lg.Debugf("model has not changed since the last migration, [%s] will be empty", name)
	}

	md := &migration.Metadata{
		Name:        name,
		Timestamp:   migration.GenerateTimestamp(m.clock),
		SourceModel: sourceModel,
		TargetModel: target,
		Upgrade:     upgrade,
		Downgrade:   downgrade,
	}

	if err := m.scaffolder.Scaffold(ctx, m.contextKey, md); err != nil {
		m.lg.Error(err)
		return nil, err
	}

	return md, nil
}

func diffBothWays(sourceModel, target *schema.Model) ([]operation.Operation, []operation.Operation, error) {
	if sourceModel == nil {
		upgrade, err := diff.FromEmpty(target)
		if err != nil {
			return nil, nil, err
		}

		downgrade, err := diff.ToEmpty(target)
		if err != nil {
			return nil, nil, err
		}

		return upgrade, downgrade, nil
	}

	upgrade, err := diff.Models(sourceModel, target)
	if err != nil {
		return nil, nil, err
	}

	downgrade, err := diff.Models(target, sourceModel)
	if err != nil {
		return nil, nil, err
	}

	return upgrade, downgrade, nil
}

// RenderScript joins statements into one SQL script.
func RenderScript(statements []Statement) string {
	return database.Render(statements)
}

func (m *Migrator) close() error {
	if m.gateway == nil {
		return ErrGatewayNotInitialized
	}

	var result error
	for _, fn := range m.closerFns {
		if err := fn(); err != nil {
			m.lg.Error(err)
			result = err
		}
	}

	return result
}

func (m *Migrator) closeOnError(err error) error {
	for _, fn := range m.closerFns {
		if closeErr := fn(); closeErr != nil {
			err = errors.Wrap(err, closeErr.Error())
		}
	}

	return err
}
