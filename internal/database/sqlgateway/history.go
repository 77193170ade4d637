package sqlgateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/denismitr/evolve/diff"
	"github.com/denismitr/evolve/internal/database"
	"github.com/denismitr/evolve/migration"
	"github.com/denismitr/evolve/schema"
)

var historyColumns = []string{database.MigrationNameColumn, database.TimestampColumn, database.ContextKeyColumn}

// HistoryModel describes the history table with the same model user tables use.
func HistoryModel(table schema.TableName) *schema.Model {
	return schema.NewModel(schema.Table{
		Name: table,
		Columns: []schema.Column{
			{Name: database.MigrationNameColumn, Type: schema.String, Length: 150},
			{Name: database.TimestampColumn, Type: schema.String, Length: 32},
			{Name: database.ContextKeyColumn, Type: schema.String, Length: 300},
		},
		PrimaryKey: &schema.PrimaryKey{
			Columns: []string{database.TimestampColumn, database.MigrationNameColumn, database.ContextKeyColumn},
		},
	})
}

// HistoryRepository reads and appends history rows of one context key.
// Rows are never updated or deleted.
type HistoryRepository struct {
	dialect    database.Dialect
	table      schema.TableName
	contextKey string
	model      *schema.Model
	executor   statementExecutor
}

func NewHistoryRepository(
	dialect database.Dialect,
	table schema.TableName,
	contextKey string,
	executor statementExecutor,
) *HistoryRepository {
	return &HistoryRepository{
		dialect:    dialect,
		table:      table,
		contextKey: contextKey,
		model:      HistoryModel(table),
		executor:   executor,
	}
}

func (r *HistoryRepository) Exists(ctx context.Context, ex database.Executor) (bool, error) {
	var count int
	if err := ex.GetContext(ctx, &count, r.dialect.TableExists(r.table)); err != nil {
		return false, database.NewHistoryFailure(errors.Wrapf(err, "could not look up table [%s]", r.table))
	}

	return count > 0, nil
}

// CreateStatements returns the statements creating the history table.
func (r *HistoryRepository) CreateStatements(idempotent bool) ([]database.Statement, error) {
	ops, err := diff.FromEmpty(r.model)
	if err != nil {
		return nil, err
	}

	return r.dialect.Generate(ops, idempotent)
}

// EnsureHistoryTableExists creates the history table when it is missing and
// reports whether it had to.
func (r *HistoryRepository) EnsureHistoryTableExists(ctx context.Context, ex database.Executor) (bool, error) {
	exists, err := r.Exists(ctx, ex)
	if err != nil {
		return false, err
	}

	if exists {
		return false, nil
	}

	statements, err := r.CreateStatements(true)
	if err != nil {
		return false, database.NewHistoryFailure(err)
	}

	if err := r.executor.execute(ctx, ex, statements); err != nil {
		return false, database.NewHistoryFailure(errors.Wrapf(err, "could not create table [%s]", r.table))
	}

	return true, nil
}

// GetAppliedMigrations lists the migrations recorded for the context key,
// ordered by timestamp then name. A missing history table means nothing was applied.
func (r *HistoryRepository) GetAppliedMigrations(ctx context.Context, ex database.Executor) ([]migration.Identity, error) {
	exists, err := r.Exists(ctx, ex)
	if err != nil {
		return nil, err
	}

	if !exists {
		return nil, nil
	}

	q := sqlx.Rebind(r.dialect.BindType(), fmt.Sprintf(
		"SELECT %s, %s FROM %s WHERE %s = ? ORDER BY %s, %s",
		r.dialect.QuoteIdent(database.MigrationNameColumn),
		r.dialect.QuoteIdent(database.TimestampColumn),
		r.dialect.QuoteTable(r.table),
		r.dialect.QuoteIdent(database.ContextKeyColumn),
		r.dialect.QuoteIdent(database.TimestampColumn),
		r.dialect.QuoteIdent(database.MigrationNameColumn),
	))

	var result []migration.Identity
	if err := ex.SelectContext(ctx, &result, q, r.contextKey); err != nil {
		return nil, database.NewHistoryFailure(errors.Wrapf(err, "could not read table [%s]", r.table))
	}

	migration.SortIdentities(result)

	return result, nil
}

// RecordMigration appends one history row for the context key.
func (r *HistoryRepository) RecordMigration(ctx context.Context, ex database.Executor, id migration.Identity) error {
	stmt := r.recordStatement(id)

	if err := r.executor.execute(ctx, ex, []database.Statement{stmt}); err != nil {
		return database.NewHistoryFailure(errors.Wrapf(err, "could not record migration [%s]", id))
	}

	return nil
}

func (r *HistoryRepository) recordStatement(id migration.Identity) database.Statement {
	q := sqlx.Rebind(r.dialect.BindType(), fmt.Sprintf("INSERT INTO %s (%s) VALUES (?, ?, ?)", r.quotedTable(), r.quotedColumns()))

	return database.Statement{SQL: q, Args: []interface{}{id.Name, id.Timestamp, r.contextKey}}
}

// ScriptRecord renders the history insert with inline literals for scripts.
// The idempotent variant leaves an already recorded row alone.
func (r *HistoryRepository) ScriptRecord(id migration.Identity, idempotent bool) database.Statement {
	values := []string{
		database.QuoteLiteral(id.Name), database.QuoteLiteral(id.Timestamp), database.QuoteLiteral(r.contextKey),
	}

	if idempotent {
		return database.Statement{SQL: r.dialect.InsertIgnore(r.table, historyColumns, values)}
	}

	return database.Statement{SQL: fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)", r.quotedTable(), r.quotedColumns(), strings.Join(values, ", "),
	)}
}

func (r *HistoryRepository) quotedTable() string {
	return r.dialect.QuoteTable(r.table)
}

func (r *HistoryRepository) quotedColumns() string {
	return database.JoinIdents(r.dialect.QuoteIdent, historyColumns)
}
