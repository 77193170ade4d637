package postgres

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/denismitr/evolve/internal/database"
	"github.com/denismitr/evolve/operation"
	"github.com/denismitr/evolve/schema"
)

const DriverName = "postgres"

// blockQuote delimits the body of generated DO blocks.
const blockQuote = "$evolve$"

// Dialect generates statements for PostgreSQL, relying on the native
// IF [NOT] EXISTS clauses wherever the server offers them.
type Dialect struct{}

var _ database.Dialect = (*Dialect)(nil)

func NewDialect() *Dialect {
	return &Dialect{}
}

func (Dialect) Name() string {
	return DriverName
}

func (Dialect) BindType() int {
	return sqlx.DOLLAR
}

func (Dialect) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (d Dialect) QuoteTable(name schema.TableName) string {
	if name.Schema == "" {
		return d.QuoteIdent(name.Name)
	}

	return d.QuoteIdent(name.Schema) + "." + d.QuoteIdent(name.Name)
}

func (d Dialect) TableExists(name schema.TableName) string {
	return fmt.Sprintf(
		"SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = %s AND table_name = %s",
		schemaExpr(name), database.QuoteLiteral(name.Name),
	)
}

// InlineGuard wraps a guarded statement in an anonymous code block.
func (Dialect) InlineGuard(s database.Statement) (database.Statement, bool) {
	if s.SkipIf == "" {
		return s, true
	}

	if len(s.Args) > 0 || strings.Contains(s.SQL, blockQuote) || strings.Contains(s.SkipIf, blockQuote) {
		return s, false
	}

	return database.Statement{SQL: fmt.Sprintf(
		"DO %s BEGIN IF (%s) <= 0 THEN %s; END IF; END %s",
		blockQuote, s.SkipIf, strings.TrimSuffix(s.SQL, ";"), blockQuote,
	)}, true
}

func (d Dialect) InsertIgnore(table schema.TableName, columns []string, values []string) string {
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING",
		d.QuoteTable(table), database.JoinIdents(d.QuoteIdent, columns), strings.Join(values, ", "),
	)
}

func (d Dialect) Generate(ops []operation.Operation, idempotent bool) ([]database.Statement, error) {
	var result []database.Statement

	for _, op := range ops {
		stmt, err := d.generate(op, idempotent)
		if err != nil {
			return nil, err
		}

		result = append(result, stmt)
	}

	return result, nil
}

func (d Dialect) generate(op operation.Operation, idempotent bool) (database.Statement, error) {
	var stmt database.Statement

	ifExists, ifNotExists := "", ""
	if idempotent {
		ifExists, ifNotExists = "IF EXISTS ", "IF NOT EXISTS "
	}

	switch o := op.(type) {
	case operation.CreateTable:
		stmt.SQL = d.createTable(o.Table, ifNotExists)
	case operation.DropTable:
		stmt.SQL = "DROP TABLE " + ifExists + d.QuoteTable(o.Table)
	case operation.AddColumn:
		stmt.SQL = fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s%s", d.QuoteTable(o.Table), ifNotExists, d.columnDefinition(o.Column))
	case operation.DropColumn:
		stmt.SQL = fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s%s", d.QuoteTable(o.Table), ifExists, d.QuoteIdent(o.Column))
	case operation.AlterColumn:
		stmt.SQL = d.alterColumn(o)
	case operation.AddPrimaryKey:
		name := o.Key.KeyName(o.Table)
		stmt.SQL = fmt.Sprintf(
			"ALTER TABLE %s ADD CONSTRAINT %s PRIMARY KEY (%s)",
			d.QuoteTable(o.Table), d.QuoteIdent(name), database.JoinIdents(d.QuoteIdent, o.Key.Columns),
		)
		if idempotent {
			stmt.SkipIf = constraintExists(o.Table, name)
		}
	case operation.DropPrimaryKey:
		stmt.SQL = fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s%s", d.QuoteTable(o.Table), ifExists, d.QuoteIdent(o.Name))
	case operation.AddForeignKey:
		stmt.SQL = fmt.Sprintf("ALTER TABLE %s ADD %s", d.QuoteTable(o.Table), d.foreignKey(o.Table, o.Key))
		if idempotent {
			stmt.SkipIf = constraintExists(o.Table, o.Key.KeyName(o.Table))
		}
	case operation.DropForeignKey:
		stmt.SQL = fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s%s", d.QuoteTable(o.Table), ifExists, d.QuoteIdent(o.Name))
	case operation.RenameTable:
		stmt.SQL = fmt.Sprintf("ALTER TABLE %s%s RENAME TO %s", ifExists, d.QuoteTable(o.Table), d.QuoteIdent(o.NewName))
	case operation.RenameColumn:
		stmt.SQL = fmt.Sprintf(
			"ALTER TABLE %s RENAME COLUMN %s TO %s",
			d.QuoteTable(o.Table), d.QuoteIdent(o.Column), d.QuoteIdent(o.NewName),
		)
		if idempotent {
			stmt.SkipIf = columnExists(o.Table, o.NewName)
		}
	default:
		return stmt, errors.Wrapf(database.ErrUnsupportedOperation, "%s on %s", op, DriverName)
	}

	return stmt, nil
}

func (d Dialect) createTable(t schema.Table, ifNotExists string) string {
	var parts []string
	for _, c := range t.Columns {
		parts = append(parts, "\t"+d.columnDefinition(c))
	}

	if t.PrimaryKey != nil {
		parts = append(parts, fmt.Sprintf(
			"\tCONSTRAINT %s PRIMARY KEY (%s)",
			d.QuoteIdent(t.PrimaryKey.KeyName(t.Name)), database.JoinIdents(d.QuoteIdent, t.PrimaryKey.Columns),
		))
	}

	for _, fk := range t.ForeignKeys {
		parts = append(parts, "\t"+d.foreignKey(t.Name, fk))
	}

	return fmt.Sprintf("CREATE TABLE %s%s (\n%s\n)", ifNotExists, d.QuoteTable(t.Name), strings.Join(parts, ",\n"))
}

// alterColumn restates the full definition, so running it twice changes nothing.
func (d Dialect) alterColumn(o operation.AlterColumn) string {
	col := d.QuoteIdent(o.Column)
	typ := columnType(o.New)

	actions := []string{fmt.Sprintf("ALTER COLUMN %s TYPE %s USING %s::%s", col, typ, col, typ)}

	if o.New.Nullable {
		actions = append(actions, fmt.Sprintf("ALTER COLUMN %s DROP NOT NULL", col))
	} else {
		actions = append(actions, fmt.Sprintf("ALTER COLUMN %s SET NOT NULL", col))
	}

	if o.New.Default != "" {
		actions = append(actions, fmt.Sprintf("ALTER COLUMN %s SET DEFAULT %s", col, o.New.Default))
	} else {
		actions = append(actions, fmt.Sprintf("ALTER COLUMN %s DROP DEFAULT", col))
	}

	return fmt.Sprintf("ALTER TABLE %s %s", d.QuoteTable(o.Table), strings.Join(actions, ", "))
}

func (d Dialect) foreignKey(table schema.TableName, fk schema.ForeignKey) string {
	def := fmt.Sprintf(
		"CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		d.QuoteIdent(fk.KeyName(table)),
		database.JoinIdents(d.QuoteIdent, fk.Columns),
		d.QuoteTable(fk.RefTable),
		database.JoinIdents(d.QuoteIdent, fk.RefColumns),
	)

	if fk.OnDelete != "" {
		def += " ON DELETE " + strings.ToUpper(fk.OnDelete)
	}

	return def
}

func (d Dialect) columnDefinition(c schema.Column) string {
	def := d.QuoteIdent(c.Name) + " " + columnType(c)

	if !c.Nullable {
		def += " NOT NULL"
	}

	if c.Default != "" {
		def += " DEFAULT " + c.Default
	}

	return def
}

func constraintExists(table schema.TableName, name string) string {
	return fmt.Sprintf(
		"SELECT COUNT(*) FROM information_schema.table_constraints WHERE table_schema = %s AND table_name = %s AND constraint_name = %s",
		schemaExpr(table), database.QuoteLiteral(table.Name), database.QuoteLiteral(name),
	)
}

func columnExists(table schema.TableName, column string) string {
	return fmt.Sprintf(
		"SELECT COUNT(*) FROM information_schema.columns WHERE table_schema = %s AND table_name = %s AND column_name = %s",
		schemaExpr(table), database.QuoteLiteral(table.Name), database.QuoteLiteral(column),
	)
}

func schemaExpr(name schema.TableName) string {
	if name.Schema == "" {
		return "current_schema()"
	}

	return database.QuoteLiteral(name.Schema)
}

func columnType(c schema.Column) string {
	switch c.Type {
	case schema.String:
		if c.Length > 0 {
			return fmt.Sprintf("VARCHAR(%d)", c.Length)
		}
		return "VARCHAR"
	case schema.Text:
		return "TEXT"
	case schema.Int:
		return "INTEGER"
	case schema.BigInt:
		return "BIGINT"
	case schema.Bool:
		return "BOOLEAN"
	case schema.Decimal:
		if c.Precision > 0 {
			return fmt.Sprintf("NUMERIC(%d,%d)", c.Precision, c.Scale)
		}
		return "NUMERIC"
	case schema.Float:
		return "DOUBLE PRECISION"
	case schema.DateTime:
		return "TIMESTAMP"
	case schema.Binary:
		return "BYTEA"
	default:
		return "TEXT"
	}
}
