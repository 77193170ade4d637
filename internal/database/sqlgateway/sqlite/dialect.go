package sqlite

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/denismitr/evolve/internal/database"
	"github.com/denismitr/evolve/operation"
	"github.com/denismitr/evolve/schema"
)

const DriverName = "sqlite3"

type Options struct {
	database.CommonOptions
}

// Dialect generates statements for SQLite. SQLite cannot change a column or
// a constraint of an existing table, those operations are reported as unsupported.
type Dialect struct{}

var _ database.Dialect = (*Dialect)(nil)

func NewDialect() *Dialect {
	return &Dialect{}
}

func (Dialect) Name() string {
	return DriverName
}

func (Dialect) BindType() int {
	return sqlx.QUESTION
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
	master := "sqlite_master"
	if name.Schema != "" {
		master = d.QuoteIdent(name.Schema) + ".sqlite_master"
	}

	return fmt.Sprintf(
		"SELECT COUNT(*) FROM %s WHERE type = 'table' AND name = %s",
		master, database.QuoteLiteral(name.Name),
	)
}

// InlineGuard only accepts unguarded statements, SQLite has no conditional
// execution outside of triggers.
func (Dialect) InlineGuard(s database.Statement) (database.Statement, bool) {
	return s, s.SkipIf == ""
}

func (d Dialect) InsertIgnore(table schema.TableName, columns []string, values []string) string {
	return fmt.Sprintf(
		"INSERT OR IGNORE INTO %s (%s) VALUES (%s)",
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

	switch o := op.(type) {
	case operation.CreateTable:
		stmt.SQL = d.createTable(o.Table, idempotent)
	case operation.DropTable:
		if idempotent {
			stmt.SQL = "DROP TABLE IF EXISTS " + d.QuoteTable(o.Table)
		} else {
			stmt.SQL = "DROP TABLE " + d.QuoteTable(o.Table)
		}
	case operation.AddColumn:
		stmt.SQL = fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", d.QuoteTable(o.Table), d.columnDefinition(o.Column))
		if idempotent {
			stmt.SkipIf = d.columnExists(o.Table, o.Column.Name)
		}
	case operation.DropColumn:
		stmt.SQL = fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", d.QuoteTable(o.Table), d.QuoteIdent(o.Column))
		if idempotent {
			stmt.SkipIf = database.SkipWhenAbsent(d.columnExists(o.Table, o.Column))
		}
	case operation.RenameTable:
		renamed := schema.Qualified(o.Table.Schema, o.NewName)
		stmt.SQL = fmt.Sprintf("ALTER TABLE %s RENAME TO %s", d.QuoteTable(o.Table), d.QuoteIdent(o.NewName))
		if idempotent {
			stmt.SkipIf = d.TableExists(renamed)
		}
	case operation.RenameColumn:
		stmt.SQL = fmt.Sprintf(
			"ALTER TABLE %s RENAME COLUMN %s TO %s",
			d.QuoteTable(o.Table), d.QuoteIdent(o.Column), d.QuoteIdent(o.NewName),
		)
		if idempotent {
			stmt.SkipIf = d.columnExists(o.Table, o.NewName)
		}
	default:
		return stmt, errors.Wrapf(database.ErrUnsupportedOperation, "%s on %s", op, DriverName)
	}

	return stmt, nil
}

func (d Dialect) createTable(t schema.Table, idempotent bool) string {
	var sb strings.Builder

	sb.WriteString("CREATE TABLE ")
	if idempotent {
		sb.WriteString("IF NOT EXISTS ")
	}
	sb.WriteString(d.QuoteTable(t.Name))
	sb.WriteString(" (\n")

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

	sb.WriteString(strings.Join(parts, ",\n"))
	sb.WriteString("\n)")

	return sb.String()
}

func (d Dialect) foreignKey(table schema.TableName, fk schema.ForeignKey) string {
	def := fmt.Sprintf(
		"CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		d.QuoteIdent(fk.KeyName(table)),
		database.JoinIdents(d.QuoteIdent, fk.Columns),
		d.QuoteIdent(fk.RefTable.Name),
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

func (d Dialect) columnExists(table schema.TableName, column string) string {
	args := database.QuoteLiteral(table.Name)
	if table.Schema != "" {
		args += ", " + database.QuoteLiteral(table.Schema)
	}

	return fmt.Sprintf(
		"SELECT COUNT(*) FROM pragma_table_info(%s) WHERE name = %s",
		args, database.QuoteLiteral(column),
	)
}

func columnType(c schema.Column) string {
	switch c.Type {
	case schema.String:
		if c.Length > 0 {
			return fmt.Sprintf("VARCHAR(%d)", c.Length)
		}
		return "TEXT"
	case schema.Text:
		return "TEXT"
	case schema.Int, schema.BigInt:
		return "INTEGER"
	case schema.Bool:
		return "BOOLEAN"
	case schema.Decimal:
		if c.Precision > 0 {
			return fmt.Sprintf("NUMERIC(%d,%d)", c.Precision, c.Scale)
		}
		return "NUMERIC"
	case schema.Float:
		return "REAL"
	case schema.DateTime:
		return "DATETIME"
	case schema.Binary:
		return "BLOB"
	default:
		return "TEXT"
	}
}
