package mysql

import (
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/denismitr/evolve/internal/database"
	"github.com/denismitr/evolve/operation"
	"github.com/denismitr/evolve/schema"
)

const (
	DriverName     = "mysql"
	DefaultCharset = "utf8mb4"
)

// Dialect generates statements for MySQL. Only tables have native existence
// clauses there, every other guard queries information_schema.
type Dialect struct {
	charset string
}

var _ database.Dialect = (*Dialect)(nil)

func NewDialect(charset string) *Dialect {
	if charset == "" {
		charset = DefaultCharset
	}

	return &Dialect{charset: charset}
}

func (Dialect) Name() string {
	return DriverName
}

func (Dialect) BindType() int {
	return sqlx.QUESTION
}

func (Dialect) QuoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
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

// InlineGuard turns a guarded statement into a prepared one chosen by IF,
// the statement becomes a no-op when the guard counts anything.
func (Dialect) InlineGuard(s database.Statement) (database.Statement, bool) {
	if s.SkipIf == "" {
		return s, true
	}

	if len(s.Args) > 0 {
		return s, false
	}

	return database.Statement{SQL: fmt.Sprintf(
		"SET @evolve_ddl = IF((%s) > 0, 'DO 0', %s);\n"+
			"PREPARE evolve_ddl FROM @evolve_ddl;\n"+
			"EXECUTE evolve_ddl;\n"+
			"DEALLOCATE PREPARE evolve_ddl",
		s.SkipIf, stringLiteral(strings.TrimSuffix(s.SQL, ";")),
	)}, true
}

func (d Dialect) InsertIgnore(table schema.TableName, columns []string, values []string) string {
	return fmt.Sprintf(
		"INSERT IGNORE INTO %s (%s) VALUES (%s)",
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
			stmt.SkipIf = columnExists(o.Table, o.Column.Name)
		}
	case operation.DropColumn:
		stmt.SQL = fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", d.QuoteTable(o.Table), d.QuoteIdent(o.Column))
		if idempotent {
			stmt.SkipIf = database.SkipWhenAbsent(columnExists(o.Table, o.Column))
		}
	case operation.AlterColumn:
		stmt.SQL = fmt.Sprintf("ALTER TABLE %s MODIFY COLUMN %s", d.QuoteTable(o.Table), d.columnDefinition(o.New))
	case operation.AddPrimaryKey:
		stmt.SQL = fmt.Sprintf(
			"ALTER TABLE %s ADD CONSTRAINT %s PRIMARY KEY (%s)",
			d.QuoteTable(o.Table), d.QuoteIdent(o.Key.KeyName(o.Table)), database.JoinIdents(d.QuoteIdent, o.Key.Columns),
		)
		if idempotent {
			stmt.SkipIf = primaryKeyExists(o.Table)
		}
	case operation.DropPrimaryKey:
		stmt.SQL = fmt.Sprintf("ALTER TABLE %s DROP PRIMARY KEY", d.QuoteTable(o.Table))
		if idempotent {
			stmt.SkipIf = database.SkipWhenAbsent(primaryKeyExists(o.Table))
		}
	case operation.AddForeignKey:
		stmt.SQL = fmt.Sprintf("ALTER TABLE %s ADD %s", d.QuoteTable(o.Table), d.foreignKey(o.Table, o.Key))
		if idempotent {
			stmt.SkipIf = foreignKeyExists(o.Table, o.Key.KeyName(o.Table))
		}
	case operation.DropForeignKey:
		stmt.SQL = fmt.Sprintf("ALTER TABLE %s DROP FOREIGN KEY %s", d.QuoteTable(o.Table), d.QuoteIdent(o.Name))
		if idempotent {
			stmt.SkipIf = database.SkipWhenAbsent(foreignKeyExists(o.Table, o.Name))
		}
	case operation.RenameTable:
		renamed := schema.Qualified(o.Table.Schema, o.NewName)
		stmt.SQL = fmt.Sprintf("RENAME TABLE %s TO %s", d.QuoteTable(o.Table), d.QuoteTable(renamed))
		if idempotent {
			stmt.SkipIf = d.TableExists(renamed)
		}
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
	sb.WriteString("\n) ENGINE=InnoDB DEFAULT CHARSET=")
	sb.WriteString(d.charset)

	return sb.String()
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

	if c.Nullable {
		def += " NULL"
	} else {
		def += " NOT NULL"
	}

	if c.Default != "" {
		def += " DEFAULT " + c.Default
	}

	return def
}

func columnExists(table schema.TableName, column string) string {
	return fmt.Sprintf(
		"SELECT COUNT(*) FROM information_schema.columns WHERE table_schema = %s AND table_name = %s AND column_name = %s",
		schemaExpr(table), database.QuoteLiteral(table.Name), database.QuoteLiteral(column),
	)
}

func primaryKeyExists(table schema.TableName) string {
	return fmt.Sprintf(
		"SELECT COUNT(*) FROM information_schema.table_constraints WHERE table_schema = %s AND table_name = %s AND constraint_type = 'PRIMARY KEY'",
		schemaExpr(table), database.QuoteLiteral(table.Name),
	)
}

func foreignKeyExists(table schema.TableName, name string) string {
	return fmt.Sprintf(
		"SELECT COUNT(*) FROM information_schema.table_constraints WHERE table_schema = %s AND table_name = %s AND constraint_name = %s AND constraint_type = 'FOREIGN KEY'",
		schemaExpr(table), database.QuoteLiteral(table.Name), database.QuoteLiteral(name),
	)
}

// stringLiteral quotes s for MySQL, where backslashes escape by default.
func stringLiteral(s string) string {
	return "'" + strings.NewReplacer(`\`, `\\`, "'", "''").Replace(s) + "'"
}

func schemaExpr(name schema.TableName) string {
	if name.Schema == "" {
		return "DATABASE()"
	}

	return database.QuoteLiteral(name.Schema)
}

func columnType(c schema.Column) string {
	switch c.Type {
	case schema.String:
		length := c.Length
		if length <= 0 {
			length = 255
		}
		return fmt.Sprintf("VARCHAR(%d)", length)
	case schema.Text:
		return "TEXT"
	case schema.Int:
		return "INT"
	case schema.BigInt:
		return "BIGINT"
	case schema.Bool:
		return "TINYINT(1)"
	case schema.Decimal:
		if c.Precision > 0 {
			return fmt.Sprintf("DECIMAL(%d,%d)", c.Precision, c.Scale)
		}
		return "DECIMAL"
	case schema.Float:
		return "DOUBLE"
	case schema.DateTime:
		return "DATETIME"
	case schema.Binary:
		if c.Length > 0 {
			return fmt.Sprintf("VARBINARY(%d)", c.Length)
		}
		return "BLOB"
	default:
		return "TEXT"
	}
}
