package schema

import (
	"sort"
	"strings"
)

type Type string

const (
	String   Type = "string"
	Text     Type = "text"
	Int      Type = "int"
	BigInt   Type = "bigint"
	Bool     Type = "bool"
	Decimal  Type = "decimal"
	Float    Type = "float"
	DateTime Type = "datetime"
	Binary   Type = "binary"
)

var knownTypes = map[Type]bool{
	String: true, Text: true, Int: true, BigInt: true, Bool: true,
	Decimal: true, Float: true, DateTime: true, Binary: true,
}

type (
	// TableName is a table name optionally qualified by a schema.
	TableName struct {
		Schema string `yaml:"schema,omitempty"`
		Name   string `yaml:"name"`
	}

	// Column describes one column and its facets.
	// Length applies to String and Binary, Precision and Scale to Decimal.
	// Default is a raw SQL literal rendered verbatim.
	Column struct {
		Name      string `yaml:"name"`
		Type      Type   `yaml:"type"`
		Nullable  bool   `yaml:"nullable,omitempty"`
		Length    int    `yaml:"length,omitempty"`
		Precision int    `yaml:"precision,omitempty"`
		Scale     int    `yaml:"scale,omitempty"`
		Default   string `yaml:"default,omitempty"`
	}

	PrimaryKey struct {
		Name    string   `yaml:"name,omitempty"`
		Columns []string `yaml:"columns"`
	}

	ForeignKey struct {
		Name       string    `yaml:"name,omitempty"`
		Columns    []string  `yaml:"columns"`
		RefTable   TableName `yaml:"ref_table"`
		RefColumns []string  `yaml:"ref_columns"`
		OnDelete   string    `yaml:"on_delete,omitempty"`
	}

	Table struct {
		Name        TableName    `yaml:"table"`
		Columns     []Column     `yaml:"columns"`
		PrimaryKey  *PrimaryKey  `yaml:"primary_key,omitempty"`
		ForeignKeys []ForeignKey `yaml:"foreign_keys,omitempty"`
	}

	// Model is a snapshot of a data model. Values are treated as immutable
	// once built: constructors copy their inputs and accessors never hand
	// out the internal slices for mutation.
	Model struct {
		Tables []Table `yaml:"tables"`
	}
)

// Name builds an unqualified table name.
func Name(name string) TableName {
	return TableName{Name: name}
}

// Qualified builds a schema qualified table name.
func Qualified(schema, name string) TableName {
	return TableName{Schema: schema, Name: name}
}

func (n TableName) String() string {
	if n.Schema == "" {
		return n.Name
	}

	return n.Schema + "." + n.Name
}

func (n TableName) Less(o TableName) bool {
	return n.String() < o.String()
}

func (n TableName) IsZero() bool {
	return n.Name == ""
}

// NewModel copies the given tables into a new model.
func NewModel(tables ...Table) *Model {
	m := &Model{Tables: make([]Table, len(tables))}
	for i := range tables {
		m.Tables[i] = tables[i].Clone()
	}

	return m
}

// Empty is the model of a database with no tables.
func Empty() *Model {
	return &Model{}
}

// Table looks a table up by its qualified name.
func (m *Model) Table(name TableName) (Table, bool) {
	if m == nil {
		return Table{}, false
	}

	for i := range m.Tables {
		if m.Tables[i].Name == name {
			return m.Tables[i], true
		}
	}

	return Table{}, false
}

// TableNames returns the qualified table names in lexical order.
func (m *Model) TableNames() []TableName {
	if m == nil {
		return nil
	}

	names := make([]TableName, 0, len(m.Tables))
	for i := range m.Tables {
		names = append(names, m.Tables[i].Name)
	}

	sort.Slice(names, func(i, j int) bool { return names[i].Less(names[j]) })

	return names
}

// References returns every foreign key in the model pointing at the given table,
// keyed by the dependent table.
func (m *Model) References(principal TableName) map[TableName][]ForeignKey {
	result := make(map[TableName][]ForeignKey)
	if m == nil {
		return result
	}

	for _, t := range m.Tables {
		for _, fk := range t.ForeignKeys {
			if fk.RefTable == principal {
				result[t.Name] = append(result[t.Name], fk)
			}
		}
	}

	return result
}

func (m *Model) Clone() *Model {
	if m == nil {
		return nil
	}

	return NewModel(m.Tables...)
}

func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}

	return Column{}, false
}

func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i := range t.Columns {
		names[i] = t.Columns[i].Name
	}

	return names
}

func (t Table) ForeignKey(name string) (ForeignKey, bool) {
	for _, fk := range t.ForeignKeys {
		if fk.KeyName(t.Name) == name {
			return fk, true
		}
	}

	return ForeignKey{}, false
}

func (t Table) Clone() Table {
	c := Table{Name: t.Name}
	c.Columns = append([]Column(nil), t.Columns...)

	if t.PrimaryKey != nil {
		pk := t.PrimaryKey.Clone()
		c.PrimaryKey = &pk
	}

	for _, fk := range t.ForeignKeys {
		c.ForeignKeys = append(c.ForeignKeys, fk.Clone())
	}

	return c
}

// WithoutForeignKeys returns a copy of the table shape with no foreign keys.
func (t Table) WithoutForeignKeys() Table {
	c := t.Clone()
	c.ForeignKeys = nil
	return c
}

// KeyName returns the primary key constraint name, deriving pk_<table> when unnamed.
func (pk PrimaryKey) KeyName(table TableName) string {
	if pk.Name != "" {
		return pk.Name
	}

	return "pk_" + table.Name
}

func (pk PrimaryKey) Equal(o PrimaryKey) bool {
	return pk.Name == o.Name && equalStrings(pk.Columns, o.Columns)
}

func (pk PrimaryKey) Clone() PrimaryKey {
	return PrimaryKey{Name: pk.Name, Columns: append([]string(nil), pk.Columns...)}
}

// KeyName returns the constraint name, deriving fk_<table>_<ref>_<columns> when unnamed.
func (fk ForeignKey) KeyName(table TableName) string {
	if fk.Name != "" {
		return fk.Name
	}

	return "fk_" + table.Name + "_" + fk.RefTable.Name + "_" + strings.Join(fk.Columns, "_")
}

func (fk ForeignKey) Equal(o ForeignKey) bool {
	return fk.Name == o.Name &&
		fk.RefTable == o.RefTable &&
		strings.EqualFold(fk.OnDelete, o.OnDelete) &&
		equalStrings(fk.Columns, o.Columns) &&
		equalStrings(fk.RefColumns, o.RefColumns)
}

func (fk ForeignKey) Clone() ForeignKey {
	c := fk
	c.Columns = append([]string(nil), fk.Columns...)
	c.RefColumns = append([]string(nil), fk.RefColumns...)
	return c
}

func (c Column) Equal(o Column) bool {
	return c == o
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
