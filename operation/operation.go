// Package operation defines the closed set of atomic schema changes a migration is made of.
package operation

import (
	"fmt"
	"strings"

	"github.com/denismitr/evolve/schema"
)

type Kind string

const (
	KindCreateTable    Kind = "create_table"
	KindDropTable      Kind = "drop_table"
	KindAddColumn      Kind = "add_column"
	KindDropColumn     Kind = "drop_column"
	KindAlterColumn    Kind = "alter_column"
	KindAddPrimaryKey  Kind = "add_primary_key"
	KindDropPrimaryKey Kind = "drop_primary_key"
	KindAddForeignKey  Kind = "add_foreign_key"
	KindDropForeignKey Kind = "drop_foreign_key"
	KindRenameTable    Kind = "rename_table"
	KindRenameColumn   Kind = "rename_column"
)

// Operation is one atomic schema change. The set of implementations is closed.
type Operation interface {
	Kind() Kind
	// Inverse returns the operation undoing this one, when the operation
	// carries enough information to build it.
	Inverse() (Operation, bool)
	fmt.Stringer

	operation()
}

type (
	CreateTable struct {
		Table schema.Table `yaml:"table"`
	}

	DropTable struct {
		Table schema.TableName `yaml:"table"`
	}

	AddColumn struct {
		Table  schema.TableName `yaml:"table"`
		Column schema.Column    `yaml:"column"`
	}

	DropColumn struct {
		Table  schema.TableName `yaml:"table"`
		Column string           `yaml:"column"`
	}

	AlterColumn struct {
		Table  schema.TableName `yaml:"table"`
		Column string           `yaml:"column"`
		Old    schema.Column    `yaml:"old"`
		New    schema.Column    `yaml:"new"`
	}

	AddPrimaryKey struct {
		Table schema.TableName  `yaml:"table"`
		Key   schema.PrimaryKey `yaml:"key"`
	}

	DropPrimaryKey struct {
		Table schema.TableName `yaml:"table"`
		Name  string           `yaml:"name"`
	}

	AddForeignKey struct {
		Table schema.TableName  `yaml:"table"`
		Key   schema.ForeignKey `yaml:"key"`
	}

	DropForeignKey struct {
		Table schema.TableName `yaml:"table"`
		Name  string           `yaml:"name"`
	}

	RenameTable struct {
		Table   schema.TableName `yaml:"table"`
		NewName string           `yaml:"new_name"`
	}

	RenameColumn struct {
		Table   schema.TableName `yaml:"table"`
		Column  string           `yaml:"column"`
		NewName string           `yaml:"new_name"`
	}
)

func (CreateTable) Kind() Kind    { return KindCreateTable }
func (DropTable) Kind() Kind      { return KindDropTable }
func (AddColumn) Kind() Kind      { return KindAddColumn }
func (DropColumn) Kind() Kind     { return KindDropColumn }
func (AlterColumn) Kind() Kind    { return KindAlterColumn }
func (AddPrimaryKey) Kind() Kind  { return KindAddPrimaryKey }
func (DropPrimaryKey) Kind() Kind { return KindDropPrimaryKey }
func (AddForeignKey) Kind() Kind  { return KindAddForeignKey }
func (DropForeignKey) Kind() Kind { return KindDropForeignKey }
func (RenameTable) Kind() Kind    { return KindRenameTable }
func (RenameColumn) Kind() Kind   { return KindRenameColumn }

func (CreateTable) operation()    {}
func (DropTable) operation()      {}
func (AddColumn) operation()      {}
func (DropColumn) operation()     {}
func (AlterColumn) operation()    {}
func (AddPrimaryKey) operation()  {}
func (DropPrimaryKey) operation() {}
func (AddForeignKey) operation()  {}
func (DropForeignKey) operation() {}
func (RenameTable) operation()    {}
func (RenameColumn) operation()   {}

func (op CreateTable) Inverse() (Operation, bool) {
	return DropTable{Table: op.Table.Name}, true
}

func (op DropTable) Inverse() (Operation, bool) { return nil, false }

func (op AddColumn) Inverse() (Operation, bool) {
	return DropColumn{Table: op.Table, Column: op.Column.Name}, true
}

func (op DropColumn) Inverse() (Operation, bool) { return nil, false }

func (op AlterColumn) Inverse() (Operation, bool) {
	return AlterColumn{Table: op.Table, Column: op.Column, Old: op.New, New: op.Old}, true
}

func (op AddPrimaryKey) Inverse() (Operation, bool) {
	return DropPrimaryKey{Table: op.Table, Name: op.Key.KeyName(op.Table)}, true
}

func (op DropPrimaryKey) Inverse() (Operation, bool) { return nil, false }

func (op AddForeignKey) Inverse() (Operation, bool) {
	return DropForeignKey{Table: op.Table, Name: op.Key.KeyName(op.Table)}, true
}

func (op DropForeignKey) Inverse() (Operation, bool) { return nil, false }

func (op RenameTable) Inverse() (Operation, bool) {
	return RenameTable{
		Table:   schema.Qualified(op.Table.Schema, op.NewName),
		NewName: op.Table.Name,
	}, true
}

func (op RenameColumn) Inverse() (Operation, bool) {
	return RenameColumn{Table: op.Table, Column: op.NewName, NewName: op.Column}, true
}

func (op CreateTable) String() string {
	return fmt.Sprintf("CreateTable(%s)", op.Table.Name)
}

func (op DropTable) String() string {
	return fmt.Sprintf("DropTable(%s)", op.Table)
}

func (op AddColumn) String() string {
	return fmt.Sprintf("AddColumn(%s.%s)", op.Table, op.Column.Name)
}

func (op DropColumn) String() string {
	return fmt.Sprintf("DropColumn(%s.%s)", op.Table, op.Column)
}

func (op AlterColumn) String() string {
	return fmt.Sprintf("AlterColumn(%s.%s)", op.Table, op.Column)
}

func (op AddPrimaryKey) String() string {
	return fmt.Sprintf("AddPrimaryKey(%s: %s)", op.Table, strings.Join(op.Key.Columns, ", "))
}

func (op DropPrimaryKey) String() string {
	return fmt.Sprintf("DropPrimaryKey(%s.%s)", op.Table, op.Name)
}

func (op AddForeignKey) String() string {
	return fmt.Sprintf("AddForeignKey(%s.%s -> %s)", op.Table, op.Key.KeyName(op.Table), op.Key.RefTable)
}

func (op DropForeignKey) String() string {
	return fmt.Sprintf("DropForeignKey(%s.%s)", op.Table, op.Name)
}

func (op RenameTable) String() string {
	return fmt.Sprintf("RenameTable(%s -> %s)", op.Table, op.NewName)
}

func (op RenameColumn) String() string {
	return fmt.Sprintf("RenameColumn(%s.%s -> %s)", op.Table, op.Column, op.NewName)
}

// Inverses builds the inverse of each operation in reverse order.
// It reports false when any operation in the list cannot be inverted.
func Inverses(ops []Operation) ([]Operation, bool) {
	result := make([]Operation, 0, len(ops))
	for i := len(ops) - 1; i >= 0; i-- {
		inv, ok := ops[i].Inverse()
		if !ok {
			return nil, false
		}
		result = append(result, inv)
	}

	return result, true
}
