// Package diff computes the ordered operations transforming one schema model into another.
//
// Operations are emitted in dependency-safe phases:
//
//	drop foreign keys, drop primary keys, drop tables, drop columns,
//	alter columns, create tables, add columns, add primary keys, add foreign keys
//
// Inside a phase entries follow table name order, except for table creation and
// removal which follow foreign key dependencies with name order breaking ties.
package diff

import (
	"sort"

	"github.com/denismitr/evolve/operation"
	"github.com/denismitr/evolve/schema"
)

// Models computes the operations bringing source in line with target.
// A nil model is treated as the empty model.
func Models(source, target *schema.Model) ([]operation.Operation, error) {
	if source == nil {
		source = schema.Empty()
	}

	if target == nil {
		target = schema.Empty()
	}

	if err := source.Validate(); err != nil {
		return nil, err
	}

	if err := target.Validate(); err != nil {
		return nil, err
	}

	d := newDiffer(source, target)
	d.compareTables()

	return d.operations(), nil
}

// FromEmpty synthesizes the operations creating target from nothing.
func FromEmpty(target *schema.Model) ([]operation.Operation, error) {
	return Models(schema.Empty(), target)
}

// ToEmpty synthesizes the operations removing everything source describes.
func ToEmpty(source *schema.Model) ([]operation.Operation, error) {
	return Models(source, schema.Empty())
}

type differ struct {
	source, target *schema.Model

	created, dropped, common []schema.TableName
	pkChanged                map[schema.TableName]bool
	altered                  map[schema.TableName]map[string]bool

	dropForeignKeys []operation.DropForeignKey
	dropPrimaryKeys []operation.DropPrimaryKey
	dropTables      []operation.DropTable
	dropColumns     []operation.DropColumn
	alterColumns    []operation.AlterColumn
	createTables    []operation.CreateTable
	addColumns      []operation.AddColumn
	addPrimaryKeys  []operation.AddPrimaryKey
	addForeignKeys  []operation.AddForeignKey
}

func newDiffer(source, target *schema.Model) *differ {
	d := &differ{
		source:    source,
		target:    target,
		pkChanged: make(map[schema.TableName]bool),
		altered:   make(map[schema.TableName]map[string]bool),
	}

	for _, name := range target.TableNames() {
		if _, ok := source.Table(name); ok {
			d.common = append(d.common, name)
		} else {
			d.created = append(d.created, name)
		}
	}

	for _, name := range source.TableNames() {
		if _, ok := target.Table(name); !ok {
			d.dropped = append(d.dropped, name)
		}
	}

	for _, name := range d.common {
		src, _ := source.Table(name)
		tgt, _ := target.Table(name)

		d.pkChanged[name] = !samePrimaryKey(src.PrimaryKey, tgt.PrimaryKey)
		d.altered[name] = make(map[string]bool)

		for _, c := range tgt.Columns {
			if old, ok := src.Column(c.Name); ok && !old.Equal(c) {
				d.altered[name][c.Name] = true
			}
		}
	}

	return d
}

func (d *differ) compareTables() {
	d.diffDropped()

	for _, name := range d.common {
		src, _ := d.source.Table(name)
		tgt, _ := d.target.Table(name)
		d.diffColumns(src, tgt)
		d.diffPrimaryKey(src, tgt)
		d.diffForeignKeys(src, tgt)
	}

	d.diffCreated()
}

func (d *differ) operations() []operation.Operation {
	sort.SliceStable(d.dropForeignKeys, func(i, j int) bool {
		return lessKey(d.dropForeignKeys[i].Table, d.dropForeignKeys[i].Name, d.dropForeignKeys[j].Table, d.dropForeignKeys[j].Name)
	})

	sort.SliceStable(d.addForeignKeys, func(i, j int) bool {
		a, b := d.addForeignKeys[i], d.addForeignKeys[j]
		return lessKey(a.Table, a.Key.KeyName(a.Table), b.Table, b.Key.KeyName(b.Table))
	})

	var ops []operation.Operation
	for _, op := range d.dropForeignKeys {
		ops = append(ops, op)
	}
	for _, op := range d.dropPrimaryKeys {
		ops = append(ops, op)
	}
	for _, op := range d.dropTables {
		ops = append(ops, op)
	}
	for _, op := range d.dropColumns {
		ops = append(ops, op)
	}
	for _, op := range d.alterColumns {
		ops = append(ops, op)
	}
	for _, op := range d.createTables {
		ops = append(ops, op)
	}
	for _, op := range d.addColumns {
		ops = append(ops, op)
	}
	for _, op := range d.addPrimaryKeys {
		ops = append(ops, op)
	}
	for _, op := range d.addForeignKeys {
		ops = append(ops, op)
	}

	return ops
}

func (d *differ) diffColumns(src, tgt schema.Table) {
	for _, c := range src.Columns {
		if _, ok := tgt.Column(c.Name); !ok {
			d.dropColumns = append(d.dropColumns, operation.DropColumn{Table: src.Name, Column: c.Name})
		}
	}

	for _, c := range tgt.Columns {
		old, ok := src.Column(c.Name)
		switch {
		case !ok:
			d.addColumns = append(d.addColumns, operation.AddColumn{Table: tgt.Name, Column: c})
		case !old.Equal(c):
			d.alterColumns = append(d.alterColumns, operation.AlterColumn{
				Table:  tgt.Name,
				Column: c.Name,
				Old:    old,
				New:    c,
			})
		}
	}
}

func (d *differ) diffPrimaryKey(src, tgt schema.Table) {
	if !d.pkChanged[src.Name] {
		return
	}

	if src.PrimaryKey != nil {
		d.dropPrimaryKeys = append(d.dropPrimaryKeys, operation.DropPrimaryKey{
			Table: src.Name,
			Name:  src.PrimaryKey.KeyName(src.Name),
		})
	}

	if tgt.PrimaryKey != nil {
		d.addPrimaryKeys = append(d.addPrimaryKeys, operation.AddPrimaryKey{
			Table: tgt.Name,
			Key:   tgt.PrimaryKey.Clone(),
		})
	}
}

func (d *differ) diffForeignKeys(src, tgt schema.Table) {
	for _, fk := range src.ForeignKeys {
		name := fk.KeyName(src.Name)
		next, ok := tgt.ForeignKey(name)

		if ok && next.Equal(fk) && !d.needsRebuild(src.Name, fk) {
			continue
		}

		d.dropForeignKeys = append(d.dropForeignKeys, operation.DropForeignKey{Table: src.Name, Name: name})
		if ok {
			d.addForeignKeys = append(d.addForeignKeys, operation.AddForeignKey{Table: tgt.Name, Key: next.Clone()})
		}
	}

	for _, fk := range tgt.ForeignKeys {
		if _, ok := src.ForeignKey(fk.KeyName(tgt.Name)); !ok {
			d.addForeignKeys = append(d.addForeignKeys, operation.AddForeignKey{Table: tgt.Name, Key: fk.Clone()})
		}
	}
}

// needsRebuild reports whether an unchanged foreign key still has to be dropped
// and re-added because a column or key it depends on changes.
func (d *differ) needsRebuild(table schema.TableName, fk schema.ForeignKey) bool {
	for _, c := range fk.Columns {
		if d.altered[table][c] {
			return true
		}
	}

	if d.pkChanged[fk.RefTable] {
		return true
	}

	for _, c := range fk.RefColumns {
		if d.altered[fk.RefTable][c] {
			return true
		}
	}

	return false
}

func (d *differ) diffDropped() {
	tables := make(map[schema.TableName]schema.Table, len(d.dropped))
	for _, name := range d.dropped {
		tables[name], _ = d.source.Table(name)
	}

	order, cyclic := dependencyOrder(d.dropped, tables)

	for _, name := range d.dropped {
		t := tables[name]
		for _, fk := range t.ForeignKeys {
			key := fk.KeyName(name)
			if cyclic[name][key] || d.pkChanged[fk.RefTable] {
				d.dropForeignKeys = append(d.dropForeignKeys, operation.DropForeignKey{Table: name, Name: key})
			}
		}
	}

	for i := len(order) - 1; i >= 0; i-- {
		d.dropTables = append(d.dropTables, operation.DropTable{Table: order[i]})
	}
}

func (d *differ) diffCreated() {
	tables := make(map[schema.TableName]schema.Table, len(d.created))
	for _, name := range d.created {
		tables[name], _ = d.target.Table(name)
	}

	order, cyclic := dependencyOrder(d.created, tables)

	for _, name := range order {
		t := tables[name]
		shape := t.WithoutForeignKeys()

		for _, fk := range t.ForeignKeys {
			key := fk.KeyName(name)
			if !cyclic[name][key] && d.inlineable(fk) {
				shape.ForeignKeys = append(shape.ForeignKeys, fk.Clone())
				continue
			}

			d.addForeignKeys = append(d.addForeignKeys, operation.AddForeignKey{Table: name, Key: fk.Clone()})
		}

		d.createTables = append(d.createTables, operation.CreateTable{Table: shape})
	}
}

// inlineable reports whether a foreign key of a new table can be declared in its
// CREATE TABLE statement: its principal must be new as well, or an existing table
// whose key and referenced columns stay untouched until then.
func (d *differ) inlineable(fk schema.ForeignKey) bool {
	if _, ok := d.source.Table(fk.RefTable); !ok {
		return true
	}

	if d.pkChanged[fk.RefTable] {
		return false
	}

	principal, _ := d.source.Table(fk.RefTable)
	for _, c := range fk.RefColumns {
		if _, ok := principal.Column(c); !ok || d.altered[fk.RefTable][c] {
			return false
		}
	}

	return true
}

func samePrimaryKey(a, b *schema.PrimaryKey) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	return a.Equal(*b)
}

func lessKey(t1 schema.TableName, k1 string, t2 schema.TableName, k2 string) bool {
	if t1 != t2 {
		return t1.Less(t2)
	}

	return k1 < k2
}
