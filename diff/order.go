package diff

import (
	"github.com/denismitr/evolve/schema"
)

// dependencyOrder arranges tables so that every principal precedes the tables
// referencing it. Ties are broken by the order of names, which is expected to be sorted.
// When the remaining tables form a cycle, the first of them is placed and its
// unresolved foreign keys are reported as cyclic, keyed by table and key name.
func dependencyOrder(
	names []schema.TableName,
	tables map[schema.TableName]schema.Table,
) ([]schema.TableName, map[schema.TableName]map[string]bool) {
	order := make([]schema.TableName, 0, len(names))
	placed := make(map[schema.TableName]bool, len(names))
	cyclic := make(map[schema.TableName]map[string]bool)

	pending := func(name schema.TableName, fk schema.ForeignKey) bool {
		if fk.RefTable == name || placed[fk.RefTable] || cyclic[name][fk.KeyName(name)] {
			return false
		}

		_, inSet := tables[fk.RefTable]
		return inSet
	}

	ready := func(name schema.TableName) bool {
		for _, fk := range tables[name].ForeignKeys {
			if pending(name, fk) {
				return false
			}
		}

		return true
	}

	for len(order) < len(names) {
		next, found := schema.TableName{}, false
		for _, name := range names {
			if !placed[name] && ready(name) {
				next, found = name, true
				break
			}
		}

		if !found {
			for _, name := range names {
				if !placed[name] {
					next = name
					break
				}
			}

			for _, fk := range tables[next].ForeignKeys {
				if pending(next, fk) {
					if cyclic[next] == nil {
						cyclic[next] = make(map[string]bool)
					}
					cyclic[next][fk.KeyName(next)] = true
				}
			}
		}

		placed[next] = true
		order = append(order, next)
	}

	return order, cyclic
}
