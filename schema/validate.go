package schema

import (
	"github.com/pkg/errors"
)

var ErrModelInvalid = errors.New("schema model is invalid")

// Validate checks the structural invariants of the model: unique table names,
// unique column names per table, and keys referencing existing columns and tables.
func (m *Model) Validate() error {
	if m == nil {
		return nil
	}

	seen := make(map[TableName]bool, len(m.Tables))
	for _, t := range m.Tables {
		if t.Name.IsZero() {
			return errors.Wrap(ErrModelInvalid, "table name is empty")
		}

		if seen[t.Name] {
			return errors.Wrapf(ErrModelInvalid, "duplicate table [%s]", t.Name)
		}
		seen[t.Name] = true

		if err := t.validate(); err != nil {
			return err
		}
	}

	for _, t := range m.Tables {
		keys := make(map[string]bool, len(t.ForeignKeys))
		for _, fk := range t.ForeignKeys {
			name := fk.KeyName(t.Name)
			if keys[name] {
				return errors.Wrapf(ErrModelInvalid, "duplicate foreign key [%s] on table [%s]", name, t.Name)
			}
			keys[name] = true

			if err := m.validateForeignKey(t, fk); err != nil {
				return err
			}
		}
	}

	return nil
}

func (t Table) validate() error {
	if len(t.Columns) == 0 {
		return errors.Wrapf(ErrModelInvalid, "table [%s] has no columns", t.Name)
	}

	columns := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if c.Name == "" {
			return errors.Wrapf(ErrModelInvalid, "table [%s] has a column with an empty name", t.Name)
		}

		if columns[c.Name] {
			return errors.Wrapf(ErrModelInvalid, "duplicate column [%s] in table [%s]", c.Name, t.Name)
		}

		if !knownTypes[c.Type] {
			return errors.Wrapf(ErrModelInvalid, "column [%s.%s] has unknown type [%s]", t.Name, c.Name, c.Type)
		}

		columns[c.Name] = true
	}

	if t.PrimaryKey != nil {
		if len(t.PrimaryKey.Columns) == 0 {
			return errors.Wrapf(ErrModelInvalid, "primary key of table [%s] has no columns", t.Name)
		}

		for _, c := range t.PrimaryKey.Columns {
			if !columns[c] {
				return errors.Wrapf(ErrModelInvalid, "primary key of table [%s] references unknown column [%s]", t.Name, c)
			}
		}
	}

	return nil
}

func (m *Model) validateForeignKey(t Table, fk ForeignKey) error {
	name := fk.KeyName(t.Name)

	if len(fk.Columns) == 0 || len(fk.Columns) != len(fk.RefColumns) {
		return errors.Wrapf(ErrModelInvalid, "foreign key [%s] on table [%s] has mismatched column lists", name, t.Name)
	}

	for _, c := range fk.Columns {
		if _, ok := t.Column(c); !ok {
			return errors.Wrapf(ErrModelInvalid, "foreign key [%s] references unknown column [%s.%s]", name, t.Name, c)
		}
	}

	ref, ok := m.Table(fk.RefTable)
	if !ok {
		return errors.Wrapf(ErrModelInvalid, "foreign key [%s] references unknown table [%s]", name, fk.RefTable)
	}

	for _, c := range fk.RefColumns {
		if _, ok := ref.Column(c); !ok {
			return errors.Wrapf(ErrModelInvalid, "foreign key [%s] references unknown column [%s.%s]", name, ref.Name, c)
		}
	}

	return nil
}
