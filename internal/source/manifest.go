package source

import (
	"github.com/pkg/errors"

	"github.com/denismitr/evolve/migration"
	"github.com/denismitr/evolve/operation"
	"github.com/denismitr/evolve/schema"
)

// manifest is the YAML document of one migration file.
type manifest struct {
	Name       string        `yaml:"name"`
	Timestamp  string        `yaml:"timestamp"`
	ContextKey string        `yaml:"context_key,omitempty"`
	Source     *schema.Model `yaml:"source,omitempty"`
	Target     *schema.Model `yaml:"target"`
	Upgrade    []opRecord    `yaml:"upgrade"`
	Downgrade  []opRecord    `yaml:"downgrade,omitempty"`
}

// opRecord holds exactly one operation, keyed by its kind.
type opRecord struct {
	CreateTable    *operation.CreateTable    `yaml:"create_table,omitempty"`
	DropTable      *operation.DropTable      `yaml:"drop_table,omitempty"`
	AddColumn      *operation.AddColumn      `yaml:"add_column,omitempty"`
	DropColumn     *operation.DropColumn     `yaml:"drop_column,omitempty"`
	AlterColumn    *operation.AlterColumn    `yaml:"alter_column,omitempty"`
	AddPrimaryKey  *operation.AddPrimaryKey  `yaml:"add_primary_key,omitempty"`
	DropPrimaryKey *operation.DropPrimaryKey `yaml:"drop_primary_key,omitempty"`
	AddForeignKey  *operation.AddForeignKey  `yaml:"add_foreign_key,omitempty"`
	DropForeignKey *operation.DropForeignKey `yaml:"drop_foreign_key,omitempty"`
	RenameTable    *operation.RenameTable    `yaml:"rename_table,omitempty"`
	RenameColumn   *operation.RenameColumn   `yaml:"rename_column,omitempty"`
}

func newManifest(contextKey string, m *migration.Metadata) manifest {
	return manifest{
		Name:       m.Name,
		Timestamp:  m.Timestamp,
		ContextKey: contextKey,
		Source:     m.SourceModel,
		Target:     m.TargetModel,
		Upgrade:    toRecords(m.Upgrade),
		Downgrade:  toRecords(m.Downgrade),
	}
}

func (mf manifest) metadata() (*migration.Metadata, error) {
	upgrade, err := fromRecords(mf.Upgrade)
	if err != nil {
		return nil, errors.Wrap(err, "upgrade")
	}

	downgrade, err := fromRecords(mf.Downgrade)
	if err != nil {
		return nil, errors.Wrap(err, "downgrade")
	}

	m := &migration.Metadata{
		Name:        mf.Name,
		Timestamp:   mf.Timestamp,
		SourceModel: mf.Source,
		TargetModel: mf.Target,
		Upgrade:     upgrade,
		Downgrade:   downgrade,
	}

	if err := m.Validate(); err != nil {
		return nil, errors.Wrap(ErrInvalidManifest, err.Error())
	}

	return m, nil
}

func toRecords(ops []operation.Operation) []opRecord {
	if len(ops) == 0 {
		return nil
	}

	result := make([]opRecord, 0, len(ops))
	for _, op := range ops {
		result = append(result, toRecord(op))
	}

	return result
}

func toRecord(op operation.Operation) opRecord {
	var r opRecord

	switch o := op.(type) {
	case operation.CreateTable:
		r.CreateTable = &o
	case operation.DropTable:
		r.DropTable = &o
	case operation.AddColumn:
		r.AddColumn = &o
	case operation.DropColumn:
		r.DropColumn = &o
	case operation.AlterColumn:
		r.AlterColumn = &o
	case operation.AddPrimaryKey:
		r.AddPrimaryKey = &o
	case operation.DropPrimaryKey:
		r.DropPrimaryKey = &o
	case operation.AddForeignKey:
		r.AddForeignKey = &o
	case operation.DropForeignKey:
		r.DropForeignKey = &o
	case operation.RenameTable:
		r.RenameTable = &o
	case operation.RenameColumn:
		r.RenameColumn = &o
	}

	return r
}

func fromRecords(records []opRecord) ([]operation.Operation, error) {
	var result []operation.Operation

	for i := range records {
		op, err := records[i].operation()
		if err != nil {
			return nil, errors.Wrapf(err, "operation #%d", i+1)
		}

		result = append(result, op)
	}

	return result, nil
}

func (r opRecord) operation() (operation.Operation, error) {
	var found []operation.Operation

	if r.CreateTable != nil {
		found = append(found, *r.CreateTable)
	}
	if r.DropTable != nil {
		found = append(found, *r.DropTable)
	}
	if r.AddColumn != nil {
		found = append(found, *r.AddColumn)
	}
	if r.DropColumn != nil {
		found = append(found, *r.DropColumn)
	}
	if r.AlterColumn != nil {
		found = append(found, *r.AlterColumn)
	}
	if r.AddPrimaryKey != nil {
		found = append(found, *r.AddPrimaryKey)
	}
	if r.DropPrimaryKey != nil {
		found = append(found, *r.DropPrimaryKey)
	}
	if r.AddForeignKey != nil {
		found = append(found, *r.AddForeignKey)
	}
	if r.DropForeignKey != nil {
		found = append(found, *r.DropForeignKey)
	}
	if r.RenameTable != nil {
		found = append(found, *r.RenameTable)
	}
	if r.RenameColumn != nil {
		found = append(found, *r.RenameColumn)
	}

	if len(found) != 1 {
		return nil, errors.Wrapf(ErrInvalidManifest, "expected exactly one operation per entry, got %d", len(found))
	}

	return found[0], nil
}
