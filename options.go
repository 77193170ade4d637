package evolve

import (
	"github.com/denismitr/evolve/internal/logger"
	"github.com/denismitr/evolve/internal/source"
	"github.com/denismitr/evolve/migration"
	"github.com/denismitr/evolve/schema"
)

type OptionFunc func(*Migrator) error

// UseLocalFolderSource discovers and scaffolds YAML migration manifests in a folder.
func UseLocalFolderSource(folder string) OptionFunc {
	return func(m *Migrator) error {
		lfs := source.NewLocalFSSource(folder, m.lg)
		m.selector = lfs
		m.scaffolder = lfs
		return nil
	}
}

// UseInMemorySource serves migrations compiled into the program.
func UseInMemorySource(migrations ...*migration.Metadata) OptionFunc {
	return func(m *Migrator) error {
		s, err := source.NewInMemorySource(migrations...)
		if err != nil {
			return err
		}

		m.selector = s
		m.scaffolder = s
		return nil
	}
}

// UseModel sets the target model AddMigration diffs against.
func UseModel(model *schema.Model) OptionFunc {
	return func(m *Migrator) error {
		if err := model.Validate(); err != nil {
			return err
		}

		m.models = source.NewStaticModel(model.Clone())
		return nil
	}
}

// UseModelFile reads the target model from a YAML file on every AddMigration.
func UseModelFile(path string) OptionFunc {
	return func(m *Migrator) error {
		m.models = source.NewModelFile(path)
		return nil
	}
}

// WithClock replaces the clock migration timestamps are minted from.
func WithClock(clock migration.ClockFunc) OptionFunc {
	return func(m *Migrator) error {
		m.clock = clock
		return nil
	}
}

// UseColorLogger prints progress through p with aurora colors. SQL and debug
// output are opt-in.
func UseColorLogger(p logger.Printer, withSQL, withDebug bool) OptionFunc {
	return func(m *Migrator) error {
		m.lg = logger.NewColorLogger(p, withSQL, withDebug)
		return nil
	}
}

// UseLogger is UseColorLogger without colors, for logs written to files.
func UseLogger(p logger.Printer, withSQL, withDebug bool) OptionFunc {
	return func(m *Migrator) error {
		m.lg = logger.NewBWLogger(p, withSQL, withDebug)
		return nil
	}
}
