package source

import (
	"context"

	"github.com/pkg/errors"

	"github.com/denismitr/evolve/migration"
	"github.com/denismitr/evolve/schema"
)

var (
	ErrNotAMigrationFile      = errors.New("not a migration file")
	ErrInvalidManifest        = errors.New("invalid migration manifest")
	ErrMigrationAlreadyExists = errors.New("migration already exists")
)

// Filter narrows discovery to the migrations of one context key.
// Migrations without a context key belong to every key.
type Filter struct {
	ContextKey string
}

// Selector discovers local migration definitions.
type Selector interface {
	Select(ctx context.Context, f Filter) (migration.Migrations, error)
}

// Scaffolder persists a freshly authored migration so a later Select can find it.
type Scaffolder interface {
	Scaffold(ctx context.Context, contextKey string, m *migration.Metadata) error
}

type Source interface {
	Selector
	Scaffolder
}

// ModelProvider supplies the current target model for authoring.
type ModelProvider interface {
	Model(ctx context.Context) (*schema.Model, error)
}

func filterMigrations(ms migration.Migrations, f Filter, keys map[string]string) migration.Migrations {
	if f.ContextKey == "" {
		return ms
	}

	var result migration.Migrations
	for _, m := range ms {
		if key := keys[m.ID()]; key == "" || key == f.ContextKey {
			result = append(result, m)
		}
	}

	return result
}
