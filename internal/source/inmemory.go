package source

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/denismitr/evolve/migration"
)

// InMemorySource keeps migrations compiled into the program. Scaffolded
// migrations are appended and visible to later selects.
type InMemorySource struct {
	mu         sync.RWMutex
	migrations migration.Migrations
	keys       map[string]string
}

var _ Source = (*InMemorySource)(nil)

func NewInMemorySource(migrations ...*migration.Metadata) (*InMemorySource, error) {
	s := &InMemorySource{keys: make(map[string]string)}

	for _, m := range migrations {
		if err := s.add("", m); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *InMemorySource) Select(ctx context.Context, f Filter) (migration.Migrations, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return filterMigrations(s.migrations.Sorted(), f, s.keys), nil
}

func (s *InMemorySource) Scaffold(ctx context.Context, contextKey string, m *migration.Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.add(contextKey, m)
}

func (s *InMemorySource) add(contextKey string, m *migration.Metadata) error {
	if err := m.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keys[m.ID()]; ok {
		return errors.Wrapf(ErrMigrationAlreadyExists, "[%s]", m.ID())
	}

	s.migrations = append(s.migrations, m)
	s.keys[m.ID()] = contextKey

	return nil
}
