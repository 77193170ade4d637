package source

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v2"

	"github.com/denismitr/evolve/internal/logger"
	"github.com/denismitr/evolve/migration"
)

const DefaultMigrationsFolder = "./migrations"

const (
	manifestExtension = ".yaml"
	maxParallelReads  = 8
)

// LocalFileSource keeps one YAML manifest per migration in a folder.
// Files are named <timestamp>_<name>.yaml.
type LocalFileSource struct {
	folder string
	lg     logger.Logger
}

var _ Source = (*LocalFileSource)(nil)

func NewLocalFSSource(folder string, lg logger.Logger) *LocalFileSource {
	if folder == "" {
		folder = DefaultMigrationsFolder
	}

	if lg == nil {
		lg = logger.NullLogger{}
	}

	return &LocalFileSource{folder: folder, lg: lg}
}

func (lfs *LocalFileSource) SetLogger(lg logger.Logger) {
	lfs.lg = lg
}

func (lfs *LocalFileSource) Folder() string {
	return lfs.folder
}

func (lfs *LocalFileSource) IsValid() bool {
	info, err := os.Stat(lfs.folder)
	if os.IsNotExist(err) {
		return false
	}

	return err == nil && info.IsDir()
}

// Select reads every manifest of the folder. A missing folder holds no migrations.
func (lfs *LocalFileSource) Select(ctx context.Context, f Filter) (migration.Migrations, error) {
	ids, err := lfs.getAllIDsFromFolder()
	if err != nil {
		return nil, err
	}

	var (
		mu     sync.Mutex
		result migration.Migrations
		keys   = make(map[string]string, len(ids))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelReads)

	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			m, contextKey, err := lfs.readOne(id)
			if err != nil {
				lfs.lg.Error(errors.Wrapf(err, "with id %s", id))
				return err
			}

			mu.Lock()
			defer mu.Unlock()

			result = append(result, m)
			keys[m.ID()] = contextKey

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return filterMigrations(result.Sorted(), f, keys), nil
}

// Scaffold writes the manifest of a new migration. It never overwrites a file.
func (lfs *LocalFileSource) Scaffold(ctx context.Context, contextKey string, m *migration.Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.MkdirAll(lfs.folder, 0o755); err != nil {
		return errors.Wrapf(err, "could not create folder [%s]", lfs.folder)
	}

	b, err := yaml.Marshal(newManifest(contextKey, m))
	if err != nil {
		return errors.Wrapf(err, "could not encode migration [%s]", m.ID())
	}

	filename := lfs.filename(m.ID())
	f, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return errors.Wrapf(ErrMigrationAlreadyExists, "[%s]", filename)
		}

		return errors.Wrapf(err, "could not create file [%s]", filename)
	}

	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "could not write file [%s]", filename)
	}

	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "could not close file [%s]", filename)
	}

	lfs.lg.Successf("created migration file [%s]", filename)

	return nil
}

func (lfs *LocalFileSource) filename(id string) string {
	return filepath.Join(lfs.folder, id+manifestExtension)
}

func (lfs *LocalFileSource) getAllIDsFromFolder() ([]string, error) {
	files, err := ioutil.ReadDir(lfs.folder)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, errors.Wrapf(err, "could not read migrations from folder %s", lfs.folder)
	}

	var ids []string
	for i := range files {
		if files[i].IsDir() {
			continue
		}

		id, err := convertLocalFilePathToID(files[i].Name())
		if err != nil {
			if errors.Is(err, ErrNotAMigrationFile) {
				lfs.lg.Debugf("skipping [%s], not a migration file", files[i].Name())
				continue
			}

			return nil, errors.Wrapf(err, "file %s is not a valid migration name", files[i].Name())
		}

		ids = append(ids, id)
	}

	return ids, nil
}

func (lfs *LocalFileSource) readOne(id string) (*migration.Metadata, string, error) {
	b, err := ioutil.ReadFile(lfs.filename(id))
	if err != nil {
		return nil, "", err
	}

	var mf manifest
	if err := yaml.Unmarshal(b, &mf); err != nil {
		return nil, "", errors.Wrapf(ErrInvalidManifest, "%s: %s", id, err.Error())
	}

	m, err := mf.metadata()
	if err != nil {
		return nil, "", errors.Wrapf(err, "in %s", id)
	}

	if m.ID() != id {
		return nil, "", errors.Wrapf(ErrInvalidManifest, "file %s declares migration %s", id, m.ID())
	}

	return m, mf.ContextKey, nil
}

func convertLocalFilePathToID(path string) (string, error) {
	name := filepath.Base(path)
	if filepath.Ext(name) != manifestExtension {
		return "", ErrNotAMigrationFile
	}

	id := strings.TrimSuffix(name, manifestExtension)
	if _, err := migration.ParseID(id); err != nil {
		return "", err
	}

	return id, nil
}
