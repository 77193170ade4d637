package cli

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const modelStub = `
tables:
  - table:
      name: widgets
    columns:
      - name: id
        type: int
      - name: name
        type: string
        length: 100
    primary_key:
      columns: [id]
`

func writeConfig(t *testing.T, dir string) string {
	t.Helper()

	cfg := fmt.Sprintf(`version: "1"
migrations:
  context_key: App
  local_folder: %s
  model_file: %s
  database_url: "%%%%EVOLVE_TEST_DATABASE_URL%%%%"
`, filepath.Join(dir, "migrations"), filepath.Join(dir, "model.yaml"))

	path := filepath.Join(dir, "evolve.yaml")
	require.NoError(t, ioutil.WriteFile(path, []byte(cfg), 0o644))
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "model.yaml"), []byte(modelStub), 0o644))

	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := NewRootCmd(&out)
	cmd.SetArgs(args)

	err := cmd.Execute()

	return out.String(), err
}

func Test_InitCfg(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultConfigFile)

	require.NoError(t, InitCfg(path))
	assert.True(t, FileExists(path))

	err := InitCfg(path)
	assert.True(t, errors.Is(err, ErrConfigAlreadyExists))
}

func Test_createConfigFromYaml(t *testing.T) {
	t.Run("environment variables are substituted", func(t *testing.T) {
		dir := t.TempDir()
		path := writeConfig(t, dir)

		os.Setenv("EVOLVE_TEST_DATABASE_URL", "sqlite:"+filepath.Join(dir, "evolve.db"))
		defer os.Unsetenv("EVOLVE_TEST_DATABASE_URL")

		cfg, err := createConfigFromYaml(path)
		require.NoError(t, err)
		assert.Equal(t, "App", cfg.ContextKey)
		assert.Equal(t, "sqlite:"+filepath.Join(dir, "evolve.db"), cfg.DatabaseURL)
		assert.Equal(t, filepath.Join(dir, "migrations"), cfg.MigrationsFolder)
	})

	t.Run("database url is required", func(t *testing.T) {
		path := writeConfig(t, t.TempDir())

		os.Unsetenv("EVOLVE_TEST_DATABASE_URL")

		_, err := createConfigFromYaml(path)
		assert.True(t, errors.Is(err, ErrDatabaseURLMissing))
	})

	t.Run("stub is a valid configuration once the url is set", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), DefaultConfigFile)
		require.NoError(t, InitCfg(path))

		os.Setenv("DATABASE_URL", "sqlite:/tmp/evolve.db")
		defer os.Unsetenv("DATABASE_URL")

		cfg, err := createConfigFromYaml(path)
		require.NoError(t, err)
		assert.Equal(t, "__MigrationHistory", cfg.HistoryTable)
	})
}

func Test_expandEnv(t *testing.T) {
	os.Setenv("EVOLVE_TEST_HOST", "db.local")
	defer os.Unsetenv("EVOLVE_TEST_HOST")

	assert.Equal(t, "mysql://root@db.local/app", expandEnv("mysql://root@%%EVOLVE_TEST_HOST%%/app"))
	assert.Equal(t, "plain", expandEnv("plain"))
	assert.Equal(t, "", expandEnv("%%EVOLVE_TEST_UNSET%%"))
}

func Test_createMigratorFrom(t *testing.T) {
	_, _, err := createMigratorFrom("oracle", "", databaseOptionMap{}, Config{ContextKey: "App"}, log.New(ioutil.Discard, "", 0))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "oracle")
}

func Test_Commands(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir)

	os.Setenv("EVOLVE_TEST_DATABASE_URL", "sqlite:"+filepath.Join(dir, "evolve.db"))
	defer os.Unsetenv("EVOLVE_TEST_DATABASE_URL")

	out, err := run(t, "add", "Init", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "_Init with 1 operations")

	out, err = run(t, "pending", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "_Init")

	out, err = run(t, "script", "--idempotent", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, `CREATE TABLE IF NOT EXISTS "widgets"`)

	out, err = run(t, "update", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "all done")

	out, err = run(t, "history", "-c", path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)
	assert.True(t, strings.HasSuffix(lines[0], "_Init"))

	out, err = run(t, "update", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "nothing to migrate")

	_, err = run(t, "add", "not a name", "-c", path)
	assert.Error(t, err)
}
