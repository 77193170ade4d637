package cli

import (
	"io/ioutil"
	"os"
	"regexp"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

const DefaultConfigFile = "evolve.yaml"

const configFileStub = `version: "1"
migrations:
  # isolates the history of this schema inside a shared history table
  context_key: App
  local_folder: ./migrations
  model_file: ./model.yaml
  # %%NAME%% is replaced with the NAME environment variable
  database_url: "%%DATABASE_URL%%"
  history_table: __MigrationHistory
`

var (
	ErrDatabaseURLMissing = errors.New("database url was not defined")
	ErrFolderMissing      = errors.New("migrations folder was not defined")
	ErrContextKeyMissing  = errors.New("context key was not defined")

	envRx = regexp.MustCompile(`%%([A-Za-z_][A-Za-z0-9_]*)%%`)
)

type (
	migrations struct {
		ContextKey   string `yaml:"context_key"`
		LocalFolder  string `yaml:"local_folder"`
		ModelFile    string `yaml:"model_file"`
		DatabaseURL  string `yaml:"database_url"`
		HistoryTable string `yaml:"history_table"`
	}

	configFile struct {
		Version    string     `yaml:"version"`
		Migrations migrations `yaml:"migrations"`
	}
)

func createConfigFromYaml(path string) (Config, error) {
	var cfg Config

	b, err := ioutil.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "could not read evolve configuration file")
	}

	var cfgFile configFile
	if err := yaml.Unmarshal(b, &cfgFile); err != nil {
		return cfg, errors.Wrap(err, "could not parse evolve configuration file")
	}

	cfg = Config{
		ContextKey:       expandEnv(cfgFile.Migrations.ContextKey),
		DatabaseURL:      expandEnv(cfgFile.Migrations.DatabaseURL),
		MigrationsFolder: expandEnv(cfgFile.Migrations.LocalFolder),
		ModelFile:        expandEnv(cfgFile.Migrations.ModelFile),
		HistoryTable:     expandEnv(cfgFile.Migrations.HistoryTable),
	}

	return cfg, cfg.validate()
}

// expandEnv replaces every %%NAME%% with the value of the NAME environment variable.
func expandEnv(s string) string {
	return envRx.ReplaceAllStringFunc(s, func(m string) string {
		return os.Getenv(envRx.FindStringSubmatch(m)[1])
	})
}

func (cfg Config) validate() error {
	if cfg.DatabaseURL == "" {
		return ErrDatabaseURLMissing
	}

	if cfg.MigrationsFolder == "" {
		return ErrFolderMissing
	}

	if cfg.ContextKey == "" {
		return ErrContextKeyMissing
	}

	return nil
}
