// Package config builds the process-wide configuration value once at
// startup. All paths and identity are explicit here and threaded into
// the components that need them; nothing reads ambient global state
// after construction.
package config

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SharedStoreName is the shared CSV file external readers consume.
// Load-bearing; do not rename.
const SharedStoreName = "produtos_nfe.csv"

// journalName is the processing journal database in the base dir.
const journalName = "nfex_journal.db"

// Config holds directories and identity for one process.
type Config struct {
	// BaseDir holds the shared store, its backups, and the journal.
	BaseDir string `yaml:"base_dir"`

	// TempDir holds per-session scratch files: private stores, liveness
	// markers, session state.
	TempDir string `yaml:"temp_dir"`

	// User is the operating-system user name embedded in scratch file
	// names for uniqueness and debuggability.
	User string `yaml:"-"`
}

// Load builds the configuration from an optional YAML file plus flag
// overrides, falling back to defaults. Flag values win over file values;
// file values win over defaults. Both directories are created.
func Load(file, baseDirFlag, tempDirFlag string) (Config, error) {
	cfg := Config{
		BaseDir: defaultBaseDir(),
		TempDir: filepath.Join(os.TempDir(), "nfex_multiusuario"),
		User:    currentUser(),
	}

	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", file, err)
		}
		cfg.User = currentUser()
	}

	if baseDirFlag != "" {
		cfg.BaseDir = baseDirFlag
	}
	if tempDirFlag != "" {
		cfg.TempDir = tempDirFlag
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	for _, dir := range []string{cfg.BaseDir, cfg.TempDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Config{}, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.BaseDir == "" {
		return errors.New("base dir is empty")
	}
	if c.TempDir == "" {
		return errors.New("temp dir is empty")
	}
	return nil
}

// SharedStorePath is the shared CSV store all sessions merge into.
func (c Config) SharedStorePath() string {
	return filepath.Join(c.BaseDir, SharedStoreName)
}

// JournalPath is the processing journal database.
func (c Config) JournalPath() string {
	return filepath.Join(c.BaseDir, journalName)
}

func defaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "nfex")
	}
	return filepath.Join(home, "nfex")
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return filepath.Base(u.Username) // strip DOMAIN\ on Windows
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	if name := os.Getenv("USERNAME"); name != "" {
		return name
	}
	return "usuario_desconhecido"
}
