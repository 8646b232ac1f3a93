package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/benaskins/opm/internal/cipher"
	"github.com/benaskins/opm/internal/ipc"
)

// Config holds persistent settings loaded from ~/.opm/config.yaml.
type Config struct {
	// Database is the encrypted database file. Defaults to ~/.opm.db.
	Database string `yaml:"database"`

	// Socket is the daemon's listening address. A leading '@' selects the
	// Linux abstract namespace.
	Socket string `yaml:"socket"`

	// Cipher selects the file format used for new databases.
	Cipher cipher.Mode `yaml:"cipher"`

	// AuditLog is the daemon's audit trail. Set to "off" to disable.
	AuditLog string `yaml:"audit_log"`

	// Console shows passwords in the terminal instead of copying them.
	Console bool `yaml:"console"`

	// Watch logs modifications of the database made outside the daemon.
	// Nil means enabled.
	Watch *bool `yaml:"watch"`
}

// Dir returns the opm state directory, ~/.opm.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".opm")
}

// DefaultPath returns the default config file path: ~/.opm/config.yaml.
func DefaultPath() string {
	dir := Dir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{
		Socket: ipc.DefaultSocket,
		Cipher: cipher.ModeLegacy,
	}
	if home, err := os.UserHomeDir(); err == nil {
		cfg.Database = filepath.Join(home, ".opm.db")
	}
	if dir := Dir(); dir != "" {
		cfg.AuditLog = filepath.Join(dir, "audit.log")
	}
	return cfg
}

// Load reads a YAML config file from path over the defaults. If the file
// does not exist, or is empty, the defaults are returned with no error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	mode, err := cipher.ParseMode(string(cfg.Cipher))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.Cipher = mode
	cfg.Database = expandHome(cfg.Database)
	cfg.AuditLog = expandHome(cfg.AuditLog)
	if !strings.HasPrefix(cfg.Socket, "@") {
		cfg.Socket = expandHome(cfg.Socket)
	}
	if cfg.Socket == "" {
		cfg.Socket = ipc.DefaultSocket
	}
	return cfg, nil
}

// WatchEnabled reports whether the database watcher should run.
func (c *Config) WatchEnabled() bool {
	return c.Watch == nil || *c.Watch
}

// AuditEnabled reports whether an audit log should be written.
func (c *Config) AuditEnabled() bool {
	return c.AuditLog != "" && c.AuditLog != "off"
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[1:])
}
