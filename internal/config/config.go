package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/BadgerOps/sysexport/internal/archive"
)

// Config is the top-level configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Content ContentConfig `yaml:"content"`
	Export  ExportConfig  `yaml:"export"`
}

// ServerConfig holds the local state locations
type ServerConfig struct {
	DataDir string `yaml:"data_dir"`
	DBPath  string `yaml:"db_path"`
}

// ContentConfig describes the directory served as the content store
type ContentConfig struct {
	Root    string   `yaml:"root"`
	Exclude []string `yaml:"exclude"`
}

// ExportConfig holds export settings
type ExportConfig struct {
	TempDir          string        `yaml:"temp_dir"`
	OutputDir        string        `yaml:"output_dir"`
	RequestPath      string        `yaml:"request_path"`
	Tenant           string        `yaml:"tenant"`
	Compression      string        `yaml:"compression"`
	SingleRoleCompat bool          `yaml:"single_role_compat"`
	LockFile         string        `yaml:"lock_file"`
	LockTimeout      time.Duration `yaml:"lock_timeout"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			DataDir: "/var/lib/sysexport",
			DBPath:  "",
		},
		Content: ContentConfig{
			Root: "/var/lib/sysexport/repository",
		},
		Export: ExportConfig{
			RequestPath: "/",
			Tenant:      "default",
			Compression: "deflate",
		},
	}
}

// Load reads a config file from the given path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() (string, error) {
	searchPaths := []string{
		"sysexport.yaml",
		"/etc/sysexport/sysexport.yaml",
		filepath.Join(xdg.ConfigHome, "sysexport", "sysexport.yaml"),
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// Validate checks settings that would otherwise only fail mid-export.
func (c *Config) Validate() error {
	if c.Content.Root == "" {
		return fmt.Errorf("content.root is required")
	}
	for _, p := range c.Content.Exclude {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("content.exclude: invalid pattern %q", p)
		}
	}
	if _, err := archive.ParseCompression(c.Export.Compression); err != nil {
		return fmt.Errorf("export.compression: %w", err)
	}
	if c.Export.LockTimeout < 0 {
		return fmt.Errorf("export.lock_timeout must not be negative")
	}
	return nil
}

// DatabasePath returns db_path, or sysexport.db under the data directory.
func (c *Config) DatabasePath() string {
	if c.Server.DBPath != "" {
		return c.Server.DBPath
	}
	return filepath.Join(c.Server.DataDir, "sysexport.db")
}

// LockPath returns lock_file, or export.lock under the data directory.
func (c *Config) LockPath() string {
	if c.Export.LockFile != "" {
		return c.Export.LockFile
	}
	return filepath.Join(c.Server.DataDir, "export.lock")
}
