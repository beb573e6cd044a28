// Package config provides the client configuration: defaults, TOML file
// load and save.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration wraps time.Duration so TOML files can carry values like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the client configuration.
type Config struct {
	// InstallDir is where caves are materialized.
	InstallDir string `toml:"install_dir"`
	// StagingDir holds in-flight downloads and their partial files.
	StagingDir string `toml:"staging_dir"`

	// MaxActiveDownloads caps simultaneously active transfers. The default
	// of 1 matches the single-foreground-download UX.
	MaxActiveDownloads int `toml:"max_active_downloads"`

	MaxTries  int      `toml:"max_tries"`
	RetryWait Duration `toml:"retry_wait"`
	Timeout   Duration `toml:"timeout"`
	UserAgent string   `toml:"user_agent"`

	LogLevel   string `toml:"log_level"`
	LogNoColor bool   `toml:"log_no_color"`
}

// Default returns the built-in configuration.
func Default() *Config {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return &Config{
		InstallDir:         filepath.Join(homeDir, "cavern", "apps"),
		StagingDir:         filepath.Join(homeDir, "cavern", "downloads"),
		MaxActiveDownloads: 1,
		MaxTries:           3,
		RetryWait:          Duration{5 * time.Second},
		Timeout:            Duration{30 * time.Second},
		UserAgent:          "cavern/1.0",
		LogLevel:           "info",
	}
}

// Load reads a TOML file over the defaults. A missing file is not an error;
// the defaults are returned unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	meta, err := toml.DecodeFile(path, cfg)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("load config %s: unknown key %q", path, undecoded[0])
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration to a TOML file, creating parent directories
// as needed.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("save config %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("save config %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("save config %s: %w", path, err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.MaxActiveDownloads < 1 {
		return fmt.Errorf("max_active_downloads must be at least 1, got %d", c.MaxActiveDownloads)
	}
	if c.MaxTries < 1 {
		return fmt.Errorf("max_tries must be at least 1, got %d", c.MaxTries)
	}
	return nil
}
