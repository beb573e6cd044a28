package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithoutFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxActiveDownloads != 1 {
		t.Fatalf("max active = %d, want the single-download default", cfg.MaxActiveDownloads)
	}
	if cfg.MaxTries != 3 || cfg.RetryWait.Duration != 5*time.Second {
		t.Fatalf("retry defaults = %d/%v", cfg.MaxTries, cfg.RetryWait.Duration)
	}
	if cfg.InstallDir == "" || cfg.StagingDir == "" {
		t.Fatal("directory defaults are empty")
	}
}

func TestLoadOverlaysFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
install_dir = "/opt/games"
max_active_downloads = 3
retry_wait = "250ms"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.InstallDir != "/opt/games" {
		t.Fatalf("install dir = %q", cfg.InstallDir)
	}
	if cfg.MaxActiveDownloads != 3 {
		t.Fatalf("max active = %d, want 3", cfg.MaxActiveDownloads)
	}
	if cfg.RetryWait.Duration != 250*time.Millisecond {
		t.Fatalf("retry wait = %v, want 250ms", cfg.RetryWait.Duration)
	}
	// Keys the file does not mention keep their defaults.
	if cfg.MaxTries != 3 {
		t.Fatalf("max tries = %d, want default 3", cfg.MaxTries)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(`max_paralel = 2`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("unknown key did not fail the load")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(`max_active_downloads = 0`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("zero max_active_downloads did not fail the load")
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "config.toml")
	cfg := Default()
	cfg.InstallDir = "/opt/games"
	cfg.Timeout = Duration{90 * time.Second}

	if err := Save(cfg, path); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.InstallDir != cfg.InstallDir || loaded.Timeout.Duration != 90*time.Second {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}
}
