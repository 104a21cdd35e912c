package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/evidifyai/evidify/pkg/export"
)

func TestLoadMissingReturnsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PolicyMode != string(export.ModeSolo) {
		t.Errorf("PolicyMode = %q, want %q", cfg.PolicyMode, export.ModeSolo)
	}
	if cfg.IdleTimeoutMinutes != 15 {
		t.Errorf("IdleTimeoutMinutes = %d, want 15", cfg.IdleTimeoutMinutes)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	cfg := Default()
	cfg.PolicyMode = string(export.ModeEnterprise)
	cfg.IdleTimeoutMinutes = 5
	cfg.ExportAllowlist = []string{"/srv/ehr-import"}
	cfg.PatternFile = "/etc/evidify/patterns.yaml"

	if err := Save(dir, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if runtime.GOOS != "windows" {
		if perm := info.Mode().Perm(); perm != 0600 {
			t.Errorf("file permissions = %04o, want 0600", perm)
		}
	}

	got, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.PolicyMode != cfg.PolicyMode {
		t.Errorf("PolicyMode = %q, want %q", got.PolicyMode, cfg.PolicyMode)
	}
	if got.IdleTimeoutMinutes != 5 {
		t.Errorf("IdleTimeoutMinutes = %d, want 5", got.IdleTimeoutMinutes)
	}
	if len(got.ExportAllowlist) != 1 || got.ExportAllowlist[0] != "/srv/ehr-import" {
		t.Errorf("ExportAllowlist = %v", got.ExportAllowlist)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad version", func(c *Config) { c.Version = 2 }},
		{"bad mode", func(c *Config) { c.PolicyMode = "strict" }},
		{"negative timeout", func(c *Config) { c.IdleTimeoutMinutes = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() accepted invalid config")
			}
		})
	}
}

func TestSaveRejectsInvalid(t *testing.T) {
	cfg := Default()
	cfg.PolicyMode = "yolo"
	if err := Save(t.TempDir(), cfg); err == nil {
		t.Error("Save() accepted invalid config")
	}
}

func TestLoadRejectsInsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX permissions unavailable")
	}
	dir := t.TempDir()
	if err := Save(dir, Default()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := os.Chmod(filepath.Join(dir, FileName), 0644); err != nil {
		t.Fatalf("Chmod() error = %v", err)
	}
	if _, err := Load(dir); !errors.Is(err, ErrInsecure) {
		t.Errorf("Load() error = %v, want %v", err, ErrInsecure)
	}
}

func TestLoadRejectsSymlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink semantics differ")
	}
	dir := t.TempDir()
	real := filepath.Join(dir, "real.yaml")
	if err := os.WriteFile(real, []byte("version: 1\n"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := os.Symlink(real, filepath.Join(dir, FileName)); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if _, err := Load(dir); !errors.Is(err, ErrSymlink) {
		t.Errorf("Load() error = %v, want %v", err, ErrSymlink)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("{not yaml"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := Load(dir); err == nil {
		t.Error("Load() accepted malformed YAML")
	}
}
