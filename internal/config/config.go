// Package config loads and saves the application configuration from
// the vault directory.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/evidifyai/evidify/pkg/export"
	"github.com/evidifyai/evidify/pkg/peer"
)

// FileName is the name of the configuration file inside the vault
// directory.
const FileName = "config.yaml"

var (
	// ErrNotFound is returned when no configuration file exists.
	ErrNotFound = errors.New("config: configuration file not found")
	// ErrInsecure is returned when the file permissions are not 0600.
	ErrInsecure = errors.New("config: configuration file has insecure permissions")
	// ErrSymlink is returned when the configuration file is a symlink.
	ErrSymlink = errors.New("config: configuration file is a symlink")
	// ErrNotOwnedByUser is returned when the file belongs to another user.
	ErrNotOwnedByUser = errors.New("config: configuration file not owned by current user")
)

// Config is the on-disk application configuration.
type Config struct {
	Version            int      `yaml:"version"`
	PolicyMode         string   `yaml:"policy_mode"`
	IdleTimeoutMinutes int      `yaml:"idle_timeout_minutes"`
	PeerURL            string   `yaml:"peer_url"`
	PeerModel          string   `yaml:"peer_model"`
	ExportAllowlist    []string `yaml:"export_allowlist,omitempty"`
	PatternFile        string   `yaml:"pattern_file,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Version:            1,
		PolicyMode:         string(export.ModeSolo),
		IdleTimeoutMinutes: 15,
		PeerURL:            peer.DefaultBaseURL,
		PeerModel:          "llama3.2:3b",
	}
}

// IdleTimeout converts the configured minutes to a duration. Zero
// disables the idle lock.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMinutes) * time.Minute
}

// Mode returns the export policy mode.
func (c *Config) Mode() export.Mode {
	return export.Mode(c.PolicyMode)
}

// Validate checks field values.
func (c *Config) Validate() error {
	if c.Version != 1 {
		return fmt.Errorf("config: unsupported version: %d", c.Version)
	}
	if m := export.Mode(c.PolicyMode); m != export.ModeSolo && m != export.ModeEnterprise {
		return fmt.Errorf("config: invalid policy_mode: %q (must be %q or %q)",
			c.PolicyMode, export.ModeSolo, export.ModeEnterprise)
	}
	if c.IdleTimeoutMinutes < 0 {
		return fmt.Errorf("config: idle_timeout_minutes must not be negative")
	}
	return nil
}

// Load reads the configuration from the vault directory. Missing files
// yield the defaults. Loading rejects symlinks, group/other-readable
// permissions and foreign ownership; the open file descriptor is
// stat'd so the checks cannot race against a path swap.
func Load(vaultDir string) (*Config, error) {
	path := filepath.Join(vaultDir, FileName)

	f, err := openConfigFile(path)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Default(), nil
		}
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("config: failed to stat file: %w", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		return nil, fmt.Errorf("%w: %o (expected 0600)", ErrInsecure, perm)
	}
	if err := checkFileOwnership(info); err != nil {
		return nil, err
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration with owner-only permissions.
func Save(vaultDir string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: failed to encode: %w", err)
	}
	if err := os.MkdirAll(vaultDir, 0700); err != nil {
		return fmt.Errorf("config: failed to create directory: %w", err)
	}
	path := filepath.Join(vaultDir, FileName)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("config: failed to write file: %w", err)
	}
	// WriteFile leaves existing permissions untouched; enforce them.
	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("config: failed to set permissions: %w", err)
	}
	return nil
}
