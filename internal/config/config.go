// Package config handles hoard settings parsing and location resolution.
//
// The config file is optional: every setting has a default, and the file may
// be written in TOML, YAML or JSON. Format is detected by extension, falling
// back to content sniffing for extensionless files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Defaults applied to unset fields.
const (
	DefaultParallelism      = 8
	DefaultInterfaceVersion = 11200
)

// DefaultIgnorePrefixes lists folder name prefixes that are never treated as
// addons (the game client ships its own "Blizzard_" folders).
var DefaultIgnorePrefixes = []string{"Blizzard_"}

// Config holds the runtime settings for one addon root.
type Config struct {
	// AddonsDir is the addon root directory. Flag and environment values
	// override it.
	AddonsDir string `yaml:"addons_dir" toml:"addons_dir" json:"addons_dir"`
	// Parallelism bounds concurrent remote checks during status.
	Parallelism int `yaml:"parallelism" toml:"parallelism" json:"parallelism"`
	// InterfaceVersion gates which .toc descriptors count as installable.
	// Zero disables the gate.
	InterfaceVersion int `yaml:"interface_version" toml:"interface_version" json:"interface_version"`
	// IgnorePrefixes extends the folder prefixes hidden from untracked scans.
	IgnorePrefixes []string `yaml:"ignore_prefixes" toml:"ignore_prefixes" json:"ignore_prefixes"`
}

// Default returns a Config with every field at its default.
func Default() *Config {
	return &Config{
		Parallelism:      DefaultParallelism,
		InterfaceVersion: DefaultInterfaceVersion,
		IgnorePrefixes:   append([]string(nil), DefaultIgnorePrefixes...),
	}
}

// candidates are the config file names probed in order.
var candidates = []string{"hoard.toml", "hoard.yaml", "hoard.yml"}

// Find locates the config file. An explicit path wins and must exist.
// Otherwise the addon root and the user config directory are probed; an
// empty result with a nil error means "no config file, use defaults".
func Find(explicitPath, addonsDir string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicitPath)
		}
		return explicitPath, nil
	}

	var dirs []string
	if addonsDir != "" {
		dirs = append(dirs, addonsDir)
	}
	if userDir, err := os.UserConfigDir(); err == nil {
		dirs = append(dirs, filepath.Join(userDir, "hoard"))
	}

	for _, dir := range dirs {
		for _, name := range candidates {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}
	}
	return "", nil
}

// Load reads and parses the config file at path. Unset fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := parse(content, detectFormat(path, content))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if cfg.Parallelism == 0 {
		cfg.Parallelism = DefaultParallelism
	}
	if cfg.InterfaceVersion == 0 {
		cfg.InterfaceVersion = DefaultInterfaceVersion
	}
	if cfg.IgnorePrefixes == nil {
		cfg.IgnorePrefixes = append([]string(nil), DefaultIgnorePrefixes...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field ranges.
func (c *Config) Validate() error {
	if c.Parallelism < 1 {
		return errors.New("parallelism must be at least 1")
	}
	if c.InterfaceVersion < 0 {
		return errors.New("interface_version must not be negative")
	}
	return nil
}
