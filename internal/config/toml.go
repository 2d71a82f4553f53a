// Package config provides configuration helpers and TOML parsing.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/verte-zerg/typegram/internal/model"
)

// Defaults shared by the CLI flags and the config template.
const (
	DefaultMinSize        = 2
	DefaultMaxSize        = 8
	DefaultTimeout        = 30 * time.Second
	DefaultWorkers        = 4
	DefaultRankSize       = 2
	DefaultMinOccurrences = 1
	DefaultLimit          = 10
	DefaultAddr           = "127.0.0.1:8765"
)

// FileConfig represents the TOML configuration file.
type FileConfig struct {
	Engine EngineConfig `toml:"engine"`
	Rank   RankConfig   `toml:"rank"`
	Serve  ServeConfig  `toml:"serve"`
}

// EngineConfig maps n-gram engine settings.
type EngineConfig struct {
	MinSize *int    `toml:"min-size"`
	MaxSize *int    `toml:"max-size"`
	Timeout *string `toml:"timeout"`
	Workers *int    `toml:"workers"`
}

// RankConfig maps ranking query defaults.
type RankConfig struct {
	Size           *int `toml:"size"`
	MinOccurrences *int `toml:"min-occurrences"`
	Limit          *int `toml:"limit"`
}

// ServeConfig maps HTTP server settings.
type ServeConfig struct {
	Addr *string `toml:"addr"`
}

// LoadConfig reads a TOML config from the given path. Missing file is not an error.
func LoadConfig(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("failed to stat config: %w", err)
	}
	var cfg FileConfig
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return FileConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return FileConfig{}, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}
	if cfg.Engine.Timeout != nil {
		if _, err := time.ParseDuration(*cfg.Engine.Timeout); err != nil {
			return FileConfig{}, fmt.Errorf("invalid engine.timeout: %w", err)
		}
	}
	return cfg, nil
}

// TimeoutValue returns the parsed engine timeout, or nil when unset.
func (c EngineConfig) TimeoutValue() *time.Duration {
	if c.Timeout == nil {
		return nil
	}
	d, err := time.ParseDuration(*c.Timeout)
	if err != nil {
		return nil
	}
	return &d
}

// ValidateEngine checks the resolved engine settings.
func ValidateEngine(cfg model.EngineConfig) error {
	if cfg.MinSize < 1 {
		return errors.New("--min-size must be >= 1")
	}
	if cfg.MaxSize < cfg.MinSize {
		return errors.New("--max-size must be >= --min-size")
	}
	if cfg.Workers <= 0 {
		return errors.New("--workers must be > 0")
	}
	if cfg.Timeout <= 0 {
		return errors.New("--timeout must be > 0")
	}
	return nil
}

// ValidateRank checks the resolved ranking settings.
func ValidateRank(cfg model.RankConfig) error {
	if cfg.Size < 1 {
		return errors.New("--size must be >= 1")
	}
	if cfg.MinOccurrences < 0 {
		return errors.New("--min-occurrences must be >= 0")
	}
	if cfg.Limit < 0 {
		return errors.New("--limit must be >= 0")
	}
	return nil
}

// Template returns a commented config file listing every setting.
func Template() string {
	return fmt.Sprintf(`# typegram configuration
# Uncomment a value to enable it. CLI flags override config values.

[engine]
# min-size = %d            # Smallest n-gram size
# max-size = %d            # Largest n-gram size (10 keeps legacy behaviour)
# timeout = %q          # Deadline for analyzing or summarizing one session
# workers = %d             # Sessions analyzed in parallel

[rank]
# size = %d                # N-gram size to rank
# min-occurrences = %d     # Minimum occurrences across sessions
# limit = %d              # Maximum rows (0 = no limit)

[serve]
# addr = %q
`,
		DefaultMinSize,
		DefaultMaxSize,
		DefaultTimeout.String(),
		DefaultWorkers,
		DefaultRankSize,
		DefaultMinOccurrences,
		DefaultLimit,
		DefaultAddr,
	)
}
