// Package config loads the coordinator's YAML configuration. A missing or
// malformed file falls back to defaults; the caller decides how loudly to
// complain.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tiangong-vis/coordinator/internal/adaptation"
	"github.com/tiangong-vis/coordinator/internal/bus"
	"github.com/tiangong-vis/coordinator/internal/classify"
	"github.com/tiangong-vis/coordinator/internal/metadata"
	"github.com/tiangong-vis/coordinator/internal/recovery"
	"github.com/tiangong-vis/coordinator/internal/seed"
)

// #region config

// StoreConfig selects the persistence backend. An empty path means the
// in-memory store.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// Config is the full coordinator configuration.
type Config struct {
	LogLevel   string                 `yaml:"log_level"`
	Store      StoreConfig            `yaml:"store"`
	Bus        bus.Config             `yaml:"bus"`
	SeedPool   seed.PoolConfig        `yaml:"seed_pool"`
	Bias       seed.BiasControl       `yaml:"bias"`
	Recovery   recovery.Config        `yaml:"recovery"`
	Adaptation adaptation.Config      `yaml:"adaptation"`
	Emotion    classify.EmotionConfig `yaml:"emotion"`
	Segment    classify.SegmentConfig `yaml:"segment"`
	Metadata   metadata.Config        `yaml:"metadata"`
}

// Default returns the production defaults across every subsystem.
func Default() Config {
	return Config{
		LogLevel:   "info",
		Store:      StoreConfig{Path: "coordinator.db"},
		Bus:        bus.DefaultConfig(),
		SeedPool:   seed.DefaultPoolConfig(),
		Bias:       seed.DefaultBiasControl(),
		Recovery:   recovery.DefaultConfig(),
		Adaptation: adaptation.DefaultConfig(),
		Emotion:    classify.DefaultEmotionConfig(),
		Segment:    classify.DefaultSegmentConfig(),
		Metadata:   metadata.DefaultConfig(),
	}
}

// #endregion config

// #region load

// Load reads path on top of the defaults. On any read or parse problem it
// returns the defaults together with the error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Default(), fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Default(), fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// #endregion load
