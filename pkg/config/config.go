// Package config loads the engine configuration file.
//
// The file is YAML; every section is optional and falls back to the
// defaults the stock model was trained with. Durations are written as
// Go duration strings ("24h", "90m").
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/perchlabs/birdsense/pkg/cache"
	"github.com/perchlabs/birdsense/pkg/classify"
	"github.com/perchlabs/birdsense/pkg/infer"
	"github.com/perchlabs/birdsense/pkg/melspec"
)

// Config is the engine configuration.
type Config struct {
	// AssetDir is the directory holding model and label files.
	AssetDir string `yaml:"asset_dir"`

	// DataDir is the directory for the on-device cache database.
	DataDir string `yaml:"data_dir"`

	// Labels is the label table asset name.
	Labels string `yaml:"labels"`

	// Model is the primary audio classifier; Variants are alternates
	// selectable at runtime. MetaModel is optional.
	Model     infer.Spec            `yaml:"model"`
	Variants  map[string]infer.Spec `yaml:"variants"`
	MetaModel *infer.Spec           `yaml:"meta_model"`

	// Accelerators overrides the accelerator preference order for all
	// models ("gpu", "nnapi", "xnnpack", "cpu"). Empty keeps the
	// per-model default.
	Accelerators []string `yaml:"accelerators"`

	Classify classify.Config `yaml:"classify"`
	Melspec  melspec.Config  `yaml:"melspec"`

	Cache CacheConfig  `yaml:"cache"`
	Remote RemoteConfig `yaml:"remote"`
}

// CacheConfig mirrors cache.Config with string durations for YAML.
type CacheConfig struct {
	TTL           string `yaml:"ttl"`
	MaxEntries    int    `yaml:"max_entries"`
	SweepInterval string `yaml:"sweep_interval"`
}

// RemoteConfig points at the hosted classification service. An empty
// BaseURL disables the remote fallback.
type RemoteConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// Default returns the stock configuration: the bundled 48 kHz
// classifier with 224×224×3 input, labels alongside, 24-hour cache.
func Default() *Config {
	return &Config{
		AssetDir: "assets",
		DataDir:  "data",
		Labels:   "labels.txt",
		Model: infer.Spec{
			Name:          "bird_classifier.tflite",
			InputHeight:   224,
			InputWidth:    224,
			InputChannels: 3,
			RawLogits:     true,
		},
	}
}

// Load reads and parses the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// AcceleratorOrder parses the configured accelerator override, or
// returns nil when none is set.
func (c *Config) AcceleratorOrder() ([]infer.Accelerator, error) {
	if len(c.Accelerators) == 0 {
		return nil, nil
	}
	order := make([]infer.Accelerator, 0, len(c.Accelerators))
	for _, name := range c.Accelerators {
		a, err := infer.ParseAccelerator(name)
		if err != nil {
			return nil, fmt.Errorf("config: accelerators: %w", err)
		}
		order = append(order, a)
	}
	return order, nil
}

// CacheConfig converts the YAML section into the cache package's
// config, validating duration strings.
func (c *Config) CacheConfig() (cache.Config, error) {
	out := cache.Config{MaxEntries: c.Cache.MaxEntries}
	var err error
	if c.Cache.TTL != "" {
		if out.TTL, err = time.ParseDuration(c.Cache.TTL); err != nil {
			return out, fmt.Errorf("config: cache.ttl: %w", err)
		}
	}
	if c.Cache.SweepInterval != "" {
		if out.SweepInterval, err = time.ParseDuration(c.Cache.SweepInterval); err != nil {
			return out, fmt.Errorf("config: cache.sweep_interval: %w", err)
		}
	}
	return out, nil
}
