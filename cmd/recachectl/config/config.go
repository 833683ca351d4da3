// Package config loads recachectl's YAML rule file: the set of classes
// and patterns the compiler subcommand builds a prefilter database from.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mailshield/recache/accurate"
	"github.com/mailshield/recache/region"
)

// PatternConfig is one expression entry in the rule file.
type PatternConfig struct {
	Kind         string `yaml:"kind"`
	Parameter    string `yaml:"parameter"`
	Pattern      string `yaml:"pattern"`
	Caseless     bool   `yaml:"caseless"`
	Multiline    bool   `yaml:"multiline"`
	DotAll       bool   `yaml:"dotall"`
	MaxHits      uint32 `yaml:"max_hits"`
	AccurateOnly bool   `yaml:"accurate_only"`
}

// Flags packs the boolean knobs into an accurate.Flags value.
func (p PatternConfig) Flags() accurate.Flags {
	var f accurate.Flags
	if p.Caseless {
		f |= accurate.Caseless
	}
	if p.Multiline {
		f |= accurate.Multiline
	}
	if p.DotAll {
		f |= accurate.DotAll
	}
	return f
}

// RegionKind resolves the configured kind name against region.ParseKind.
func (p PatternConfig) RegionKind() (region.Kind, error) {
	kind, ok := region.ParseKind(p.Kind)
	if !ok {
		return 0, fmt.Errorf("config: unknown region kind %q", p.Kind)
	}
	return kind, nil
}

// Config is recachectl's full rule file plus cache-wide settings.
type Config struct {
	CacheDir          string          `yaml:"cache_dir"`
	Vectorized        bool            `yaml:"vectorized"`
	MaxReData         int             `yaml:"max_re_data"`
	PrefilterDisabled bool            `yaml:"prefilter_disabled"`
	Patterns          []PatternConfig `yaml:"patterns"`
}

// envOverlay lets an operator override a handful of cache-wide scalar
// settings from the environment without editing the rule file, e.g. in a
// container where RECACHECTL_CACHE_DIR points at a mounted volume. The
// pattern list itself is never overridable this way.
func envOverlay(cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix("recachectl")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if v.IsSet("cache_dir") {
		cfg.CacheDir = v.GetString("cache_dir")
	}
	if v.IsSet("prefilter_disabled") {
		cfg.PrefilterDisabled = v.GetBool("prefilter_disabled")
	}
	if v.IsSet("vectorized") {
		cfg.Vectorized = v.GetBool("vectorized")
	}
}

// Load reads and parses path (YAML) into a Config, applying defaults for
// any field the file omits and layering any RECACHECTL_* environment
// overrides on top.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Config{CacheDir: "."}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = "."
	}

	envOverlay(&cfg)
	return &cfg, nil
}
