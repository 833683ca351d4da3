package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadParsesPatternsAndDefaults(t *testing.T) {
	path := writeTempYAML(t, `
patterns:
  - kind: header
    parameter: Subject
    pattern: '^foo$'
    caseless: true
    max_hits: 1
  - kind: body
    pattern: 'needle'
    accurate_only: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CacheDir != "." {
		t.Fatalf("expected default cache_dir '.', got %q", cfg.CacheDir)
	}
	if len(cfg.Patterns) != 2 {
		t.Fatalf("expected 2 patterns, got %d", len(cfg.Patterns))
	}
	if !cfg.Patterns[0].Caseless || cfg.Patterns[0].MaxHits != 1 {
		t.Fatalf("unexpected first pattern: %+v", cfg.Patterns[0])
	}
	if !cfg.Patterns[1].AccurateOnly {
		t.Fatalf("expected second pattern to be accurate-only")
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("expected an error for a missing rule file")
	}
}

func TestPatternConfigFlagsPacksBits(t *testing.T) {
	p := PatternConfig{Caseless: true, Multiline: true}
	f := p.Flags()
	if !f.Has(1) || !f.Has(2) {
		t.Fatalf("expected both caseless and multiline bits set, got %v", f)
	}
}

func TestRegionKindRejectsUnknownName(t *testing.T) {
	p := PatternConfig{Kind: "not-a-real-kind"}
	if _, err := p.RegionKind(); err == nil {
		t.Fatalf("expected an error for an unknown region kind")
	}
}

func TestEnvOverlayOverridesCacheDir(t *testing.T) {
	path := writeTempYAML(t, `
cache_dir: /default
patterns: []
`)
	t.Setenv("RECACHECTL_CACHE_DIR", "/overridden")
	defer os.Unsetenv("RECACHECTL_CACHE_DIR")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CacheDir != "/overridden" {
		t.Fatalf("expected env override to win, got %q", cfg.CacheDir)
	}
}
