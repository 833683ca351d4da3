package cmd

import (
	"fmt"

	"github.com/mailshield/recache/cmd/recachectl/config"
	"github.com/mailshield/recache/registry"
)

// buildCache registers every pattern in cfg against a fresh registry.Cache
// and finalizes it.
func buildCache(cfg *config.Config) (*registry.Cache, error) {
	rcfg := registry.DefaultConfig()
	rcfg.PrefilterDisabled = cfg.PrefilterDisabled
	rcfg.Vectorized = cfg.Vectorized
	rcfg.MaxReData = cfg.MaxReData
	rcfg.CacheDir = cfg.CacheDir

	cache, err := registry.NewCache(rcfg)
	if err != nil {
		return nil, fmt.Errorf("new cache: %w", err)
	}

	for i, p := range cfg.Patterns {
		kind, err := p.RegionKind()
		if err != nil {
			return nil, fmt.Errorf("pattern %d: %w", i, err)
		}
		var opts []registry.Option
		if p.AccurateOnly {
			opts = append(opts, registry.WithAccurateOnly())
		}
		if _, err := cache.Add(kind, []byte(p.Parameter), p.Pattern, p.Flags(), p.MaxHits, opts...); err != nil {
			return nil, fmt.Errorf("pattern %d (%q): %w", i, p.Pattern, err)
		}
	}

	if err := cache.Finalize(); err != nil {
		return nil, fmt.Errorf("finalize: %w", err)
	}
	return cache, nil
}
