package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mailshield/recache/cmd/recachectl/config"
	"github.com/mailshield/recache/scandb"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Load every compiled prefilter database and report whether the whole cache loaded cleanly",
	RunE:  runVerify,
}

func runVerify(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(rulesFile)
	if err != nil {
		return err
	}

	cache, err := buildCache(cfg)
	if err != nil {
		return err
	}

	scfg := scandb.DefaultCompilerConfig()
	scfg.CacheDir = cfg.CacheDir
	scfg.Vectorized = cfg.Vectorized

	allLoaded, err := scandb.Load(cache, scfg)
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}

	fmt.Printf("classes: %d\n", len(cache.Classes()))
	fmt.Printf("expressions: %d\n", cache.Count())
	fmt.Printf("all prefilter databases loaded: %t\n", allLoaded)
	if !allLoaded {
		return fmt.Errorf("verify: one or more prefilter databases failed to load; run compile first")
	}
	return nil
}
