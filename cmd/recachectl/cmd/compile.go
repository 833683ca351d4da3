package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mailshield/recache/cmd/recachectl/config"
	"github.com/mailshield/recache/internal/logging"
	"github.com/mailshield/recache/scandb"
)

var (
	compileEnv           string
	compileProbeMaxTime  time.Duration
	compileProbeMaxTries int
)

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Compile every class in the rule file into a prefilter database file",
	RunE:  runCompile,
}

func init() {
	compileCmd.Flags().StringVar(&compileEnv, "env", "development", "logging environment: development or production")
	compileCmd.Flags().DurationVar(&compileProbeMaxTime, "probe-max-time", time.Second, "bounded approximation-compile budget per pattern")
	compileCmd.Flags().IntVar(&compileProbeMaxTries, "probe-max-tries", 10, "poll attempts within the approximation-compile budget")
}

func runCompile(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(rulesFile)
	if err != nil {
		return err
	}

	logger, err := logging.New(compileEnv)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	cache, err := buildCache(cfg)
	if err != nil {
		return err
	}

	scfg := scandb.DefaultCompilerConfig()
	scfg.CacheDir = cfg.CacheDir
	scfg.Vectorized = cfg.Vectorized
	scfg.ProbeMaxTime = compileProbeMaxTime
	scfg.ProbeMaxTries = compileProbeMaxTries
	scfg.Logger = logger.Logger

	classes := cache.Classes()
	for _, class := range classes {
		if err := scandb.Compile(class, scfg); err != nil {
			return fmt.Errorf("compile class %s: %w", class.Hash(), err)
		}
	}

	logger.Info("compile finished", zap.Int("classes_total", len(classes)))
	return nil
}
