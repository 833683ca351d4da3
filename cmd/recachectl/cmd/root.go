// Package cmd implements recachectl's command tree: an offline compiler
// that turns a rule file into one prefilter database file per class, the
// counterpart to rspamd's hs_helper.
package cmd

import (
	"github.com/spf13/cobra"
)

var rulesFile string

var rootCmd = &cobra.Command{
	Use:   "recachectl",
	Short: "Offline prefilter compiler for recache rule files",
	Long: `recachectl compiles a YAML rule file of classes and patterns into
one prefilter database file per class, so the scanning process only ever
needs to load already-compiled files rather than build automatons on its
own critical path.`,
}

// Execute runs the selected subcommand.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&rulesFile, "rules", "r", "recache.yaml", "path to the rule file")
	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(verifyCmd)
}
