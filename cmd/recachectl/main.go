// Command recachectl is the offline prefilter compiler: it reads a rule
// file of classes and patterns and writes one prefilter database file per
// class, so the scanning process only ever loads already-built files.
package main

import (
	"fmt"
	"os"

	"github.com/mailshield/recache/cmd/recachectl/cmd"
	"github.com/mailshield/recache/internal/probe"
)

func main() {
	// Must run before any other initialization: when this process was
	// re-exec'd as a bounded compile probe's child, this never returns.
	probe.MaybeRunChild()

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
