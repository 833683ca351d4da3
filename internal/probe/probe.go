// Package probe bounds the worst-case time a risky operation (here, an
// approximation-mode pattern compile that might never terminate) can take,
// by running it in a child process of the same binary and killing it if it
// overruns a budget.
//
// Go's os/exec already reaps children through the runtime's SIGCHLD
// handling, so unlike a fork/exec implementation this package never needs
// to touch signal dispositions itself; Wait does that bookkeeping for us.
package probe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// envMarker, when present in the environment, tells this binary that it
// was launched as a probe child rather than normally; envArg carries the
// argument the registered probe function should run on.
const (
	envMarker = "RECACHE_PROBE_CHILD"
	envArg    = "RECACHE_PROBE_ARG"
)

// Func is the body a probe child process runs. It receives the argument
// passed to Bounded and returns an error if the operation under test
// failed; a nil return means success.
type Func func(arg string) error

var registered Func

// Register installs fn as this process's probe body. Call it once, early
// in main(), before MaybeRunChild and before any Bounded call that might
// cause this binary to re-exec itself.
func Register(fn Func) { registered = fn }

// MaybeRunChild checks whether this process was launched as a probe
// child. If so, it runs the registered Func and terminates the process
// with exit code 0 (success) or 1 (failure), never returning. If this
// process is not a probe child, MaybeRunChild returns immediately so
// normal startup can continue.
func MaybeRunChild() {
	if os.Getenv(envMarker) == "" {
		return
	}
	if registered == nil {
		os.Exit(1)
	}
	arg := os.Getenv(envArg)
	if err := registered(arg); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}

// ErrNotApproximable names the approximation-timeout error kind ("compile
// probe did not finish in time"). Bounded itself does not return it: it
// reports a timeout as (false, nil).
var ErrNotApproximable = errors.New("probe: operation did not complete within budget")

// Bounded runs the registered probe function, with argument arg, in a
// fresh child process of the currently-running binary. It polls for
// completion with a sleep quantum of maxTime/maxTries (so roughly maxTries
// polls total) and, if the child has not exited by the time the budget is
// exhausted, sends SIGKILL and reaps it.
//
// Bounded reports true iff the child exited with status 0 within the
// budget. Any other outcome — nonzero exit, signal, or timeout — reports
// false, matching the "not approximable" semantics: all such outcomes are
// equivalent to the pattern simply not being usable as a prefilter.
func Bounded(arg string, maxTime time.Duration, maxTries int) (bool, error) {
	if maxTries < 1 {
		maxTries = 1
	}
	quantum := maxTime / time.Duration(maxTries)
	if quantum <= 0 {
		quantum = time.Millisecond
	}

	self, err := os.Executable()
	if err != nil {
		return false, fmt.Errorf("probe: resolve executable: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), maxTime)
	defer cancel()

	cmd := exec.Command(self, os.Args[1:]...)
	cmd.Env = append(os.Environ(), envMarker+"=1", envArg+"="+arg)

	if err := cmd.Start(); err != nil {
		return false, fmt.Errorf("probe: start child: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	ticker := time.NewTicker(quantum)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			return err == nil, nil
		case <-ctx.Done():
			_ = cmd.Process.Kill()
			<-done // blocking reap
			return false, nil
		case <-ticker.C:
			// Poll tick; the select above re-evaluates done/ctx.Done().
		}
	}
}
