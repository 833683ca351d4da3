package scanner

import (
	"time"

	"github.com/mailshield/recache/accurate"
	"github.com/mailshield/recache/internal/metrics"
	"github.com/mailshield/recache/region"
	"github.com/mailshield/recache/registry"
	"github.com/mailshield/recache/runtime"
)

// ScanMessage evaluates every expression registered in cache against one
// message (the caller's view over it), the way a task's rule evaluation
// queries every configured expression in turn. It builds a fresh Runtime,
// drives Process for each expression, and returns it so the caller can
// read per-expression results off it.
//
// If collectors is non-nil, the message's final Stats snapshot and
// wall-clock duration are recorded against it; callers that don't need
// Prometheus exposition (most tests) can pass nil.
func ScanMessage(cache *registry.Cache, view region.MessageView, cfg accurate.Config, collectors *metrics.Collectors) *runtime.Runtime {
	rt := runtime.New(cache)
	start := time.Now()

	for _, expr := range cache.Expressions() {
		Process(rt, cache, expr, view, cfg)
	}

	if collectors != nil {
		collectors.Observe(rt.Stats())
		collectors.ObserveDuration(time.Since(start).Seconds())
	}

	return rt
}
