// Package scanner is the entry point that ties the Runtime, Registry, and
// prefilter database together: given a queried Expression and the
// message's region view, it drives prefilter and/or accurate scanning,
// populates the Runtime's checked/results arrays (for the queried
// Expression alone on the accurate path, for every Expression listed in
// its Class's database on the prefilter path), and returns the queried
// Expression's count.
package scanner

import (
	"github.com/mailshield/recache/accurate"
	"github.com/mailshield/recache/region"
	"github.com/mailshield/recache/registry"
	"github.com/mailshield/recache/runtime"
	"github.com/mailshield/recache/scandb"
)

// Process is the Scanner's entry point (§4.5): process(runtime,
// expression, region view). The region kind and parameter are not passed
// separately since they already live on expr.Class() after finalize.
func Process(rt *runtime.Runtime, cache *registry.Cache, expr *registry.Expression, view region.MessageView, cfg accurate.Config) int {
	cacheID := expr.CacheID()

	if rt.IsChecked(cacheID) {
		rt.IncrFastCached()
		return rt.Result(cacheID)
	}

	class := expr.Class()
	slices, _ := region.Assemble(class.Kind(), class.Parameter(), view)
	if maxReData := cache.Config().MaxReData; maxReData > 0 {
		region.Clip(slices, maxReData)
	}

	db, hasDB := class.Database.(*scandb.Database)
	useAccurateOnly := cache.Config().PrefilterDisabled ||
		!cache.PrefilterLoaded() ||
		expr.Accurate().Flags().Has(accurate.AccurateOnly) ||
		!hasDB

	if useAccurateOnly {
		scanAccurate(rt, expr, slices, cfg)
		return rt.Result(cacheID)
	}

	scanClassViaPrefilter(rt, cache, db, class, slices, cfg)
	return rt.Result(cacheID)
}

// scanAccurate runs the accurate matcher across every slice for one
// expression and records the clamped total (§4.5.1).
func scanAccurate(rt *runtime.Runtime, expr *registry.Expression, slices [][]byte, cfg accurate.Config) {
	cacheID := expr.CacheID()
	total := 0
	for _, s := range slices {
		total += expr.Accurate().Count(s, cfg)
		rt.IncrBytesScanned(len(s))
		rt.IncrBytesScannedPCRE(len(s))
	}
	if maxHits := expr.Accurate().MaxHits(); maxHits > 0 && total > int(maxHits) {
		total = int(maxHits)
	}
	rt.SetResult(cacheID, total)
	if transitioned := rt.SetChecked(cacheID); transitioned && total > 0 {
		rt.IncrMatched()
	}
}

// scanClassViaPrefilter scans the whole class in one prefilter pass,
// dispatching every reported hit through the §4.5.2 callback semantics,
// then sweeps unmatched listed expressions to checked=true (§4.5.3).
func scanClassViaPrefilter(rt *runtime.Runtime, cache *registry.Cache, db *scandb.Database, class *registry.Class, slices [][]byte, cfg accurate.Config) {
	for _, s := range slices {
		rt.IncrBytesScanned(len(s))
	}
	scandb.ScanVector(db, slices, func(ev scandb.CallbackEvent) bool {
		handlePrefilterHit(rt, cache, slices, ev, cfg)
		return true
	})
	finishClass(rt, class)
}

// handlePrefilterHit implements §4.5.2 for one reported hit.
func handlePrefilterHit(rt *runtime.Runtime, cache *registry.Cache, slices [][]byte, ev scandb.CallbackEvent, cfg accurate.Config) {
	id := int(ev.CacheID)
	member, err := cache.Expression(id)
	if err != nil {
		return
	}

	if ev.Approx {
		if rt.IsChecked(id) {
			return
		}
		total := 0
		for i := 0; i <= ev.SliceIndex && i < len(slices); i++ {
			total += member.Accurate().Count(slices[i], cfg)
			rt.IncrBytesScanned(len(slices[i]))
			rt.IncrBytesScannedPCRE(len(slices[i]))
		}
		if maxHits := member.Accurate().MaxHits(); maxHits > 0 && total > int(maxHits) {
			total = int(maxHits)
		}
		rt.SetResult(id, total)
		if transitioned := rt.SetChecked(id); transitioned && total > 0 {
			rt.IncrMatched()
		}
		return
	}

	maxHits := member.Accurate().MaxHits()
	cur := rt.Result(id)
	if maxHits == 0 || cur < int(maxHits) {
		newVal := rt.IncrResult(id)
		if newVal == 1 {
			rt.IncrMatched()
		}
	}
	rt.SetChecked(id)
}

// finishClass marks every expression listed in the class's database but
// not yet checked as checked=true with a zero result (§4.5.3).
func finishClass(rt *runtime.Runtime, class *registry.Class) {
	for _, id := range class.ListedIDs {
		cacheID := int(id)
		if !rt.IsChecked(cacheID) {
			rt.SetResult(cacheID, 0)
			rt.SetChecked(cacheID)
		}
	}
}
