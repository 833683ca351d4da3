// Package runtime is the per-message scan scratch space: a checked
// bitmap and a results byte-array, both indexed by expression cache-id,
// plus the scan-wide statistics counters the Scanner updates.
//
// A Runtime is owned by exactly one in-flight scan and must never be
// shared across goroutines; the registry.Cache it scans against is
// immutable after Finalize, so many Runtimes may run concurrently over
// the same Cache without synchronization.
package runtime

import (
	"github.com/mailshield/recache/registry"
)

// Stats are the scan-wide counters a Runtime accumulates over its life.
type Stats struct {
	RegexpsTotal      uint64
	RegexpsChecked    uint64
	RegexpsMatched    uint64
	RegexpsFastCached uint64
	BytesScanned      uint64
	BytesScannedPCRE  uint64
}

// Runtime is per-message scratch space over one registry.Cache.
type Runtime struct {
	cache   *registry.Cache
	checked []byte
	results []byte
	stats   Stats
}

// New allocates a Runtime over cache: a zeroed checked bitmap of
// ceil(N/8) bytes and a zeroed N-byte results array, where N is
// cache.Count().
func New(cache *registry.Cache) *Runtime {
	n := cache.Count()
	return &Runtime{
		cache:   cache,
		checked: make([]byte, (n+7)/8),
		results: make([]byte, n),
		stats:   Stats{RegexpsTotal: uint64(n)},
	}
}

// Destroy drops the Runtime's reference to its Cache. Go's garbage
// collector reclaims the checked/results buffers on their own, so this
// exists only so a long-lived Runtime handle can release its Cache
// reference early, matching the original resource-release contract.
func (rt *Runtime) Destroy() {
	rt.cache = nil
	rt.checked = nil
	rt.results = nil
}

// Cache returns the Runtime's owning Cache.
func (rt *Runtime) Cache() *registry.Cache { return rt.cache }

// IsChecked reports whether cacheID's bit is set.
func (rt *Runtime) IsChecked(cacheID int) bool {
	return rt.checked[cacheID/8]&(1<<uint(cacheID%8)) != 0
}

// SetChecked sets cacheID's checked bit. It reports true iff this call
// performed the unchecked-to-checked transition (idempotent on repeat
// calls), and increments RegexpsChecked exactly once per expression.
func (rt *Runtime) SetChecked(cacheID int) bool {
	if rt.IsChecked(cacheID) {
		return false
	}
	rt.checked[cacheID/8] |= 1 << uint(cacheID%8)
	rt.stats.RegexpsChecked++
	return true
}

// Result returns cacheID's clamped match count. Meaningful only when
// IsChecked(cacheID) is true.
func (rt *Runtime) Result(cacheID int) int {
	return int(rt.results[cacheID])
}

// clampByte saturates n into the byte range the results array stores
// counts in; a match count this high is already well past any sane
// max-hits configuration.
func clampByte(n int) byte {
	if n < 0 {
		return 0
	}
	if n > 255 {
		return 255
	}
	return byte(n)
}

// SetResult overwrites cacheID's result with n, clamped to a byte.
func (rt *Runtime) SetResult(cacheID int, n int) {
	rt.results[cacheID] = clampByte(n)
}

// IncrResult increments cacheID's result by one, clamped to a byte, and
// returns the new value.
func (rt *Runtime) IncrResult(cacheID int) int {
	cur := int(rt.results[cacheID])
	rt.results[cacheID] = clampByte(cur + 1)
	return int(rt.results[cacheID])
}

// IncrFastCached records a fast-path hit.
func (rt *Runtime) IncrFastCached() { rt.stats.RegexpsFastCached++ }

// IncrMatched records that one expression's result transitioned from "no
// match" to "at least one match". Call this at most once per expression
// per scan, at the point the transition is observed.
func (rt *Runtime) IncrMatched() { rt.stats.RegexpsMatched++ }

// IncrBytesScanned adds n to the total bytes handed to any matcher.
func (rt *Runtime) IncrBytesScanned(n int) { rt.stats.BytesScanned += uint64(n) }

// IncrBytesScannedPCRE adds n to the bytes handed specifically to the
// accurate (non-prefilter) matcher.
func (rt *Runtime) IncrBytesScannedPCRE(n int) { rt.stats.BytesScannedPCRE += uint64(n) }

// Stats returns a snapshot of the scan's counters.
func (rt *Runtime) Stats() Stats { return rt.stats }
