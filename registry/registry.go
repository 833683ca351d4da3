// Package registry is the mutable collection of expressions and classes
// built up during configuration. It owns every Expression and Class,
// assigns cache indices, and finalizes class and cache identities.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mailshield/recache/accurate"
	"github.com/mailshield/recache/classid"
	"github.com/mailshield/recache/region"
)

// Sentinel errors returned by registry operations.
var (
	ErrCacheSealed    = errors.New("registry: cache already finalized")
	ErrClassNotFound  = errors.New("registry: class not found")
	ErrInvalidCacheID = errors.New("registry: invalid cache id")
	ErrNotFinalized   = errors.New("registry: cache not finalized")
)

// CompileError wraps a failure to compile a pattern during Add or Replace.
type CompileError struct {
	Pattern string
	Err     error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("registry: compile %q: %v", e.Pattern, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// MatchType records how an Expression's bit gets filled at scan time, set
// by the prefilter loader after a class's database is attached.
type MatchType uint8

const (
	// MatchAccurateOnly means the expression is never in any prefilter
	// database; the scanner always drives it with the accurate matcher.
	MatchAccurateOnly MatchType = iota
	// MatchPrefilterExact means the prefilter's report can be trusted
	// without re-checking.
	MatchPrefilterExact
	// MatchPrefilterApprox means the prefilter may false-positive; a
	// report must be re-verified with the accurate matcher.
	MatchPrefilterApprox
)

// invalidCacheID marks an Expression that has never been registered, or
// has been registered out via Replace.
const invalidCacheID = -1

// Expression is a registered, compiled pattern plus the two mutable slots
// the registry assigns: its cache-id and its class membership.
type Expression struct {
	expr      *accurate.Expression
	contentID uint64
	cacheID   int
	class     *Class
	matchType MatchType
}

// Accurate returns the underlying compiled accurate matcher.
func (e *Expression) Accurate() *accurate.Expression { return e.expr }

// ContentID returns the expression's stable content identifier.
func (e *Expression) ContentID() uint64 { return e.contentID }

// CacheID returns the expression's dense cache-id, or -1 if it was never
// registered or has been replaced out.
func (e *Expression) CacheID() int { return e.cacheID }

// Class returns the Expression's owning class, set when the Expression is
// added (or inherited on Replace).
func (e *Expression) Class() *Class { return e.class }

// MatchType returns how this expression's results get populated at scan
// time.
func (e *Expression) MatchType() MatchType { return e.matchType }

// Class is a set of Expressions that all scan the same message region.
type Class struct {
	id        classid.ID
	kind      region.Kind
	parameter []byte
	hash      classid.Hash

	mu      sync.Mutex
	members map[uint64]*Expression

	// Database, Scratch and ListedIDs are opaque slots populated by the
	// scandb package after a successful compile/load. They are left as
	// interface{} so this package does not need to import scandb (which
	// itself imports registry).
	Database  interface{}
	Scratch   interface{}
	ListedIDs []uint32
}

// ID returns the class's 64-bit identity.
func (c *Class) ID() classid.ID { return c.id }

// Kind returns the region kind this class scans.
func (c *Class) Kind() region.Kind { return c.kind }

// Parameter returns the class's region parameter bytes (e.g. a header
// name), or nil if the region kind takes none.
func (c *Class) Parameter() []byte { return c.parameter }

// Hash returns the class's cryptographic hash, valid after Finalize.
func (c *Class) Hash() classid.Hash { return c.hash }

// Members returns every Expression currently in the class, in unspecified
// order.
func (c *Class) Members() []*Expression {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Expression, 0, len(c.members))
	for _, e := range c.members {
		out = append(out, e)
	}
	return out
}

// Config controls cache-wide scanning behavior.
type Config struct {
	// PrefilterDisabled forces every scan onto the accurate-only path.
	PrefilterDisabled bool
	// Vectorized records whether this cache's prefilter databases are
	// vectored-mode. The scanner does not read it: it scans every class
	// through scandb.ScanVector in either mode, and the on-disk magic is
	// chosen by scandb.CompilerConfig.Vectorized.
	Vectorized bool
	// MaxReData caps the byte length of any single slice handed to a
	// matcher; 0 means unlimited.
	MaxReData int
	// CacheDir names the prefilter database directory for this cache.
	// scandb.Compile and scandb.Load take their directory from
	// scandb.CompilerConfig.CacheDir, not from this field.
	CacheDir string
}

// DefaultConfig returns the default cache configuration: prefilter
// enabled, block-mode scanning, no byte cap.
func DefaultConfig() Config {
	return Config{
		PrefilterDisabled: false,
		Vectorized:        false,
		MaxReData:         0,
		CacheDir:          ".",
	}
}

// ConfigError reports an invalid Config field.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "registry: invalid config: " + e.Field + ": " + e.Message
}

// Validate checks c for well-formedness.
func (c Config) Validate() error {
	if c.MaxReData < 0 {
		return &ConfigError{Field: "MaxReData", Message: "must be >= 0"}
	}
	if c.CacheDir == "" {
		return &ConfigError{Field: "CacheDir", Message: "must not be empty"}
	}
	return nil
}

// Cache is the registry: an ordered sequence of Expression handles, a
// mapping from class-id to Class, and cache-wide configuration.
type Cache struct {
	cfg Config

	mu          sync.Mutex
	expressions []*Expression
	classes     map[classid.ID]*Class
	sealed      bool

	globalHash      classid.Hash
	prefilterLoaded bool
}

// NewCache creates an empty, unsealed Cache.
func NewCache(cfg Config) (*Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Cache{
		cfg:     cfg,
		classes: make(map[classid.ID]*Class),
	}, nil
}

// Config returns the cache's configuration.
func (c *Cache) Config() Config { return c.cfg }

// addOptions collects Option effects applied during Add.
type addOptions struct {
	accurateOnly bool
}

// Option customizes a single Add call.
type Option func(*addOptions)

// WithAccurateOnly marks the registered expression ineligible for
// prefilter inclusion: the scanner always evaluates it with the accurate
// matcher, independent of whether its pattern would otherwise compile into
// the prefilter.
func WithAccurateOnly() Option {
	return func(o *addOptions) { o.accurateOnly = true }
}

// Add compiles pattern and registers it against the class identified by
// (kind, parameter). If an expression with the same content-id (pattern
// text + flags) already exists in that class, Add is idempotent and
// returns the existing Expression.
func (c *Cache) Add(kind region.Kind, parameter []byte, pattern string, flags accurate.Flags, maxHits uint32, opts ...Option) (*Expression, error) {
	var o addOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.accurateOnly {
		flags |= accurate.AccurateOnly
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sealed {
		return nil, ErrCacheSealed
	}

	cid := classid.Class(byte(kind), parameter)
	class := c.classes[cid]
	if class == nil {
		class = &Class{
			id:        cid,
			kind:      kind,
			parameter: append([]byte(nil), parameter...),
			members:   make(map[uint64]*Expression),
		}
		c.classes[cid] = class
	}

	contentID := classid.ContentID(pattern, flags.Byte())

	class.mu.Lock()
	if existing, ok := class.members[contentID]; ok {
		class.mu.Unlock()
		return existing, nil
	}
	class.mu.Unlock()

	compiled, err := accurate.Compile(pattern, flags, maxHits)
	if err != nil {
		return nil, &CompileError{Pattern: pattern, Err: err}
	}

	expr := &Expression{
		expr:      compiled,
		contentID: contentID,
		cacheID:   len(c.expressions),
		class:     class,
	}
	if flags.Has(accurate.AccurateOnly) {
		expr.matchType = MatchAccurateOnly
	}

	class.mu.Lock()
	class.members[contentID] = expr
	class.mu.Unlock()

	c.expressions = append(c.expressions, expr)
	return expr, nil
}

// Replace recompiles pattern/flags/maxHits and substitutes it for old,
// in place: the replacement inherits old's cache-id and class, old's
// cache-id is invalidated, and the class's content-id map is updated. The
// match-type is preserved so a replacement of a prefilter-loaded
// expression keeps scanning correctly until the next recompile.
func (c *Cache) Replace(old *Expression, pattern string, flags accurate.Flags, maxHits uint32) (*Expression, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sealed {
		return nil, ErrCacheSealed
	}
	if old.cacheID < 0 || old.cacheID >= len(c.expressions) || c.expressions[old.cacheID] != old {
		return nil, ErrInvalidCacheID
	}

	compiled, err := accurate.Compile(pattern, flags, maxHits)
	if err != nil {
		return nil, &CompileError{Pattern: pattern, Err: err}
	}

	newContentID := classid.ContentID(pattern, flags.Byte())
	replacement := &Expression{
		expr:      compiled,
		contentID: newContentID,
		cacheID:   old.cacheID,
		class:     old.class,
		matchType: old.matchType,
	}

	class := old.class
	class.mu.Lock()
	delete(class.members, old.contentID)
	class.members[newContentID] = replacement
	class.mu.Unlock()

	old.cacheID = invalidCacheID
	c.expressions[replacement.cacheID] = replacement
	return replacement, nil
}

// Finalize stable-sorts all expressions by content-id, reassigns cache-ids
// by sort position, computes every class's hash and the cache's global
// hash, and seals the cache against further registration. Finalize never
// fails on well-formed input.
func (c *Cache) Finalize() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sealed {
		return nil
	}

	live := make([]*Expression, 0, len(c.expressions))
	for _, e := range c.expressions {
		if e.cacheID != invalidCacheID {
			live = append(live, e)
		}
	}
	sort.SliceStable(live, func(i, j int) bool { return live[i].contentID < live[j].contentID })
	for i, e := range live {
		e.cacheID = i
	}
	c.expressions = live

	total := len(live)
	classIDs := make([]classid.ID, 0, len(c.classes))
	for cid, class := range c.classes {
		classIDs = append(classIDs, cid)
		members := make([]classid.Member, 0, len(class.members))
		for _, e := range class.members {
			members = append(members, classid.Member{
				ContentID: e.contentID,
				FlagByte:  e.expr.Flags().Byte(),
				MaxHits:   e.expr.MaxHits(),
			})
		}
		class.hash = classid.ComputeClassHash(cid, members, total)
	}

	sort.Slice(classIDs, func(i, j int) bool { return classIDs[i] < classIDs[j] })
	classHashes := make([]classid.Hash, 0, len(classIDs))
	for _, cid := range classIDs {
		classHashes = append(classHashes, c.classes[cid].hash)
	}
	c.globalHash = classid.CombineHashes(classHashes)

	c.sealed = true
	return nil
}

// Sealed reports whether Finalize has run.
func (c *Cache) Sealed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sealed
}

// GlobalHash returns the cache-wide hash computed at Finalize. It changes
// whenever any class's membership, any expression's flags, or the total
// expression count changes.
func (c *Cache) GlobalHash() classid.Hash { return c.globalHash }

// Expressions returns every registered expression, indexed by cache-id
// after Finalize.
func (c *Cache) Expressions() []*Expression {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Expression, len(c.expressions))
	copy(out, c.expressions)
	return out
}

// Expression looks up an expression by its dense cache-id.
func (c *Cache) Expression(cacheID int) (*Expression, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cacheID < 0 || cacheID >= len(c.expressions) {
		return nil, ErrInvalidCacheID
	}
	return c.expressions[cacheID], nil
}

// Classes returns every class currently in the cache, in unspecified
// order.
func (c *Cache) Classes() []*Class {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Class, 0, len(c.classes))
	for _, class := range c.classes {
		out = append(out, class)
	}
	return out
}

// ClassByID looks up a class by its 64-bit identity.
func (c *Cache) ClassByID(id classid.ID) (*Class, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	class, ok := c.classes[id]
	if !ok {
		return nil, ErrClassNotFound
	}
	return class, nil
}

// Count returns the total number of live (non-replaced-out) expressions.
func (c *Cache) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.expressions)
}

// SetMatchType records how cacheID's results get populated at scan time.
// Called by the scandb loader once a class's database has been attached.
func (c *Cache) SetMatchType(cacheID int, mt MatchType) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cacheID < 0 || cacheID >= len(c.expressions) {
		return ErrInvalidCacheID
	}
	c.expressions[cacheID].matchType = mt
	return nil
}

// SetPrefilterLoaded records whether every class's prefilter database
// validated and deserialized successfully. Called once by the scandb
// loader after attempting to load every class.
func (c *Cache) SetPrefilterLoaded(loaded bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prefilterLoaded = loaded
}

// PrefilterLoaded reports whether the whole-cache prefilter database
// loaded cleanly.
func (c *Cache) PrefilterLoaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prefilterLoaded
}
