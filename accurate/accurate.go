// Package accurate wraps github.com/coregx/coregex into the "accurate
// matcher" primitive the cache assumes: a single-pattern regex carrying a
// stable identity, per-pattern flags, and a max-hits limit.
package accurate

import (
	"math/rand"
	"regexp/syntax"
	"time"

	"go.uber.org/zap"

	"github.com/coregx/coregex"
)

// Flags captures the semantic properties of a pattern that both the
// accurate engine and the prefilter compiler need to agree on.
type Flags uint8

const (
	// Caseless requests case-insensitive matching.
	Caseless Flags = 1 << iota
	// Multiline makes ^ and $ match at line boundaries.
	Multiline
	// DotAll makes '.' match newlines.
	DotAll
	// UTF8 marks the pattern as operating over UTF-8 text (as opposed to
	// raw bytes); it has no effect on compilation today but is carried
	// through to the on-disk prefilter flags because the prefilter engine
	// distinguishes UTF-8 mode from raw mode.
	UTF8
	// AccurateOnly marks a pattern ineligible for prefilter inclusion: the
	// scanner always evaluates it with the accurate matcher.
	AccurateOnly
)

// Byte packs the flag set into a single byte, suitable for embedding in the
// on-disk prefilter file header and in a class hash.
func (f Flags) Byte() byte { return byte(f) }

// Has reports whether all bits in mask are set.
func (f Flags) Has(mask Flags) bool { return f&mask == mask }

// Expression is a compiled accurate regular expression plus the metadata
// the cache needs: its semantic flags, its prefilter eligibility, and its
// max-hits limit (0 means unlimited).
type Expression struct {
	regex   *coregex.Regex
	pattern string
	flags   Flags
	maxHits uint32
}

// Compile compiles pattern with the given flags. Syntax is the same
// Perl-compatible syntax github.com/coregx/coregex accepts; Caseless,
// Multiline, and DotAll are applied via regexp/syntax inline flag groups
// rather than separate engine-level booleans, since coregex.Regex exposes
// no such fields directly. The actual compiled-regex matching is entirely
// an external dependency's concern; this package only adapts it to the
// cache's per-expression identity, flags, and max-hits limit.
func Compile(pattern string, flags Flags, maxHits uint32) (*Expression, error) {
	prefixed := applyInlineFlags(pattern, flags)

	regex, err := coregex.Compile(prefixed)
	if err != nil {
		return nil, err
	}

	return &Expression{
		regex:   regex,
		pattern: pattern,
		flags:   flags,
		maxHits: maxHits,
	}, nil
}

// applyInlineFlags prepends a Perl-mode inline flag group encoding Caseless,
// Multiline and DotAll, matching how regexp/syntax.Perl expects them.
func applyInlineFlags(pattern string, flags Flags) string {
	group := ""
	if flags.Has(Caseless) {
		group += "i"
	}
	if flags.Has(Multiline) {
		group += "m"
	}
	if flags.Has(DotAll) {
		group += "s"
	}
	if group == "" {
		return pattern
	}
	return "(?" + group + ")" + pattern
}

// syntaxFlags returns the regexp/syntax flags corresponding to f, for
// callers (the prefilter compiler) that need to parse the pattern
// themselves rather than through this package's Compile.
func syntaxFlags(f Flags) syntax.Flags {
	out := syntax.Perl
	if f.Has(Caseless) {
		out |= syntax.FoldCase
	}
	if f.Has(DotAll) {
		out |= syntax.DotNL
	}
	if f.Has(Multiline) {
		out &^= syntax.OneLine
	}
	return out
}

// SyntaxFlags exposes syntaxFlags to other packages in the module (notably
// scandb's literal extraction, which needs to parse with the same flags
// Compile used).
func SyntaxFlags(f Flags) syntax.Flags { return syntaxFlags(f) }

// Pattern returns the source pattern text, excluding any inline flag prefix
// Compile added.
func (e *Expression) Pattern() string { return e.pattern }

// Flags returns the expression's semantic flags.
func (e *Expression) Flags() Flags { return e.flags }

// MaxHits returns the configured max-hits limit; 0 means unlimited.
func (e *Expression) MaxHits() uint32 { return e.maxHits }

// IsMatch reports whether b contains any match.
func (e *Expression) IsMatch(b []byte) bool { return e.regex.Match(b) }

// Config controls the optional slow-match timing sample taken by Count.
type Config struct {
	// SlowLogThreshold is the elapsed-time threshold above which a sampled
	// match is logged. Default 100ms.
	SlowLogThreshold time.Duration
	// SampleRate is the probability, in [0,1], that any one Count call is
	// timed at all. Default 0.1. Set to 0 to disable sampling (tests do
	// this to keep output deterministic).
	SampleRate float64
	Logger     *zap.Logger
}

// DefaultConfig returns the sampling defaults: a 10% sample rate and a
// 100ms slow-match threshold, matching the constants the reference
// implementation hardcodes but leaving them adjustable.
func DefaultConfig() Config {
	return Config{
		SlowLogThreshold: 100 * time.Millisecond,
		SampleRate:       0.1,
		Logger:           zap.NewNop(),
	}
}

// Count iterates all matches of e in b up to MaxHits (0 means until
// exhausted) and returns the clamped count. With probability cfg.SampleRate
// it times the iteration and logs an informational record if elapsed
// exceeds cfg.SlowLogThreshold.
func (e *Expression) Count(b []byte, cfg Config) int {
	limit := -1
	if e.maxHits > 0 {
		limit = int(e.maxHits)
	}

	if cfg.SampleRate <= 0 || rand.Float64() >= cfg.SampleRate {
		return len(e.regex.FindAll(b, limit))
	}

	start := time.Now()
	n := len(e.regex.FindAll(b, limit))
	elapsed := time.Since(start)
	if elapsed > cfg.SlowLogThreshold && cfg.Logger != nil {
		cfg.Logger.Info("slow accurate match",
			zap.String("pattern", e.pattern),
			zap.Duration("elapsed", elapsed),
			zap.Int("bytes", len(b)),
			zap.Int("matches", n),
		)
	}
	return n
}
