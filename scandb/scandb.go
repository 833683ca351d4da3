// Package scandb is the prefilter compiler and cache store: for each class
// it produces a serialized prefilter database on disk, keyed by the
// class's content hash, and loads/verifies previously-produced databases
// back into a registry.Cache.
//
// The multi-pattern engine behind a database is
// github.com/coregx/ahocorasick, the same automaton github.com/coregx/coregex
// builds internally for large literal alternations. A database holds one
// small automaton per prefilter-eligible expression, each automaton built
// from that expression's own extracted literal set; scanning the class
// means running every member's automaton over the region and reporting
// which cache-id owns each hit. ahocorasick.Match only ever reports a
// Start/End span, not which pattern matched, so one automaton per
// expression is how a reported hit is attributed back to a cache-id.
package scandb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp/syntax"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/coregx/ahocorasick"
	"go.uber.org/zap"

	"github.com/coregx/coregex/literal"

	"github.com/mailshield/recache/accurate"
	"github.com/mailshield/recache/internal/platform"
	"github.com/mailshield/recache/internal/probe"
	"github.com/mailshield/recache/registry"
)

// Mode selects between a block-mode database (one buffer scanned at a
// time) and a vectored-mode database (a whole slice vector scanned in one
// call). The two modes use distinct on-disk magics so a reader never
// mistakes one for the other.
type Mode uint8

const (
	ModeBlock Mode = iota
	ModeVector
)

var (
	blockMagic  = [8]byte{'R', 'C', 'D', 'B', 'B', 'L', 'K', '1'}
	vectorMagic = [8]byte{'R', 'C', 'D', 'B', 'V', 'E', 'C', '1'}
)

// Errors returned by Compile and Load, matching the error kinds this
// component owns.
var (
	ErrClassCompileFailed = errors.New("scandb: class compile failed")
	ErrCacheFileInvalid   = errors.New("scandb: cache file invalid")
)

// EntryFlags are the per-expression prefilter flags embedded in a
// database's header, translated from accurate.Flags plus the max-hits
// derived single-match bit.
type EntryFlags uint32

const (
	FlagApprox EntryFlags = 1 << iota
	FlagSingleMatch
	FlagCaseless
	FlagMultiline
	FlagDotAll
	FlagUTF8
)

func entryFlagsOf(f accurate.Flags, maxHits uint32, approx bool) EntryFlags {
	var out EntryFlags
	if approx {
		out |= FlagApprox
	}
	if maxHits == 1 {
		out |= FlagSingleMatch
	}
	if f.Has(accurate.Caseless) {
		out |= FlagCaseless
	}
	if f.Has(accurate.Multiline) {
		out |= FlagMultiline
	}
	if f.Has(accurate.DotAll) {
		out |= FlagDotAll
	}
	if f.Has(accurate.UTF8) {
		out |= FlagUTF8
	}
	return out
}

// entry is one prefilter-eligible expression's compiled automaton plus the
// bookkeeping needed to report a hit back to its owning cache-id.
type entry struct {
	cacheID   uint32
	approx    bool
	automaton *ahocorasick.Automaton
	literals  [][]byte // retained so the entry can be re-serialized
}

// Database is a compiled, loaded prefilter over one class's eligible
// expressions: one automaton per member, scanned in sequence.
type Database struct {
	mode    Mode
	entries []entry
}

// Scratch is the per-invocation working memory the external prefilter
// primitives contract names (alloc_scratch). Every automaton here is
// stateless across scans, so Scratch carries no fields; it exists so
// callers that allocate one scratch per Runtime (per the concurrency
// model's per-goroutine-scratch requirement) have something concrete to
// hold and pass around.
type Scratch struct{}

// NewScratch allocates a scratch for concurrent use against db.
func NewScratch(db *Database) *Scratch { return &Scratch{} }

// CallbackEvent describes one prefilter hit, reported by Scan or
// ScanVector.
type CallbackEvent struct {
	CacheID    uint32
	SliceIndex int
	SliceCount int
	From, To   int
	Approx     bool
}

// Callback is invoked once per prefilter hit. Returning false stops
// scanning the current entry over the current slice early; the scanner's
// own callback always returns true.
type Callback func(CallbackEvent) bool

// Scan runs every entry's automaton over buf and invokes cb for each hit.
func Scan(db *Database, buf []byte, cb Callback) {
	scanSlice(db, buf, 0, 1, cb)
}

// ScanVector runs every entry's automaton over each slice of bufs in turn,
// reporting the true slice index and slice count on every event so a
// caller re-checking an approximate hit knows exactly how much of the
// vector it must re-run the accurate matcher across.
func ScanVector(db *Database, bufs [][]byte, cb Callback) {
	for i, buf := range bufs {
		scanSlice(db, buf, i, len(bufs), cb)
	}
}

func scanSlice(db *Database, buf []byte, sliceIndex, sliceCount int, cb Callback) {
	for _, e := range db.entries {
		at := 0
		for at <= len(buf) {
			m := e.automaton.Find(buf, at)
			if m == nil {
				break
			}
			keepGoing := cb(CallbackEvent{
				CacheID:    e.cacheID,
				SliceIndex: sliceIndex,
				SliceCount: sliceCount,
				From:       m.Start,
				To:         m.End,
				Approx:     e.approx,
			})
			if !keepGoing {
				break
			}
			if m.End > at {
				at = m.End
			} else {
				at++
			}
		}
	}
}

// CompilerConfig controls how classes are compiled into databases.
type CompilerConfig struct {
	CacheDir        string
	Vectorized      bool
	ProbeMaxTime    time.Duration
	ProbeMaxTries   int
	ExtractorConfig literal.ExtractorConfig
	Logger          *zap.Logger
}

// DefaultCompilerConfig returns sensible defaults: a 1s approximation
// compile budget split across 10 polls, and the literal extractor's
// default limits.
func DefaultCompilerConfig() CompilerConfig {
	return CompilerConfig{
		CacheDir:        ".",
		Vectorized:      false,
		ProbeMaxTime:    time.Second,
		ProbeMaxTries:   10,
		ExtractorConfig: literal.DefaultConfig(),
		Logger:          zap.NewNop(),
	}
}

func (c CompilerConfig) mode() Mode {
	if c.Vectorized {
		return ModeVector
	}
	return ModeBlock
}

func (c CompilerConfig) pathFor(class *registry.Class) string {
	return filepath.Join(c.CacheDir, class.Hash().String()+".hs")
}

// init registers this process's probe body: attempting inexact inner
// literal extraction on the pattern packed into arg. It must run before
// any Compile call that might invoke the bounded compile probe, and is
// harmless if this process never becomes a probe child.
func init() {
	probe.Register(func(arg string) error {
		pattern, flagByte, ok := unpackProbeArg(arg)
		if !ok {
			return fmt.Errorf("scandb: malformed probe argument")
		}
		_, err := approximateLiterals(pattern, accurate.Flags(flagByte), literal.DefaultConfig())
		return err
	})
}

func packProbeArg(pattern string, flagByte byte) string {
	return fmt.Sprintf("%d:%s", flagByte, pattern)
}

func unpackProbeArg(arg string) (pattern string, flagByte byte, ok bool) {
	var f int
	n, err := fmt.Sscanf(arg, "%d:", &f)
	if err != nil || n != 1 {
		return "", 0, false
	}
	prefixLen := len(fmt.Sprintf("%d:", f))
	if prefixLen > len(arg) {
		return "", 0, false
	}
	return arg[prefixLen:], byte(f), true
}

// exactLiterals returns the literal byte strings one of which must appear
// for pattern to match, or nil if no reliable (complete) literal set exists.
func exactLiterals(pattern string, flags accurate.Flags, cfg literal.ExtractorConfig) [][]byte {
	re, err := syntax.Parse(pattern, accurate.SyntaxFlags(flags))
	if err != nil {
		return nil
	}
	re = re.Simplify()

	extractor := literal.New(cfg)
	seq := extractor.ExtractPrefixes(re)
	if seq.IsEmpty() {
		seq = extractor.ExtractSuffixes(re)
	}
	if seq.IsEmpty() || !allComplete(seq) {
		return nil
	}
	return seqBytes(seq)
}

// approximateLiterals returns a best-effort, possibly-inexact literal set
// for pattern, used when exactLiterals found nothing reliable. An empty,
// nil-error result means the pattern has no literal content at all (e.g.
// "."); an error means extraction itself failed (invalid pattern).
func approximateLiterals(pattern string, flags accurate.Flags, cfg literal.ExtractorConfig) ([][]byte, error) {
	re, err := syntax.Parse(pattern, accurate.SyntaxFlags(flags))
	if err != nil {
		return nil, err
	}
	re = re.Simplify()

	extractor := literal.New(cfg)
	seq := extractor.ExtractInner(re)
	if seq.IsEmpty() {
		seq = extractor.ExtractPrefixes(re)
	}
	if seq.IsEmpty() {
		return nil, nil
	}
	return seqBytes(seq), nil
}

func allComplete(seq *literal.Seq) bool {
	for i := 0; i < seq.Len(); i++ {
		if !seq.Get(i).Complete {
			return false
		}
	}
	return true
}

func seqBytes(seq *literal.Seq) [][]byte {
	out := make([][]byte, 0, seq.Len())
	for i := 0; i < seq.Len(); i++ {
		out = append(out, seq.Get(i).Bytes)
	}
	return out
}

// Compile produces the on-disk database for class, per the compilation
// procedure: skip if a valid file already exists; otherwise enumerate
// eligible expressions, extract literals (exact, or approximate behind the
// bounded probe), build one automaton per expression, and atomically write
// the file.
func Compile(class *registry.Class, cfg CompilerConfig) error {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	path := cfg.pathFor(class)

	if ok, _ := Verify(path, class, cfg); ok {
		logger.Info("prefilter database already valid, skipping compile",
			zap.Stringer("class_hash", class.Hash()),
			zap.String("region_kind", class.Kind().String()),
		)
		return nil
	}

	type pending struct {
		cacheID  uint32
		approx   bool
		literals [][]byte
		flagByte uint32
	}
	var work []pending

	for _, member := range class.Members() {
		expr := member.Accurate()
		if expr.Flags().Has(accurate.AccurateOnly) {
			continue
		}

		lits := exactLiterals(expr.Pattern(), expr.Flags(), cfg.ExtractorConfig)
		approx := false

		if lits == nil {
			maxTime := cfg.ProbeMaxTime
			if maxTime <= 0 {
				maxTime = time.Second
			}
			maxTries := cfg.ProbeMaxTries
			if maxTries <= 0 {
				maxTries = 10
			}
			arg := packProbeArg(expr.Pattern(), expr.Flags().Byte())
			ok, err := probe.Bounded(arg, maxTime, maxTries)
			if err != nil {
				return fmt.Errorf("scandb: approximation probe for %q: %w", expr.Pattern(), err)
			}
			if !ok {
				// compile-failed / approximation-timeout: the expression
				// remains accurate-only.
				continue
			}
			approxLits, err := approximateLiterals(expr.Pattern(), expr.Flags(), cfg.ExtractorConfig)
			if err != nil || len(approxLits) == 0 {
				continue
			}
			lits = approxLits
			approx = true
		}

		work = append(work, pending{
			cacheID:  uint32(member.CacheID()),
			approx:   approx,
			literals: lits,
			flagByte: uint32(entryFlagsOf(expr.Flags(), expr.MaxHits(), approx)),
		})
	}

	if len(work) == 0 {
		// Nothing is prefilter-eligible in this class; no file is
		// produced and every member stays accurate-only.
		return nil
	}

	entries := make([]entry, 0, len(work))
	ids := make([]uint32, 0, len(work))
	flagsOut := make([]uint32, 0, len(work))
	for _, w := range work {
		builder := ahocorasick.NewBuilder()
		for _, l := range w.literals {
			builder.AddPattern(l)
		}
		automaton, err := builder.Build()
		if err != nil {
			return fmt.Errorf("%w: class %s: cache id %d: %v", ErrClassCompileFailed, class.Hash(), w.cacheID, err)
		}
		entries = append(entries, entry{cacheID: w.cacheID, approx: w.approx, automaton: automaton, literals: w.literals})
		ids = append(ids, w.cacheID)
		flagsOut = append(flagsOut, w.flagByte)
	}

	blob := marshalBlob(entries)

	if err := writeFile(path, cfg.mode(), platform.Current(), ids, flagsOut, blob); err != nil {
		return err
	}

	class.ListedIDs = ids
	logger.Info("compiled prefilter database",
		zap.Stringer("class_hash", class.Hash()),
		zap.String("region_kind", class.Kind().String()),
		zap.Int("expressions", len(entries)),
	)
	return nil
}

func marshalBlob(entries []entry) []byte {
	var buf []byte
	var tmp [4]byte

	binary.LittleEndian.PutUint32(tmp[:], uint32(len(entries)))
	buf = append(buf, tmp[:]...)

	for _, e := range entries {
		binary.LittleEndian.PutUint32(tmp[:], e.cacheID)
		buf = append(buf, tmp[:]...)
		approxByte := byte(0)
		if e.approx {
			approxByte = 1
		}
		buf = append(buf, approxByte)
		binary.LittleEndian.PutUint32(tmp[:], uint32(len(e.literals)))
		buf = append(buf, tmp[:]...)
		for _, lit := range e.literals {
			binary.LittleEndian.PutUint32(tmp[:], uint32(len(lit)))
			buf = append(buf, tmp[:]...)
			buf = append(buf, lit...)
		}
	}
	return buf
}

func unmarshalBlob(blob []byte) ([]entry, error) {
	if len(blob) < 4 {
		return nil, fmt.Errorf("scandb: blob too short")
	}
	n := binary.LittleEndian.Uint32(blob[:4])
	pos := 4
	entries := make([]entry, 0, n)

	for i := uint32(0); i < n; i++ {
		if pos+4+1+4 > len(blob) {
			return nil, fmt.Errorf("scandb: truncated entry header")
		}
		cacheID := binary.LittleEndian.Uint32(blob[pos : pos+4])
		pos += 4
		approx := blob[pos] != 0
		pos++
		numLits := int(binary.LittleEndian.Uint32(blob[pos : pos+4]))
		pos += 4

		literals := make([][]byte, 0, numLits)
		for j := 0; j < numLits; j++ {
			if pos+4 > len(blob) {
				return nil, fmt.Errorf("scandb: truncated literal length")
			}
			length := int(binary.LittleEndian.Uint32(blob[pos : pos+4]))
			pos += 4
			if pos+length > len(blob) {
				return nil, fmt.Errorf("scandb: truncated literal bytes")
			}
			literals = append(literals, append([]byte(nil), blob[pos:pos+length]...))
			pos += length
		}

		builder := ahocorasick.NewBuilder()
		for _, lit := range literals {
			builder.AddPattern(lit)
		}
		automaton, err := builder.Build()
		if err != nil {
			return nil, fmt.Errorf("scandb: rebuild entry %d: %w", cacheID, err)
		}

		entries = append(entries, entry{cacheID: cacheID, approx: approx, automaton: automaton, literals: literals})
	}
	return entries, nil
}

// Verify implements is-valid(path): it reports whether the file at path is
// a valid, trustworthy database for class under cfg's configured mode and
// the current platform.
func Verify(path string, class *registry.Class, cfg CompilerConfig) (bool, string) {
	if want := class.Hash().String() + ".hs"; filepath.Base(path) != want {
		return false, "filename does not match class hash: want " + want + ", got " + filepath.Base(path)
	}
	mode, tag, _, _, blob, err := readFile(path)
	if err != nil {
		return false, "io-error: " + err.Error()
	}
	if mode != cfg.mode() {
		return false, "magic mismatch"
	}
	if !tag.Equal(platform.Current()) {
		return false, "platform tag mismatch"
	}
	if _, err := unmarshalBlob(blob); err != nil {
		return false, "blob structurally invalid: " + err.Error()
	}
	return true, ""
}

// Load resolves, verifies, and attaches a database to every class in
// cache, per the loader procedure. It reports allLoaded=true iff every
// class's file validated and deserialized successfully, and records that
// on the cache via SetPrefilterLoaded. Classes whose files are absent or
// invalid are left accurate-only; Load never fails outright for that
// reason, only for other I/O errors, which it returns with the path.
func Load(cache *registry.Cache, cfg CompilerConfig) (allLoaded bool, err error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	allLoaded = true
	for _, class := range cache.Classes() {
		path := cfg.pathFor(class)

		mode, tag, ids, flagsOut, blob, rerr := readFile(path)
		if rerr != nil {
			if os.IsNotExist(rerr) {
				allLoaded = false
				continue
			}
			if !errors.Is(rerr, ErrCacheFileInvalid) {
				cache.SetPrefilterLoaded(false)
				return false, fmt.Errorf("scandb: read %s: %w", path, rerr)
			}
			logger.Warn("prefilter database read failed", zap.String("path", path), zap.Error(rerr))
			allLoaded = false
			continue
		}
		if mode != cfg.mode() || !tag.Equal(platform.Current()) {
			logger.Warn("prefilter database invalid: magic or platform mismatch", zap.String("path", path))
			allLoaded = false
			continue
		}

		entries, uerr := unmarshalBlob(blob)
		if uerr != nil {
			logger.Warn("prefilter database invalid: blob", zap.String("path", path), zap.Error(uerr))
			allLoaded = false
			continue
		}

		class.Database = &Database{mode: mode, entries: entries}
		class.Scratch = NewScratch(class.Database.(*Database))
		class.ListedIDs = ids

		for i, id := range ids {
			mt := registry.MatchPrefilterExact
			if EntryFlags(flagsOut[i])&FlagApprox != 0 {
				mt = registry.MatchPrefilterApprox
			}
			if serr := cache.SetMatchType(int(id), mt); serr != nil {
				logger.Warn("prefilter database lists unknown cache id", zap.Uint32("cache_id", id), zap.Error(serr))
			}
		}
	}

	cache.SetPrefilterLoaded(allLoaded)
	return allLoaded, nil
}

// writeFile writes the on-disk database atomically: it writes to a
// ".new" temp file in the same directory, fsyncs it, then renames it over
// the final path so a concurrent reader never observes a partial write.
func writeFile(path string, mode Mode, tag platform.Tag, ids []uint32, flagsOut []uint32, blob []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("scandb: mkdir: %w", err)
	}

	tmpPath := path + ".new"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("scandb: create temp file: %w", err)
	}

	buf := encodeFile(mode, tag, ids, flagsOut, blob)
	if _, err := f.Write(buf); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("scandb: write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("scandb: fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("scandb: close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("scandb: rename temp file: %w", err)
	}
	return nil
}

func encodeFile(mode Mode, tag platform.Tag, ids []uint32, flagsOut []uint32, blob []byte) []byte {
	magic := blockMagic
	if mode == ModeVector {
		magic = vectorMagic
	}

	tagBytes := tag.Bytes()
	var header []byte
	header = append(header, magic[:]...)

	var u16 [2]byte
	binary.LittleEndian.PutUint16(u16[:], uint16(len(tagBytes)))
	header = append(header, u16[:]...)
	header = append(header, tagBytes...)

	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], uint32(len(ids)))
	header = append(header, u32[:]...)

	for _, id := range ids {
		binary.LittleEndian.PutUint32(u32[:], id)
		header = append(header, u32[:]...)
	}
	for _, fl := range flagsOut {
		binary.LittleEndian.PutUint32(u32[:], fl)
		header = append(header, u32[:]...)
	}

	crc := computeCRC(ids, flagsOut, blob)
	var u64 [8]byte
	binary.LittleEndian.PutUint64(u64[:], crc)
	header = append(header, u64[:]...)

	return append(header, blob...)
}

func readFile(path string) (mode Mode, tag platform.Tag, ids []uint32, flagsOut []uint32, blob []byte, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, nil, nil, nil, nil, err
	}
	return decodeFile(data)
}

func decodeFile(data []byte) (mode Mode, tag platform.Tag, ids []uint32, flagsOut []uint32, blob []byte, err error) {
	if len(data) < 8+2 {
		return 0, nil, nil, nil, nil, fmt.Errorf("%w: truncated header", ErrCacheFileInvalid)
	}
	switch {
	case string(data[:8]) == string(blockMagic[:]):
		mode = ModeBlock
	case string(data[:8]) == string(vectorMagic[:]):
		mode = ModeVector
	default:
		return 0, nil, nil, nil, nil, fmt.Errorf("%w: bad magic", ErrCacheFileInvalid)
	}
	pos := 8

	tagLen := int(binary.LittleEndian.Uint16(data[pos : pos+2]))
	pos += 2
	if pos+tagLen > len(data) {
		return 0, nil, nil, nil, nil, fmt.Errorf("%w: truncated platform tag", ErrCacheFileInvalid)
	}
	tag = platform.ParseTag(data[pos : pos+tagLen])
	pos += tagLen

	if pos+4 > len(data) {
		return 0, nil, nil, nil, nil, fmt.Errorf("%w: truncated count", ErrCacheFileInvalid)
	}
	n := int(binary.LittleEndian.Uint32(data[pos : pos+4]))
	pos += 4
	if n < 0 {
		return 0, nil, nil, nil, nil, fmt.Errorf("%w: negative count", ErrCacheFileInvalid)
	}

	need := pos + 4*n + 4*n + 8
	if need > len(data) {
		return 0, nil, nil, nil, nil, fmt.Errorf("%w: size below header + 2*4*n + 8", ErrCacheFileInvalid)
	}

	ids = make([]uint32, n)
	for i := 0; i < n; i++ {
		ids[i] = binary.LittleEndian.Uint32(data[pos : pos+4])
		pos += 4
	}
	flagsOut = make([]uint32, n)
	for i := 0; i < n; i++ {
		flagsOut[i] = binary.LittleEndian.Uint32(data[pos : pos+4])
		pos += 4
	}

	wantCRC := binary.LittleEndian.Uint64(data[pos : pos+8])
	pos += 8
	blob = data[pos:]

	if computeCRC(ids, flagsOut, blob) != wantCRC {
		return 0, nil, nil, nil, nil, fmt.Errorf("%w: crc mismatch", ErrCacheFileInvalid)
	}

	return mode, tag, ids, flagsOut, blob, nil
}

// computeCRC is the file format's integrity check. It is not a true CRC;
// it reuses the same non-cryptographic hash already wired in for class
// identities (github.com/cespare/xxhash/v2) rather than reaching for the
// standard library's hash/crc64, since any hash that reliably changes on
// any byte flip satisfies the format's "crc" field.
func computeCRC(ids []uint32, flagsOut []uint32, blob []byte) uint64 {
	h := xxhash.New()
	var tmp [4]byte
	for _, id := range ids {
		binary.LittleEndian.PutUint32(tmp[:], id)
		_, _ = h.Write(tmp[:])
	}
	for _, fl := range flagsOut {
		binary.LittleEndian.PutUint32(tmp[:], fl)
		_, _ = h.Write(tmp[:])
	}
	_, _ = h.Write(blob)
	return h.Sum64()
}
