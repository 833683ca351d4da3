package scandb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/coregx/coregex/literal"

	"github.com/mailshield/recache/accurate"
	"github.com/mailshield/recache/region"
	"github.com/mailshield/recache/registry"
)

func testCfg(t *testing.T) CompilerConfig {
	t.Helper()
	cfg := DefaultCompilerConfig()
	cfg.CacheDir = t.TempDir()
	return cfg
}

func newCacheWithExpr(t *testing.T, pattern string, flags accurate.Flags) (*registry.Cache, *registry.Class) {
	t.Helper()
	cache, err := registry.NewCache(registry.DefaultConfig())
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	if _, err := cache.Add(region.KindFullRawBody, nil, pattern, flags, 0); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := cache.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	classes := cache.Classes()
	if len(classes) != 1 {
		t.Fatalf("expected 1 class, got %d", len(classes))
	}
	return cache, classes[0]
}

func TestCompileExactLiteralProducesFile(t *testing.T) {
	cfg := testCfg(t)
	_, class := newCacheWithExpr(t, "hello world", 0)

	if err := Compile(class, cfg); err != nil {
		t.Fatalf("Compile: %v", err)
	}

	path := cfg.pathFor(class)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected database file: %v", err)
	}
}

func TestCompileIdempotentSkipsRecompile(t *testing.T) {
	cfg := testCfg(t)
	_, class := newCacheWithExpr(t, "hello world", 0)

	if err := Compile(class, cfg); err != nil {
		t.Fatalf("first Compile: %v", err)
	}
	path := cfg.pathFor(class)
	info1, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}

	if err := Compile(class, cfg); err != nil {
		t.Fatalf("second Compile: %v", err)
	}
	info2, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info1.ModTime() != info2.ModTime() {
		t.Fatalf("expected second Compile to skip rewriting the file")
	}
}

func TestVerifyRejectsCorruptedFile(t *testing.T) {
	cfg := testCfg(t)
	_, class := newCacheWithExpr(t, "hello world", 0)
	if err := Compile(class, cfg); err != nil {
		t.Fatalf("Compile: %v", err)
	}

	path := cfg.pathFor(class)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	data[len(data)-1] ^= 0xFF
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if ok, reason := Verify(path, class, cfg); ok {
		t.Fatalf("expected corrupted file to fail verification")
	} else if reason == "" {
		t.Fatalf("expected a non-empty rejection reason")
	}
}

func TestLoadAttachesDatabaseAndMarksMatchType(t *testing.T) {
	cfg := testCfg(t)
	cache, class := newCacheWithExpr(t, "hello world", 0)

	if err := Compile(class, cfg); err != nil {
		t.Fatalf("Compile: %v", err)
	}

	allLoaded, err := Load(cache, cfg)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !allLoaded {
		t.Fatalf("expected allLoaded=true")
	}
	if !cache.PrefilterLoaded() {
		t.Fatalf("expected PrefilterLoaded()=true")
	}

	expr := cache.Expressions()[0]
	if expr.MatchType() != registry.MatchPrefilterExact {
		t.Fatalf("expected MatchPrefilterExact, got %v", expr.MatchType())
	}

	db, ok := class.Database.(*Database)
	if !ok {
		t.Fatalf("expected class.Database to be *Database")
	}

	hit := false
	Scan(db, []byte("say hello world now"), func(ev CallbackEvent) bool {
		hit = true
		if ev.Approx {
			t.Fatalf("expected an exact hit")
		}
		return true
	})
	if !hit {
		t.Fatalf("expected a prefilter hit")
	}
}

func TestLoadMissingFileLeavesAccurateOnly(t *testing.T) {
	cfg := testCfg(t)
	cache, class := newCacheWithExpr(t, "hello world", 0)
	_ = class

	allLoaded, err := Load(cache, cfg)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if allLoaded {
		t.Fatalf("expected allLoaded=false when no file exists")
	}
	if cache.PrefilterLoaded() {
		t.Fatalf("expected PrefilterLoaded()=false")
	}
	expr := cache.Expressions()[0]
	if expr.MatchType() != registry.MatchAccurateOnly {
		t.Fatalf("expected expression to remain accurate-only")
	}
}

func TestAccurateOnlyExpressionNeverIncluded(t *testing.T) {
	cfg := testCfg(t)
	cache, err := registry.NewCache(registry.DefaultConfig())
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	if _, err := cache.Add(region.KindFullRawBody, nil, "hello world", 0, 0, registry.WithAccurateOnly()); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := cache.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	class := cache.Classes()[0]

	if err := Compile(class, cfg); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if _, err := os.Stat(cfg.pathFor(class)); !os.IsNotExist(err) {
		t.Fatalf("expected no database file for an all-accurate-only class")
	}
}

func TestScanVectorReportsSliceIndexAndCount(t *testing.T) {
	cfg := testCfg(t)
	_, class := newCacheWithExpr(t, "needle", 0)
	if err := Compile(class, cfg); err != nil {
		t.Fatalf("Compile: %v", err)
	}

	entries, err := unmarshalBlob(mustReadBlob(t, cfg.pathFor(class)))
	if err != nil {
		t.Fatalf("unmarshalBlob: %v", err)
	}
	db := &Database{mode: ModeVector, entries: entries}

	bufs := [][]byte{[]byte("no match here"), []byte("a needle in this one")}
	var gotSliceIndex, gotSliceCount int
	hits := 0
	ScanVector(db, bufs, func(ev CallbackEvent) bool {
		hits++
		gotSliceIndex = ev.SliceIndex
		gotSliceCount = ev.SliceCount
		return true
	})
	if hits != 1 {
		t.Fatalf("expected exactly 1 hit, got %d", hits)
	}
	if gotSliceIndex != 1 || gotSliceCount != 2 {
		t.Fatalf("expected slice index 1 of 2, got %d of %d", gotSliceIndex, gotSliceCount)
	}
}

func mustReadBlob(t *testing.T, path string) []byte {
	t.Helper()
	_, _, _, _, blob, err := readFile(path)
	if err != nil {
		t.Fatalf("readFile: %v", err)
	}
	return blob
}

func TestApproximateLiteralsUsedWhenNoExactLiteralExists(t *testing.T) {
	lits := exactLiterals(`\d+`, 0, literal.DefaultConfig())
	if lits != nil {
		t.Fatalf("expected no exact literal for a pure character class pattern")
	}
	approx, err := approximateLiterals(`[a-z]+needle[a-z]+`, 0, literal.DefaultConfig())
	if err != nil {
		t.Fatalf("approximateLiterals: %v", err)
	}
	if len(approx) == 0 {
		t.Fatalf("expected an approximate literal set containing \"needle\"")
	}
}

func TestPathForKeyedByClassHash(t *testing.T) {
	cfg := testCfg(t)
	_, class := newCacheWithExpr(t, "hello world", 0)
	path := cfg.pathFor(class)
	if filepath.Base(path) != class.Hash().String()+".hs" {
		t.Fatalf("expected path keyed by class hash, got %s", path)
	}
}
