package scanner

import (
	"testing"

	"github.com/mailshield/recache/accurate"
	"github.com/mailshield/recache/region"
	"github.com/mailshield/recache/registry"
	"github.com/mailshield/recache/runtime"
	"github.com/mailshield/recache/scandb"
)

type fakeView struct {
	headers map[string][]region.HeaderInstance
	raw     []byte
	parts   []region.MimePart
	urls    []string
	emails  []string
	subject []byte
	hasSubj bool
	full    []byte
}

func (f *fakeView) Headers(name string) []region.HeaderInstance { return f.headers[name] }
func (f *fakeView) RawHeaders() []byte                           { return f.raw }
func (f *fakeView) MimeParts() []region.MimePart                 { return f.parts }
func (f *fakeView) URLs() []string                               { return f.urls }
func (f *fakeView) Emails() []string                             { return f.emails }
func (f *fakeView) Subject() ([]byte, bool)                       { return f.subject, f.hasSubj }
func (f *fakeView) FullRaw() []byte                              { return f.full }

func testAccurateConfig() accurate.Config {
	cfg := accurate.DefaultConfig()
	cfg.SampleRate = 0
	return cfg
}

// TestHeaderExactMatch mirrors scenario E1: a caseless, max-hits=1 header
// pattern against a matching Subject, checked twice.
func TestHeaderExactMatch(t *testing.T) {
	cache, err := registry.NewCache(registry.DefaultConfig())
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	expr, err := cache.Add(region.KindDecodedHeader, []byte("Subject"), `^foo$`, accurate.Caseless, 1)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := cache.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	expr, _ = cache.Expression(expr.CacheID())

	view := &fakeView{headers: map[string][]region.HeaderInstance{
		"Subject": {{Raw: []byte("Foo"), Decoded: []byte("Foo")}},
	}}

	rt := runtime.New(cache)
	got := Process(rt, cache, expr, view, testAccurateConfig())
	if got != 1 {
		t.Fatalf("expected 1 match, got %d", got)
	}

	got2 := Process(rt, cache, expr, view, testAccurateConfig())
	if got2 != 1 {
		t.Fatalf("expected cached 1 match, got %d", got2)
	}
	if rt.Stats().RegexpsFastCached != 1 {
		t.Fatalf("expected RegexpsFastCached=1, got %d", rt.Stats().RegexpsFastCached)
	}
}

// TestMimePartRawAccurateOnly mirrors scenario E2: a mime-part-raw
// pattern, prefilter disabled, checks bytes_scanned_pcre accounting.
func TestMimePartRawAccurateOnly(t *testing.T) {
	cfg := registry.DefaultConfig()
	cfg.PrefilterDisabled = true
	cache, err := registry.NewCache(cfg)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	expr, err := cache.Add(region.KindMimePartRaw, nil, `needle`, 0, 0)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := cache.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	expr, _ = cache.Expression(expr.CacheID())

	view := &fakeView{parts: []region.MimePart{
		{Raw: []byte("xx needle yy")},
		{Raw: []byte("zz")},
	}}

	rt := runtime.New(cache)
	got := Process(rt, cache, expr, view, testAccurateConfig())
	if got != 1 {
		t.Fatalf("expected 1 match, got %d", got)
	}
	if rt.Stats().BytesScannedPCRE != 14 {
		t.Fatalf("expected bytes_scanned_pcre=14, got %d", rt.Stats().BytesScannedPCRE)
	}
}

// TestSABody mirrors scenario E3: the decoded subject becomes the first
// slice of sa-body.
func TestSABody(t *testing.T) {
	cache, err := registry.NewCache(registry.DefaultConfig())
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	expr, err := cache.Add(region.KindSABody, nil, `(?m)^Great offer`, 0, 0)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := cache.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	expr, _ = cache.Expression(expr.CacheID())

	view := &fakeView{
		subject: []byte("Great offer"),
		hasSubj: true,
		parts:   []region.MimePart{{Decoded: []byte("x"), Stripped: []byte("")}},
	}

	rt := runtime.New(cache)
	got := Process(rt, cache, expr, view, testAccurateConfig())
	if got != 1 {
		t.Fatalf("expected 1 match, got %d", got)
	}
}

// TestURLOrEmailSliceCount mirrors scenario E4: one URL and one email
// produce a two-slice vector.
func TestURLOrEmailSliceCount(t *testing.T) {
	cache, err := registry.NewCache(registry.DefaultConfig())
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	expr, err := cache.Add(region.KindURLOrEmail, nil, `example\.com`, 0, 0)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := cache.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	expr, _ = cache.Expression(expr.CacheID())

	view := &fakeView{
		urls:   []string{"http://example.com/x"},
		emails: []string{"a@b"},
	}

	slices, _ := region.Assemble(expr.Class().Kind(), expr.Class().Parameter(), view)
	if len(slices) != 2 {
		t.Fatalf("expected slice count 2, got %d", len(slices))
	}

	rt := runtime.New(cache)
	got := Process(rt, cache, expr, view, testAccurateConfig())
	if got != 1 {
		t.Fatalf("expected 1 match, got %d", got)
	}
}

// TestPrefilterExactHitAndFinishClassZeroFill exercises the whole-class
// prefilter dispatch: a hitting member is incremented via the exact
// callback path, and a non-hitting sibling is zero-filled by finish-class.
func TestPrefilterExactHitAndFinishClassZeroFill(t *testing.T) {
	cache, err := registry.NewCache(registry.DefaultConfig())
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	hitExpr, err := cache.Add(region.KindFullRawBody, nil, `hello world`, 0, 0)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	missExpr, err := cache.Add(region.KindFullRawBody, nil, `goodbye moon`, 0, 0)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := cache.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	hitExpr, _ = cache.Expression(hitExpr.CacheID())
	missExpr, _ = cache.Expression(missExpr.CacheID())

	class := hitExpr.Class()
	scfg := testScandbConfig(t)
	if err := scandb.Compile(class, scfg); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if _, err := scandb.Load(cache, scfg); err != nil {
		t.Fatalf("Load: %v", err)
	}

	view := &fakeView{full: []byte("say hello world now")}

	rt := runtime.New(cache)
	got := Process(rt, cache, hitExpr, view, testAccurateConfig())
	if got != 1 {
		t.Fatalf("expected hitting expression to match once, got %d", got)
	}

	gotMiss := Process(rt, cache, missExpr, view, testAccurateConfig())
	if gotMiss != 0 {
		t.Fatalf("expected non-hitting expression to be zero-filled, got %d", gotMiss)
	}
	if !rt.IsChecked(missExpr.CacheID()) {
		t.Fatalf("expected non-hitting expression to be checked via finish-class")
	}
}

func testScandbConfig(t *testing.T) scandb.CompilerConfig {
	t.Helper()
	cfg := scandb.DefaultCompilerConfig()
	cfg.CacheDir = t.TempDir()
	return cfg
}
