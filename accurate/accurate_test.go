package accurate

import "testing"

func TestCompileBasic(t *testing.T) {
	e, err := Compile(`^foo$`, 0, 0)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !e.IsMatch([]byte("foo")) {
		t.Fatalf("expected match")
	}
	if e.IsMatch([]byte("foobar")) {
		t.Fatalf("expected no match for foobar against ^foo$")
	}
}

func TestCompileCaseless(t *testing.T) {
	e, err := Compile(`^foo$`, Caseless, 0)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !e.IsMatch([]byte("FOO")) {
		t.Fatalf("expected caseless match")
	}
}

func TestCompileMultiline(t *testing.T) {
	e, err := Compile(`^bar$`, Multiline, 0)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !e.IsMatch([]byte("foo\nbar\nbaz")) {
		t.Fatalf("expected multiline match")
	}
}

func TestCountUnlimited(t *testing.T) {
	e, err := Compile(`\d+`, 0, 0)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	cfg := DefaultConfig()
	cfg.SampleRate = 0
	n := e.Count([]byte("1 2 3 4 5"), cfg)
	if n != 5 {
		t.Fatalf("expected 5 matches, got %d", n)
	}
}

func TestCountMaxHitsClamp(t *testing.T) {
	e, err := Compile(`\d+`, 0, 2)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	cfg := DefaultConfig()
	cfg.SampleRate = 0
	n := e.Count([]byte("1 2 3 4 5"), cfg)
	if n != 2 {
		t.Fatalf("expected max-hits clamp to 2, got %d", n)
	}
}

func TestFlagsByte(t *testing.T) {
	f := Caseless | Multiline
	if f.Byte() != byte(Caseless|Multiline) {
		t.Fatalf("Byte() mismatch")
	}
	if !f.Has(Caseless) {
		t.Fatalf("expected Has(Caseless)")
	}
	if f.Has(DotAll) {
		t.Fatalf("did not expect Has(DotAll)")
	}
}
