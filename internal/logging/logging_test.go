package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/mailshield/recache/classid"
)

func TestNewDevelopmentLogger(t *testing.T) {
	l, err := New("development")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Sync()

	if l.Logger == nil {
		t.Fatalf("expected a non-nil underlying zap.Logger")
	}
	if !l.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("expected development logger to be enabled at debug level")
	}
}

func TestNewProductionLogger(t *testing.T) {
	l, err := New("production")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Sync()

	if l.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("expected production logger to suppress debug level")
	}
}

func TestWithClassAndCacheIDAttachFields(t *testing.T) {
	l, err := New("development")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Sync()

	scoped := l.WithClass(classid.ID(42), classid.Hash{})
	if scoped.Logger == nil {
		t.Fatalf("expected WithClass to return a usable logger")
	}

	scopedCache := l.WithCacheID(7)
	if scopedCache.Logger == nil {
		t.Fatalf("expected WithCacheID to return a usable logger")
	}
}
