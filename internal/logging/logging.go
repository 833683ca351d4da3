// Package logging provides the structured logger recache's compiler and
// scanner packages are configured with.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mailshield/recache/classid"
)

// StructuredLogger wraps zap.Logger with recache-specific context
// constructors.
type StructuredLogger struct {
	*zap.Logger
}

// New builds a StructuredLogger for environment ("production" or anything
// else, treated as development). Production uses JSON encoding at info
// level with log sampling to bound flood cost during a pathological scan
// storm; development uses console encoding at debug level.
func New(environment string) (*StructuredLogger, error) {
	var config zap.Config

	if environment == "production" {
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
		config.Sampling = &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		}
	} else {
		config = zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}

	logger, err := config.Build(zap.AddCaller(), zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &StructuredLogger{logger}, nil
}

// WithClass returns a logger annotated with a class's identity, for
// compiler log lines scoped to one prefilter database build.
func (l *StructuredLogger) WithClass(id classid.ID, hash classid.Hash) *StructuredLogger {
	return &StructuredLogger{l.Logger.With(
		zap.Uint64("class_id", uint64(id)),
		zap.Stringer("class_hash", hash),
	)}
}

// WithCacheID returns a logger annotated with one expression's dense
// cache-id, for scanner log lines scoped to a single match.
func (l *StructuredLogger) WithCacheID(cacheID int) *StructuredLogger {
	return &StructuredLogger{l.Logger.With(zap.Int("cache_id", cacheID))}
}

// Sync flushes any buffered log entries. Callers should defer this in
// main(); the error is deliberately ignored by convention when the
// output is an unsyncable stream such as stdout on some platforms.
func (l *StructuredLogger) Sync() error {
	return l.Logger.Sync()
}
