// Package zap adapts go.uber.org/zap to querykit.Logger.
package zap

import (
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bountydotnew/querykit"
)

type ZapLogger struct{ L *zap.Logger }

var _ querykit.Logger = ZapLogger{}

// New builds a production (JSON) or development (console) logger at level.
func New(development bool, level string) (ZapLogger, error) {
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return ZapLogger{}, err
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	l, err := cfg.Build()
	if err != nil {
		return ZapLogger{}, err
	}
	return ZapLogger{L: l}, nil
}

// Named returns a child logger tagged with a component name.
func (z ZapLogger) Named(name string) ZapLogger { return ZapLogger{L: z.L.Named(name)} }

func (z ZapLogger) Sync() error { return z.L.Sync() }

func (z ZapLogger) Debug(msg string, f querykit.Fields) { z.L.Debug(msg, zf(f)...) }
func (z ZapLogger) Info(msg string, f querykit.Fields)  { z.L.Info(msg, zf(f)...) }
func (z ZapLogger) Warn(msg string, f querykit.Fields)  { z.L.Warn(msg, zf(f)...) }
func (z ZapLogger) Error(msg string, f querykit.Fields) { z.L.Error(msg, zf(f)...) }

// zf converts fields in key order; an error under "err" becomes zap.Error.
func zf(f querykit.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(f))
	for _, k := range keys {
		if err, ok := f[k].(error); ok && k == "err" {
			out = append(out, zap.Error(err))
			continue
		}
		out = append(out, zap.Any(k, f[k]))
	}
	return out
}
