//go:build go1.21

// Package slog adapts log/slog to querykit.Logger.
package slog

import (
	"context"
	"io"
	stdslog "log/slog"
	"sort"

	"github.com/bountydotnew/querykit"
)

var _ querykit.Logger = Logger{}

type Logger struct{ L *stdslog.Logger }

// New builds a text or JSON logger writing to w at level (debug|info|warn|error).
func New(w io.Writer, level string, json bool) (Logger, error) {
	var lvl stdslog.Level
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return Logger{}, err
		}
	}
	opts := &stdslog.HandlerOptions{Level: lvl}
	var h stdslog.Handler = stdslog.NewTextHandler(w, opts)
	if json {
		h = stdslog.NewJSONHandler(w, opts)
	}
	return Logger{L: stdslog.New(h)}, nil
}

func (s Logger) Named(name string) Logger { return Logger{L: s.L.With("component", name)} }

func (s Logger) Debug(msg string, f querykit.Fields) {
	s.L.LogAttrs(context.Background(), stdslog.LevelDebug, msg, attrs(f)...)
}
func (s Logger) Info(msg string, f querykit.Fields) {
	s.L.LogAttrs(context.Background(), stdslog.LevelInfo, msg, attrs(f)...)
}
func (s Logger) Warn(msg string, f querykit.Fields) {
	s.L.LogAttrs(context.Background(), stdslog.LevelWarn, msg, attrs(f)...)
}
func (s Logger) Error(msg string, f querykit.Fields) {
	s.L.LogAttrs(context.Background(), stdslog.LevelError, msg, attrs(f)...)
}

func attrs(f querykit.Fields) []stdslog.Attr {
	if len(f) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]stdslog.Attr, 0, len(f))
	for _, k := range keys {
		out = append(out, stdslog.Any(k, f[k]))
	}
	return out
}
