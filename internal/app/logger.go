// Package app assembles the daemon and the CLI clients from a config.Config.
package app

import (
	"fmt"
	"io"
	"os"

	"github.com/bountydotnew/querykit"
	"github.com/bountydotnew/querykit/config"
	qlogrus "github.com/bountydotnew/querykit/log/logrus"
	qslog "github.com/bountydotnew/querykit/log/slog"
	qzap "github.com/bountydotnew/querykit/log/zap"
	"github.com/bountydotnew/querykit/sloghooks"
)

// Logger is the configured logger plus whatever cache hooks the driver
// contributes. Sync flushes buffered output.
type Logger struct {
	querykit.Logger
	hooks querykit.Hooks
	sync  func() error
}

func (l Logger) Sync() error {
	if l.sync == nil {
		return nil
	}
	return l.sync()
}

// NewLogger builds the driver named by cfg.Log.Driver. Output goes to w
// except for zap, which writes to stderr.
func NewLogger(cfg *config.Config, w io.Writer) (Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	lc := cfg.Log
	switch lc.Driver {
	case "zap":
		z, err := qzap.New(cfg.Env == config.EnvDevelopment && !lc.JSON, lc.Level)
		if err != nil {
			return Logger{}, fmt.Errorf("app: zap: %w", err)
		}
		return Logger{Logger: z, sync: z.Sync}, nil
	case "logrus":
		l, err := qlogrus.New(w, lc.Level, lc.JSON)
		if err != nil {
			return Logger{}, fmt.Errorf("app: logrus: %w", err)
		}
		return Logger{Logger: l}, nil
	case "slog":
		l, err := qslog.New(w, lc.Level, lc.JSON)
		if err != nil {
			return Logger{}, fmt.Errorf("app: slog: %w", err)
		}
		// slog also reports cache self-heals and skipped writes
		return Logger{Logger: l, hooks: sloghooks.New(l.L, sloghooks.Options{SelfHealEvery: 10, CASSkippedEvery: 10})}, nil
	default:
		return Logger{}, fmt.Errorf("app: unknown log driver %q", lc.Driver)
	}
}
