// Package sloghooks reports cache events through log/slog.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/bountydotnew/querykit"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery   uint64
	CASSkippedEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr atomic.Uint64
	casCtr      atomic.Uint64
}

var _ querykit.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) SelfHeal(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("querykit.self_heal",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) ProviderSetRejected(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Warn("querykit.provider_set_rejected",
		"key", h.redact(storageKey))
}

func (h *Hooks) GenSnapshotError(count int, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("querykit.gen_snapshot_error",
		"count", count,
		"err", err)
}

// Prefixes are operation names, not user data; they are logged as-is.
func (h *Hooks) GenBumpError(prefix string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("querykit.gen_bump_error",
		"prefix", prefix,
		"err", err)
}

func (h *Hooks) Invalidated(prefix string, watchers int) {
	if h.l == nil {
		return
	}
	h.l.Debug("querykit.invalidated",
		"prefix", prefix,
		"watchers", watchers)
}

func (h *Hooks) RefetchFailed(storageKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("querykit.refetch_failed",
		"key", h.redact(storageKey),
		"err", err)
}

func (h *Hooks) CASSkipped(storageKey string) {
	if h.l == nil || !sample(h.opts.CASSkippedEvery, &h.casCtr) {
		return
	}
	h.l.Debug("querykit.cas_skipped",
		"key", h.redact(storageKey))
}
