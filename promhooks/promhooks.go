// Package promhooks exports cache events as Prometheus counters.
package promhooks

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bountydotnew/querykit"
)

// Config configures the exported metrics.
type Config struct {
	// Namespace is the metrics namespace (default: "querykit").
	Namespace string
	// Registry defaults to prometheus.DefaultRegisterer.
	Registry prometheus.Registerer
}

type Hooks struct {
	selfHeals     *prometheus.CounterVec
	setRejected   prometheus.Counter
	genErrors     *prometheus.CounterVec
	invalidations *prometheus.CounterVec
	refetches     prometheus.Counter
	refetchErrors prometheus.Counter
	casSkipped    prometheus.Counter
}

var _ querykit.Hooks = (*Hooks)(nil)

func New(cfg Config) *Hooks {
	if cfg.Namespace == "" {
		cfg.Namespace = "querykit"
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.DefaultRegisterer
	}
	f := promauto.With(cfg.Registry)
	ns := cfg.Namespace

	return &Hooks{
		selfHeals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "self_heals_total",
			Help:      "Cache entries deleted on read, by reason",
		}, []string{"reason"}),
		setRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "provider_set_rejected_total",
			Help:      "Writes the provider refused under pressure",
		}),
		genErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "genstore_errors_total",
			Help:      "Generation store failures, by operation",
		}, []string{"op"}),
		invalidations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "invalidations_total",
			Help:      "Prefix invalidations, by prefix",
		}, []string{"prefix"}),
		refetches: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "refetches_scheduled_total",
			Help:      "Watched keys scheduled for refetch by invalidations",
		}),
		refetchErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "refetch_errors_total",
			Help:      "Scheduled refetches that returned an error",
		}),
		casSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "cas_skipped_total",
			Help:      "Conditional writes dropped because the key moved",
		}),
	}
}

func (h *Hooks) SelfHeal(_, reason string)   { h.selfHeals.WithLabelValues(reason).Inc() }
func (h *Hooks) ProviderSetRejected(string)  { h.setRejected.Inc() }
func (h *Hooks) GenSnapshotError(int, error) { h.genErrors.WithLabelValues("snapshot").Inc() }
func (h *Hooks) GenBumpError(string, error)  { h.genErrors.WithLabelValues("bump").Inc() }
func (h *Hooks) RefetchFailed(string, error) { h.refetchErrors.Inc() }
func (h *Hooks) CASSkipped(string)           { h.casSkipped.Inc() }

// Prefixes are operation names, so label cardinality stays bounded.
func (h *Hooks) Invalidated(prefix string, watchers int) {
	h.invalidations.WithLabelValues(prefix).Inc()
	h.refetches.Add(float64(watchers))
}
