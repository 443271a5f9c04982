// Package promhooks counts querycache hook events with Prometheus.
package promhooks

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/querycache"
)

type Hooks struct {
	discarded   *prometheus.CounterVec
	failed      prometheus.Counter
	rollbacks   prometheus.Counter
	invalidated prometheus.Counter
	refetches   prometheus.Counter
	rejected    prometheus.Counter
	selfHeals   *prometheus.CounterVec
	genErrors   *prometheus.CounterVec
	collected   prometheus.Counter
}

var _ querycache.Hooks = (*Hooks)(nil)

// New registers the counters on reg (prometheus.DefaultRegisterer if nil).
// namespace prefixes every metric name, e.g. "app" => app_querycache_*.
func New(reg prometheus.Registerer, namespace string) (*Hooks, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	const sub = "querycache"
	h := &Hooks{
		discarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "fetches_discarded_total",
			Help: "Fetch results dropped, by reason.",
		}, []string{"reason"}), // canceled|superseded|removed|closed
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "fetches_failed_total",
			Help: "Fetches that returned an error.",
		}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "mutation_rollbacks_total",
			Help: "Optimistic updates restored after a failed mutation.",
		}),
		invalidated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "entries_invalidated_total",
			Help: "Entries marked stale by Invalidate.",
		}),
		refetches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "invalidation_refetches_total",
			Help: "Refetches started by Invalidate.",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "provider_set_rejected_total",
			Help: "Writes the provider refused under pressure.",
		}),
		selfHeals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "self_heals_total",
			Help: "Entry data dropped on read, by reason.",
		}, []string{"reason"}),
		genErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "genstore_errors_total",
			Help: "Generation store failures, by operation.",
		}, []string{"op"}),
		collected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "entries_collected_total",
			Help: "Unobserved entries dropped by the cleanup loop.",
		}),
	}

	for _, c := range []prometheus.Collector{
		h.discarded, h.failed, h.rollbacks, h.invalidated, h.refetches,
		h.rejected, h.selfHeals, h.genErrors, h.collected,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func (h *Hooks) FetchDiscarded(_, reason string)  { h.discarded.WithLabelValues(reason).Inc() }
func (h *Hooks) FetchFailed(string, error)        { h.failed.Inc() }
func (h *Hooks) MutationRolledBack(string, error) { h.rollbacks.Inc() }
func (h *Hooks) ProviderSetRejected(string)       { h.rejected.Inc() }
func (h *Hooks) SelfHeal(_, reason string)        { h.selfHeals.WithLabelValues(reason).Inc() }
func (h *Hooks) GenSnapshotError(string, error)   { h.genErrors.WithLabelValues("snapshot").Inc() }
func (h *Hooks) GenBumpError(string, error)       { h.genErrors.WithLabelValues("bump").Inc() }
func (h *Hooks) EntriesCollected(n int)           { h.collected.Add(float64(n)) }
func (h *Hooks) Invalidated(_ string, matched, refetches int) {
	h.invalidated.Add(float64(matched))
	h.refetches.Add(float64(refetches))
}
