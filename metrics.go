package lazylink

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	kindMethod = "method"
	kindUsage  = "usage"

	resultResolved = "resolved"
	resultFailed   = "failed"
)

type metrics struct {
	resolutions *prometheus.CounterVec
	waits       *prometheus.CounterVec
	prestub     prometheus.Counter
	patches     prometheus.Counter
	modules     prometheus.Gauge
}

// newMetrics registers the counters with reg. A nil reg keeps them unregistered.
// Registries sharing reg share the counters.
func newMetrics(reg prometheus.Registerer) *metrics {
	return &metrics{
		resolutions: registerOrGet(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lazylink",
			Name:      "resolutions_total",
			Help:      "Slots that reached a terminal state, by slot kind and result.",
		}, []string{"kind", "result"})),
		waits: registerOrGet(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lazylink",
			Name:      "waits_total",
			Help:      "Calls that blocked on a slot being resolved by another caller.",
		}, []string{"kind"})),
		prestub: registerOrGet(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lazylink",
			Name:      "prestub_entries_total",
			Help:      "Entries into the prestub trampoline.",
		})),
		patches: registerOrGet(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lazylink",
			Name:      "patches_total",
			Help:      "Call sites patched to bypass the prestub.",
		})),
		modules: registerOrGet(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lazylink",
			Name:      "modules",
			Help:      "Currently loaded modules.",
		})),
	}
}

// registerOrGet returns the collector already registered under the same
// descriptor in place of c.
func registerOrGet[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if reg == nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return already.ExistingCollector.(T)
		}
		panic(err)
	}
	return c
}
