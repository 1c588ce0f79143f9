package manager

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Combine-Capital/assetdb/internal/metrics"
)

var (
	resolverCounters    map[string]*prometheus.CounterVec
	resolverMetricsOnce sync.Once
)

func initResolverMetrics() {
	resolverMetricsOnce.Do(func() {
		resolverCounters = map[string]*prometheus.CounterVec{
			"created": metrics.NewCounterVec(metrics.CounterOpts{
				Subsystem: "resolver",
				Name:      "created_total",
				Help:      "Total number of chain tokens created by the resolver",
			}),
			"existing": metrics.NewCounterVec(metrics.CounterOpts{
				Subsystem: "resolver",
				Name:      "existing_total",
				Help:      "Total number of chain token resolutions answered by a stored row",
			}),
			"mismatch": metrics.NewCounterVec(metrics.CounterOpts{
				Subsystem: "resolver",
				Name:      "metadata_mismatch_total",
				Help:      "Total number of resolutions whose metadata differed from the stored token",
			}),
		}
	})
}

// resolverCounter returns the counter for one resolution outcome.
func resolverCounter(outcome string) prometheus.Counter {
	initResolverMetrics()
	return resolverCounters[outcome].WithLabelValues()
}
