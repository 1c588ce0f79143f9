// Package metrics registers the Prometheus collectors shared by the store,
// the resolver, the migration engine and the price oracle.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "assetdb"

// CounterOpts describes a labelled counter.
type CounterOpts struct {
	Subsystem string
	Name      string
	Help      string
	Labels    []string
}

// NewCounterVec registers a counter with the default registerer. Registering
// the same counter twice returns the collector registered first, so packages
// can create their counters lazily without coordinating.
func NewCounterVec(opts CounterOpts) *prometheus.CounterVec {
	return NewCounterVecWith(prometheus.DefaultRegisterer, opts)
}

// NewCounterVecWith is NewCounterVec for an explicit registerer.
func NewCounterVecWith(reg prometheus.Registerer, opts CounterOpts) *prometheus.CounterVec {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: opts.Subsystem,
		Name:      opts.Name,
		Help:      opts.Help,
	}, opts.Labels)

	if err := reg.Register(counter); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
		// Unregistrable (conflicting descriptor): count without exporting.
		return counter
	}
	return counter
}
