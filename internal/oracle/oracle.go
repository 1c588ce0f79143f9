// Package oracle prices assets at a point in time.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Combine-Capital/assetdb/internal/asset"
	"github.com/Combine-Capital/assetdb/internal/metrics"
)

// ErrNoPriceSource is returned when an asset has no key for the oracle's
// catalog.
var ErrNoPriceSource = errors.New("no price source for asset")

// PriceOracle returns the price of an asset at a timestamp.
type PriceOracle interface {
	GetPrice(ctx context.Context, a *asset.Asset, at time.Time) (decimal.Decimal, error)
}

var (
	failureCounter     *prometheus.CounterVec
	failureCounterOnce sync.Once
)

func oracleFailures(reason string) prometheus.Counter {
	failureCounterOnce.Do(func() {
		failureCounter = metrics.NewCounterVec(metrics.CounterOpts{
			Subsystem: "oracle",
			Name:      "failures_total",
			Help:      "Total number of price lookups answered with a zero price",
			Labels:    []string{"reason"},
		})
	})
	return failureCounter.WithLabelValues(reason)
}

type priceKey struct {
	identifier string
	bucket     int64
}

// Batch memoizes prices for one logical batch of work. A failed lookup is
// remembered as a zero price and reported once through Warnings.
// Batch is not safe for concurrent use.
type Batch struct {
	oracle   PriceOracle
	bucket   time.Duration
	logger   zerolog.Logger
	prices   map[priceKey]decimal.Decimal
	warnings []string
}

// NewBatch creates a batch pricer. Timestamps within the same bucket share a
// price; a bucket of zero or less defaults to one day.
func NewBatch(oracle PriceOracle, bucket time.Duration, logger zerolog.Logger) *Batch {
	if bucket <= 0 {
		bucket = 24 * time.Hour
	}
	return &Batch{
		oracle: oracle,
		bucket: bucket,
		logger: logger,
		prices: make(map[priceKey]decimal.Decimal),
	}
}

// Price returns the memoized price of a at the given time.
func (b *Batch) Price(ctx context.Context, a *asset.Asset, at time.Time) decimal.Decimal {
	key := priceKey{identifier: a.Identifier, bucket: at.UTC().Truncate(b.bucket).Unix()}
	if price, ok := b.prices[key]; ok {
		return price
	}

	price, err := b.oracle.GetPrice(ctx, a, at)
	if err != nil {
		reason := "lookup"
		if errors.Is(err, ErrNoPriceSource) {
			reason = "no_source"
		}
		oracleFailures(reason).Inc()
		b.warnings = append(b.warnings, fmt.Sprintf("could not price %s at %s: %v", a.Identifier, at.UTC().Format(time.RFC3339), err))
		b.logger.Warn().Err(err).
			Str("identifier", a.Identifier).
			Time("at", at).
			Msg("Price lookup failed, using zero")
		price = decimal.Zero
	}
	b.prices[key] = price
	return price
}

// Warnings returns the failures recorded so far.
func (b *Batch) Warnings() []string {
	return b.warnings
}
