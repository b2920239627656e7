// Package metrics counts marketplace outcomes for prometheus.
package metrics

import (
	"net/http"

	"github.com/ZilDuck/nft-escrow-marketplace/internal/entity"
	"github.com/ZilDuck/nft-escrow-marketplace/internal/marketplace"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

const namespace = "marketplace"

type Metrics struct {
	registry *prometheus.Registry
	decimals int32

	listings prometheus.Counter
	cancels  prometheus.Counter
	sales    prometheus.Counter
	rejected *prometheus.CounterVec
	volume   prometheus.Counter
	fees     prometheus.Counter
}

func New(decimals int32) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		decimals: decimals,
		listings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listings_total",
			Help:      "Listings created.",
		}),
		cancels: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cancellations_total",
			Help:      "Listings canceled by their seller.",
		}),
		sales: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sales_total",
			Help:      "Listings settled by a buyer.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_calls_total",
			Help:      "Calls that reverted, by operation and reason.",
		}, []string{"operation", "reason"}),
		volume: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sale_volume",
			Help:      "Settled sale volume in whole currency units.",
		}),
		fees: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fee_volume",
			Help:      "Fees paid to the treasury in whole currency units.",
		}),
	}

	m.registry.MustRegister(m.listings, m.cancels, m.sales, m.rejected, m.volume, m.fees)

	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Listed(entity.Listing) {
	m.listings.Inc()
}

func (m *Metrics) Canceled(entity.ListingKey) {
	m.cancels.Inc()
}

func (m *Metrics) Sold(sale entity.Sold) {
	m.sales.Inc()
	m.volume.Add(m.units(sale.Price.ToBig().String()))
	m.fees.Add(m.units(sale.Fee.ToBig().String()))
}

func (m *Metrics) Rejected(operation string, err error) {
	reason := marketplace.Reason(err)
	if reason == "" {
		reason = "failure"
	}
	m.rejected.WithLabelValues(operation, reason).Inc()
}

func (m *Metrics) units(amount string) float64 {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return 0
	}
	f, _ := d.Shift(-m.decimals).Float64()

	return f
}
