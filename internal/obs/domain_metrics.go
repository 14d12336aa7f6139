package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Storefront collectors. They stay nil until MustRegisterDomainMetrics runs,
// so packages under test record nothing; use IncCounter or nil-check.
var (
	ConfigLoadTotal         *prometheus.CounterVec   // result: success|failure
	DepositIntentTotal      *prometheus.CounterVec   // result: success|failure
	DepositConfirmTotal     *prometheus.CounterVec   // result: success|failure|processing|error
	CatalogListingSize      prometheus.Histogram     // vehicles per listing response
	UpstreamRequestDuration *prometheus.HistogramVec // brokerage API latency, ms

	domainOnce sync.Once
)

// MustRegisterDomainMetrics creates and registers the storefront collectors
// once per process.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		outcome := func(name, help string) *prometheus.CounterVec {
			return register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace, Name: name, Help: help,
			}, []string{"result"}))
		}
		ConfigLoadTotal = outcome("config_load_total", "Brokerage configuration loads by outcome.")
		DepositIntentTotal = outcome("deposit_intent_total", "Deposit payment intents opened, by outcome.")
		DepositConfirmTotal = outcome("deposit_confirm_total", "Deposit confirmations, by outcome.")
		CatalogListingSize = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "catalog_listing_size",
			Help:      "Vehicles matched per catalog listing.",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250},
		}))
		UpstreamRequestDuration = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_ms",
			Help:      "Brokerage API call latency in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"endpoint", "result"}))
	})
}

// IncCounter bumps vec when it has been registered.
func IncCounter(vec *prometheus.CounterVec, labels ...string) {
	if vec != nil {
		vec.WithLabelValues(labels...).Inc()
	}
}
