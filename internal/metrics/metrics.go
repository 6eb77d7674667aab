// Package metrics exposes Prometheus collectors for the vault loop.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type VaultMetrics struct {
	registry *prometheus.Registry

	tendTotal      *prometheus.CounterVec
	tendErrors     prometheus.Counter
	tendDuration   prometheus.Histogram
	estimatedTotal prometheus.Gauge
	idleRatio      prometheus.Gauge
	lpShares       prometheus.Gauge
	poolTick       prometheus.Gauge
}

var (
	vaultOnce     sync.Once
	vaultRegistry *VaultMetrics
)

func Vault() *VaultMetrics {
	vaultOnce.Do(func() {
		registry := prometheus.NewRegistry()
		vaultRegistry = &VaultMetrics{
			registry: registry,
			tendTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "clvm_tend_total",
				Help: "Count of tend cycles by resolved action.",
			}, []string{"action"}),
			tendErrors: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "clvm_tend_errors_total",
				Help: "Count of tend cycles that returned an error.",
			}),
			tendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "clvm_tend_duration_seconds",
				Help:    "Duration of tend cycles in seconds.",
				Buckets: prometheus.DefBuckets,
			}),
			estimatedTotal: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "clvm_estimated_total_asset",
				Help: "Conservative vault total in whole asset units.",
			}),
			idleRatio: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "clvm_idle_ratio",
				Help: "Idle asset over estimated total, 0 to 1.",
			}),
			lpShares: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "clvm_lp_shares",
				Help: "LP manager shares held by the vault, raw units.",
			}),
			poolTick: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "clvm_pool_tick",
				Help: "Current tick of the bound pool.",
			}),
		}
		registry.MustRegister(
			vaultRegistry.tendTotal,
			vaultRegistry.tendErrors,
			vaultRegistry.tendDuration,
			vaultRegistry.estimatedTotal,
			vaultRegistry.idleRatio,
			vaultRegistry.lpShares,
			vaultRegistry.poolTick,
		)
	})
	return vaultRegistry
}

func (m *VaultMetrics) ObserveTend(action string, seconds float64) {
	if m == nil {
		return
	}
	if action == "" {
		action = "unknown"
	}
	m.tendTotal.WithLabelValues(action).Inc()
	m.tendDuration.Observe(seconds)
}

func (m *VaultMetrics) IncTendError() {
	if m == nil {
		return
	}
	m.tendErrors.Inc()
}

func (m *VaultMetrics) SetEstimatedTotal(total float64) {
	if m == nil {
		return
	}
	m.estimatedTotal.Set(total)
}

func (m *VaultMetrics) SetIdleRatio(ratio float64) {
	if m == nil {
		return
	}
	m.idleRatio.Set(ratio)
}

func (m *VaultMetrics) SetLPShares(shares float64) {
	if m == nil {
		return
	}
	m.lpShares.Set(shares)
}

func (m *VaultMetrics) SetPoolTick(tick int32) {
	if m == nil {
		return
	}
	m.poolTick.Set(float64(tick))
}

// Handler serves the collectors registered by this package.
func (m *VaultMetrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
