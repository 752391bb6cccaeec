package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PullMetrics records per-module pull phase counters.
type PullMetrics struct {
	duration *prometheus.HistogramVec
	products *prometheus.CounterVec
	variants *prometheus.CounterVec
	pages    *prometheus.CounterVec
	warnings *prometheus.CounterVec
	failures *prometheus.CounterVec
}

// NewPullMetrics registers the pull metrics on the provided registerer.
func NewPullMetrics(reg prometheus.Registerer) *PullMetrics {
	if reg == nil {
		return &PullMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pull_duration_seconds",
		Help:    "Duration of module pulls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"module"})
	products := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pull_products_total",
		Help: "Products persisted during module pulls.",
	}, []string{"module"})
	variants := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pull_variants_total",
		Help: "Variants persisted during module pulls.",
	}, []string{"module"})
	pages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pull_pages_total",
		Help: "Pages fetched during module pulls.",
	}, []string{"module"})
	warnings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pull_warnings_total",
		Help: "Warnings emitted during module pulls.",
	}, []string{"module"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pull_failures_total",
		Help: "Failed module pulls.",
	}, []string{"module"})
	reg.MustRegister(duration, products, variants, pages, warnings, failures)
	return &PullMetrics{
		duration: duration,
		products: products,
		variants: variants,
		pages:    pages,
		warnings: warnings,
		failures: failures,
	}
}

// ObserveDuration records the pull duration for the named module.
func (p *PullMetrics) ObserveDuration(module string, duration time.Duration) {
	if p == nil || p.duration == nil {
		return
	}
	p.duration.WithLabelValues(normalizeLabel(module)).Observe(duration.Seconds())
}

// AddProducts adds to the product counter for the named module.
func (p *PullMetrics) AddProducts(module string, n int64) {
	if p == nil || p.products == nil {
		return
	}
	p.products.WithLabelValues(normalizeLabel(module)).Add(float64(n))
}

// AddVariants adds to the variant counter for the named module.
func (p *PullMetrics) AddVariants(module string, n int64) {
	if p == nil || p.variants == nil {
		return
	}
	p.variants.WithLabelValues(normalizeLabel(module)).Add(float64(n))
}

// AddPages adds to the page counter for the named module.
func (p *PullMetrics) AddPages(module string, n int64) {
	if p == nil || p.pages == nil {
		return
	}
	p.pages.WithLabelValues(normalizeLabel(module)).Add(float64(n))
}

// AddWarnings adds to the warning counter for the named module.
func (p *PullMetrics) AddWarnings(module string, n int64) {
	if p == nil || p.warnings == nil {
		return
	}
	p.warnings.WithLabelValues(normalizeLabel(module)).Add(float64(n))
}

// IncFailure increments the failure counter for the named module.
func (p *PullMetrics) IncFailure(module string) {
	if p == nil || p.failures == nil {
		return
	}
	p.failures.WithLabelValues(normalizeLabel(module)).Inc()
}

func normalizeLabel(module string) string {
	if module == "" {
		return "unknown"
	}
	return module
}
