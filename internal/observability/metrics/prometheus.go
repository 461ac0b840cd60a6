package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns the scrape-side Prometheus collectors served on /metrics.
// Every series carries a constant-valued tool label. A nil *Registry is a no-op.
// Collectors registered globally by libraries (Go runtime, process, GORM pool
// stats) are merged in at gather time.
type Registry struct {
	tool      string
	reg       *prometheus.Registry
	gatherers prometheus.Gatherers

	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	imageGenerations *prometheus.CounterVec
	tokensConsumed   *prometheus.CounterVec
	freeTrialUsed    *prometheus.CounterVec
	paymentSuccess   *prometheus.CounterVec
	paymentRevenue   *prometheus.CounterVec
	crawlerVisits    *prometheus.CounterVec
}

func NewRegistry(tool string) *Registry {
	tool = strings.TrimSpace(tool)
	if tool == "" {
		tool = "ai-image-gen"
	}

	r := &Registry{
		tool: tool,
		reg:  prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		}, []string{"tool", "endpoint", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool", "endpoint", "method"}),
		imageGenerations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "image_generations_total",
			Help: "Total image generations",
		}, []string{"tool", "style", "status"}),
		tokensConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tokens_consumed_total",
			Help: "Total tokens consumed",
		}, []string{"tool"}),
		freeTrialUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "free_trial_used_total",
			Help: "Free trial generations used",
		}, []string{"tool"}),
		paymentSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_success_total",
			Help: "Successful payments",
		}, []string{"tool", "product_sku"}),
		paymentRevenue: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_revenue_cents_total",
			Help: "Total revenue in cents",
		}, []string{"tool"}),
		crawlerVisits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_visits_total",
			Help: "Crawler visits",
		}, []string{"tool", "bot"}),
	}

	r.gatherers = prometheus.Gatherers{r.reg, prometheus.DefaultGatherer}
	r.reg.MustRegister(
		r.httpRequests,
		r.httpDuration,
		r.imageGenerations,
		r.tokensConsumed,
		r.freeTrialUsed,
		r.paymentSuccess,
		r.paymentRevenue,
		r.crawlerVisits,
	)

	// Vectors without children are not exported; seed the series dashboards expect.
	r.imageGenerations.WithLabelValues(tool, "none", "success")
	r.imageGenerations.WithLabelValues(tool, "none", "failed")
	r.httpRequests.WithLabelValues(tool, "/health", http.MethodGet, "200")
	r.tokensConsumed.WithLabelValues(tool)
	r.freeTrialUsed.WithLabelValues(tool)
	r.paymentRevenue.WithLabelValues(tool)

	return r
}

// Gatherer exposes every scrape-side series, including global collectors.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.DefaultGatherer
	}
	return r.gatherers
}

func (r *Registry) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.gatherers, promhttp.HandlerOpts{Registry: r.reg})
}

func (r *Registry) ObserveHTTPRequest(method, endpoint string, status int, elapsed time.Duration) {
	if r == nil {
		return
	}
	endpoint = normalizeEndpoint(endpoint)
	r.httpRequests.WithLabelValues(r.tool, endpoint, method, strconv.Itoa(status)).Inc()
	r.httpDuration.WithLabelValues(r.tool, endpoint, method).Observe(elapsed.Seconds())
}

// RecordGeneration counts a generation outcome; status is success or failed.
func (r *Registry) RecordGeneration(style string, success bool) {
	if r == nil {
		return
	}
	status := "failed"
	if success {
		status = "success"
	}
	r.imageGenerations.WithLabelValues(r.tool, normalizeLabel(style), status).Inc()
}

func (r *Registry) RecordTokenConsumed() {
	if r == nil {
		return
	}
	r.tokensConsumed.WithLabelValues(r.tool).Inc()
}

func (r *Registry) RecordFreeTrial() {
	if r == nil {
		return
	}
	r.freeTrialUsed.WithLabelValues(r.tool).Inc()
}

func (r *Registry) RecordPayment(productSKU string, amountCents int64) {
	if r == nil {
		return
	}
	r.paymentSuccess.WithLabelValues(r.tool, normalizeLabel(productSKU)).Inc()
	if amountCents > 0 {
		r.paymentRevenue.WithLabelValues(r.tool).Add(float64(amountCents))
	}
}

func (r *Registry) RecordCrawlerVisit(bot string) {
	if r == nil {
		return
	}
	r.crawlerVisits.WithLabelValues(r.tool, normalizeLabel(bot)).Inc()
}
