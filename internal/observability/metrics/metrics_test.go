package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("style", "anime"),
		attribute.String("device_id", "d1"),
		attribute.String("source", "free_trial"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "device_id" {
			t.Fatalf("device_id must not be exported")
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordGeneration(context.Background(), "anime", "completed")
	m.RecordCreditDebit(context.Background(), "paid_token")
	m.RecordPaymentEvent(context.Background(), "creem", "checkout.completed")

	var r *Registry
	r.RecordGeneration("anime", true)
	r.RecordPayment("starter_10", 299)
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "imagegen"}, noop.NewMeterProvider())
	require.NoError(t, err)
	m.RecordGeneration(context.Background(), "", "failed")
	m.RecordCreditRefund(context.Background(), "free_trial")
}

func TestRegistryCounters(t *testing.T) {
	r := NewRegistry("ai-image-gen")
	r.RecordGeneration("anime", true)
	r.RecordGeneration("", false)
	r.RecordPayment("starter_10", 299)
	r.RecordPayment("starter_10", 299)
	r.RecordCrawlerVisit("googlebot")

	require.Equal(t, 1.0, testutil.ToFloat64(r.imageGenerations.WithLabelValues("ai-image-gen", "anime", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.imageGenerations.WithLabelValues("ai-image-gen", "none", "failed")))
	require.Equal(t, 2.0, testutil.ToFloat64(r.paymentSuccess.WithLabelValues("ai-image-gen", "starter_10")))
	require.Equal(t, 598.0, testutil.ToFloat64(r.paymentRevenue.WithLabelValues("ai-image-gen")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.crawlerVisits.WithLabelValues("ai-image-gen", "googlebot")))
}

func TestRegistryHandlerExposesSeededSeries(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewRegistry("")
	engine := gin.New()
	engine.Use(GinMiddleware(nil, r))
	engine.GET("/metrics", gin.WrapH(r.Handler()))

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	require.True(t, strings.Contains(body, "http_requests_total"))
	require.True(t, strings.Contains(body, "image_generations_total"))
}

func TestObserveHTTPRequest(t *testing.T) {
	r := NewRegistry("tool")
	r.ObserveHTTPRequest(http.MethodPost, "/api/v1/generate", 402, 15*time.Millisecond)
	require.Equal(t, 1.0, testutil.ToFloat64(r.httpRequests.WithLabelValues("tool", "/api/v1/generate", "POST", "402")))
}
