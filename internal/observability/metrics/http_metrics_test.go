package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestHTTPMetricsLabelsByRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	registry := prometheus.NewRegistry()
	m := newHTTPMetrics(registry, Config{ServiceName: "tokenwallet", Environment: "test"})

	r := gin.New()
	r.Use(m.GinMiddleware())
	r.GET("/v1/payment-intents/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	for _, path := range []string{"/v1/payment-intents/1", "/v1/payment-intents/2", "/nope"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	requests := findFamily(families, "tokenwallet_http_requests_total")
	if requests == nil {
		t.Fatalf("request counter not registered")
	}

	counts := map[string]float64{}
	for _, metric := range requests.GetMetric() {
		labels := labelMap(metric)
		if labels["service"] != "tokenwallet" || labels["env"] != "test" {
			t.Fatalf("unexpected const labels %v", labels)
		}
		counts[labels["route"]+" "+labels["status_code"]] += metric.GetCounter().GetValue()
	}
	if counts["/v1/payment-intents/:id 404"] != 2 {
		t.Fatalf("expected 2 requests on the templated route, got %v", counts)
	}
	if counts["unknown 404"] != 1 {
		t.Fatalf("expected unmatched path under unknown, got %v", counts)
	}
}

func TestHTTPMetricsNilIsPassThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var m *HTTPMetrics
	r := gin.New()
	r.Use(m.GinMiddleware())
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func findFamily(families []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, family := range families {
		if family.GetName() == name {
			return family
		}
	}
	return nil
}

func labelMap(metric *dto.Metric) map[string]string {
	out := make(map[string]string, len(metric.GetLabel()))
	for _, pair := range metric.GetLabel() {
		out[pair.GetName()] = pair.GetValue()
	}
	return out
}
