package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func histogramCount(t *testing.T, h prometheus.Observer) uint64 {
	t.Helper()
	m, ok := h.(prometheus.Metric)
	if !ok {
		t.Fatalf("observer is not a metric")
	}
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return out.GetHistogram().GetSampleCount()
}

func TestMetrics_CountersAndPathFallback(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Metrics())
	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "hello") })
	r.GET("/statusonly", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	baseOK := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/ok", "200"))
	base404 := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/does-not-exist", "404"))
	baseLat := histogramCount(t, httpLat.WithLabelValues("GET", "/ok"))

	for _, p := range []string{"/ok", "/does-not-exist", "/statusonly"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/ok", "200")); got != baseOK+1 {
		t.Fatalf("counter /ok 200 = %v; want %v", got, baseOK+1)
	}
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/does-not-exist", "404")); got != base404+1 {
		t.Fatalf("counter 404 fallback = %v; want %v", got, base404+1)
	}
	if got := histogramCount(t, httpLat.WithLabelValues("GET", "/ok")); got != baseLat+1 {
		t.Fatalf("latency samples = %d; want %d", got, baseLat+1)
	}
	if v := testutil.ToFloat64(httpInflight); v != 0 {
		t.Fatalf("httpInflight = %v; want 0", v)
	}
}

func TestMetrics_StreamsUseStreamHistogram(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Metrics())
	r.POST("/chats/:id/turns", func(c *gin.Context) {
		if v := testutil.ToFloat64(httpStreams); v < 1 {
			t.Fatalf("httpStreams during stream = %v", v)
		}
		c.SSEvent("delta", "hi")
	})

	baseLat := histogramCount(t, httpLat.WithLabelValues("POST", "/chats/:id/turns"))
	baseStream := histogramCount(t, httpStreamDur.WithLabelValues("/chats/:id/turns"))

	req := httptest.NewRequest(http.MethodPost, "/chats/c1/turns", nil)
	req.Header.Set("Accept", "text/event-stream")
	r.ServeHTTP(httptest.NewRecorder(), req)

	if got := histogramCount(t, httpLat.WithLabelValues("POST", "/chats/:id/turns")); got != baseLat {
		t.Fatalf("stream leaked into latency histogram: %d -> %d", baseLat, got)
	}
	if got := histogramCount(t, httpStreamDur.WithLabelValues("/chats/:id/turns")); got != baseStream+1 {
		t.Fatalf("stream samples = %d; want %d", got, baseStream+1)
	}
	if v := testutil.ToFloat64(httpStreams); v != 0 {
		t.Fatalf("httpStreams after stream = %v", v)
	}
}

func TestWantsStream(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	if wantsStream(c) {
		t.Fatalf("plain request flagged as stream")
	}
	c.Request.Header.Set("Accept", "application/json, text/event-stream")
	if !wantsStream(c) {
		t.Fatalf("SSE accept not detected")
	}
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.Header.Set("Upgrade", "WebSocket")
	if !wantsStream(c) {
		t.Fatalf("websocket upgrade not detected")
	}
}
