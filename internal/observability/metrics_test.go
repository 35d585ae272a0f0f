package observability_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/einvoice-engine/internal/observability"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *observability.Metrics

	assert.NotPanics(t, func() {
		m.ObserveGeneration("peppol-bis", "valid", time.Millisecond)
		m.ObserveExternal(false)
		m.ObserveSegment("failed")
		m.ObserveExtraction("retry")
		m.AddCredits("reserve", 3)
		m.ObserveJob("completed")
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetrics_Exposition(t *testing.T) {
	m := observability.NewMetrics()
	m.ObserveGeneration("xrechnung-ubl", "valid", 5*time.Millisecond)
	m.ObserveGeneration("xrechnung-ubl", "invalid", time.Millisecond)
	m.AddCredits("refund", 2)
	m.AddCredits("refund", 0)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `einvoice_generations_total{format="xrechnung-ubl",status="valid"} 1`)
	assert.Contains(t, body, `einvoice_generations_total{format="xrechnung-ubl",status="invalid"} 1`)
	assert.Contains(t, body, `einvoice_credits_total{kind="refund"} 2`)
}

func TestMetrics_GinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := observability.NewMetrics()

	r := gin.New()
	r.Use(m.GinMiddleware())
	r.GET("/api/v1/formats", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 2; i++ {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/formats", nil))
	}
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `einvoice_http_requests_total{code="200",route="/api/v1/formats"} 2`)
	assert.Contains(t, body, `einvoice_http_requests_total{code="404",route="unmatched"} 1`)
}
