package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/teilomillet/promptscore/server/metrics"
	"github.com/teilomillet/promptscore/server/middleware"
)

func TestPrometheusMetrics(t *testing.T) {
	// Create new metrics instance for testing
	m := metrics.NewMetrics()

	r := chi.NewRouter()
	r.Use(middleware.PrometheusMetrics(m))
	r.Post("/score", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	r.Get("/static/*", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("asset"))
	})
	r.Get("/bad", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	tests := []struct {
		name             string
		method           string
		path             string
		expectedCode     int
		expectedEndpoint string
		expectedStatus   string
	}{
		{
			name:             "error request",
			method:           http.MethodPost,
			path:             "/score",
			expectedCode:     http.StatusInternalServerError,
			expectedEndpoint: "/score",
			expectedStatus:   "500",
		},
		{
			name:             "wildcard route",
			method:           http.MethodGet,
			path:             "/static/app.js",
			expectedCode:     http.StatusOK,
			expectedEndpoint: "/static/*",
			expectedStatus:   "200",
		},
		{
			name:             "client error",
			method:           http.MethodGet,
			path:             "/bad",
			expectedCode:     http.StatusBadRequest,
			expectedEndpoint: "/bad",
			expectedStatus:   "400",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			// Check response code
			assert.Equal(t, tt.expectedCode, rec.Code)

			// Check request metrics
			requestCount := testutil.ToFloat64(m.RequestsTotal.WithLabelValues(tt.expectedEndpoint, tt.expectedStatus))
			assert.Equal(t, float64(1), requestCount)

			// Check active requests (should be 0 after request completes)
			activeRequests := testutil.ToFloat64(m.ActiveRequests.WithLabelValues(tt.method))
			assert.Equal(t, float64(0), activeRequests)
		})
	}

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("server_error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("client_error")))
}

func TestPrometheusMetricsUnmatched(t *testing.T) {
	m := metrics.NewMetrics()
	handler := middleware.PrometheusMetrics(m)(http.NotFoundHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RequestsTotal.WithLabelValues("unmatched", "404")))
}
