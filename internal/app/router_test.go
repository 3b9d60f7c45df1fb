package app

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	consolhttp "github.com/odyssey-erp/glbridge/internal/consol/http"
	"github.com/odyssey-erp/glbridge/internal/observability"
)

func TestRouterServesHealthAndMetrics(t *testing.T) {
	metrics := observability.NewMetrics()
	require.NoError(t, consolhttp.SetupCacheMetrics(metrics.Registerer()))
	router := NewRouter(RouterParams{
		Logger:  discardLogger(),
		Config:  &Config{APIKeyHash: hashKey(t, "key")},
		Metrics: metrics,
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "glbridge_http_requests_total"))
}

func TestRouterRequiresKeyForUnknownRoutes(t *testing.T) {
	router := NewRouter(RouterParams{
		Logger: discardLogger(),
		Config: &Config{APIKeyHash: hashKey(t, "key")},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/nowhere", nil)
	req.Header.Set(APIKeyHeader, "key")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
