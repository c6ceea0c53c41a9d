package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drawee/drawee-go/internal/logger"
	"github.com/drawee/drawee-go/internal/observability/metrics"
)

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRequireOwner(t *testing.T) {
	t.Parallel()

	e := echo.New()
	e.GET("/me", func(c echo.Context) error {
		return c.String(http.StatusOK, OwnerID(c))
	}, RequireOwner())

	tests := []struct {
		name   string
		header string
		want   int
		body   string
	}{
		{"missing", "", http.StatusUnauthorized, ""},
		{"blank", "   ", http.StatusUnauthorized, ""},
		{"too long", strings.Repeat("a", MaxOwnerIDLength+1), http.StatusBadRequest, ""},
		{"max length", strings.Repeat("a", MaxOwnerIDLength), http.StatusOK, strings.Repeat("a", MaxOwnerIDLength)},
		{"trimmed", " owner-1 ", http.StatusOK, "owner-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "/me", http.NoBody)
			if tt.header != "" {
				req.Header.Set(OwnerIDHeader, tt.header)
			}
			rec := serve(e, req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}

func TestRateLimiterDeniesAfterBurst(t *testing.T) {
	t.Parallel()

	e := echo.New()
	e.Use(NewRateLimiter(0.001, 2))
	e.GET("/", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		req.RemoteAddr = "192.0.2.10:1234"
		codes = append(codes, serve(e, req).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// another client has its own bucket
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.RemoteAddr = "192.0.2.11:1234"
	assert.Equal(t, http.StatusOK, serve(e, req).Code)
}

func TestRateLimiterDisabled(t *testing.T) {
	t.Parallel()

	e := echo.New()
	e.Use(NewRateLimiter(0, 0))
	e.GET("/", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	for range 20 {
		assert.Equal(t, http.StatusOK, serve(e, httptest.NewRequest(http.MethodGet, "/", http.NoBody)).Code)
	}
}

func TestBodyLimit(t *testing.T) {
	t.Parallel()

	e := echo.New()
	e.Use(NewBodyLimit(8))
	e.POST("/", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	small := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("tiny"))
	assert.Equal(t, http.StatusOK, serve(e, small).Code)

	large := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 64)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, serve(e, large).Code)
}

func TestRequestLoggerRecordsRouteTemplate(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := metrics.NewHTTPMetrics(reg)
	require.NoError(t, err)

	e := echo.New()
	e.Use(NewRequestLogger(logger.Global().Module("api-test"), m))
	e.GET("/children/:id", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	for _, id := range []string{"a", "b"} {
		serve(e, httptest.NewRequest(http.MethodGet, "/children/"+id, http.NoBody))
	}

	count, err := testutil.GatherAndCount(reg, "http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
