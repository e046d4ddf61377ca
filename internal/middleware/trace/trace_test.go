package trace

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"finvue/internal/log"

	"github.com/stretchr/testify/assert"
)

func TestMiddlewareSetsRequestIDAndLogger(t *testing.T) {
	m := NewMiddleware(nil, func(*http.Request) string { return "198.51.100.1" })

	var gotID string
	var gotLogger *log.Logger
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = GetRequestID(r.Context())
		gotLogger = log.FromContext(r.Context())
		w.WriteHeader(http.StatusInternalServerError)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.True(t, strings.HasPrefix(gotID, "req_"))
	assert.Equal(t, gotID, rr.Header().Get(RequestIDHeader))
	assert.Equal(t, log.ComponentHTTP, gotLogger.Component())
	assert.Equal(t, Metrics{TotalRequests: 1, ServerErrors: 1}, m.GetMetrics())
}

func TestGenerateRequestIDIsUnique(t *testing.T) {
	assert.NotEqual(t, GenerateRequestID(), GenerateRequestID())
	assert.Empty(t, GetRequestID(httptest.NewRequest(http.MethodGet, "/", nil).Context()))
}

func TestMiddlewareKeepsWellFormedIncomingID(t *testing.T) {
	m := NewMiddleware(nil, nil)
	var got string
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetRequestID(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(RequestIDHeader, "edge-7f3a9c21")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, r)
	assert.Equal(t, "edge-7f3a9c21", got)
	assert.Equal(t, Metrics{TotalRequests: 1}, m.GetMetrics(), "unwritten status counts as 200")

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(RequestIDHeader, "bad id\n")
	h.ServeHTTP(httptest.NewRecorder(), r)
	assert.True(t, strings.HasPrefix(got, "req_"))
}
