package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

// TestMiddlewareUsesRoutePattern ensures path parameters collapse onto the route.
func TestMiddlewareUsesRoutePattern(t *testing.T) {
	Init()

	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/mw/hosts/{host}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/mw/implicit", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	for _, path := range []string{"/mw/hosts/bandcamp.com", "/mw/hosts/last.fm", "/mw/implicit"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.InDelta(t, 2, testutil.ToFloat64(global.apiRequests.WithLabelValues("GET", "/mw/hosts/{host}", "404")), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(global.apiRequests.WithLabelValues("GET", "/mw/implicit", "200")), 0.001)
}
