package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObservabilityRecordsRoutePattern(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	obs := NewObservability(ObservabilityConfig{LogRequests: true}, logger)

	router := chi.NewRouter()
	router.Use(obs.Middleware)
	router.Get("/api/quests/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, id := range []string{"1", "2"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/quests/"+id, nil))
	}

	count := testutil.ToFloat64(obs.requests.WithLabelValues("/api/quests/{id}", http.MethodGet, "418"))
	if count != 2 {
		t.Fatalf("expected 2 requests on the route pattern, got %v", count)
	}
	if !strings.Contains(buf.String(), `"status":418`) {
		t.Fatalf("access log missing status: %s", buf.String())
	}
}
