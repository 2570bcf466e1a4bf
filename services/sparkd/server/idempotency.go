package server

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"

	"monspark/observability/logging"
	"monspark/services/sparkd/ledger"
)

const maxIdempotencyKey = 128

// idempotent replays the stored response when a request repeats an
// Idempotency-Key. Only non-5xx responses are stored so failed attempts can
// be retried with the same key.
func (s *Server) idempotent(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
		if key == "" || s.idem == nil {
			next.ServeHTTP(w, r)
			return
		}
		if len(key) > maxIdempotencyKey {
			badRequest(w, "Idempotency-Key is too long")
			return
		}
		unlock := s.idemMu.Lock(key)
		defer unlock()

		cached, err := s.idem.LoadIdempotent(key)
		if err != nil {
			s.logger.Error("idempotency lookup failed", "component", "server", logging.MaskField("idempotency_key", key), "error", err)
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Idempotency lookup failed", Message: err.Error()})
			return
		}
		if cached != nil {
			if cached.Method != r.Method || cached.Path != r.URL.Path {
				writeJSON(w, http.StatusUnprocessableEntity, errorBody{
					Error:   "Idempotency-Key reuse",
					Message: "key was first used for " + cached.Method + " " + cached.Path,
				})
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Idempotent-Replayed", "true")
			w.WriteHeader(cached.Status)
			_, _ = io.WriteString(w, cached.Body)
			return
		}

		var buf bytes.Buffer
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		ww.Tee(&buf)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		if status >= http.StatusInternalServerError {
			return
		}
		err = s.idem.SaveIdempotent(ledger.IdempotentResponse{
			Key:       key,
			RequestID: chimw.GetReqID(r.Context()),
			Method:    r.Method,
			Path:      r.URL.Path,
			Status:    status,
			Body:      buf.String(),
			CreatedAt: s.now().UTC(),
		})
		if err != nil {
			s.logger.Warn("idempotency save failed", "component", "server", logging.MaskField("idempotency_key", key), "error", err)
		}
	})
}
