package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"monspark/services/sparkd/core"
)

const (
	defaultActivityLimit = 20
	maxBodyBytes         = 1 << 20
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// badRequest reports a missing or malformed field.
func badRequest(w http.ResponseWriter, summary string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: summary})
}

// writeError maps the core error taxonomy onto HTTP statuses. summary names
// the failed operation for unexpected errors.
func writeError(w http.ResponseWriter, summary string, err error) {
	switch {
	case errors.Is(err, core.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: validationSummary(err), Message: err.Error()})
	case errors.Is(err, core.ErrAlreadyCompleted):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Quest already completed"})
	case errors.Is(err, core.ErrNotEligible):
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error:   "User not eligible for gas allocation",
			Message: "Complete quests to earn gas eligibility",
		})
	case errors.Is(err, core.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: summary, Message: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: summary, Message: err.Error()})
	}
}

// validationSummary turns "validation failed: user address is required"
// into "User address is required".
func validationSummary(err error) string {
	msg := err.Error()
	if _, detail, ok := strings.Cut(msg, core.ErrValidation.Error()+": "); ok {
		msg = detail
	}
	if msg == "" {
		return "Invalid request"
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}

// decodeBody reads a JSON request body into dst. An empty body leaves dst
// untouched so field checks can report what is missing.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return true
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid JSON body", Message: err.Error()})
		return false
	}
	return true
}

// parseLimit falls back to the default for missing, malformed or
// non-positive values.
func parseLimit(raw string) int {
	limit, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || limit <= 0 {
		return defaultActivityLimit
	}
	return limit
}

func parseQuestID(raw string) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid quest id %q", raw)
	}
	return id, nil
}
