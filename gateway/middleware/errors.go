package middleware

import (
	"encoding/json"
	"net/http"
)

// writeError emits the JSON error envelope shared by every sparkd response.
func writeError(w http.ResponseWriter, status int, summary, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   summary,
		"message": message,
	})
}
