// utilitários pequenos de resposta: números em headers e corpos JSON
// consistentes entre middleware e rotas.

package ratelimit

import (
	"encoding/json"
	"net/http"
	"strconv"

	"abuse-guard/middleware/ratelimit/domain"
)

func formatInt(v int) string { return strconv.Itoa(v) }

type decisionResponse struct {
	Allowed    bool          `json:"allowed"`
	Reason     domain.Reason `json:"reason,omitempty"`
	Message    string        `json:"message,omitempty"`
	RetryAfter int           `json:"retry_after_seconds,omitempty"`
}

func decisionBody(dec domain.Decision) decisionResponse {
	return decisionResponse{
		Allowed:    dec.Allowed,
		Reason:     dec.Reason,
		Message:    dec.Message,
		RetryAfter: dec.RetryAfterSeconds(),
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
