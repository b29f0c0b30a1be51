package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const contentTypeJSON = "application/json; charset=utf-8"

// maxBodyBytes bounds request bodies read by the handlers.
const maxBodyBytes = 1 << 20

// Error codes carried in the "code" field of error responses.
const (
	CodeInvalidRequest       = "INVALID_REQUEST"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeInvalidCredentials   = "INVALID_CREDENTIALS"
	CodeRefreshRejected      = "REFRESH_REJECTED"
	CodeConflict             = "CONFLICT"
	CodeConversationNotFound = "CONVERSATION_NOT_FOUND"
	CodeForbidden            = "FORBIDDEN"
	CodeInternal             = "INTERNAL"
)

// HealthHandler answers connectivity probes.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"time":   s.nowFunc().UTC(),
		})
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("malformed JSON body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code, message string, statusCode int) {
	writeJSON(w, statusCode, map[string]any{
		"success": false,
		"code":    code,
		"message": message,
	})
}
