// Package httpserver contains HTTP handlers and middleware.
//
// It exposes the chat gateway, the structured assistants, the admin
// surface and the operational endpoints. Every JSON body carries a
// "success" flag; errors add a machine-readable code.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/domain"
)

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorStatus maps the domain taxonomy onto HTTP status and code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest, "INVALID_ARGUMENT"
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "UNAUTHORIZED"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, "RATE_LIMITED"
	case errors.Is(err, domain.ErrSchemaInvalid), errors.Is(err, domain.ErrAllModelsExhausted):
		return http.StatusServiceUnavailable, "ASSISTANT_UNAVAILABLE"
	case errors.Is(err, domain.ErrPersistence):
		return http.StatusServiceUnavailable, "PERSISTENCE_UNAVAILABLE"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout, "TIMEOUT"
	}
	return http.StatusInternalServerError, "INTERNAL"
}

// publicMessage hides internals for server-side failures.
func publicMessage(status int, err error) string {
	switch status {
	case http.StatusServiceUnavailable:
		if errors.Is(err, domain.ErrPersistence) {
			return "Conversation store is unavailable, please try again later"
		}
		return "The assistant is unavailable right now, please try again later"
	case http.StatusInternalServerError:
		return "Internal server error"
	case http.StatusGatewayTimeout:
		return "The request timed out"
	}
	return err.Error()
}

func writeError(w http.ResponseWriter, r *http.Request, err error, details any) {
	status, code := errorStatus(err)
	if status >= 500 {
		LoggerFrom(r).Error("request failed", "code", code, "error", err)
	}
	writeJSON(w, status, errorBody{Success: false, Error: publicMessage(status, err), Code: code, Details: details})
}
