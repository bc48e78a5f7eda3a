package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"docrag/internal/contextutil"
	"docrag/internal/document"
)

// ErrorResponse represents an error response.
//
// swagger:model ErrorResponse
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes v with the given status code.
func writeJSON(ctx context.Context, w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		contextutil.LoggerFromContext(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error: message,
	})
}

// writeServiceError maps service errors to HTTP status codes.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error, defaultMsg string) {
	logger := contextutil.LoggerFromContext(ctx)

	var validationErr *document.ValidationError
	switch {
	case errors.As(err, &validationErr):
		logger.WarnContext(ctx, "invalid request", "field", validationErr.Field, "error", validationErr.Message)
		writeError(w, http.StatusBadRequest, validationErr.Message)
	case errors.Is(err, document.ErrInvalidInput):
		logger.WarnContext(ctx, "invalid request", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, document.ErrForbidden):
		logger.WarnContext(ctx, "access denied", "error", err)
		writeError(w, http.StatusForbidden, "Access denied")
	case errors.Is(err, document.ErrNotFound):
		writeError(w, http.StatusNotFound, "Document not found")
	case errors.Is(err, document.ErrExternalService):
		logger.ErrorContext(ctx, "external service error", "error", err)
		writeError(w, http.StatusBadGateway, "External service error")
	default:
		logger.ErrorContext(ctx, "internal error", "error", err)
		writeError(w, http.StatusInternalServerError, defaultMsg)
	}
}
