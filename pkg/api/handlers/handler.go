// Package handlers provides HTTP request handlers.
package handlers

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/goclaw/recall/pkg/api/middleware"
	"github.com/goclaw/recall/pkg/api/response"
	"github.com/goclaw/recall/pkg/logger"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

func getRequestID(ctx context.Context) string {
	if id := middleware.GetRequestID(ctx); id != "" {
		return id
	}
	return "unknown"
}

// decodeAndValidate reads a JSON body into v and checks its validate tags.
// It writes the error response itself and reports whether to continue.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, v any, validate *validator.Validate, log logger.Logger) bool {
	ctx := r.Context()
	if err := response.Decode(w, r, maxBodyBytes, v); err != nil {
		log.DebugContext(ctx, "Failed to decode request", "error", err)
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "Invalid request body", getRequestID(ctx))
		return false
	}
	return validateRequest(w, r, v, validate, log)
}

func validateRequest(w http.ResponseWriter, r *http.Request, v any, validate *validator.Validate, log logger.Logger) bool {
	ctx := r.Context()
	if err := validate.Struct(v); err != nil {
		log.DebugContext(ctx, "Validation failed", "error", err)
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), getRequestID(ctx))
		return false
	}
	return true
}

// writeEngineError maps an engine error onto a status and logs the ones
// that are the server's fault.
func writeEngineError(w http.ResponseWriter, r *http.Request, log logger.Logger, msg string, err error) {
	ctx := r.Context()
	status := response.HTTPStatusFromError(err)
	if status >= http.StatusInternalServerError {
		log.ErrorContext(ctx, msg, "error", err)
	}
	if status == http.StatusInternalServerError {
		response.Error(w, status, response.ErrCodeInternalServer, msg, getRequestID(ctx))
		return
	}
	response.Error(w, status, response.ErrorCodeFromStatus(status), err.Error(), getRequestID(ctx))
}
