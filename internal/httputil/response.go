package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"iamstagram_engine/internal/gateway"
	"iamstagram_engine/internal/model"
)

// Error codes returned in the error envelope
const (
	ErrCodeBadRequest   = "BAD_REQUEST"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeForbidden    = "FORBIDDEN"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeGone         = "CONTENT_GONE"
	ErrCodeConflict     = "CONFLICT"
	ErrCodeUnavailable  = "UNAVAILABLE"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

// ErrorResponse represents the standard error response format
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error code and message
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		// Headers are already sent, nothing useful to do on failure.
		_ = json.NewEncoder(w).Encode(data)
	}
}

// WriteError writes an error envelope:
// {"error": {"code": "ERROR_CODE", "message": "Human readable message"}}
func WriteError(w http.ResponseWriter, status int, code string, message string) {
	WriteJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// WriteBadRequest writes a 400 Bad Request error
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// WriteBadRequestWithCode writes a 400 Bad Request error with a custom code
func WriteBadRequestWithCode(w http.ResponseWriter, code string, message string) {
	WriteError(w, http.StatusBadRequest, code, message)
}

// WriteUnauthorized writes a 401 Unauthorized error
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// WriteForbidden writes a 403 Forbidden error
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// WriteNotFound writes a 404 Not Found error
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// WriteInternalError writes a 500 Internal Server Error
func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

var validationErrors = []error{
	model.ErrCannotFollowSelf,
	model.ErrUserIDRequired,
	model.ErrUsernameRequired,
	model.ErrBioTooLong,
	model.ErrInvalidContentKind,
	model.ErrContentIDRequired,
	model.ErrNoMediaProvided,
	model.ErrTooManyMedia,
	model.ErrCaptionTooLong,
	model.ErrCommentRequired,
	model.ErrCommentTooLong,
	model.ErrInvalidEngagementKind,
	model.ErrUnsupportedEngagement,
	model.ErrInvalidMediaType,
}

// StatusFor maps a service error to its HTTP status and error code.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrFileTooLarge):
		return http.StatusBadRequest, model.CodeFileTooLarge
	case errors.Is(err, model.ErrInvalidMediaType):
		return http.StatusBadRequest, model.CodeInvalidMediaType
	case errors.Is(err, model.ErrContentGone):
		return http.StatusNotFound, ErrCodeGone
	case errors.Is(err, model.ErrUserNotFound), errors.Is(err, gateway.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, model.ErrNotContentOwner), errors.Is(err, gateway.ErrPermissionDenied):
		return http.StatusForbidden, ErrCodeForbidden
	case errors.Is(err, gateway.ErrAlreadyExists):
		return http.StatusConflict, ErrCodeConflict
	case errors.Is(err, model.ErrMediaNotConfigured), errors.Is(err, gateway.ErrUnavailable):
		return http.StatusServiceUnavailable, ErrCodeUnavailable
	}
	for _, v := range validationErrors {
		if errors.Is(err, v) {
			return http.StatusBadRequest, ErrCodeBadRequest
		}
	}
	return http.StatusInternalServerError, ErrCodeInternal
}

// WriteServiceError writes the mapped error response. Internal errors are
// logged and replaced with fallback so backend details stay private.
func WriteServiceError(w http.ResponseWriter, logger *zap.Logger, err error, fallback string) {
	status, code := StatusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error(fallback, zap.Error(err))
		WriteError(w, status, code, fallback)
		return
	}
	WriteError(w, status, code, err.Error())
}
