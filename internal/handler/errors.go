package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	apperrors "github.com/devrev/softmatch/internal/errors"
	"github.com/devrev/softmatch/internal/middleware"
	"go.uber.org/zap"
)

// ErrorResponse represents the standard error response format.
type ErrorResponse struct {
	Status    string                 `json:"status"`
	ErrorCode string                 `json:"error_code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// ErrorHandler maps engine errors onto HTTP responses.
type ErrorHandler struct {
	logger *zap.Logger
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger *zap.Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// HandleError writes err using its MatchError code, or a 500 for anything else.
func (h *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := middleware.GetRequestID(r.Context())

	var me *apperrors.MatchError
	if !errors.As(err, &me) {
		h.logger.Error("Unhandled error",
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID),
			zap.Error(err))
		h.WriteErrorResponse(w, http.StatusInternalServerError, apperrors.ErrCodeInternal.String(),
			"internal server error", nil, requestID)
		return
	}

	details := me.Details
	if len(details) == 0 {
		details = nil
	}
	h.WriteErrorResponse(w, me.HTTPStatus(), me.Code.String(), me.Message, details, requestID)
}

// WriteErrorResponse writes a formatted error response to the HTTP response writer.
func (h *ErrorHandler) WriteErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string, details map[string]interface{}, requestID string) {
	h.logger.Warn("HTTP error response",
		zap.Int("status_code", statusCode),
		zap.String("error_code", errorCode),
		zap.String("message", message),
		zap.String("request_id", requestID),
	)

	resp := ErrorResponse{
		Status:    "error",
		ErrorCode: errorCode,
		Message:   message,
		Details:   details,
		RequestID: requestID,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

// WriteValidationError writes a malformed-request response.
func (h *ErrorHandler) WriteValidationError(w http.ResponseWriter, r *http.Request, message string) {
	h.WriteErrorResponse(w, http.StatusBadRequest, apperrors.ErrCodeInvalidArgument.String(),
		message, nil, middleware.GetRequestID(r.Context()))
}

// NotFound answers unrouted paths in the JSON envelope.
func (h *ErrorHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.WriteErrorResponse(w, http.StatusNotFound, "NOT_FOUND", "route not found", nil,
		r.Header.Get(middleware.RequestIDHeader))
}

// MethodNotAllowed answers routed paths hit with the wrong method.
func (h *ErrorHandler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.WriteErrorResponse(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil,
		r.Header.Get(middleware.RequestIDHeader))
}
