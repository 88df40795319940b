package handlers

import (
	"net/http"

	"github.com/upb/model-control-plane/internal/observability"
	"github.com/upb/model-control-plane/services"
	"github.com/upb/model-control-plane/utils"
	"go.uber.org/zap"
)

var statusByType = map[services.ErrorType]int{
	services.ErrorTypeNotFound:        http.StatusNotFound,
	services.ErrorTypeValidation:      http.StatusBadRequest,
	services.ErrorTypeUnauthenticated: http.StatusUnauthorized,
	services.ErrorTypeForbidden:       http.StatusForbidden,
	services.ErrorTypeConflict:        http.StatusConflict,
	services.ErrorTypeUnprocessable:   http.StatusUnprocessableEntity,
	services.ErrorTypeRateLimit:       http.StatusTooManyRequests,
	services.ErrorTypeUnavailable:     http.StatusServiceUnavailable,
	services.ErrorTypeExternal:        http.StatusBadGateway,
	services.ErrorTypeInvariant:       http.StatusInternalServerError,
	services.ErrorTypeInternal:        http.StatusInternalServerError,
}

// HandleServiceError maps domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	log := observability.FromContext(r.Context(), logger)
	errType := services.GetErrorType(err)
	status, known := statusByType[errType]
	code := services.GetErrorCode(err)
	message := services.GetErrorMessage(err)
	details := services.GetErrorDetails(err)

	switch {
	case !known:
		log.Error("unhandled error type", zap.Error(err))
		status = http.StatusInternalServerError
		code, message, details = services.ErrInternal.Code, services.ErrInternal.Message, nil

	case status == http.StatusInternalServerError:
		// Causes of internal errors stay in the log
		log.Error("internal server error",
			zap.String("code", code),
			zap.Error(err))
		details = nil

	default:
		log.Debug("handled service error",
			zap.String("type", string(errType)),
			zap.String("code", code),
			zap.Error(err))
	}

	var writeErr error
	if status == http.StatusUnauthorized {
		writeErr = utils.WriteUnauthorized(w, code, message)
	} else {
		writeErr = utils.WriteError(w, status, code, message, details)
	}
	if writeErr != nil {
		log.Error("failed to write error response", zap.Error(writeErr))
	}
}

// HandleValidationError handles errors from request decoding and struct validation
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		fields := utils.GetValidationFields(err)
		details := make(map[string]interface{}, len(fields))
		for k, v := range fields {
			details[k] = v
		}
		if err := utils.WriteBadRequest(w, "Validation failed", details); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	if err := utils.WriteBadRequest(w, err.Error(), nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}
