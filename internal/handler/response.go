package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"postal-service/internal/biometric"
	"postal-service/internal/correlator"
	"postal-service/internal/model"
	"postal-service/internal/otp"
	"postal-service/internal/service"
	"postal-service/internal/util"
)

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	}
}

func respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		util.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

func respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	util.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	respondWithJSON(w, statusCode, errorResponse(err, message))
}

// getStatusCode determines the appropriate HTTP status code for an error
func getStatusCode(err error) int {
	switch {
	case errors.Is(err, model.ErrSubjectNotFound),
		errors.Is(err, model.ErrParcelNotFound),
		errors.Is(err, service.ErrUnknownSender),
		errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, otp.ErrTransactionNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidOrder),
		errors.Is(err, service.ErrInvalidSubject),
		errors.Is(err, biometric.ErrCaptureFailed):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrNotOperator):
		return http.StatusForbidden
	case errors.Is(err, service.ErrBiometricNotEnrolled),
		errors.Is(err, service.ErrReceiverNotLinked),
		errors.Is(err, service.ErrSubjectInTransit):
		return http.StatusPreconditionFailed
	case errors.Is(err, service.ErrSubjectExists),
		errors.Is(err, service.ErrSessionStateConflict),
		errors.Is(err, model.ErrAlreadyDelivered),
		errors.Is(err, model.ErrInvalidTransition),
		errors.Is(err, otp.ErrAlreadyConfirmed):
		return http.StatusConflict
	case errors.Is(err, otp.ErrOTPExpired),
		errors.Is(err, service.ErrSessionExpired):
		return http.StatusGone
	case errors.Is(err, otp.ErrOTPMismatch),
		errors.Is(err, service.ErrFaceMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, correlator.ErrWaitTimeout):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
