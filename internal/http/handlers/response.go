// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the response helpers shared by all endpoints: the error
// envelope, the service-error mapping and the success writers.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-drop-backend/internal/http/middleware"
	"github.com/tbourn/go-drop-backend/internal/services"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"resource not found"`
}

// fail aborts the request with a structured error. 5xx responses are logged
// with the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	resp := ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	}

	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail().
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// failErr maps a service error to its HTTP status and code. Unknown errors
// become a 500 whose message does not leak internals.
func failErr(c *gin.Context, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().Err(err).Msg("unhandled service error")
		msg = "internal server error"
	}
	fail(c, status, code, msg)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrIdentityNotFound), errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, services.ErrNotConnected):
		return http.StatusConflict, ErrCodeNotConnected
	case errors.Is(err, services.ErrDeliveryFailed):
		return http.StatusBadGateway, ErrCodeDeliveryFailed
	case errors.Is(err, services.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, ErrCodeFileTooLarge
	case errors.Is(err, services.ErrUnsupportedMedia):
		return http.StatusUnsupportedMediaType, ErrCodeUnsupportedMedia
	case errors.Is(err, services.ErrNoPayload):
		return http.StatusBadRequest, ErrCodeNoPayload
	case errors.Is(err, services.ErrNoGeolocation):
		return http.StatusBadRequest, ErrCodeNoGeolocation
	case errors.Is(err, services.ErrInvalidMessage),
		errors.Is(err, services.ErrInvalidGeolocation),
		errors.Is(err, services.ErrTargetIsSelf):
		return http.StatusBadRequest, ErrCodeBadRequest
	}
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return http.StatusRequestEntityTooLarge, ErrCodeFileTooLarge
	}
	return http.StatusInternalServerError, ErrCodeInternal
}

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// noContent writes an HTTP 204 No Content response.
func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
