package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gogotex/sessionguard/internal/sessions"
	"github.com/gogotex/sessionguard/internal/users"
	"github.com/gogotex/sessionguard/pkg/logger"
	"github.com/gogotex/sessionguard/pkg/middleware"
)

const (
	CodeInvalidRefreshToken  = "INVALID_REFRESH_TOKEN"
	CodeRefreshTokenExpired  = "REFRESH_TOKEN_EXPIRED"
	CodeAuthenticationFailed = "AUTHENTICATION_FAILED"
	CodeValidation           = "VALIDATION_ERROR"
	CodeEmailTaken           = "EMAIL_TAKEN"
	CodeSessionConflict      = "SESSION_CONFLICT"
	CodeInternal             = "INTERNAL_ERROR"
)

// Reuse detection and device mismatch share the invalid token message so the
// client cannot tell them apart.
const invalidRefreshMessage = "Invalid refresh token. Please log in again."

// writeError maps a domain error to its HTTP response. Unknown errors are
// logged and reported as 500 without detail.
func writeError(c *gin.Context, err error) {
	status, body := errorResponse(err)
	if status == http.StatusInternalServerError {
		logger.Errorf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.AbortWithStatusJSON(status, body)
}

func errorResponse(err error) (int, middleware.ErrorResponse) {
	switch {
	case errors.Is(err, sessions.ErrInvalidToken),
		errors.Is(err, sessions.ErrTokenReuseDetected),
		errors.Is(err, sessions.ErrDeviceMismatch):
		return http.StatusUnauthorized, middleware.NewErrorResponse(invalidRefreshMessage, CodeInvalidRefreshToken)
	case errors.Is(err, sessions.ErrRefreshTokenExpired):
		return http.StatusUnauthorized, middleware.NewErrorResponse("Refresh token expired. Please log in again.", CodeRefreshTokenExpired)
	case errors.Is(err, sessions.ErrActiveDeviceSession):
		return http.StatusConflict, middleware.NewErrorResponse("Another sign-in for this device is in progress. Please retry.", CodeSessionConflict)
	case errors.Is(err, users.ErrAuthenticationFailed):
		return http.StatusUnauthorized, middleware.NewErrorResponse("Invalid email or password.", CodeAuthenticationFailed)
	case errors.Is(err, users.ErrEmailTaken):
		return http.StatusConflict, middleware.NewErrorResponse("Email is already registered.", CodeEmailTaken)
	case errors.Is(err, users.ErrInvalidEmail), errors.Is(err, users.ErrWeakPassword):
		return http.StatusBadRequest, middleware.NewErrorResponse(err.Error(), CodeValidation)
	}
	return http.StatusInternalServerError, middleware.NewErrorResponse("Internal server error.", CodeInternal)
}

func badRequest(c *gin.Context, err error) {
	logger.Debugf("bad request %s: %v", c.Request.URL.Path, err)
	c.AbortWithStatusJSON(http.StatusBadRequest, middleware.NewErrorResponse("Invalid request body.", CodeValidation))
}
