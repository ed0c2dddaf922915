package rest

import (
	"context"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/contactkeeper/internal/common"
	"github.com/gin-gonic/gin"
)

// msgBadLogin is shared by every login failure that could reveal whether an
// account exists.
const msgBadLogin = "incorrect email or password"

type errorMapping struct {
	err    error
	status int
	msg    string
}

var errorMappings = []errorMapping{
	{common.ErrInvalidCredentials, http.StatusUnauthorized, msgBadLogin},
	{common.ErrAccountDisabled, http.StatusUnauthorized, msgBadLogin},
	{common.ErrMalformedToken, http.StatusUnauthorized, "malformed token"},
	{common.ErrInvalidSignature, http.StatusUnauthorized, "invalid token signature"},
	{common.ErrTokenExpired, http.StatusUnauthorized, "token expired"},
	{common.ErrTokenRevoked, http.StatusUnauthorized, "token revoked"},
	{common.ErrRateLimited, http.StatusTooManyRequests, "rate limit exceeded"},
	{common.ErrCacheUnavailable, http.StatusServiceUnavailable, "service temporarily unavailable"},
	{common.ErrorForbidden, http.StatusForbidden, "only admins are allowed to update avatars"},
	{common.ErrorAlreadyExists, http.StatusConflict, "user with this email already exists"},
	{common.ErrorNotFound, http.StatusNotFound, "not found"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "request timed out"},
}

// httpError maps a service error onto a status code and client message.
func httpError(err error) (int, string) {
	if errors.Is(err, common.ErrorValidation) {
		return http.StatusBadRequest, err.Error()
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.msg
		}
	}
	return http.StatusInternalServerError, "internal error"
}

func (h *Handler) abortWithError(c *gin.Context, err error) {
	status, msg := httpError(err)
	if status == http.StatusUnauthorized {
		c.Header("WWW-Authenticate", common.BearerScheme)
	}
	if status >= http.StatusInternalServerError {
		h.log.Error(c.Request.Context(), "request failed",
			"method", c.Request.Method, "path", c.FullPath(), "status", status, "error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
