package rest

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/contactkeeper/internal/common"
	"github.com/gin-gonic/gin"
)

const identityKey = "identity"

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader(common.AuthorizationHeaderName)
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, common.BearerScheme) {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// requireAuth admits the request only if Authorize accepts its bearer token,
// and stores the identity under identityKey.
func (h *Handler) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.Header("WWW-Authenticate", common.BearerScheme)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid Authorization header"})
			return
		}
		id, err := h.auth.Authorize(c.Request.Context(), token)
		if err != nil {
			h.abortWithError(c, err)
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

// timeout bounds every downstream call made with the request context.
func timeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// accessLog replaces gin's default logger with the structured one.
func (h *Handler) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.log.Debug(c.Request.Context(), "http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}
