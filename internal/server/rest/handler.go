// Package rest exposes the auth core over HTTP with gin.
package rest

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/dmitrijs2005/contactkeeper/internal/common"
	"github.com/dmitrijs2005/contactkeeper/internal/logging"
	"github.com/dmitrijs2005/contactkeeper/internal/server/auth"
	"github.com/dmitrijs2005/contactkeeper/internal/server/models"
	"github.com/dmitrijs2005/contactkeeper/internal/server/services"
	"github.com/gin-gonic/gin"
)

type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (*auth.Token, error)
	Authorize(ctx context.Context, raw string) (string, error)
	Logout(ctx context.Context, raw string) error
}

type Accounts interface {
	Register(ctx context.Context, email, password string) (*models.User, error)
	Profile(ctx context.Context, id string) (*models.Profile, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
}

type Avatars interface {
	PresignUpload(ctx context.Context, callerID, email string) (*services.AvatarUpload, error)
	Confirm(ctx context.Context, callerID, email, key string) error
	URL(ctx context.Context, key string) (string, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Handler struct {
	auth           Authenticator
	accounts       Accounts
	avatars        Avatars
	checks         map[string]HealthCheck
	requestTimeout time.Duration
	log            logging.Logger
}

func NewHandler(a Authenticator, acc Accounts, av Avatars, checks map[string]HealthCheck,
	requestTimeout time.Duration, l logging.Logger) *Handler {
	return &Handler{
		auth:           a,
		accounts:       acc,
		avatars:        av,
		checks:         checks,
		requestTimeout: requestTimeout,
		log:            l.With("module", "rest"),
	}
}

// Routes builds the gin engine.
func (h *Handler) Routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.accessLog(), timeout(h.requestTimeout))

	api := r.Group("/api")
	api.GET("/healthz", h.health)

	a := api.Group("/auth")
	a.POST("/register", h.register)
	a.POST("/login", h.login)
	a.POST("/logout", h.logout)
	a.POST("/request-password-reset", h.requestPasswordReset)
	a.POST("/reset-password", h.resetPassword)

	protected := a.Group("", h.requireAuth())
	protected.GET("/me", h.me)
	protected.POST("/avatar", h.presignAvatar)
	protected.PUT("/avatar", h.confirmAvatar)

	return r
}

type credentialsRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginRequest struct {
	Username string `json:"username" form:"username" binding:"required"`
	Password string `json:"password" form:"password" binding:"required"`
}

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type emailRequest struct {
	Email string `json:"email" binding:"required"`
}

type resetRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

// Email selects another account; empty means the caller.
type avatarTargetRequest struct {
	Email string `json:"email"`
}

type avatarConfirmRequest struct {
	Key   string `json:"key" binding:"required"`
	Email string `json:"email"`
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func (h *Handler) register(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	u, err := h.accounts.Register(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, u.Profile())
}

// login accepts a JSON body or an OAuth2-style password form.
func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		badRequest(c, err)
		return
	}
	tok, err := h.auth.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, tokenResponse{
		AccessToken: tok.Raw,
		TokenType:   common.TokenType,
		ExpiresAt:   tok.ExpiresAt.UTC(),
	})
}

// logout only checks the signature, so expired tokens can be revoked too.
func (h *Handler) logout(c *gin.Context) {
	token, ok := bearerToken(c)
	if !ok {
		c.Header("WWW-Authenticate", common.BearerScheme)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid Authorization header"})
		return
	}
	if err := h.auth.Logout(c.Request.Context(), token); err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

func (h *Handler) me(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.GetString(identityKey)

	p, err := h.accounts.Profile(ctx, id)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	if p.AvatarKey != "" {
		if url, err := h.avatars.URL(ctx, p.AvatarKey); err == nil {
			p.AvatarURL = url
		} else {
			h.log.Warn(ctx, "avatar url failed", "sub", id, "error", err)
		}
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) presignAvatar(c *gin.Context) {
	var req avatarTargetRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	up, err := h.avatars.PresignUpload(c.Request.Context(), c.GetString(identityKey), req.Email)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": up.Key, "upload_url": up.URL, "expires_at": up.ExpiresAt.UTC()})
}

func (h *Handler) confirmAvatar(c *gin.Context) {
	var req avatarConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.avatars.Confirm(c.Request.Context(), c.GetString(identityKey), req.Email, req.Key); err != nil {
		h.abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) requestPasswordReset(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.accounts.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "If the email exists, a reset link has been sent."})
}

func (h *Handler) resetPassword(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.accounts.ResetPassword(c.Request.Context(), req.Token, req.NewPassword); err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Password has been reset successfully."})
}

func (h *Handler) health(c *gin.Context) {
	ctx := c.Request.Context()
	var failed []string
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.log.Warn(ctx, "health check failed", "check", name, "error", err)
			failed = append(failed, name)
		}
	}
	if len(failed) > 0 {
		sort.Strings(failed)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "failed": failed})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
