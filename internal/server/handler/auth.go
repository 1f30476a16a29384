package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/NexusLedger/internal/identity"
	"github.com/jmerrifield20/NexusLedger/pkg/status"
)

// AuthHandler exchanges the admin secret for an operator token.
type AuthHandler struct {
	admin  *identity.AdminAuthenticator
	tokens *identity.TokenIssuer
	logger *zap.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(admin *identity.AdminAuthenticator, tokens *identity.TokenIssuer, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{admin: admin, tokens: tokens, logger: logger}
}

// Register mounts the auth routes.
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/auth/login", h.Login)
}

type loginRequest struct {
	Subject string `json:"subject"`
	Secret  string `json:"secret" binding:"required"`
}

// LoginResponse carries an operator bearer token.
type LoginResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresIn int    `json:"expires_in"`
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	if err := h.admin.Authenticate(req.Secret); err != nil {
		h.logger.Warn("admin login rejected", zap.String("client_ip", c.ClientIP()))
		writeError(c, h.logger, status.Wrap(status.Unauthorized, err, "login"))
		return
	}
	subject := req.Subject
	if subject == "" {
		subject = "admin"
	}
	token, err := h.tokens.Issue(subject, []string{identity.ScopeAdmin})
	if err != nil {
		writeError(c, h.logger, status.Wrap(status.RuntimeError, err, "issue token"))
		return
	}
	c.JSON(http.StatusOK, LoginResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresIn: int(h.tokens.TTL().Seconds()),
	})
}
