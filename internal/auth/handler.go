package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler exchanges the shared reviewer credential for a personal, expiring
// reviewer token
type Handler struct {
	credentials Authenticator
	tokens      *JWTAuthenticator
	logger      *zap.Logger
}

func NewHandler(credentials Authenticator, tokens *JWTAuthenticator, logger *zap.Logger) *Handler {
	return &Handler{credentials: credentials, tokens: tokens, logger: logger}
}

type tokenRequest struct {
	Reviewer string `json:"reviewer" binding:"required"`
}

// IssueToken handles POST /api/v1/auth/reviewer-token
func (h *Handler) IssueToken(c *gin.Context) {
	if _, err := h.credentials.Authenticate(c.GetHeader(TokenHeader)); err != nil {
		h.logger.Debug("Reviewer token request rejected", zap.Error(err))
		c.JSON(http.StatusForbidden, gin.H{"error": ErrInvalidCredential.Error(), "type": "forbidden"})
		return
	}

	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Reviewer) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reviewer is required", "type": "validation"})
		return
	}

	reviewer := strings.TrimSpace(req.Reviewer)
	token, expiresAt, err := h.tokens.Issue(reviewer)
	if err != nil {
		h.logger.Error("Failed to issue reviewer token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token", "type": "internal"})
		return
	}

	h.logger.Info("Issued reviewer token", zap.String("reviewer", reviewer), zap.Time("expires_at", expiresAt))
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"token_type": "reviewer",
		"expires_at": expiresAt,
	})
}
