package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/halcyonlabs/remindcal/backend/internal/users"
	"go.uber.org/zap"
)

type credentialsPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type accountPayload struct {
	UserID           string `json:"id"`
	Email            string `json:"email"`
	CreatedAtSeconds int64  `json:"created_at_s"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	email, err := users.NewEmail(request.Email)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_email"})
		return
	}

	account, err := h.users.Register(c.Request.Context(), email, request.Password)
	if err != nil {
		switch {
		case errors.Is(err, users.ErrEmailTaken):
			c.JSON(http.StatusBadRequest, gin.H{"error": "email_taken"})
		case errors.Is(err, users.ErrInvalidPassword):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_password"})
		default:
			h.logger.Error("account registration failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "register_failed"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"user": accountPayload{
		UserID:           account.UserID,
		Email:            account.Email,
		CreatedAtSeconds: account.CreatedAtSeconds,
	}})
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	email, err := users.NewEmail(request.Email)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
		return
	}

	account, err := h.users.Authenticate(c.Request.Context(), email, request.Password)
	if err != nil {
		if errors.Is(err, users.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
			return
		}
		h.logger.Error("login failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login_failed"})
		return
	}

	token, _, err := h.sessions.IssueToken(account.UserID, account.Email)
	if err != nil {
		h.logger.Error("session token issuance failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	maxAge := int(h.sessions.TokenTTL().Seconds())
	c.SetCookie(h.sessions.CookieName(), token, maxAge, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"user": accountPayload{
		UserID:           account.UserID,
		Email:            account.Email,
		CreatedAtSeconds: account.CreatedAtSeconds,
	}})
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	c.SetCookie(h.sessions.CookieName(), "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"success": true})
}
