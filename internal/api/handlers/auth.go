package handlers

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"applyflow/pkg/auth"
	"applyflow/pkg/response"
)

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	token, exp, err := h.auth.Login(req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		h.logger.Warn("Rejected operator login", zap.String("username", req.Username), zap.String("client_ip", c.ClientIP()))
		response.Unauthorized(c, "Invalid username or password")
		return
	}
	if err != nil {
		h.logger.Error("Token signing failed", zap.Error(err))
		response.InternalServerError(c, "Could not issue token")
		return
	}

	response.SuccessWithMessage(c, "Logged in", LoginResponse{Token: token, ExpiresAt: exp})
}
