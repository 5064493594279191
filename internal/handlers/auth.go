package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/roomcall/internal/middleware"
)

const tokenTTL = 24 * time.Hour

// LoginRequest represents the login request body
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents the login response
type LoginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

// Login handles user login and JWT generation
// For demo purposes, accepts any username/password combination
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	userID := req.Username
	tokenString, err := middleware.NewToken(h.cfg.JWTSecret, userID, tokenTTL)
	if err != nil {
		h.log.Errorf("sign token for %s: %v", userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to generate token",
		})
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		Token:  tokenString,
		UserID: userID,
	})
}

// ICEServers returns the configured STUN/TURN servers for clients.
func (h *Handler) ICEServers(c *gin.Context) {
	c.JSON(http.StatusOK, h.cfg.ICE)
}
