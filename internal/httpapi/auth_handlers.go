package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"fruitripe.dev/chamber-hub/internal/auth"
)

type registerRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

type forgotRequest struct {
	Email string `json:"email" binding:"required"`
}

type resetRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"newPassword" binding:"required,min=8"`
}

// sessionResponse shapes a session for the wire.
func sessionResponse(session *auth.Session) gin.H {
	return gin.H{
		"token":        session.AccessToken,
		"refreshToken": session.RefreshToken,
		"user":         session.User,
	}
}

func (s *Server) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Name, email, and password are required"})
		return
	}

	session, err := s.authSvc.Register(c.Request.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		s.respondAuthError(c, err)
		return
	}

	c.JSON(http.StatusCreated, sessionResponse(session))
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email and password are required"})
		return
	}

	session, err := s.authSvc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		s.respondAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, sessionResponse(session))
}

func (s *Server) handleRefresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Refresh token is required"})
		return
	}

	session, err := s.authSvc.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		s.respondAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, sessionResponse(session))
}

func (s *Server) handleLogout(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Refresh token is required"})
		return
	}

	if err := s.authSvc.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		s.respondAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleForgotPassword(c *gin.Context) {
	var req forgotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email is required"})
		return
	}

	reset, err := s.authSvc.ForgotPassword(c.Request.Context(), req.Email)
	if err != nil {
		s.respondAuthError(c, err)
		return
	}

	// The success shape never reveals whether the email exists. The raw
	// token is echoed only under the debug flag.
	resp := gin.H{"success": true}
	if reset.Token != "" {
		resp["resetToken"] = reset.Token
		resp["resetUrl"] = reset.ResetURL
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleResetPassword(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Token and new password are required"})
		return
	}

	if err := s.authSvc.ResetPassword(c.Request.Context(), req.Token, req.NewPassword); err != nil {
		s.respondAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// respondAuthError maps token service failures to HTTP responses without
// leaking which check failed.
func (s *Server) respondAuthError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, auth.ErrEmailTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "Email already registered"})
	case errors.Is(err, auth.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
	case errors.Is(err, auth.ErrInvalidToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid refresh token"})
	case errors.Is(err, auth.ErrExpiredToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Refresh token expired"})
	case errors.Is(err, auth.ErrResetTokenInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid or expired token"})
	default:
		s.logger.Error("auth request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
