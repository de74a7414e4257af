package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"portfolio-tracker/middleware"
	"portfolio-tracker/store"
)

type AuthInput struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

type RefreshInput struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// LogoutInput optionally names the refresh token to revoke.
type LogoutInput struct {
	RefreshToken string `json:"refresh_token"`
}

func refreshKey(token string) string {
	return fmt.Sprintf("refresh_token:%s", token)
}

func (h *Handler) Signup(c *gin.Context) {
	var input AuthInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	email := strings.ToLower(strings.TrimSpace(input.Email))

	_, err := h.Users.FindUserByEmail(ctx, email)
	if err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Email already exists"})
		return
	}
	if !errors.Is(err, store.ErrNotFound) {
		h.respondError(c, err)
		return
	}

	cost := h.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(input.Password), cost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error hashing password"})
		return
	}

	user, err := h.Users.CreateUser(ctx, email, string(hashedPassword))
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.Log.Info().Str("user_id", user.Key()).Msg("User created")
	c.JSON(http.StatusCreated, gin.H{"message": "User created successfully", "user_id": user.Key()})
}

func (h *Handler) Login(c *gin.Context) {
	var input AuthInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}

	user, err := h.Users.FindUserByEmail(c.Request.Context(), strings.ToLower(strings.TrimSpace(input.Email)))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			h.Log.Error().Err(err).Msg("User lookup failed")
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(input.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	h.issueTokens(c, http.StatusOK, user.Key(), false)
}

// Guest starts an anonymous portfolio that lives in Redis.
func (h *Handler) Guest(c *gin.Context) {
	h.issueTokens(c, http.StatusCreated, "guest-"+uuid.NewString(), true)
}

// Refresh trades a refresh token for a new token pair. Each refresh token
// works once.
func (h *Handler) Refresh(c *gin.Context) {
	var input RefreshInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}

	claims, err := middleware.ParseToken(h.JWTSecret, input.RefreshToken, middleware.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid refresh token"})
		return
	}

	n, err := h.Tokens.Del(c.Request.Context(), refreshKey(input.RefreshToken)).Result()
	if err != nil {
		h.respondError(c, err)
		return
	}
	if n == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Refresh token revoked"})
		return
	}

	h.issueTokens(c, http.StatusOK, claims.UserID, claims.Guest)
}

// Logout revokes the refresh token, if given, and drops the in-memory
// session. Guest portfolios are deleted.
func (h *Handler) Logout(c *gin.Context) {
	var input LogoutInput
	if err := c.ShouldBindJSON(&input); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()

	if input.RefreshToken != "" {
		if err := h.Tokens.Del(ctx, refreshKey(input.RefreshToken)).Err(); err != nil {
			h.Log.Warn().Err(err).Msg("Failed to revoke refresh token")
		}
	}

	id := identity(c)
	h.Sessions.Close(id)
	if id.Guest && h.Guests != nil {
		if err := h.Guests.Drop(ctx, id.UserID); err != nil {
			h.Log.Warn().Err(err).Str("user_id", id.UserID).Msg("Failed to drop guest portfolio")
		}
	}

	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

func (h *Handler) issueTokens(c *gin.Context, status int, userID string, guest bool) {
	accessToken, err := middleware.SignToken(h.JWTSecret, userID, guest, middleware.AccessToken, h.AccessTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error generating token", "details": err.Error()})
		return
	}
	refreshToken, err := middleware.SignToken(h.JWTSecret, userID, guest, middleware.RefreshToken, h.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error generating refresh token", "details": err.Error()})
		return
	}

	// Store refresh token in Redis
	if err := h.Tokens.Set(c.Request.Context(), refreshKey(refreshToken), userID, h.RefreshTTL).Err(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error storing refresh token", "details": err.Error()})
		return
	}

	c.JSON(status, gin.H{
		"user_id":       userID,
		"guest":         guest,
		"access_token":  accessToken,
		"refresh_token": refreshToken,
	})
}
