package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// LoginLimiter throttles credential-guessing attempts per user id.
// Implemented by cache.LoginLimiter; nil disables throttling.
type LoginLimiter interface {
	Allow(ctx context.Context, key string) bool
	Reset(ctx context.Context, key string)
}

// TokenResultCache memoizes verify_token outcomes. Implemented by the Redis
// token cache; nil disables memoization. Revocation paths only know the
// revoked token's stored hash, never its raw value, so invalidation comes in
// both flavors; the cache key is that same hash.
type TokenResultCache interface {
	GetResult(ctx context.Context, rawToken string) *VerifyTokenResult
	PutResult(ctx context.Context, rawToken string, result VerifyTokenResult)
	InvalidateResult(ctx context.Context, rawToken string)
	InvalidateResultHash(ctx context.Context, tokenHash string)
}

// Handlers contains the auth HTTP handlers
type Handlers struct {
	service *Service
	limiter LoginLimiter
	tokens  TokenResultCache
}

// NewHandlers creates a new Handlers instance
func NewHandlers(service *Service, limiter LoginLimiter, tokens TokenResultCache) *Handlers {
	return &Handlers{service: service, limiter: limiter, tokens: tokens}
}

// RegisterRoutes mounts the auth endpoints on an API group.
func (h *Handlers) RegisterRoutes(api *gin.RouterGroup) {
	api.POST("/register", h.Register)
	api.POST("/login", h.Login)
	api.POST("/logout", h.Logout)
	api.POST("/verify_token", h.VerifyToken)
	api.POST("/check_token_owner", h.CheckTokenOwner)
	api.POST("/request_device_change", h.RequestDeviceChange)
	api.POST("/user_info", h.UserInfo)
	api.POST("/verify_mac_address", h.VerifyMAC)
}

// invalidateHashes drops cached verification results for revoked tokens.
func (h *Handlers) invalidateHashes(ctx context.Context, hashes []string) {
	if h.tokens == nil {
		return
	}
	for _, hash := range hashes {
		h.tokens.InvalidateResultHash(ctx, hash)
	}
}

func respondAuthError(c *gin.Context, err error) {
	var authErr AuthError
	if errors.As(err, &authErr) {
		status := http.StatusUnauthorized
		body := gin.H{
			"success": false,
			"message": authErr.Message,
		}
		switch authErr.Code {
		case ErrValidation.Code:
			status = http.StatusBadRequest
		case ErrUserExists.Code:
			status = http.StatusConflict
		case ErrDeviceMismatch.Code:
			status = http.StatusForbidden
			body["code"] = authErr.Code
		case "RATE_LIMITED":
			status = http.StatusForbidden
			body["code"] = authErr.Code
			body["remaining_days"] = authErr.RemainingDays
		case "WEAK_PASSWORD":
			status = http.StatusBadRequest
		}
		c.JSON(status, body)
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"success": false,
		"message": "internal server error",
	})
}

// Register handles user registration
// POST /api/register
func (h *Handlers) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "missing or malformed fields"})
		return
	}

	user, err := h.service.Register(c.Request.Context(), req)
	if err != nil {
		respondAuthError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": "registration successful, awaiting activation",
		"user_id": user.UserID,
	})
}

// Login handles both desktop and mobile login
// POST /api/login
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "missing or malformed fields"})
		return
	}

	ctx := c.Request.Context()
	if h.limiter != nil && !h.limiter.Allow(ctx, req.UserID) {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"success": false,
			"message": "too many login attempts, try again later",
			"code":    "RATE_LIMITED",
		})
		return
	}

	result, err := h.service.Login(ctx, req)
	if err != nil {
		respondAuthError(c, err)
		return
	}
	if h.limiter != nil {
		h.limiter.Reset(ctx, req.UserID)
	}
	h.invalidateHashes(ctx, result.RevokedTokenHashes)

	body := gin.H{
		"success":   true,
		"message":   "login successful",
		"user_info": result.User,
	}
	if result.AccessToken != "" {
		body["access_token"] = result.AccessToken
		body["expires_at"] = result.ExpiresAt.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, body)
}

// Logout deactivates the session token
// POST /api/logout
func (h *Handlers) Logout(c *gin.Context) {
	var req LogoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "missing or malformed fields"})
		return
	}

	ctx := c.Request.Context()
	revoked, err := h.service.Logout(ctx, req)
	if err != nil {
		respondAuthError(c, err)
		return
	}
	h.invalidateHashes(ctx, revoked)
	if h.tokens != nil && req.AccessToken != "" {
		h.tokens.InvalidateResult(ctx, req.AccessToken)
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "logged out"})
}

// VerifyToken checks an opaque access token
// POST /api/verify_token
func (h *Handlers) VerifyToken(c *gin.Context) {
	var req VerifyTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "missing or malformed fields"})
		return
	}

	ctx := c.Request.Context()
	result := (*VerifyTokenResult)(nil)
	if h.tokens != nil {
		result = h.tokens.GetResult(ctx, req.AccessToken)
	}
	if result == nil {
		var err error
		result, err = h.service.VerifyToken(ctx, req.AccessToken)
		if err != nil {
			respondAuthError(c, err)
			return
		}
		if h.tokens != nil {
			h.tokens.PutResult(ctx, req.AccessToken, *result)
		}
	}

	body := gin.H{"success": true, "valid": result.Valid}
	if result.Valid {
		body["user_id"] = result.UserID
	} else {
		body["reason"] = result.Reason
	}
	c.JSON(http.StatusOK, body)
}

// CheckTokenOwner reports whether a token belongs to the given user
// POST /api/check_token_owner
func (h *Handlers) CheckTokenOwner(c *gin.Context) {
	var req CheckTokenOwnerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "missing or malformed fields"})
		return
	}

	match, err := h.service.CheckTokenOwner(c.Request.Context(), req)
	if err != nil {
		respondAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "match": match})
}

// RequestDeviceChange rebinds the account to a new device
// POST /api/request_device_change
func (h *Handlers) RequestDeviceChange(c *gin.Context) {
	var req DeviceChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "missing or malformed fields"})
		return
	}

	ctx := c.Request.Context()
	revoked, err := h.service.RequestDeviceChange(ctx, req)
	if err != nil {
		respondAuthError(c, err)
		return
	}
	h.invalidateHashes(ctx, revoked)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "device changed, log in again on the new device",
	})
}

// UserInfo returns the profile for a user id
// POST /api/user_info
func (h *Handlers) UserInfo(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "missing or malformed fields"})
		return
	}

	info, err := h.service.GetUserInfo(c.Request.Context(), req.UserID)
	if err != nil {
		respondAuthError(c, err)
		return
	}
	if info == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "user not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user_info": info})
}

// VerifyMAC checks a desktop MAC address binding
// POST /api/verify_mac_address
func (h *Handlers) VerifyMAC(c *gin.Context) {
	var req VerifyMACRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "missing or malformed fields"})
		return
	}

	ok, reason, err := h.service.VerifyMAC(c.Request.Context(), req)
	if err != nil {
		respondAuthError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{"success": false, "allowed": false, "message": reason})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "allowed": true, "message": "mac verified"})
}
