package api

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"

	"aibot-license-server/internal/auth"
	"aibot-license-server/internal/license"
)

// adminAuthMiddleware accepts either a dashboard session JWT in the
// Authorization header or the raw admin key in the request body. The body is
// restored so handlers can bind it again.
func (s *Server) adminAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
			token := strings.TrimPrefix(header, "Bearer ")
			if _, err := s.adminJWT.ValidateSessionToken(token); err == nil {
				c.Next()
				return
			}
		}

		body, err := io.ReadAll(c.Request.Body)
		if err == nil {
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
			var probe struct {
				AdminKey string `json:"admin_key"`
			}
			if json.Unmarshal(body, &probe) == nil && s.adminKeyMatches(probe.AdminKey) {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"message": "admin authentication required",
		})
	}
}

func (s *Server) adminKeyMatches(key string) bool {
	configured := s.config.AdminConfig.AdminKey
	if configured == "" || key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(key)) == 1
}

// handleAdminLogin exchanges the admin key for a dashboard session JWT
// POST /api/admin_login
func (s *Server) handleAdminLogin(c *gin.Context) {
	var req struct {
		AdminKey string `json:"admin_key" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "missing or malformed fields"})
		return
	}
	if !s.adminKeyMatches(req.AdminKey) {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid admin key"})
		return
	}

	token, expiresAt, err := s.adminJWT.GenerateSessionToken()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to issue admin session token")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"session_token": token,
		"expires_at":    expiresAt.UTC().Format(time.RFC3339),
	})
}

// handleCreateLicense issues a new license
// POST /api/create_license
func (s *Server) handleCreateLicense(c *gin.Context) {
	var req struct {
		AdminKey         string `json:"admin_key"`
		CustomerName     string `json:"customer_name"`
		CustomerEmail    string `json:"customer_email"`
		DurationDays     int    `json:"duration_days"`
		SubscriptionType string `json:"subscription_type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "missing or malformed fields"})
		return
	}
	if req.DurationDays == 0 {
		req.DurationDays = s.config.LicenseConfig.DefaultPeriodDays
	}
	if req.SubscriptionType == "" {
		req.SubscriptionType = s.config.LicenseConfig.DefaultSubscriptionType
	}

	lic, err := s.licenseService.Create(c.Request.Context(), license.CreateRequest{
		CustomerName:     req.CustomerName,
		CustomerEmail:    req.CustomerEmail,
		DurationDays:     req.DurationDays,
		SubscriptionType: req.SubscriptionType,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to create license")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "internal server error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":     true,
		"license_key": lic.LicenseKey,
		"expiry_date": lic.ExpiryDate.UTC().Format(time.RFC3339),
	})
}

// handleExtendLicense pushes a license expiry forward and records the payment
// POST /api/extend_license
func (s *Server) handleExtendLicense(c *gin.Context) {
	var req struct {
		AdminKey   string  `json:"admin_key"`
		LicenseKey string  `json:"license_key" binding:"required"`
		PeriodDays int     `json:"period_days" binding:"required"`
		Amount     float64 `json:"amount"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "missing or malformed fields"})
		return
	}

	newExpiry, err := s.licenseService.Extend(c.Request.Context(), req.LicenseKey, license.ExtendRequest{
		PeriodDays: req.PeriodDays,
		Amount:     req.Amount,
	})
	if err != nil {
		respondLicenseError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"expiry_date": newExpiry.UTC().Format(time.RFC3339),
	})
}

// handleListLicenses returns all licenses with usage aggregates
// POST /api/list_licenses
func (s *Server) handleListLicenses(c *gin.Context) {
	licenses, err := s.repo.ListLicenses(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list licenses")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "licenses": licenses, "count": len(licenses)})
}

// handleCreateUser creates an account from the admin side. Admin-created
// accounts start active.
// POST /api/create_user
func (s *Server) handleCreateUser(c *gin.Context) {
	var req struct {
		AdminKey string `json:"admin_key"`
		UserID   string `json:"user_id" binding:"required"`
		Password string `json:"password" binding:"required"`
		Name     string `json:"name" binding:"required"`
		Email    string `json:"email"`
		Phone    string `json:"phone"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "missing or malformed fields"})
		return
	}

	user, err := s.authService.Register(c.Request.Context(), auth.RegisterRequest{
		UserID:   req.UserID,
		Password: req.Password,
		Name:     req.Name,
		Email:    req.Email,
		Phone:    req.Phone,
	})
	if err != nil {
		if authErr, ok := err.(auth.AuthError); ok {
			status := http.StatusBadRequest
			if authErr.Code == auth.ErrUserExists.Code {
				status = http.StatusConflict
			}
			c.JSON(status, gin.H{"success": false, "message": authErr.Message})
			return
		}
		s.logger.Error().Err(err).Msg("Failed to create user")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "internal server error"})
		return
	}

	if err := s.repo.SetUserActive(c.Request.Context(), user.UserID, true); err != nil {
		s.logger.Error().Err(err).Str("user_id", user.UserID).Msg("Failed to activate new user")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "internal server error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "user_id": user.UserID})
}

// handleListUsers returns all accounts with device, expiry and usage columns
// POST /api/list_users
func (s *Server) handleListUsers(c *gin.Context) {
	users, err := s.repo.ListUsers(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list users")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "users": users, "count": len(users)})
}

// handleSetUserActive enables or disables an account
// POST /api/set_user_active
func (s *Server) handleSetUserActive(c *gin.Context) {
	var req struct {
		AdminKey string `json:"admin_key"`
		UserID   string `json:"user_id" binding:"required"`
		Active   *bool  `json:"active" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "missing or malformed fields"})
		return
	}

	if err := s.repo.SetUserActive(c.Request.Context(), req.UserID, *req.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "user not found"})
			return
		}
		s.logger.Error().Err(err).Str("user_id", req.UserID).Msg("Failed to update user state")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handleExtendUserSubscription records a payment and pushes the account's
// subscription expiry forward
// POST /api/extend_user_subscription
func (s *Server) handleExtendUserSubscription(c *gin.Context) {
	var req struct {
		AdminKey   string  `json:"admin_key"`
		UserID     string  `json:"user_id" binding:"required"`
		PeriodDays int     `json:"period_days" binding:"required"`
		Amount     float64 `json:"amount"`
		Method     string  `json:"method"`
		Note       string  `json:"note"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "missing or malformed fields"})
		return
	}
	if req.Method == "" {
		req.Method = "manual"
	}

	user, err := s.repo.GetUserByID(c.Request.Context(), req.UserID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", req.UserID).Msg("Failed to fetch user")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "internal server error"})
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "user not found"})
		return
	}

	newExpiry, err := s.repo.ExtendUserSubscription(c.Request.Context(), req.UserID, req.PeriodDays, req.Amount, req.Method, req.Note)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", req.UserID).Msg("Failed to extend subscription")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "internal server error"})
		return
	}

	if s.eventBus != nil {
		s.eventBus.PublishSubscriptionExtended(req.UserID, req.PeriodDays, newExpiry)
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"expiry_date": newExpiry.UTC().Format(time.RFC3339),
	})
}

// handleStats returns totals across licenses, users and revenue
// POST /api/stats
func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.repo.GetAdminStats(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to compute stats")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": stats})
}
