package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"aibot-license-server/internal/database"
	"aibot-license-server/internal/license"
)

func respondLicenseError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, license.ErrBadKeyFormat):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "malformed license key"})
	case errors.Is(err, license.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "license not found"})
	case errors.Is(err, license.ErrHardwareMismatch):
		c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "license is activated on different hardware", "code": "HARDWARE_MISMATCH"})
	case errors.Is(err, license.ErrExpired):
		c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "license has expired", "code": "EXPIRED"})
	case errors.Is(err, license.ErrInactive):
		c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "license is deactivated", "code": "DEACTIVATED"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "internal server error"})
	}
}

// handleActivate binds a license to a machine
// POST /api/activate
func (s *Server) handleActivate(c *gin.Context) {
	var req struct {
		LicenseKey    string `json:"license_key" binding:"required"`
		HardwareID    string `json:"hardware_id" binding:"required"`
		CustomerName  string `json:"customer_name"`
		CustomerEmail string `json:"customer_email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "missing or malformed fields"})
		return
	}

	lic, err := s.licenseService.Activate(c.Request.Context(), req.LicenseKey, req.HardwareID, req.CustomerName, req.CustomerEmail)
	if err != nil {
		respondLicenseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"message":       "license activated",
		"customer_name": lic.CustomerName,
		"expiry_date":   lic.ExpiryDate.UTC().Format(time.RFC3339),
	})
}

// handleVerify checks a license against a machine
// POST /api/verify
func (s *Server) handleVerify(c *gin.Context) {
	var req struct {
		LicenseKey string `json:"license_key" binding:"required"`
		HardwareID string `json:"hardware_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "missing or malformed fields"})
		return
	}

	result, err := s.licenseService.Verify(c.Request.Context(), req.LicenseKey, req.HardwareID)
	if err != nil {
		respondLicenseError(c, err)
		return
	}

	body := gin.H{"success": true, "valid": result.Valid}
	if result.Valid {
		body["customer_name"] = result.CustomerName
		body["expiry_date"] = result.ExpiryDate.UTC().Format(time.RFC3339)
	} else {
		body["reason"] = result.Reason
	}
	c.JSON(http.StatusOK, body)
}

// handleLicenseInfo returns the license record without a hardware check
// POST /api/license_info
func (s *Server) handleLicenseInfo(c *gin.Context) {
	var req struct {
		LicenseKey string `json:"license_key" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "missing or malformed fields"})
		return
	}

	lic, err := s.licenseService.Info(c.Request.Context(), req.LicenseKey)
	if err != nil {
		respondLicenseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"license": gin.H{
			"license_key":       lic.LicenseKey,
			"customer_name":     lic.CustomerName,
			"activated":         lic.HardwareID != nil,
			"expiry_date":       lic.ExpiryDate.UTC().Format(time.RFC3339),
			"is_active":         lic.IsActive,
			"subscription_type": lic.SubscriptionType,
			"last_verified":     lic.LastVerified,
		},
	})
}

// handleRecordUsage stores one desktop run's telemetry
// POST /api/record_usage
func (s *Server) handleRecordUsage(c *gin.Context) {
	var req struct {
		LicenseKey    string `json:"license_key" binding:"required"`
		TotalInvoices int    `json:"total_invoices"`
		SuccessCount  int    `json:"success_count"`
		FailCount     int    `json:"fail_count"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "missing or malformed fields"})
		return
	}

	err := s.licenseService.RecordUsage(c.Request.Context(), req.LicenseKey, license.UsageReport{
		TotalInvoices: req.TotalInvoices,
		SuccessCount:  req.SuccessCount,
		FailCount:     req.FailCount,
	})
	if err != nil {
		respondLicenseError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "usage recorded"})
}

// handleRecordUserUsage stores one run's telemetry for a user account
// POST /api/record_user_usage
func (s *Server) handleRecordUserUsage(c *gin.Context) {
	var req struct {
		UserID        string `json:"user_id" binding:"required"`
		TotalInvoices int    `json:"total_invoices"`
		SuccessCount  int    `json:"success_count"`
		FailCount     int    `json:"fail_count"`
		MACAddress    string `json:"mac_address"`
		HardwareID    string `json:"hardware_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "missing or malformed fields"})
		return
	}

	stat := &database.UserUsageStat{
		UserID:        req.UserID,
		TotalInvoices: req.TotalInvoices,
		SuccessCount:  req.SuccessCount,
		FailCount:     req.FailCount,
		MACAddress:    req.MACAddress,
		HardwareID:    req.HardwareID,
	}
	if err := s.repo.RecordUserUsage(c.Request.Context(), stat); err != nil {
		s.logger.Error().Err(err).Str("user_id", req.UserID).Msg("Failed to record user usage")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "internal server error"})
		return
	}
	if s.eventBus != nil {
		s.eventBus.PublishUsageRecorded(req.UserID, "run")
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "usage recorded"})
}
