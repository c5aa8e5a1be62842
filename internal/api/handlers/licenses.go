package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/keygate-io/keygate/internal/license"
	"github.com/keygate-io/keygate/internal/models"
)

// LicenseReader looks up license records for the admin API.
type LicenseReader interface {
	GetLicenseByKey(ctx context.Context, key string) (*models.License, error)
	FindLicenseByHardwareID(ctx context.Context, hardwareID string) (*models.License, error)
}

// AdminLifecycle defines the license operations the admin API needs.
type AdminLifecycle interface {
	Issue(ctx context.Context, ownerEmail, ownerContact, subscriptionRef string) (*models.License, error)
	Cancel(ctx context.Context, key string) error
}

// LicenseHandler handles the authenticated license administration API.
type LicenseHandler struct {
	store     LicenseReader
	lifecycle AdminLifecycle
	logger    zerolog.Logger
}

// NewLicenseHandler creates a new LicenseHandler.
func NewLicenseHandler(store LicenseReader, lifecycle AdminLifecycle, logger zerolog.Logger) *LicenseHandler {
	return &LicenseHandler{
		store:     store,
		lifecycle: lifecycle,
		logger:    logger.With().Str("component", "license_handler").Logger(),
	}
}

// RegisterRoutes registers admin license routes on the given router group.
func (h *LicenseHandler) RegisterRoutes(r *gin.RouterGroup) {
	licenses := r.Group("/licenses")
	{
		licenses.GET("", h.Lookup)
		licenses.POST("", h.Create)
		licenses.GET("/:key", h.Get)
		licenses.POST("/:key/cancel", h.Cancel)
	}
}

// LicenseResponse is the admin API representation of a license.
type LicenseResponse struct {
	ID              string     `json:"id"`
	Key             string     `json:"key"`
	OwnerEmail      string     `json:"owner_email,omitempty"`
	OwnerContact    string     `json:"owner_contact,omitempty"`
	SubscriptionRef string     `json:"subscription_ref"`
	HardwareID      *string    `json:"hardware_id"`
	Status          string     `json:"status"`
	Trial           bool       `json:"trial"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func toLicenseResponse(lic *models.License) LicenseResponse {
	return LicenseResponse{
		ID:              lic.ID.String(),
		Key:             lic.Key,
		OwnerEmail:      lic.OwnerEmail,
		OwnerContact:    lic.OwnerContact,
		SubscriptionRef: lic.SubscriptionRef,
		HardwareID:      lic.HardwareID,
		Status:          string(lic.Status),
		Trial:           lic.IsTrial(),
		ExpiresAt:       lic.ExpiresAt,
		CreatedAt:       lic.CreatedAt,
		UpdatedAt:       lic.UpdatedAt,
	}
}

// Get returns a single license by key.
// GET /api/v1/admin/licenses/:key
func (h *LicenseHandler) Get(c *gin.Context) {
	key := license.NormalizeKey(c.Param("key"))

	lic, err := h.store.GetLicenseByKey(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, license.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "license not found"})
			return
		}
		h.logger.Error().Err(err).Msg("license lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load license"})
		return
	}

	c.JSON(http.StatusOK, toLicenseResponse(lic))
}

// Lookup finds the license bound to a hardware fingerprint.
// GET /api/v1/admin/licenses?hardware_id=...
func (h *LicenseHandler) Lookup(c *gin.Context) {
	hardwareID := c.Query("hardware_id")
	if hardwareID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "hardware_id query parameter is required"})
		return
	}

	lic, err := h.store.FindLicenseByHardwareID(c.Request.Context(), hardwareID)
	if err != nil {
		if errors.Is(err, license.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no license bound to this device"})
			return
		}
		h.logger.Error().Err(err).Msg("license lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load license"})
		return
	}

	c.JSON(http.StatusOK, toLicenseResponse(lic))
}

// CreateLicenseRequest is the request body for manual license issuance.
type CreateLicenseRequest struct {
	OwnerEmail      string `json:"owner_email"`
	OwnerContact    string `json:"owner_contact"`
	SubscriptionRef string `json:"subscription_ref" binding:"required"`
}

// Create issues a license outside the checkout flow, for manual sales
// or support replacements.
// POST /api/v1/admin/licenses
func (h *LicenseHandler) Create(c *gin.Context) {
	var req CreateLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "subscription_ref is required"})
		return
	}
	if req.SubscriptionRef == models.TrialSubscriptionRef {
		c.JSON(http.StatusBadRequest, gin.H{"error": "trial licenses are issued through the trial endpoint"})
		return
	}

	lic, err := h.lifecycle.Issue(c.Request.Context(), req.OwnerEmail, req.OwnerContact, req.SubscriptionRef)
	if err != nil {
		h.logger.Error().Err(err).Msg("manual license issuance failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue license"})
		return
	}

	c.JSON(http.StatusCreated, toLicenseResponse(lic))
}

// Cancel marks a license as cancelled. Cancelling an already terminal
// license is a no-op.
// POST /api/v1/admin/licenses/:key/cancel
func (h *LicenseHandler) Cancel(c *gin.Context) {
	key := license.NormalizeKey(c.Param("key"))

	if err := h.lifecycle.Cancel(c.Request.Context(), key); err != nil {
		if errors.Is(err, license.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "license not found"})
			return
		}
		h.logger.Error().Err(err).Msg("license cancellation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel license"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}
