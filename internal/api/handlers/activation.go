package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/keygate-io/keygate/internal/license"
	"github.com/keygate-io/keygate/internal/metrics"
	"github.com/keygate-io/keygate/internal/models"
)

// Client-facing activation messages. Desktop clients display these
// verbatim, so they are part of the API contract.
const (
	msgInvalidKey     = "Invalid or Expired License Key"
	msgActivated      = "License activated and locked to this device."
	msgAccessGranted  = "Access Granted"
	msgDeviceMismatch = "License already in use on another device."
	msgTrialEnded     = "Trial period has ended."
	msgTrialClaimed   = "Trial already claimed on this device."
	msgTrialStarted   = "Trial activated on this device."
	msgUnavailable    = "Service temporarily unavailable, please retry."
)

// ActivationLifecycle defines the license operations the activation
// endpoints need.
type ActivationLifecycle interface {
	Verify(ctx context.Context, key, hardwareID string) (license.Decision, error)
	RegisterTrial(ctx context.Context, hardwareID string) (*models.License, error)
}

// ActivationHandler handles license activation and trial registration.
type ActivationHandler struct {
	lifecycle ActivationLifecycle
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// NewActivationHandler creates a new ActivationHandler.
func NewActivationHandler(lifecycle ActivationLifecycle, m *metrics.Metrics, logger zerolog.Logger) *ActivationHandler {
	return &ActivationHandler{
		lifecycle: lifecycle,
		metrics:   m,
		logger:    logger.With().Str("component", "activation_handler").Logger(),
	}
}

// RegisterRoutes registers activation routes on the given router group.
func (h *ActivationHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/activate", h.Activate)
	r.POST("/trial", h.RegisterTrial)
}

// ActivateRequest is the request body for license activation.
type ActivateRequest struct {
	LicenseKey string `json:"license_key" binding:"required"`
	HardwareID string `json:"hardware_id" binding:"required"`
}

// ActivateResponse is the response body for license activation.
type ActivateResponse struct {
	Granted bool   `json:"granted"`
	Message string `json:"message"`
}

// Activate verifies a license key against a hardware fingerprint. The
// first successful verification locks the key to that device.
// POST /api/v1/activate
func (h *ActivationHandler) Activate(c *gin.Context) {
	var req ActivateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ActivateResponse{Granted: false, Message: msgInvalidKey})
		return
	}

	decision, err := h.lifecycle.Verify(c.Request.Context(), req.LicenseKey, req.HardwareID)
	if err != nil {
		h.logger.Error().Err(err).Msg("license verification failed")
		h.metrics.RecordVerify("error")
		c.JSON(http.StatusServiceUnavailable, ActivateResponse{Granted: false, Message: msgUnavailable})
		return
	}

	if !decision.Granted {
		h.metrics.RecordVerify(string(decision.Reason))
		h.logger.Info().
			Str("key", license.MaskKey(req.LicenseKey)).
			Str("reason", string(decision.Reason)).
			Msg("verification denied")
		c.JSON(http.StatusOK, ActivateResponse{Granted: false, Message: denialMessage(decision)})
		return
	}

	h.metrics.RecordVerify("granted")
	message := msgAccessGranted
	if decision.FirstActivation {
		message = msgActivated
	}
	h.logger.Info().
		Str("key", license.MaskKey(req.LicenseKey)).
		Bool("first_activation", decision.FirstActivation).
		Msg("verification granted")
	c.JSON(http.StatusOK, ActivateResponse{Granted: true, Message: message})
}

// denialMessage maps a denial decision to its client-facing message.
func denialMessage(decision license.Decision) string {
	switch decision.Reason {
	case license.DenialDeviceMismatch:
		return msgDeviceMismatch
	case license.DenialExpired:
		if decision.License != nil && decision.License.IsTrial() {
			return msgTrialEnded
		}
		return msgInvalidKey
	default:
		return msgInvalidKey
	}
}

// TrialRequest is the request body for trial registration.
type TrialRequest struct {
	HardwareID string `json:"hardware_id" binding:"required"`
}

// TrialResponse is the response body for trial registration.
type TrialResponse struct {
	Granted    bool   `json:"granted"`
	Message    string `json:"message"`
	LicenseKey string `json:"license_key,omitempty"`
	ExpiresAt  string `json:"expires_at,omitempty"`
}

// RegisterTrial creates a time-limited trial license bound to the
// requesting device. Each device may claim at most one trial, ever.
// POST /api/v1/trial
func (h *ActivationHandler) RegisterTrial(c *gin.Context) {
	var req TrialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, TrialResponse{Granted: false, Message: "hardware_id is required"})
		return
	}

	lic, err := h.lifecycle.RegisterTrial(c.Request.Context(), req.HardwareID)
	if err != nil {
		switch {
		case errors.Is(err, license.ErrTrialAlreadyClaimed):
			h.metrics.RecordTrial("rejected")
			c.JSON(http.StatusOK, TrialResponse{Granted: false, Message: msgTrialClaimed})
		case errors.Is(err, license.ErrEmptyHardwareID):
			c.JSON(http.StatusBadRequest, TrialResponse{Granted: false, Message: "hardware_id is required"})
		default:
			h.logger.Error().Err(err).Msg("trial registration failed")
			h.metrics.RecordTrial("error")
			c.JSON(http.StatusServiceUnavailable, TrialResponse{Granted: false, Message: msgUnavailable})
		}
		return
	}

	h.metrics.RecordTrial("granted")
	h.logger.Info().
		Str("key", license.MaskKey(lic.Key)).
		Time("expires_at", *lic.ExpiresAt).
		Msg("trial registered")

	c.JSON(http.StatusOK, TrialResponse{
		Granted:    true,
		Message:    msgTrialStarted,
		LicenseKey: lic.Key,
		ExpiresAt:  lic.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	})
}
