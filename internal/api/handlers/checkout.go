package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/keygate-io/keygate/internal/license"
	"github.com/keygate-io/keygate/internal/metrics"
	"github.com/keygate-io/keygate/internal/models"
	"github.com/keygate-io/keygate/internal/notifications"
	"github.com/keygate-io/keygate/internal/payments"
)

// LicenseIssuer issues a new paid license after a verified payment.
type LicenseIssuer interface {
	Issue(ctx context.Context, ownerEmail, ownerContact, subscriptionRef string) (*models.License, error)
}

// LicenseMailer delivers a freshly issued key to its buyer.
type LicenseMailer interface {
	SendLicenseIssued(to string, data notifications.LicenseIssuedData) error
}

// CheckoutConfig holds the purchase parameters for the checkout flow.
type CheckoutConfig struct {
	Amount   int64
	Currency string
}

// CheckoutHandler drives the payment gateway checkout flow: order
// creation, payment signature verification, and license issuance.
type CheckoutHandler struct {
	gateway  payments.Gateway
	verifier *payments.SignatureVerifier
	issuer   LicenseIssuer
	mailer   LicenseMailer
	metrics  *metrics.Metrics
	cfg      CheckoutConfig
	logger   zerolog.Logger
}

// NewCheckoutHandler creates a new CheckoutHandler. mailer may be nil
// when email delivery is not configured.
func NewCheckoutHandler(gateway payments.Gateway, verifier *payments.SignatureVerifier, issuer LicenseIssuer, mailer LicenseMailer, m *metrics.Metrics, cfg CheckoutConfig, logger zerolog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		gateway:  gateway,
		verifier: verifier,
		issuer:   issuer,
		mailer:   mailer,
		metrics:  m,
		cfg:      cfg,
		logger:   logger.With().Str("component", "checkout_handler").Logger(),
	}
}

// RegisterRoutes registers checkout routes on the given router group.
func (h *CheckoutHandler) RegisterRoutes(r *gin.RouterGroup) {
	checkout := r.Group("/checkout")
	{
		checkout.POST("/order", h.CreateOrder)
		checkout.POST("/verify", h.VerifyPayment)
		checkout.POST("/verify-subscription", h.VerifySubscription)
	}
}

// OrderResponse is the response body for order creation.
type OrderResponse struct {
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// CreateOrder opens a new payment order at the gateway for the
// configured purchase amount.
// POST /api/v1/checkout/order
func (h *CheckoutHandler) CreateOrder(c *gin.Context) {
	receipt := "rcpt_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:16]

	order, err := h.gateway.CreateOrder(c.Request.Context(), h.cfg.Amount, h.cfg.Currency, receipt)
	if err != nil {
		h.logger.Error().Err(err).Msg("order creation failed")
		h.metrics.RecordCheckoutFailure()
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to create order"})
		return
	}

	h.logger.Info().Str("order_id", order.ID).Msg("order created")
	c.JSON(http.StatusOK, OrderResponse{
		OrderID:  order.ID,
		Amount:   order.Amount,
		Currency: order.Currency,
	})
}

// VerifyPaymentRequest is the request body for one-time payment verification.
type VerifyPaymentRequest struct {
	OrderID   string `json:"order_id" binding:"required"`
	PaymentID string `json:"payment_id" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

// VerifySubscriptionRequest is the request body for subscription payment
// verification.
type VerifySubscriptionRequest struct {
	PaymentID      string `json:"payment_id" binding:"required"`
	SubscriptionID string `json:"subscription_id" binding:"required"`
	Signature      string `json:"signature" binding:"required"`
}

// CheckoutResult is the response body for payment verification.
type CheckoutResult struct {
	Status     string `json:"status"`
	LicenseKey string `json:"license_key,omitempty"`
}

// VerifyPayment checks the gateway signature over a completed one-time
// payment and issues a license on success.
// POST /api/v1/checkout/verify
func (h *CheckoutHandler) VerifyPayment(c *gin.Context) {
	var req VerifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, CheckoutResult{Status: "failure"})
		return
	}

	if !h.verifier.VerifyOrder(req.OrderID, req.PaymentID, req.Signature) {
		h.logger.Warn().Str("order_id", req.OrderID).Msg("payment signature rejected")
		h.metrics.RecordCheckoutFailure()
		c.JSON(http.StatusBadRequest, CheckoutResult{Status: "failure"})
		return
	}

	h.issueForPayment(c, req.PaymentID, req.OrderID)
}

// VerifySubscription checks the gateway signature over a subscription
// payment and issues a license on success.
// POST /api/v1/checkout/verify-subscription
func (h *CheckoutHandler) VerifySubscription(c *gin.Context) {
	var req VerifySubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, CheckoutResult{Status: "failure"})
		return
	}

	if !h.verifier.VerifySubscription(req.PaymentID, req.SubscriptionID, req.Signature) {
		h.logger.Warn().Str("subscription_id", req.SubscriptionID).Msg("subscription signature rejected")
		h.metrics.RecordCheckoutFailure()
		c.JSON(http.StatusBadRequest, CheckoutResult{Status: "failure"})
		return
	}

	h.issueForPayment(c, req.PaymentID, req.SubscriptionID)
}

// issueForPayment fetches payer details from the gateway, creates a new
// license, and sends the key to the buyer. A failed payer lookup still
// issues the license; a missing email only skips delivery.
func (h *CheckoutHandler) issueForPayment(c *gin.Context, paymentID, subscriptionRef string) {
	email := ""
	contact := ""
	payment, err := h.gateway.FetchPayment(c.Request.Context(), paymentID)
	if err != nil {
		h.logger.Warn().Err(err).Str("payment_id", paymentID).Msg("payer lookup failed, issuing without contact details")
	} else {
		email = payment.Email
		contact = payment.Contact
	}

	lic, err := h.issuer.Issue(c.Request.Context(), email, contact, subscriptionRef)
	if err != nil {
		h.logger.Error().Err(err).Str("payment_id", paymentID).Msg("license issuance failed after verified payment")
		h.metrics.RecordCheckoutFailure()
		c.JSON(http.StatusInternalServerError, CheckoutResult{Status: "failure"})
		return
	}
	h.metrics.RecordIssued()

	if h.mailer != nil && email != "" {
		if err := h.mailer.SendLicenseIssued(email, notifications.LicenseIssuedData{
			LicenseKey: lic.Key,
			OwnerEmail: email,
			IssuedAt:   lic.CreatedAt,
		}); err != nil {
			h.logger.Warn().Err(err).Str("license_key", license.MaskKey(lic.Key)).Msg("license email delivery failed")
		}
	}

	h.logger.Info().
		Str("license_key", license.MaskKey(lic.Key)).
		Str("subscription_ref", subscriptionRef).
		Msg("license issued for verified payment")
	c.JSON(http.StatusOK, CheckoutResult{Status: "success", LicenseKey: lic.Key})
}
