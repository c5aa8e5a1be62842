package payments

import (
	"context"
	"fmt"
	"net/http"
	"time"

	razorpay "github.com/razorpay/razorpay-go"
	"github.com/rs/zerolog"
)

// DefaultTimeout is the default timeout for gateway requests.
const DefaultTimeout = 30 * time.Second

// Order is a payment-gateway order created for a checkout.
type Order struct {
	ID       string
	Amount   int64
	Currency string
	Receipt  string
	Status   string
}

// Payment holds the gateway's record of a completed payment. Email and
// Contact identify the payer for license delivery.
type Payment struct {
	ID      string
	OrderID string
	Email   string
	Contact string
	Status  string
	Method  string
}

// Gateway defines the gateway operations the checkout flow depends on.
type Gateway interface {
	CreateOrder(ctx context.Context, amount int64, currency, receipt string) (*Order, error)
	FetchPayment(ctx context.Context, paymentID string) (*Payment, error)
}

// ClientConfig holds gateway client configuration.
type ClientConfig struct {
	// BaseURL overrides the SDK's API root. Leave empty in production; set
	// to a stub server URL in tests.
	BaseURL string
	// KeyID and KeySecret authenticate API calls.
	KeyID     string
	KeySecret string
	// Timeout for gateway requests (default: 30s).
	Timeout time.Duration
}

// Client implements Gateway on top of the Razorpay SDK.
type Client struct {
	sdk    *razorpay.Client
	logger zerolog.Logger
}

// NewClient creates a gateway client. The SDK does not take a per-call
// context, so cancellation is bounded by the configured request timeout.
func NewClient(cfg ClientConfig, logger zerolog.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	sdk := razorpay.NewClient(cfg.KeyID, cfg.KeySecret)
	// Resources share one underlying request object; configuring it through
	// Order covers Payment as well.
	sdk.Order.Request.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	if cfg.BaseURL != "" {
		sdk.Order.Request.BaseURL = cfg.BaseURL
	}

	return &Client{
		sdk:    sdk,
		logger: logger.With().Str("component", "payment_gateway").Logger(),
	}
}

// CreateOrder creates a gateway order for the given amount in the currency's
// smallest unit.
func (c *Client) CreateOrder(ctx context.Context, amount int64, currency, receipt string) (*Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	body, err := c.sdk.Order.Create(map[string]interface{}{
		"amount":   amount,
		"currency": currency,
		"receipt":  receipt,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	order := &Order{
		ID:       stringField(body, "id"),
		Amount:   intField(body, "amount"),
		Currency: stringField(body, "currency"),
		Receipt:  stringField(body, "receipt"),
		Status:   stringField(body, "status"),
	}

	c.logger.Info().
		Str("order_id", order.ID).
		Int64("amount", order.Amount).
		Str("currency", order.Currency).
		Msg("gateway order created")
	return order, nil
}

// FetchPayment retrieves payment details, including the payer's email and
// contact, after a completed checkout.
func (c *Client) FetchPayment(ctx context.Context, paymentID string) (*Payment, error) {
	if paymentID == "" {
		return nil, fmt.Errorf("payment id is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	body, err := c.sdk.Payment.Fetch(paymentID, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch payment %s: %w", paymentID, err)
	}

	return &Payment{
		ID:      stringField(body, "id"),
		OrderID: stringField(body, "order_id"),
		Email:   stringField(body, "email"),
		Contact: stringField(body, "contact"),
		Status:  stringField(body, "status"),
		Method:  stringField(body, "method"),
	}, nil
}

// stringField reads a string out of a decoded SDK response, tolerating
// missing and null fields.
func stringField(body map[string]interface{}, key string) string {
	s, _ := body[key].(string)
	return s
}

// intField reads a numeric field; the SDK decodes JSON numbers as float64.
func intField(body map[string]interface{}, key string) int64 {
	f, _ := body[key].(float64)
	return int64(f)
}
