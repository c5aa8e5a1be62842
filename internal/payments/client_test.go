package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewClient(ClientConfig{
		BaseURL:   srv.URL,
		KeyID:     "key_id",
		KeySecret: "key_secret",
	}, zerolog.Nop())
	return client, srv
}

func TestCreateOrder(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/orders" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key_id" || pass != "key_secret" {
			t.Error("missing or wrong basic auth credentials")
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		if body["amount"] != float64(3000) || body["currency"] != "INR" || body["receipt"] != "rcpt_1" {
			t.Errorf("unexpected order request body: %v", body)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"id":       "order_abc",
			"amount":   3000,
			"currency": "INR",
			"receipt":  "rcpt_1",
			"status":   "created",
		})
	})

	order, err := client.CreateOrder(context.Background(), 3000, "INR", "rcpt_1")
	if err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}
	if order.ID != "order_abc" {
		t.Errorf("order.ID = %q, want order_abc", order.ID)
	}
	if order.Amount != 3000 || order.Currency != "INR" {
		t.Errorf("order = %+v", order)
	}
}

func TestCreateOrderGatewayError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"bad credentials"}}`))
	})

	_, err := client.CreateOrder(context.Background(), 3000, "INR", "rcpt_1")
	if err == nil {
		t.Fatal("CreateOrder() error = nil on gateway 401")
	}
}

func TestFetchPayment(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/payments/pay_123" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":       "pay_123",
			"order_id": "order_abc",
			"email":    "buyer@example.com",
			"contact":  "+15550100",
			"status":   "captured",
			"method":   "card",
		})
	})

	payment, err := client.FetchPayment(context.Background(), "pay_123")
	if err != nil {
		t.Fatalf("FetchPayment() error = %v", err)
	}
	if payment.Email != "buyer@example.com" {
		t.Errorf("payment.Email = %q", payment.Email)
	}
	if payment.Contact != "+15550100" {
		t.Errorf("payment.Contact = %q", payment.Contact)
	}
	if payment.OrderID != "order_abc" {
		t.Errorf("payment.OrderID = %q", payment.OrderID)
	}
}

func TestFetchPaymentEmptyID(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request made for empty payment id")
	})

	if _, err := client.FetchPayment(context.Background(), ""); err == nil {
		t.Fatal("FetchPayment(\"\") error = nil")
	}
}

func TestFetchPaymentMalformedResponse(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	})

	if _, err := client.FetchPayment(context.Background(), "pay_123"); err == nil {
		t.Fatal("FetchPayment() error = nil on malformed response")
	}
}

func TestFetchPaymentCancelledContext(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request made with a cancelled context")
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := client.FetchPayment(ctx, "pay_123"); err == nil {
		t.Fatal("FetchPayment() error = nil with cancelled context")
	}
}
