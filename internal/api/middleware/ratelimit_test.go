package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func setupRateLimitedRouter(t *testing.T, requests int64, period string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	limiter, err := NewRateLimiter(requests, period, "")
	if err != nil {
		t.Fatalf("NewRateLimiter() error = %v", err)
	}

	r := gin.New()
	r.Use(limiter)
	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})
	return r
}

func TestRateLimiterAllowsUnderLimit(t *testing.T) {
	r := setupRateLimitedRouter(t, 5, "1m")

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i+1, w.Code, http.StatusOK)
		}
	}
}

func TestRateLimiterBlocksOverLimit(t *testing.T) {
	r := setupRateLimitedRouter(t, 2, "1m")

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i+1, w.Code, http.StatusOK)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("over-limit request: status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
}

func TestNewRateLimiterInvalidPeriod(t *testing.T) {
	if _, err := NewRateLimiter(100, "not-a-duration", ""); err == nil {
		t.Error("NewRateLimiter() error = nil for invalid period")
	}
}

func TestNewRateLimiterInvalidRedisURL(t *testing.T) {
	if _, err := NewRateLimiter(100, "1m", "://not-a-url"); err == nil {
		t.Error("NewRateLimiter() error = nil for invalid redis URL")
	}
}
