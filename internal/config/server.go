// Package config provides configuration management for Keygate.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Environment represents the deployment environment.
type Environment string

const (
	// EnvDevelopment is the default local development environment.
	EnvDevelopment Environment = "development"
	// EnvStaging is the staging/pre-production environment.
	EnvStaging Environment = "staging"
	// EnvProduction is the production environment.
	EnvProduction Environment = "production"
)

// ServerConfig holds server-level configuration loaded from environment variables.
type ServerConfig struct {
	Environment Environment

	// TrialDays is the free-trial duration in days (default: 7).
	TrialDays int

	// AdminAPIKey guards the administrative license endpoints. Empty
	// disables them entirely.
	AdminAPIKey string

	// Checkout settings: price in the currency's smallest unit.
	CheckoutAmount   int64
	CheckoutCurrency string

	// Payment gateway credentials. KeySecret is also the HMAC secret for
	// completion-claim signatures. GatewayBaseURL is empty by default so the
	// SDK talks to the real gateway; set PAYMENT_BASE_URL to point at a stub.
	GatewayBaseURL   string
	GatewayKeyID     string
	GatewayKeySecret string

	// SMTP settings for license delivery email. Empty host disables delivery.
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPTLS      bool
}

// LoadServerConfig reads server configuration from environment variables.
func LoadServerConfig() ServerConfig {
	env := Environment(os.Getenv("ENV"))
	switch env {
	case EnvDevelopment, EnvStaging, EnvProduction:
		// valid
	default:
		env = EnvDevelopment
	}

	trialDays := getEnvInt("TRIAL_DAYS", 7)
	if trialDays <= 0 {
		trialDays = 7
	}

	checkoutAmount := int64(getEnvInt("CHECKOUT_AMOUNT", 3000))
	if checkoutAmount <= 0 {
		checkoutAmount = 3000
	}

	checkoutCurrency := os.Getenv("CHECKOUT_CURRENCY")
	if checkoutCurrency == "" {
		checkoutCurrency = "INR"
	}

	return ServerConfig{
		Environment:      env,
		TrialDays:        trialDays,
		AdminAPIKey:      os.Getenv("ADMIN_API_KEY"),
		CheckoutAmount:   checkoutAmount,
		CheckoutCurrency: checkoutCurrency,
		GatewayBaseURL:   os.Getenv("PAYMENT_BASE_URL"),
		GatewayKeyID:     os.Getenv("PAYMENT_KEY_ID"),
		GatewayKeySecret: os.Getenv("PAYMENT_KEY_SECRET"),
		SMTPHost:         os.Getenv("SMTP_HOST"),
		SMTPPort:         getEnvInt("SMTP_PORT", 587),
		SMTPUsername:     os.Getenv("SMTP_USERNAME"),
		SMTPPassword:     os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:         os.Getenv("SMTP_FROM"),
		SMTPTLS:          getEnvBool("SMTP_TLS", true),
	}
}

// getEnvBool reads a boolean from an environment variable, returning the default if unset or invalid.
func getEnvBool(key string, defaultVal bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultVal
	}
}

// getEnvInt reads an integer from an environment variable, returning the default if unset or invalid.
func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}
