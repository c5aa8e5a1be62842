// Package auth provides API key handling for the administrative endpoints.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// APIKeyPrefix is the prefix for all Keygate admin API keys.
	APIKeyPrefix = "kgt_"
	// APIKeyLength is the expected length of the hex portion of the API key.
	APIKeyLength = 64 // 32 bytes = 64 hex chars
)

// GenerateAPIKey creates a new random admin API key.
func GenerateAPIKey() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return APIKeyPrefix + hex.EncodeToString(raw), nil
}

// IsValidAPIKeyFormat checks if the API key has the correct format.
func IsValidAPIKeyFormat(apiKey string) bool {
	if !strings.HasPrefix(apiKey, APIKeyPrefix) {
		return false
	}
	hexPart := strings.TrimPrefix(apiKey, APIKeyPrefix)
	if len(hexPart) != APIKeyLength {
		return false
	}
	_, err := hex.DecodeString(hexPart)
	return err == nil
}

// CompareAPIKey compares a presented key with the configured key using a
// constant-time comparison over SHA-256 digests.
func CompareAPIKey(presented, configured string) bool {
	if configured == "" {
		return false
	}
	presentedHash := sha256.Sum256([]byte(presented))
	configuredHash := sha256.Sum256([]byte(configured))
	return subtle.ConstantTimeCompare(presentedHash[:], configuredHash[:]) == 1
}

// ExtractBearerToken extracts the token from an Authorization header value.
// Returns empty string if the header is not a valid Bearer token.
func ExtractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) < len(prefix) {
		return ""
	}
	if !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(prefix):])
}
