// Package license implements the license lifecycle: issuance, trial
// registration, activation with hardware binding, and expiry transitions.
package license

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"
)

const (
	// KeyPrefix is the prefix for all Keygate license keys.
	KeyPrefix = "KGT"
	// keyEntropyBytes is the number of random bytes per key (72 bits).
	keyEntropyBytes = 9
	// KeyLength is the full formatted key length: KGT-XXXXX-XXXXX-XXXXX.
	KeyLength = 21
)

// keyEncoding is base32 without padding; 9 bytes encode to 15 characters.
var keyEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateKey creates a new random license key in the form
// KGT-XXXXX-XXXXX-XXXXX. Uniqueness is enforced at insert time, not here.
func GenerateKey() (string, error) {
	raw := make([]byte, keyEntropyBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate key entropy: %w", err)
	}
	enc := keyEncoding.EncodeToString(raw)
	return fmt.Sprintf("%s-%s-%s-%s", KeyPrefix, enc[0:5], enc[5:10], enc[10:15]), nil
}

// NormalizeKey uppercases a license key and strips surrounding whitespace so
// keys pasted from emails compare consistently.
func NormalizeKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

// ValidateKeyFormat checks that a key looks like a Keygate license key. It
// does not check existence.
func ValidateKeyFormat(key string) error {
	key = NormalizeKey(key)
	if len(key) != KeyLength {
		return fmt.Errorf("license key must be %d characters, got %d", KeyLength, len(key))
	}
	parts := strings.Split(key, "-")
	if len(parts) != 4 || parts[0] != KeyPrefix {
		return fmt.Errorf("license key must have the form %s-XXXXX-XXXXX-XXXXX", KeyPrefix)
	}
	for _, group := range parts[1:] {
		if len(group) != 5 {
			return fmt.Errorf("license key must have the form %s-XXXXX-XXXXX-XXXXX", KeyPrefix)
		}
		for _, ch := range group {
			if !strings.ContainsRune("ABCDEFGHIJKLMNOPQRSTUVWXYZ234567", ch) {
				return fmt.Errorf("license key contains invalid character %q", ch)
			}
		}
	}
	return nil
}
