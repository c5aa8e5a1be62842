package models

import (
	"time"

	"github.com/google/uuid"
)

// TrialSubscriptionRef is the sentinel subscription reference used for
// free-trial licenses instead of a payment-gateway subscription ID.
const TrialSubscriptionRef = "FREE-TRIAL"

// LicenseStatus represents the current status of a license.
type LicenseStatus string

const (
	// LicenseStatusActive indicates the license can be activated and verified.
	LicenseStatusActive LicenseStatus = "active"
	// LicenseStatusExpired indicates a time-boxed license passed its expiry. Terminal.
	LicenseStatusExpired LicenseStatus = "expired"
	// LicenseStatusCancelled indicates the license was revoked externally. Terminal.
	LicenseStatusCancelled LicenseStatus = "cancelled"
)

// IsTerminal reports whether the status is a state a license never leaves.
func (s LicenseStatus) IsTerminal() bool {
	return s == LicenseStatusExpired || s == LicenseStatusCancelled
}

// IsValid checks if the status is a recognized value.
func (s LicenseStatus) IsValid() bool {
	switch s {
	case LicenseStatusActive, LicenseStatusExpired, LicenseStatusCancelled:
		return true
	}
	return false
}

// License represents a license key record. HardwareID is nil until the first
// successful activation and never changes once set. ExpiresAt is nil for paid
// licenses, which do not expire automatically.
type License struct {
	ID              uuid.UUID     `json:"id"`
	Key             string        `json:"license_key"`
	OwnerEmail      string        `json:"owner_email,omitempty"`
	OwnerContact    string        `json:"owner_contact,omitempty"`
	SubscriptionRef string        `json:"subscription_ref"`
	HardwareID      *string       `json:"hardware_id,omitempty"`
	Status          LicenseStatus `json:"status"`
	ExpiresAt       *time.Time    `json:"expires_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// IsTrial reports whether the license is a free-trial record.
func (l *License) IsTrial() bool {
	return l.SubscriptionRef == TrialSubscriptionRef
}

// IsBound reports whether the license is locked to a device.
func (l *License) IsBound() bool {
	return l.HardwareID != nil && *l.HardwareID != ""
}

// IsExpiredAt reports whether the license has an expiry that has passed at
// the given instant. Paid licenses never expire.
func (l *License) IsExpiredAt(now time.Time) bool {
	return l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}

// NewLicense creates a paid license record with the given key.
func NewLicense(key, ownerEmail, subscriptionRef string) *License {
	now := time.Now()
	return &License{
		ID:              uuid.New(),
		Key:             key,
		OwnerEmail:      ownerEmail,
		SubscriptionRef: subscriptionRef,
		Status:          LicenseStatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// NewTrialLicense creates a trial license record bound to the given device.
// Trials bind at issuance rather than on first verify.
func NewTrialLicense(key, hardwareID string, expiresAt time.Time) *License {
	now := time.Now()
	return &License{
		ID:              uuid.New(),
		Key:             key,
		SubscriptionRef: TrialSubscriptionRef,
		HardwareID:      &hardwareID,
		Status:          LicenseStatusActive,
		ExpiresAt:       &expiresAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
