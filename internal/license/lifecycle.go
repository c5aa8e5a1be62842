package license

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/keygate-io/keygate/internal/models"
	"github.com/rs/zerolog"
)

// DefaultTrialDays is the default trial period in days.
const DefaultTrialDays = 7

// maxKeyAttempts bounds insert retries on key collision. Exhausting it
// signals a systemic entropy or store problem, not bad luck.
const maxKeyAttempts = 5

var (
	// ErrNotFound indicates no license record exists for the given key.
	ErrNotFound = errors.New("license not found")
	// ErrAlreadyExists indicates a license key collision on insert.
	ErrAlreadyExists = errors.New("license key already exists")
	// ErrDuplicateKey indicates key generation kept colliding on insert.
	ErrDuplicateKey = errors.New("could not generate a unique license key")
	// ErrTrialAlreadyClaimed indicates the device already claimed a trial.
	ErrTrialAlreadyClaimed = errors.New("trial already claimed on this device")
	// ErrEmptyHardwareID indicates a missing hardware identifier.
	ErrEmptyHardwareID = errors.New("hardware id is required")
)

// Store defines the persistence operations the lifecycle depends on. All
// compare-and-set operations must be linearizable per key.
type Store interface {
	GetLicenseByKey(ctx context.Context, key string) (*models.License, error)
	InsertLicense(ctx context.Context, lic *models.License) error
	// CompareAndSetHardwareID binds the license to a device only if it is
	// currently unbound. Returns false when another device won the race.
	CompareAndSetHardwareID(ctx context.Context, key, hardwareID string) (bool, error)
	// CompareAndSetStatus flips status only if the current status matches.
	CompareAndSetStatus(ctx context.Context, key string, from, to models.LicenseStatus) (bool, error)
	FindLicenseByHardwareID(ctx context.Context, hardwareID string) (*models.License, error)
	// InsertTrialIfUnclaimed atomically inserts a trial record unless any
	// license is already bound to the same hardware ID.
	InsertTrialIfUnclaimed(ctx context.Context, lic *models.License) (bool, error)
}

// DenialReason classifies why a Verify call was denied.
type DenialReason string

const (
	// DenialKeyNotFound means no record exists for the presented key.
	DenialKeyNotFound DenialReason = "key_not_found"
	// DenialInactive means the license was cancelled.
	DenialInactive DenialReason = "inactive"
	// DenialExpired means the license passed its expiry, whether the status
	// flipped on this call or an earlier one.
	DenialExpired DenialReason = "expired"
	// DenialDeviceMismatch means the license is locked to another device.
	DenialDeviceMismatch DenialReason = "device_mismatch"
)

// Decision is the outcome of a Verify call.
type Decision struct {
	Granted bool
	// FirstActivation is true when this call bound the license to the device.
	FirstActivation bool
	Reason          DenialReason
	License         *models.License
}

// Config holds lifecycle tunables.
type Config struct {
	// TrialDays is the trial duration in days (default: 7).
	TrialDays int
	// Now returns the current time; overridable for tests.
	Now func() time.Time
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		TrialDays: DefaultTrialDays,
		Now:       time.Now,
	}
}

// Lifecycle enforces the license state machine on top of the store's
// conditional-write primitives. It holds no state of its own and is safe for
// concurrent use.
type Lifecycle struct {
	store     Store
	trialDays int
	now       func() time.Time
	logger    zerolog.Logger
}

// NewLifecycle creates a Lifecycle backed by the given store.
func NewLifecycle(store Store, cfg Config, logger zerolog.Logger) *Lifecycle {
	if cfg.TrialDays <= 0 {
		cfg.TrialDays = DefaultTrialDays
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Lifecycle{
		store:     store,
		trialDays: cfg.TrialDays,
		now:       cfg.Now,
		logger:    logger.With().Str("component", "license_lifecycle").Logger(),
	}
}

// Issue creates a paid license with a freshly generated key. A key collision
// on insert is retried with a new key; only repeated collisions surface as
// ErrDuplicateKey.
func (lc *Lifecycle) Issue(ctx context.Context, ownerEmail, ownerContact, subscriptionRef string) (*models.License, error) {
	for attempt := 0; attempt < maxKeyAttempts; attempt++ {
		key, err := GenerateKey()
		if err != nil {
			return nil, err
		}

		lic := models.NewLicense(key, ownerEmail, subscriptionRef)
		lic.OwnerContact = ownerContact
		err = lc.store.InsertLicense(ctx, lic)
		if err == nil {
			lc.logger.Info().
				Str("license_key", MaskKey(key)).
				Str("subscription_ref", subscriptionRef).
				Msg("license issued")
			return lic, nil
		}
		if errors.Is(err, ErrAlreadyExists) {
			lc.logger.Warn().Int("attempt", attempt+1).Msg("license key collision, retrying with a new key")
			continue
		}
		return nil, fmt.Errorf("insert license: %w", err)
	}
	return nil, ErrDuplicateKey
}

// RegisterTrial creates a trial license bound to the given device. A device
// that already holds any license record is rejected with
// ErrTrialAlreadyClaimed; the existence check and insert are a single atomic
// store operation so concurrent claims from the same device cannot both
// succeed.
func (lc *Lifecycle) RegisterTrial(ctx context.Context, hardwareID string) (*models.License, error) {
	if hardwareID == "" {
		return nil, ErrEmptyHardwareID
	}

	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}

	expiresAt := lc.now().AddDate(0, 0, lc.trialDays)
	lic := models.NewTrialLicense(key, hardwareID, expiresAt)

	inserted, err := lc.store.InsertTrialIfUnclaimed(ctx, lic)
	if err != nil {
		return nil, fmt.Errorf("insert trial license: %w", err)
	}
	if !inserted {
		return nil, ErrTrialAlreadyClaimed
	}

	lc.logger.Info().
		Str("license_key", MaskKey(key)).
		Time("expires_at", expiresAt).
		Msg("trial license registered")
	return lic, nil
}

// Verify checks a license key against a presenting device and binds the key
// to the device on first use. Expiry is checked before binding so an expired
// trial can never be rehomed to a new device by a late verify call. The
// returned error is non-nil only for store failures; every business outcome
// is a Decision.
func (lc *Lifecycle) Verify(ctx context.Context, key, hardwareID string) (Decision, error) {
	if hardwareID == "" {
		return Decision{}, ErrEmptyHardwareID
	}
	key = NormalizeKey(key)

	lic, err := lc.store.GetLicenseByKey(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Decision{Reason: DenialKeyNotFound}, nil
		}
		return Decision{}, fmt.Errorf("get license: %w", err)
	}

	if lic.Status != models.LicenseStatusActive {
		if lic.Status == models.LicenseStatusExpired {
			return Decision{Reason: DenialExpired, License: lic}, nil
		}
		return Decision{Reason: DenialInactive, License: lic}, nil
	}

	if lic.IsExpiredAt(lc.now()) {
		// Idempotent: the CAS is a no-op if another request already flipped it.
		if _, err := lc.store.CompareAndSetStatus(ctx, key, models.LicenseStatusActive, models.LicenseStatusExpired); err != nil {
			return Decision{}, fmt.Errorf("expire license: %w", err)
		}
		lc.logger.Info().Str("license_key", MaskKey(key)).Msg("license expired on verify")
		return Decision{Reason: DenialExpired, License: lic}, nil
	}

	if !lic.IsBound() {
		bound, err := lc.store.CompareAndSetHardwareID(ctx, key, hardwareID)
		if err != nil {
			return Decision{}, fmt.Errorf("bind hardware id: %w", err)
		}
		if bound {
			lc.logger.Info().Str("license_key", MaskKey(key)).Msg("license activated and bound to device")
			lic.HardwareID = &hardwareID
			return Decision{Granted: true, FirstActivation: true, License: lic}, nil
		}
		// Lost the race to a concurrent first activation; re-read and compare
		// against the now-bound value.
		lic, err = lc.store.GetLicenseByKey(ctx, key)
		if err != nil {
			return Decision{}, fmt.Errorf("reread license after bind race: %w", err)
		}
	}

	if lic.HardwareID != nil && *lic.HardwareID == hardwareID {
		return Decision{Granted: true, License: lic}, nil
	}

	return Decision{Reason: DenialDeviceMismatch, License: lic}, nil
}

// Cancel marks a license cancelled. It is idempotent and never resurrects a
// record that is already expired or cancelled.
func (lc *Lifecycle) Cancel(ctx context.Context, key string) error {
	key = NormalizeKey(key)

	lic, err := lc.store.GetLicenseByKey(ctx, key)
	if err != nil {
		return err
	}
	if lic.Status.IsTerminal() {
		return nil
	}

	// A failed CAS means a concurrent expiry or cancellation got there first,
	// which is the same terminal outcome.
	if _, err := lc.store.CompareAndSetStatus(ctx, key, models.LicenseStatusActive, models.LicenseStatusCancelled); err != nil {
		return fmt.Errorf("cancel license: %w", err)
	}

	lc.logger.Info().Str("license_key", MaskKey(key)).Msg("license cancelled")
	return nil
}

// MaskKey redacts the middle of a license key for logging, keeping the
// prefix and the final group.
func MaskKey(key string) string {
	if len(key) != KeyLength {
		return "***"
	}
	return key[:4] + "*****-*****-" + key[16:]
}
