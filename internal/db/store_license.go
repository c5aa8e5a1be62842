package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/keygate-io/keygate/internal/license"
	"github.com/keygate-io/keygate/internal/models"
)

// pgUniqueViolation is the Postgres error code for unique constraint violations.
const pgUniqueViolation = "23505"

const licenseColumns = `id, license_key, owner_email, owner_contact, subscription_ref,
	hardware_id, status, expires_at, created_at, updated_at`

// rowScanner abstracts pgx.Row for single-row license scans.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanLicense(row rowScanner) (*models.License, error) {
	var lic models.License
	var statusStr string
	err := row.Scan(
		&lic.ID, &lic.Key, &lic.OwnerEmail, &lic.OwnerContact, &lic.SubscriptionRef,
		&lic.HardwareID, &statusStr, &lic.ExpiresAt, &lic.CreatedAt, &lic.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	lic.Status = models.LicenseStatus(statusStr)
	return &lic, nil
}

// GetLicenseByKey returns the license record for a key. Returns
// license.ErrNotFound when no record exists; any other error is an
// infrastructure failure, never a denial.
func (db *DB) GetLicenseByKey(ctx context.Context, key string) (*models.License, error) {
	lic, err := scanLicense(db.Pool.QueryRow(ctx, `
		SELECT `+licenseColumns+`
		FROM licenses
		WHERE license_key = $1
	`, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, license.ErrNotFound
		}
		return nil, fmt.Errorf("get license by key: %w", err)
	}
	return lic, nil
}

// InsertLicense persists a new license record. Returns license.ErrAlreadyExists
// on a key collision.
func (db *DB) InsertLicense(ctx context.Context, lic *models.License) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO licenses (`+licenseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, lic.ID, lic.Key, lic.OwnerEmail, lic.OwnerContact, lic.SubscriptionRef,
		lic.HardwareID, string(lic.Status), lic.ExpiresAt, lic.CreatedAt, lic.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return license.ErrAlreadyExists
		}
		return fmt.Errorf("insert license: %w", err)
	}
	return nil
}

// CompareAndSetHardwareID binds a license to a device only if it is still
// unbound at write time. Row-level locking makes the check-and-set
// linearizable with respect to concurrent binds on the same key.
func (db *DB) CompareAndSetHardwareID(ctx context.Context, key, hardwareID string) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE licenses
		SET hardware_id = $2, updated_at = NOW()
		WHERE license_key = $1 AND hardware_id IS NULL
	`, key, hardwareID)
	if err != nil {
		return false, fmt.Errorf("compare-and-set hardware id: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CompareAndSetStatus flips a license status only if the current status
// matches the expected value.
func (db *DB) CompareAndSetStatus(ctx context.Context, key string, from, to models.LicenseStatus) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE licenses
		SET status = $3, updated_at = NOW()
		WHERE license_key = $1 AND status = $2
	`, key, string(from), string(to))
	if err != nil {
		return false, fmt.Errorf("compare-and-set status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// FindLicenseByHardwareID returns the most recent license bound to a device,
// or license.ErrNotFound.
func (db *DB) FindLicenseByHardwareID(ctx context.Context, hardwareID string) (*models.License, error) {
	lic, err := scanLicense(db.Pool.QueryRow(ctx, `
		SELECT `+licenseColumns+`
		FROM licenses
		WHERE hardware_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, hardwareID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, license.ErrNotFound
		}
		return nil, fmt.Errorf("find license by hardware id: %w", err)
	}
	return lic, nil
}

// InsertTrialIfUnclaimed inserts a trial record unless any license is already
// bound to the same hardware ID. The existence check and insert are a single
// statement, and the partial unique index on trial hardware IDs backstops
// racing claims, so concurrent registrations from one device cannot both
// succeed.
func (db *DB) InsertTrialIfUnclaimed(ctx context.Context, lic *models.License) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `
		INSERT INTO licenses (`+licenseColumns+`)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		WHERE NOT EXISTS (
			SELECT 1 FROM licenses WHERE hardware_id = $6
		)
	`, lic.ID, lic.Key, lic.OwnerEmail, lic.OwnerContact, lic.SubscriptionRef,
		lic.HardwareID, string(lic.Status), lic.ExpiresAt, lic.CreatedAt, lic.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			// A concurrent registration from the same device won the race.
			return false, nil
		}
		return false, fmt.Errorf("insert trial license: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ExpireOverdueLicenses flips every active license whose expiry has passed to
// expired and returns the number of rows changed. Used by the maintenance
// sweep; Verify performs the same transition lazily per key.
func (db *DB) ExpireOverdueLicenses(ctx context.Context, now time.Time) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE licenses
		SET status = 'expired', updated_at = NOW()
		WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at < $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("expire overdue licenses: %w", err)
	}
	return tag.RowsAffected(), nil
}

// LicenseStats summarizes license counts for metrics and diagnostics.
type LicenseStats struct {
	ByStatus map[models.LicenseStatus]int64
	Trials   int64
	Bound    int64
}

// GetLicenseStats returns license counts by status plus trial and
// bound-device totals.
func (db *DB) GetLicenseStats(ctx context.Context) (*LicenseStats, error) {
	stats := &LicenseStats{
		ByStatus: make(map[models.LicenseStatus]int64),
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT status, COUNT(*) FROM licenses GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("count licenses by status: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var statusStr string
		var count int64
		if err := rows.Scan(&statusStr, &count); err != nil {
			return nil, fmt.Errorf("scan license status count: %w", err)
		}
		stats.ByStatus[models.LicenseStatus(statusStr)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate license status counts: %w", err)
	}

	err = db.Pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE subscription_ref = $1),
			COUNT(*) FILTER (WHERE hardware_id IS NOT NULL)
		FROM licenses
	`, models.TrialSubscriptionRef).Scan(&stats.Trials, &stats.Bound)
	if err != nil {
		return nil, fmt.Errorf("count trial and bound licenses: %w", err)
	}

	return stats, nil
}
