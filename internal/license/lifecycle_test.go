package license

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/keygate-io/keygate/internal/models"
)

// memStore is an in-memory Store with the same linearizable semantics as the
// Postgres implementation.
type memStore struct {
	mu       sync.Mutex
	byKey    map[string]*models.License
	insert   error
	get      error
	casErr   error
	inserted int
}

func newMemStore() *memStore {
	return &memStore{byKey: make(map[string]*models.License)}
}

func (s *memStore) GetLicenseByKey(_ context.Context, key string) (*models.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.get != nil {
		return nil, s.get
	}
	lic, ok := s.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *lic
	return &cp, nil
}

func (s *memStore) InsertLicense(_ context.Context, lic *models.License) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insert != nil {
		return s.insert
	}
	if _, ok := s.byKey[lic.Key]; ok {
		return ErrAlreadyExists
	}
	cp := *lic
	s.byKey[lic.Key] = &cp
	s.inserted++
	return nil
}

func (s *memStore) CompareAndSetHardwareID(_ context.Context, key, hardwareID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.casErr != nil {
		return false, s.casErr
	}
	lic, ok := s.byKey[key]
	if !ok || lic.HardwareID != nil {
		return false, nil
	}
	hw := hardwareID
	lic.HardwareID = &hw
	return true, nil
}

func (s *memStore) CompareAndSetStatus(_ context.Context, key string, from, to models.LicenseStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.casErr != nil {
		return false, s.casErr
	}
	lic, ok := s.byKey[key]
	if !ok || lic.Status != from {
		return false, nil
	}
	lic.Status = to
	return true, nil
}

func (s *memStore) FindLicenseByHardwareID(_ context.Context, hardwareID string) (*models.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, lic := range s.byKey {
		if lic.HardwareID != nil && *lic.HardwareID == hardwareID {
			cp := *lic
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) InsertTrialIfUnclaimed(_ context.Context, lic *models.License) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insert != nil {
		return false, s.insert
	}
	for _, existing := range s.byKey {
		if existing.HardwareID != nil && lic.HardwareID != nil && *existing.HardwareID == *lic.HardwareID {
			return false, nil
		}
	}
	cp := *lic
	s.byKey[lic.Key] = &cp
	s.inserted++
	return true, nil
}

func newTestLifecycle(store Store, now time.Time) *Lifecycle {
	cfg := DefaultConfig()
	cfg.Now = func() time.Time { return now }
	return NewLifecycle(store, cfg, zerolog.Nop())
}

func TestIssue(t *testing.T) {
	store := newMemStore()
	lc := newTestLifecycle(store, time.Now())

	lic, err := lc.Issue(context.Background(), "buyer@example.com", "+15550100", "sub_123")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if err := ValidateKeyFormat(lic.Key); err != nil {
		t.Errorf("issued key %q invalid: %v", lic.Key, err)
	}
	if lic.OwnerEmail != "buyer@example.com" {
		t.Errorf("OwnerEmail = %q", lic.OwnerEmail)
	}
	if lic.OwnerContact != "+15550100" {
		t.Errorf("OwnerContact = %q", lic.OwnerContact)
	}
	if lic.SubscriptionRef != "sub_123" {
		t.Errorf("SubscriptionRef = %q", lic.SubscriptionRef)
	}
	if lic.IsBound() {
		t.Error("paid license bound at issuance")
	}
}

func TestIssueRetriesOnCollision(t *testing.T) {
	store := newMemStore()
	store.insert = ErrAlreadyExists
	lc := newTestLifecycle(store, time.Now())

	_, err := lc.Issue(context.Background(), "", "", "sub_123")
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("Issue() error = %v, want ErrDuplicateKey", err)
	}
}

func TestIssueStoreError(t *testing.T) {
	store := newMemStore()
	store.insert = errors.New("connection refused")
	lc := newTestLifecycle(store, time.Now())

	_, err := lc.Issue(context.Background(), "", "", "sub_123")
	if err == nil || errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("Issue() error = %v, want wrapped store error", err)
	}
}

func TestRegisterTrial(t *testing.T) {
	now := time.Now()
	store := newMemStore()
	lc := newTestLifecycle(store, now)

	lic, err := lc.RegisterTrial(context.Background(), "hw-1")
	if err != nil {
		t.Fatalf("RegisterTrial() error = %v", err)
	}

	if !lic.IsTrial() {
		t.Error("trial license IsTrial() = false")
	}
	if lic.HardwareID == nil || *lic.HardwareID != "hw-1" {
		t.Error("trial not bound to requesting device")
	}
	if lic.ExpiresAt == nil {
		t.Fatal("trial has no expiry")
	}
	wantExpiry := now.AddDate(0, 0, DefaultTrialDays)
	if !lic.ExpiresAt.Equal(wantExpiry) {
		t.Errorf("ExpiresAt = %v, want %v", lic.ExpiresAt, wantExpiry)
	}
}

func TestRegisterTrialEmptyHardwareID(t *testing.T) {
	lc := newTestLifecycle(newMemStore(), time.Now())

	_, err := lc.RegisterTrial(context.Background(), "")
	if !errors.Is(err, ErrEmptyHardwareID) {
		t.Fatalf("RegisterTrial() error = %v, want ErrEmptyHardwareID", err)
	}
}

func TestRegisterTrialOncePerDevice(t *testing.T) {
	store := newMemStore()
	lc := newTestLifecycle(store, time.Now())

	if _, err := lc.RegisterTrial(context.Background(), "hw-1"); err != nil {
		t.Fatalf("first RegisterTrial() error = %v", err)
	}

	_, err := lc.RegisterTrial(context.Background(), "hw-1")
	if !errors.Is(err, ErrTrialAlreadyClaimed) {
		t.Fatalf("second RegisterTrial() error = %v, want ErrTrialAlreadyClaimed", err)
	}

	// The rejection holds even after the first trial expires: one claim per
	// device, ever.
	expired := newTestLifecycle(store, time.Now().AddDate(0, 0, DefaultTrialDays+1))
	_, err = expired.RegisterTrial(context.Background(), "hw-1")
	if !errors.Is(err, ErrTrialAlreadyClaimed) {
		t.Fatalf("post-expiry RegisterTrial() error = %v, want ErrTrialAlreadyClaimed", err)
	}
}

func TestRegisterTrialConcurrentSameDevice(t *testing.T) {
	store := newMemStore()
	lc := newTestLifecycle(store, time.Now())

	const goroutines = 16
	var wg sync.WaitGroup
	results := make(chan error, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := lc.RegisterTrial(context.Background(), "hw-race")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	granted := 0
	for err := range results {
		if err == nil {
			granted++
		} else if !errors.Is(err, ErrTrialAlreadyClaimed) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if granted != 1 {
		t.Errorf("granted = %d trials for one device, want exactly 1", granted)
	}
}

func TestVerifyKeyNotFound(t *testing.T) {
	lc := newTestLifecycle(newMemStore(), time.Now())

	decision, err := lc.Verify(context.Background(), "KGT-ABCDE-FGH23-JKLMN", "hw-1")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if decision.Granted {
		t.Error("Granted = true for unknown key")
	}
	if decision.Reason != DenialKeyNotFound {
		t.Errorf("Reason = %q, want %q", decision.Reason, DenialKeyNotFound)
	}
}

func TestVerifyStoreUnavailable(t *testing.T) {
	store := newMemStore()
	store.get = errors.New("connection refused")
	lc := newTestLifecycle(store, time.Now())

	_, err := lc.Verify(context.Background(), "KGT-ABCDE-FGH23-JKLMN", "hw-1")
	if err == nil {
		t.Fatal("Verify() error = nil, want store error surfaced, not a denial")
	}
}

func TestVerifyFirstActivationBinds(t *testing.T) {
	store := newMemStore()
	lc := newTestLifecycle(store, time.Now())
	lic, err := lc.Issue(context.Background(), "", "", "sub_123")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	decision, err := lc.Verify(context.Background(), lic.Key, "hw-1")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !decision.Granted || !decision.FirstActivation {
		t.Fatalf("first verify: Granted=%v FirstActivation=%v, want true/true", decision.Granted, decision.FirstActivation)
	}

	// Same device again: granted, but no longer a first activation.
	decision, err = lc.Verify(context.Background(), lic.Key, "hw-1")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !decision.Granted || decision.FirstActivation {
		t.Fatalf("repeat verify: Granted=%v FirstActivation=%v, want true/false", decision.Granted, decision.FirstActivation)
	}

	// Different device: denied, binding is permanent.
	decision, err = lc.Verify(context.Background(), lic.Key, "hw-2")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if decision.Granted {
		t.Error("Granted = true for a second device")
	}
	if decision.Reason != DenialDeviceMismatch {
		t.Errorf("Reason = %q, want %q", decision.Reason, DenialDeviceMismatch)
	}

	// The original device keeps working after the denied attempt.
	decision, err = lc.Verify(context.Background(), lic.Key, "hw-1")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !decision.Granted {
		t.Error("original device denied after mismatch attempt")
	}
}

func TestVerifyNormalizesKey(t *testing.T) {
	store := newMemStore()
	lc := newTestLifecycle(store, time.Now())
	lic, err := lc.Issue(context.Background(), "", "", "sub_123")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	decision, err := lc.Verify(context.Background(), "  "+lic.Key+"\n", "hw-1")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !decision.Granted {
		t.Error("Granted = false for key with surrounding whitespace")
	}
}

func TestVerifyEmptyHardwareID(t *testing.T) {
	lc := newTestLifecycle(newMemStore(), time.Now())

	_, err := lc.Verify(context.Background(), "KGT-ABCDE-FGH23-JKLMN", "")
	if !errors.Is(err, ErrEmptyHardwareID) {
		t.Fatalf("Verify() error = %v, want ErrEmptyHardwareID", err)
	}
}

func TestVerifyConcurrentFirstActivation(t *testing.T) {
	store := newMemStore()
	lc := newTestLifecycle(store, time.Now())
	lic, err := lc.Issue(context.Background(), "", "", "sub_123")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	const goroutines = 16
	var wg sync.WaitGroup
	decisions := make(chan Decision, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			hw := "hw-a"
			if n%2 == 1 {
				hw = "hw-b"
			}
			d, err := lc.Verify(context.Background(), lic.Key, hw)
			if err != nil {
				t.Errorf("Verify() error = %v", err)
				return
			}
			decisions <- d
		}(i)
	}
	wg.Wait()
	close(decisions)

	firstActivations := 0
	for d := range decisions {
		if d.FirstActivation {
			firstActivations++
		}
	}
	if firstActivations != 1 {
		t.Errorf("FirstActivation count = %d, want exactly 1", firstActivations)
	}

	// Exactly one device won; it must still verify, the other must not.
	bound, err := store.GetLicenseByKey(context.Background(), lic.Key)
	if err != nil {
		t.Fatalf("GetLicenseByKey() error = %v", err)
	}
	if bound.HardwareID == nil {
		t.Fatal("license unbound after concurrent activation")
	}
	d, err := lc.Verify(context.Background(), lic.Key, *bound.HardwareID)
	if err != nil || !d.Granted {
		t.Errorf("winning device denied: granted=%v err=%v", d.Granted, err)
	}
}

func TestVerifyExpiredTrial(t *testing.T) {
	now := time.Now()
	store := newMemStore()
	lc := newTestLifecycle(store, now)

	lic, err := lc.RegisterTrial(context.Background(), "hw-1")
	if err != nil {
		t.Fatalf("RegisterTrial() error = %v", err)
	}

	// Trial verifies on its own device while in the window.
	decision, err := lc.Verify(context.Background(), lic.Key, "hw-1")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !decision.Granted {
		t.Fatal("in-window trial verify denied")
	}

	// Past expiry the same call is denied and the record flips to expired.
	late := newTestLifecycle(store, now.AddDate(0, 0, DefaultTrialDays+1))
	decision, err = late.Verify(context.Background(), lic.Key, "hw-1")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if decision.Granted {
		t.Error("expired trial verify granted")
	}
	if decision.Reason != DenialExpired {
		t.Errorf("Reason = %q, want %q", decision.Reason, DenialExpired)
	}

	stored, err := store.GetLicenseByKey(context.Background(), lic.Key)
	if err != nil {
		t.Fatalf("GetLicenseByKey() error = %v", err)
	}
	if stored.Status != models.LicenseStatusExpired {
		t.Errorf("Status = %q after expiry, want %q", stored.Status, models.LicenseStatusExpired)
	}

	// Later verifies keep reporting expiry, not a generic inactive denial.
	decision, err = late.Verify(context.Background(), lic.Key, "hw-1")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if decision.Reason != DenialExpired {
		t.Errorf("Reason = %q on expired record, want %q", decision.Reason, DenialExpired)
	}
}

func TestVerifyExpiredTrialDenialIsStable(t *testing.T) {
	now := time.Now()
	store := newMemStore()
	lc := newTestLifecycle(store, now)

	lic, err := lc.RegisterTrial(context.Background(), "hw-1")
	if err != nil {
		t.Fatalf("RegisterTrial() error = %v", err)
	}

	// Every verify after the window closes must report the same expiry
	// denial, including the ones that find the status already flipped.
	late := newTestLifecycle(store, now.AddDate(0, 0, DefaultTrialDays+1))
	for call := 0; call < 3; call++ {
		decision, err := late.Verify(context.Background(), lic.Key, "hw-1")
		if err != nil {
			t.Fatalf("Verify() call %d error = %v", call, err)
		}
		if decision.Granted {
			t.Fatalf("Verify() call %d granted an expired trial", call)
		}
		if decision.Reason != DenialExpired {
			t.Errorf("Verify() call %d Reason = %q, want %q", call, decision.Reason, DenialExpired)
		}
		if decision.License == nil || !decision.License.IsTrial() {
			t.Errorf("Verify() call %d lost the trial record from the decision", call)
		}

		stored, err := store.GetLicenseByKey(context.Background(), lic.Key)
		if err != nil {
			t.Fatalf("GetLicenseByKey() error = %v", err)
		}
		if stored.Status != models.LicenseStatusExpired {
			t.Errorf("Status = %q after call %d, want %q", stored.Status, call, models.LicenseStatusExpired)
		}
	}
}

func TestVerifyExpiryCheckedBeforeBinding(t *testing.T) {
	now := time.Now()
	store := newMemStore()

	// An unbound time-boxed license that is already past expiry must not be
	// claimed by a late verify call.
	expiresAt := now.Add(-time.Hour)
	lic := models.NewLicense("KGT-ABCDE-FGH23-JKLMN", "", "sub_123")
	lic.ExpiresAt = &expiresAt
	if err := store.InsertLicense(context.Background(), lic); err != nil {
		t.Fatalf("InsertLicense() error = %v", err)
	}

	lc := newTestLifecycle(store, now)
	decision, err := lc.Verify(context.Background(), lic.Key, "hw-1")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if decision.Granted {
		t.Error("expired license granted")
	}
	if decision.Reason != DenialExpired {
		t.Errorf("Reason = %q, want %q", decision.Reason, DenialExpired)
	}

	stored, _ := store.GetLicenseByKey(context.Background(), lic.Key)
	if stored.HardwareID != nil {
		t.Error("expired license was bound by a late verify")
	}
}

func TestVerifyCancelledLicense(t *testing.T) {
	store := newMemStore()
	lc := newTestLifecycle(store, time.Now())
	lic, err := lc.Issue(context.Background(), "", "", "sub_123")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if err := lc.Cancel(context.Background(), lic.Key); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	decision, err := lc.Verify(context.Background(), lic.Key, "hw-1")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if decision.Granted {
		t.Error("cancelled license granted")
	}
	if decision.Reason != DenialInactive {
		t.Errorf("Reason = %q, want %q", decision.Reason, DenialInactive)
	}
}

func TestCancelIdempotent(t *testing.T) {
	store := newMemStore()
	lc := newTestLifecycle(store, time.Now())
	lic, err := lc.Issue(context.Background(), "", "", "sub_123")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if err := lc.Cancel(context.Background(), lic.Key); err != nil {
		t.Fatalf("first Cancel() error = %v", err)
	}
	if err := lc.Cancel(context.Background(), lic.Key); err != nil {
		t.Fatalf("second Cancel() error = %v", err)
	}

	stored, _ := store.GetLicenseByKey(context.Background(), lic.Key)
	if stored.Status != models.LicenseStatusCancelled {
		t.Errorf("Status = %q, want %q", stored.Status, models.LicenseStatusCancelled)
	}
}

func TestCancelDoesNotResurrectExpired(t *testing.T) {
	now := time.Now()
	store := newMemStore()
	lc := newTestLifecycle(store, now)

	lic, err := lc.RegisterTrial(context.Background(), "hw-1")
	if err != nil {
		t.Fatalf("RegisterTrial() error = %v", err)
	}

	late := newTestLifecycle(store, now.AddDate(0, 0, DefaultTrialDays+1))
	if _, err := late.Verify(context.Background(), lic.Key, "hw-1"); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	if err := lc.Cancel(context.Background(), lic.Key); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	stored, _ := store.GetLicenseByKey(context.Background(), lic.Key)
	if stored.Status != models.LicenseStatusExpired {
		t.Errorf("Status = %q, terminal expired state was overwritten", stored.Status)
	}
}

func TestCancelUnknownKey(t *testing.T) {
	lc := newTestLifecycle(newMemStore(), time.Now())

	err := lc.Cancel(context.Background(), "KGT-ABCDE-FGH23-JKLMN")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Cancel() error = %v, want ErrNotFound", err)
	}
}
