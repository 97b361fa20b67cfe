package license

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"aibot-license-server/internal/database"
)

// fakeStore is an in-memory Store mirroring the database semantics: the
// conditional hardware bind and the lock-then-extend ledger update.
type fakeStore struct {
	mu       sync.Mutex
	licenses map[string]*database.License
	usage    []*database.LicenseUsageStat
	payments []float64
	now      func() time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		licenses: make(map[string]*database.License),
		now:      time.Now,
	}
}

func (f *fakeStore) CreateLicense(ctx context.Context, lic *database.License) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.licenses[lic.LicenseKey]; ok {
		return &pgconn.PgError{Code: "23505"}
	}
	copied := *lic
	f.licenses[lic.LicenseKey] = &copied
	return nil
}

func (f *fakeStore) GetLicenseByKey(ctx context.Context, key string) (*database.License, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lic, ok := f.licenses[key]
	if !ok {
		return nil, nil
	}
	copied := *lic
	if lic.HardwareID != nil {
		hw := *lic.HardwareID
		copied.HardwareID = &hw
	}
	return &copied, nil
}

func (f *fakeStore) BindHardware(ctx context.Context, key, hardwareID, customerName, customerEmail string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lic, ok := f.licenses[key]
	if !ok || lic.HardwareID != nil {
		return false, nil
	}
	hw := hardwareID
	lic.HardwareID = &hw
	if customerName != "" {
		lic.CustomerName = customerName
	}
	if customerEmail != "" {
		lic.CustomerEmail = customerEmail
	}
	return true, nil
}

func (f *fakeStore) UpdateLicenseLastVerified(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if lic, ok := f.licenses[key]; ok {
		now := f.now()
		lic.LastVerified = &now
	}
	return nil
}

func (f *fakeStore) ExtendLicense(ctx context.Context, key string, periodDays int, amount float64) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lic, ok := f.licenses[key]
	if !ok {
		return time.Time{}, errors.New("license not found")
	}
	base := f.now().UTC()
	if lic.ExpiryDate.After(base) {
		base = lic.ExpiryDate
	}
	lic.ExpiryDate = base.AddDate(0, 0, periodDays)
	f.payments = append(f.payments, amount)
	return lic.ExpiryDate, nil
}

func (f *fakeStore) RecordLicenseUsage(ctx context.Context, stat *database.LicenseUsageStat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *stat
	f.usage = append(f.usage, &copied)
	return nil
}

func newTestService(store Store) *Service {
	return NewService(store, nil, zerolog.Nop())
}

func mustCreate(t *testing.T, svc *Service, days int) *database.License {
	t.Helper()
	lic, err := svc.Create(context.Background(), CreateRequest{
		CustomerName: "Acme",
		DurationDays: days,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return lic
}

// TestGenerateKeyFormat verifies keys match the published pattern
func TestGenerateKeyFormat(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		key, err := GenerateKey()
		if err != nil {
			t.Fatalf("GenerateKey failed: %v", err)
		}
		if !ValidKeyFormat(key) {
			t.Errorf("Generated key %q does not match the key pattern", key)
		}
		if seen[key] {
			t.Errorf("Duplicate key generated: %q", key)
		}
		seen[key] = true
	}
}

// TestNormalizeKey verifies pasted keys with separators still match
func TestNormalizeKey(t *testing.T) {
	if NormalizeKey(" abcd-efgh-jklm-npqr ") != "ABCDEFGHJKLMNPQR" {
		t.Error("NormalizeKey should strip separators and upper-case")
	}
	if ValidKeyFormat("ABCDEFGHIJKLMNOP") {
		t.Error("Keys containing I or O should be invalid")
	}
	if ValidKeyFormat("ABCDEFGHJKLMNPQ") {
		t.Error("15-char keys should be invalid")
	}
}

// TestActivateFirstBindWins verifies the first machine binds and others are
// refused
func TestActivateFirstBindWins(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	lic := mustCreate(t, svc, 30)

	bound, err := svc.Activate(context.Background(), lic.LicenseKey, "HW-AAAA", "", "")
	if err != nil {
		t.Fatalf("First activation failed: %v", err)
	}
	if bound.HardwareID == nil || *bound.HardwareID != "HW-AAAA" {
		t.Fatal("License should be bound to HW-AAAA")
	}

	// Same machine re-activates fine.
	if _, err := svc.Activate(context.Background(), lic.LicenseKey, "HW-AAAA", "", ""); err != nil {
		t.Errorf("Re-activation on the same machine failed: %v", err)
	}

	// Different machine is refused.
	if _, err := svc.Activate(context.Background(), lic.LicenseKey, "HW-BBBB", "", ""); !errors.Is(err, ErrHardwareMismatch) {
		t.Errorf("Second machine should get ErrHardwareMismatch, got %v", err)
	}
}

// TestActivateRaceSingleWinner verifies concurrent first activations leave
// exactly one bound hardware id
func TestActivateRaceSingleWinner(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	lic := mustCreate(t, svc, 30)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, hw := range []string{"HW-AAAA", "HW-BBBB"} {
		wg.Add(1)
		go func(i int, hw string) {
			defer wg.Done()
			_, errs[i] = svc.Activate(context.Background(), lic.LicenseKey, hw, "", "")
		}(i, hw)
	}
	wg.Wait()

	stored, _ := store.GetLicenseByKey(context.Background(), lic.LicenseKey)
	if stored.HardwareID == nil {
		t.Fatal("License should be bound after the race")
	}
	success, mismatch := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			success++
		case errors.Is(err, ErrHardwareMismatch):
			mismatch++
		default:
			t.Errorf("Unexpected error from racing activation: %v", err)
		}
	}
	if success != 1 || mismatch != 1 {
		t.Errorf("Expected one winner and one mismatch, got %d/%d", success, mismatch)
	}
}

// TestActivateStampsLastVerified verifies a successful activation counts as a
// verification
func TestActivateStampsLastVerified(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	lic := mustCreate(t, svc, 30)

	if _, err := svc.Activate(context.Background(), lic.LicenseKey, "HW-AAAA", "", ""); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	stored, _ := store.GetLicenseByKey(context.Background(), lic.LicenseKey)
	if stored.LastVerified == nil {
		t.Error("Activation should stamp last_verified")
	}
}

// TestExpiredActivationStillBinds verifies an expired key claims the machine
// before being refused, so an extension later lets the same machine in
func TestExpiredActivationStillBinds(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	lic := mustCreate(t, svc, 30)

	svc.now = func() time.Time { return time.Now().AddDate(0, 0, 31) }
	if _, err := svc.Activate(context.Background(), lic.LicenseKey, "HW-AAAA", "", ""); !errors.Is(err, ErrExpired) {
		t.Fatalf("Expired activation should get ErrExpired, got %v", err)
	}
	stored, _ := store.GetLicenseByKey(context.Background(), lic.LicenseKey)
	if stored.HardwareID == nil || *stored.HardwareID != "HW-AAAA" {
		t.Error("Expired activation should still bind the hardware")
	}
	if stored.LastVerified != nil {
		t.Error("Failed activation should not stamp last_verified")
	}
}

// TestActivateErrors covers not-found, expired and deactivated licenses
func TestActivateErrors(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	if _, err := svc.Activate(context.Background(), "bad key!", "HW-AAAA", "", ""); !errors.Is(err, ErrBadKeyFormat) {
		t.Errorf("Malformed key should get ErrBadKeyFormat, got %v", err)
	}
	if _, err := svc.Activate(context.Background(), "ABCDEFGHJKLMNPQR", "HW-AAAA", "", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("Unknown key should get ErrNotFound, got %v", err)
	}

	lic := mustCreate(t, svc, 30)
	svc.now = func() time.Time { return time.Now().AddDate(0, 0, 31) }
	if _, err := svc.Activate(context.Background(), lic.LicenseKey, "HW-AAAA", "", ""); !errors.Is(err, ErrExpired) {
		t.Errorf("Expired license should get ErrExpired, got %v", err)
	}
	svc.now = time.Now

	store.mu.Lock()
	store.licenses[lic.LicenseKey].IsActive = false
	store.mu.Unlock()
	if _, err := svc.Activate(context.Background(), lic.LicenseKey, "HW-AAAA", "", ""); !errors.Is(err, ErrInactive) {
		t.Errorf("Deactivated license should get ErrInactive, got %v", err)
	}
}

// TestVerifyReasons covers the invalid verification outcomes
func TestVerifyReasons(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	lic := mustCreate(t, svc, 30)

	check := func(key, hw, wantReason string) {
		t.Helper()
		result, err := svc.Verify(context.Background(), key, hw)
		if err != nil {
			t.Fatalf("Verify errored: %v", err)
		}
		if result.Valid {
			t.Fatalf("Expected invalid result, got valid (want reason %q)", wantReason)
		}
		if result.Reason != wantReason {
			t.Errorf("Expected reason %q, got %q", wantReason, result.Reason)
		}
	}

	check("???", "HW-AAAA", "malformed license key")
	check("ABCDEFGHJKLMNPQR", "HW-AAAA", "license not found")
	check(lic.LicenseKey, "HW-AAAA", "license not activated")

	if _, err := svc.Activate(context.Background(), lic.LicenseKey, "HW-AAAA", "", ""); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	check(lic.LicenseKey, "HW-BBBB", "hardware mismatch")

	svc.now = func() time.Time { return time.Now().AddDate(0, 0, 31) }
	check(lic.LicenseKey, "HW-AAAA", "license expired")
	svc.now = time.Now

	result, err := svc.Verify(context.Background(), lic.LicenseKey, "HW-AAAA")
	if err != nil || !result.Valid {
		t.Fatalf("Expected valid verification, got %+v err=%v", result, err)
	}
	stored, _ := store.GetLicenseByKey(context.Background(), lic.LicenseKey)
	if stored.LastVerified == nil {
		t.Error("Successful verification should stamp last_verified")
	}
}

// TestExtendFromCurrentExpiry verifies a live license extends from its
// expiry, not from now
func TestExtendFromCurrentExpiry(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	lic := mustCreate(t, svc, 30)

	newExpiry, err := svc.Extend(context.Background(), lic.LicenseKey, ExtendRequest{PeriodDays: 30, Amount: 10})
	if err != nil {
		t.Fatalf("Extend failed: %v", err)
	}
	want := lic.ExpiryDate.AddDate(0, 0, 30)
	if !newExpiry.Equal(want) {
		t.Errorf("Expected expiry %v, got %v", want, newExpiry)
	}
}

// TestExpiredLicenseRestartsOnExtend covers the lapse and renew flow: an
// expired license verifies invalid, an extension restarts it from now, and it
// verifies valid again
func TestExpiredLicenseRestartsOnExtend(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	lic := mustCreate(t, svc, 30)
	if _, err := svc.Activate(context.Background(), lic.LicenseKey, "HW-AAAA", "", ""); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	// 100 days on, well past expiry.
	later := time.Now().AddDate(0, 0, 100)
	svc.now = func() time.Time { return later }
	store.now = svc.now

	result, _ := svc.Verify(context.Background(), lic.LicenseKey, "HW-AAAA")
	if result.Valid {
		t.Fatal("Lapsed license should verify invalid")
	}

	newExpiry, err := svc.Extend(context.Background(), lic.LicenseKey, ExtendRequest{PeriodDays: 30, Amount: 10})
	if err != nil {
		t.Fatalf("Extend failed: %v", err)
	}
	// Restart from now, not from the old expiry: roughly 130 days out.
	want := later.UTC().AddDate(0, 0, 30)
	if diff := newExpiry.Sub(want); diff < -time.Minute || diff > time.Minute {
		t.Errorf("Expected expiry near %v, got %v", want, newExpiry)
	}

	result, _ = svc.Verify(context.Background(), lic.LicenseKey, "HW-AAAA")
	if !result.Valid {
		t.Errorf("Renewed license should verify valid, got reason %q", result.Reason)
	}
}

// TestRecordUsagePermissive verifies telemetry is stored without re-checking
// the binding
func TestRecordUsagePermissive(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	lic := mustCreate(t, svc, 30)

	err := svc.RecordUsage(context.Background(), lic.LicenseKey, UsageReport{
		TotalInvoices: 12, SuccessCount: 11, FailCount: 1,
	})
	if err != nil {
		t.Fatalf("RecordUsage failed: %v", err)
	}
	if len(store.usage) != 1 {
		t.Fatalf("Expected 1 usage row, got %d", len(store.usage))
	}
	if store.usage[0].TotalInvoices != 12 {
		t.Errorf("Expected 12 invoices, got %d", store.usage[0].TotalInvoices)
	}

	if err := svc.RecordUsage(context.Background(), "nope", UsageReport{}); !errors.Is(err, ErrBadKeyFormat) {
		t.Errorf("Malformed key should get ErrBadKeyFormat, got %v", err)
	}
}
