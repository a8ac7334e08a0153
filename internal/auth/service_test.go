package auth

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-member/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-member/internal/member/entity"
)

func TestLoginSuccess(t *testing.T) {
	f := newFixture(t, testMember("a@x.com", "Secret1!", "ADMIN"))
	p, err := f.svc.Login(context.Background(), "a@x.com", "Secret1!")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !p.Authenticated || p.Email != "a@x.com" || !p.HasRole("ADMIN") {
		t.Fatalf("unexpected principal %+v", p)
	}
}

func TestLoginUnknownOrInactive(t *testing.T) {
	inactive := testMember("gone@x.com", "pw")
	inactive.Active = false
	f := newFixture(t, inactive)

	for _, email := range []string{"nobody@x.com", "gone@x.com"} {
		if _, err := f.svc.Login(context.Background(), email, "pw"); !apperr.Is(err, apperr.MemberNotFound) {
			t.Fatalf("%s: expected MemberNotFound, got %v", email, err)
		}
	}
}

func TestLockoutAfterThreeFailures(t *testing.T) {
	f := newFixture(t, testMember("a@x.com", "right"))
	ctx := context.Background()

	for i := 1; i <= MaxFailedLoginAttempts; i++ {
		_, err := f.svc.Login(ctx, "a@x.com", "wrong")
		if !apperr.Is(err, apperr.InvalidCredentials) {
			t.Fatalf("attempt %d: expected InvalidCredentials, got %v", i, err)
		}
	}
	m := f.store.get("a@x.com")
	if !m.Blocked || m.BlockedAt == nil || m.FailedLoginAttempts != MaxFailedLoginAttempts {
		t.Fatalf("expected blocked member, got %+v", m)
	}

	// the fourth attempt is refused even with the right password
	if _, err := f.svc.Login(ctx, "a@x.com", "right"); !apperr.Is(err, apperr.AccountBlocked) {
		t.Fatalf("expected AccountBlocked, got %v", err)
	}
	if got := f.store.get("a@x.com").FailedLoginAttempts; got != MaxFailedLoginAttempts {
		t.Fatalf("blocked login must not touch the counter, got %d", got)
	}
}

func TestUnblockRestoresLogin(t *testing.T) {
	f := newFixture(t, testMember("a@x.com", "right"))
	ctx := context.Background()
	for i := 0; i < MaxFailedLoginAttempts; i++ {
		_, _ = f.svc.Login(ctx, "a@x.com", "wrong")
	}

	f.store.update("a@x.com", func(m *entity.Member) { m.Unblock() })
	m := f.store.get("a@x.com")
	if m.Blocked || m.BlockedAt != nil || m.FailedLoginAttempts != 0 {
		t.Fatalf("unblock did not reset lockout state: %+v", m)
	}
	if _, err := f.svc.Login(ctx, "a@x.com", "right"); err != nil {
		t.Fatalf("login after unblock: %v", err)
	}
}

func TestSuccessDoesNotResetCounter(t *testing.T) {
	f := newFixture(t, testMember("a@x.com", "right"))
	ctx := context.Background()

	_, _ = f.svc.Login(ctx, "a@x.com", "wrong")
	_, _ = f.svc.Login(ctx, "a@x.com", "wrong")
	if _, err := f.svc.Login(ctx, "a@x.com", "right"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if got := f.store.get("a@x.com").FailedLoginAttempts; got != 2 {
		t.Fatalf("expected counter to stay at 2, got %d", got)
	}
	_, _ = f.svc.Login(ctx, "a@x.com", "wrong")
	if !f.store.get("a@x.com").Blocked {
		t.Fatal("expected block on the third cumulative failure")
	}
}

func TestConcurrentFailuresBlockOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	store := newMemStore(testMember("a@x.com", "right"))
	svc := NewService(store, plainHasher{}, nil, zaptest.NewLogger(t).Sugar(), metrics)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Login(context.Background(), "a@x.com", "wrong")
		}()
	}
	wg.Wait()

	m := store.get("a@x.com")
	if !m.Blocked || m.FailedLoginAttempts < MaxFailedLoginAttempts {
		t.Fatalf("expected blocked member, got %+v", m)
	}
	if got := testutil.ToFloat64(metrics.Events.WithLabelValues(EventAccountBlocked)); got != 1 {
		t.Fatalf("expected one account_blocked event, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.Events.WithLabelValues(EventLoginFailure)); got != 10 {
		t.Fatalf("expected 10 login_failure events, got %v", got)
	}
}

func validRegistration() RegisterRequest {
	return RegisterRequest{
		Name:        "New Member",
		Email:       "new@x.com",
		PhoneNumber: "9123456780",
		Password:    "Passw0rd!",
		Roles:       []string{"USER"},
	}
}

func TestRegisterCreatesAndAuthenticates(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, BcryptHasher{Cost: bcrypt.MinCost}, staticPhones(true), zaptest.NewLogger(t).Sugar(), nil)

	p, err := svc.Register(context.Background(), validRegistration())
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !p.Authenticated || p.Email != "new@x.com" || !p.HasRole("USER") {
		t.Fatalf("unexpected principal %+v", p)
	}
	m := store.get("new@x.com")
	if m.PasswordHash == "Passw0rd!" || bcrypt.CompareHashAndPassword([]byte(m.PasswordHash), []byte("Passw0rd!")) != nil {
		t.Fatal("password must be stored as a bcrypt hash")
	}
	if !m.Active || m.Blocked || m.FailedLoginAttempts != 0 || m.ID == "" {
		t.Fatalf("unexpected initial state %+v", m)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Register(ctx, validRegistration()); err != nil {
		t.Fatalf("first register: %v", err)
	}
	second := validRegistration()
	second.PhoneNumber = "9000000001"
	if _, err := f.svc.Register(ctx, second); !apperr.Is(err, apperr.ConflictEmailExists) {
		t.Fatalf("expected ConflictEmailExists, got %v", err)
	}
	if f.store.inserts != 1 {
		t.Fatalf("expected exactly one insert, got %d", f.store.inserts)
	}
}

func TestRegisterDuplicatePhone(t *testing.T) {
	existing := testMember("old@x.com", "pw")
	existing.PhoneNumber = "9123456780"
	f := newFixture(t, existing)
	if _, err := f.svc.Register(context.Background(), validRegistration()); !apperr.Is(err, apperr.ConflictPhoneExists) {
		t.Fatalf("expected ConflictPhoneExists, got %v", err)
	}
}

func TestRegisterInvalidPhone(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, plainHasher{}, staticPhones(false), zaptest.NewLogger(t).Sugar(), nil)
	if _, err := svc.Register(context.Background(), validRegistration()); !apperr.Is(err, apperr.InvalidPhoneNumber) {
		t.Fatalf("expected InvalidPhoneNumber, got %v", err)
	}
	if store.inserts != 0 {
		t.Fatal("no member may be written when the phone is invalid")
	}
}

func TestLoadPrincipal(t *testing.T) {
	blocked := testMember("b@x.com", "pw")
	blocked.Blocked = true
	f := newFixture(t, testMember("a@x.com", "pw", "ADMIN", "USER"), blocked)

	p, err := f.svc.LoadPrincipal(context.Background(), "a@x.com")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.Authenticated || len(p.Roles) != 2 {
		t.Fatalf("unexpected principal %+v", p)
	}
	if _, err := f.svc.LoadPrincipal(context.Background(), "b@x.com"); !apperr.Is(err, apperr.AccountBlocked) {
		t.Fatalf("expected AccountBlocked, got %v", err)
	}
}
