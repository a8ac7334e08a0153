package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zaptest"

	"github.com/ovaphlow/pitchfork/service-member/internal/member/entity"
	memberrepo "github.com/ovaphlow/pitchfork/service-member/internal/member/repo"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// memStore is an in-memory CredentialStore.
type memStore struct {
	mu      sync.Mutex
	members map[string]*entity.Member
	failErr error
	inserts int
}

func newMemStore(members ...*entity.Member) *memStore {
	s := &memStore{members: map[string]*entity.Member{}}
	for _, m := range members {
		s.members[strings.ToLower(m.Email)] = m
	}
	return s
}

func (s *memStore) FindByEmail(_ context.Context, email string) (*entity.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return nil, s.failErr
	}
	m, ok := s.members[strings.ToLower(email)]
	if !ok {
		return nil, memberrepo.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *memStore) FindByPhone(_ context.Context, phone string) (*entity.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members {
		if m.PhoneNumber == phone {
			cp := *m
			return &cp, nil
		}
	}
	return nil, memberrepo.ErrNotFound
}

func (s *memStore) Insert(_ context.Context, m *entity.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(m.Email)
	if _, ok := s.members[key]; ok {
		return memberrepo.ErrDuplicateEmail
	}
	cp := *m
	s.members[key] = &cp
	s.inserts++
	return nil
}

func (s *memStore) RecordFailedLogin(_ context.Context, id string, threshold int, at time.Time) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members {
		if m.ID != id {
			continue
		}
		m.FailedLoginAttempts++
		if m.FailedLoginAttempts >= threshold && !m.Blocked {
			m.Blocked = true
			t := at
			m.BlockedAt = &t
		}
		return m.FailedLoginAttempts, m.Blocked, nil
	}
	return 0, false, memberrepo.ErrNotFound
}

func (s *memStore) get(email string) *entity.Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.members[strings.ToLower(email)]
	return &cp
}

func (s *memStore) update(email string, fn func(m *entity.Member)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.members[strings.ToLower(email)])
}

func (s *memStore) remove(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members, strings.ToLower(email))
}

// plainHasher avoids bcrypt cost in table tests.
type plainHasher struct{}

func (plainHasher) Hash(pw string) (string, error) {
	if pw == "" {
		return "", errors.New("empty password")
	}
	return "plain:" + pw, nil
}

func (plainHasher) Verify(hash, pw string) bool { return hash == "plain:"+pw }

type staticPhones bool

func (v staticPhones) Valid(context.Context, string) bool { return bool(v) }

func testMember(email, password string, roles ...string) *entity.Member {
	if len(roles) == 0 {
		roles = []string{"USER"}
	}
	now := time.Now().UTC()
	return &entity.Member{
		ID:           "id-" + email,
		Email:        email,
		PasswordHash: "plain:" + password,
		Name:         "Test Member",
		PhoneNumber:  "9876543210",
		Roles:        roles,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

type fixture struct {
	store   *memStore
	svc     *Service
	tokens  *TokenService
	gate    *Gate
	metrics *Metrics
}

func newFixture(t *testing.T, members ...*entity.Member) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	store := newMemStore(members...)
	metrics, err := NewMetrics(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	svc := NewService(store, plainHasher{}, staticPhones(true), logger, metrics)
	cfg := Config{
		Secret:            testSecret,
		Issuer:            "test",
		AccessTTL:         15 * time.Minute,
		RefreshTTL:        24 * time.Hour,
		AccessCookiePath:  "/",
		RefreshCookiePath: "/api/auth",
	}
	tokens := NewTokenService(cfg, svc)
	gate := NewGate(tokens, svc, cfg.Cookies(), DefaultPublicPaths("/api"), logger, metrics)
	return &fixture{store: store, svc: svc, tokens: tokens, gate: gate, metrics: metrics}
}
