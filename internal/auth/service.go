package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-member/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-member/internal/member/entity"
	memberrepo "github.com/ovaphlow/pitchfork/service-member/internal/member/repo"
	"github.com/ovaphlow/pitchfork/service-member/internal/phone"
	"github.com/ovaphlow/pitchfork/service-member/pkg/utilities"
)

// MaxFailedLoginAttempts is the number of consecutive bad passwords that blocks an account.
const MaxFailedLoginAttempts = 3

const defaultRole = "USER"

// CredentialStore is the persistence surface the login flow needs.
type CredentialStore interface {
	FindByEmail(ctx context.Context, email string) (*entity.Member, error)
	FindByPhone(ctx context.Context, phone string) (*entity.Member, error)
	Insert(ctx context.Context, m *entity.Member) error
	// RecordFailedLogin atomically increments the failure counter and blocks
	// the member once it reaches threshold.
	RecordFailedLogin(ctx context.Context, id string, threshold int, at time.Time) (attempts int, blocked bool, err error)
}

// PasswordHasher hashes and verifies passwords.
type PasswordHasher interface {
	Hash(pw string) (string, error)
	Verify(hash, pw string) bool
}

// BcryptHasher implementation.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) Hash(pw string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(pw), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func (b BcryptHasher) Verify(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// RegisterRequest is the registration payload.
type RegisterRequest struct {
	Name        string   `json:"name"`
	Email       string   `json:"email"`
	PhoneNumber string   `json:"phoneNumber"`
	Password    string   `json:"password"`
	Roles       []string `json:"roles"`
}

// Service runs login, lockout bookkeeping and registration.
type Service struct {
	store   CredentialStore
	hasher  PasswordHasher
	phones  phone.Validator
	logger  *zap.SugaredLogger
	metrics *Metrics
	now     func() time.Time
	newID   func() string
}

func NewService(store CredentialStore, hasher PasswordHasher, phones phone.Validator, logger *zap.SugaredLogger, metrics *Metrics) *Service {
	if hasher == nil {
		hasher = BcryptHasher{Cost: 12}
	}
	if phones == nil {
		phones = phone.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{
		store:   store,
		hasher:  hasher,
		phones:  phones,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
		newID:   utilities.NewMemberID,
	}
}

var errBadCredentials = apperr.New(apperr.InvalidCredentials, "Invalid email id or password")

// Login verifies credentials. Blocked accounts are rejected before the
// password is compared. A bad password increments the failure counter and
// the caller still gets the bad-credentials error, even on the attempt that
// blocks the account. Success does not reset the counter.
func (s *Service) Login(ctx context.Context, email, password string) (*Principal, error) {
	m, err := s.activeMember(ctx, email)
	if err != nil {
		s.metrics.inc(EventLoginFailure)
		return nil, err
	}
	if m.Blocked {
		s.logger.Warnw("login on blocked account", "email", utilities.MaskEmail(email))
		s.metrics.inc(EventLoginFailure)
		return nil, apperr.New(apperr.AccountBlocked, "Account blocked for member")
	}
	if !s.hasher.Verify(m.PasswordHash, password) {
		s.recordFailure(ctx, m)
		s.metrics.inc(EventLoginFailure)
		return nil, errBadCredentials
	}
	s.metrics.inc(EventLoginSuccess)
	s.logger.Infow("member logged in", "email", utilities.MaskEmail(email))
	return principalOf(m, true), nil
}

func (s *Service) recordFailure(ctx context.Context, m *entity.Member) {
	attempts, blocked, err := s.store.RecordFailedLogin(ctx, m.ID, MaxFailedLoginAttempts, s.now().UTC())
	if err != nil {
		s.logger.Warnw("record failed login", "member_id", m.ID, "error", err)
		return
	}
	s.logger.Infow("failed login", "member_id", m.ID, "attempts", attempts)
	// increments are atomic, so exactly one failure observes the threshold
	if blocked && attempts == MaxFailedLoginAttempts {
		s.logger.Warnw("account blocked", "member_id", m.ID, "attempts", attempts)
		s.metrics.inc(EventAccountBlocked)
	}
}

// Authenticate checks credentials without lockout bookkeeping.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*Principal, error) {
	m, err := s.activeMember(ctx, email)
	if err != nil {
		return nil, err
	}
	if m.Blocked {
		return nil, apperr.New(apperr.AccountBlocked, "Account blocked for member")
	}
	if !s.hasher.Verify(m.PasswordHash, password) {
		return nil, errBadCredentials
	}
	return principalOf(m, true), nil
}

// LoadPrincipal resolves email to its current roles. The returned principal
// is identified, not authenticated.
func (s *Service) LoadPrincipal(ctx context.Context, email string) (*Principal, error) {
	m, err := s.activeMember(ctx, email)
	if err != nil {
		return nil, err
	}
	if m.Blocked {
		return nil, apperr.New(apperr.AccountBlocked, "Account blocked for member")
	}
	return principalOf(m, false), nil
}

// Register creates a member and logs it in.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Principal, error) {
	email := strings.TrimSpace(req.Email)

	if _, err := s.store.FindByEmail(ctx, email); err == nil {
		return nil, apperr.New(apperr.ConflictEmailExists, "Email already registered")
	} else if !errors.Is(err, memberrepo.ErrNotFound) {
		return nil, apperr.Wrap(apperr.Unknown, "lookup email", err)
	}
	if _, err := s.store.FindByPhone(ctx, req.PhoneNumber); err == nil {
		return nil, apperr.New(apperr.ConflictPhoneExists, "Phone number already registered")
	} else if !errors.Is(err, memberrepo.ErrNotFound) {
		return nil, apperr.Wrap(apperr.Unknown, "lookup phone", err)
	}
	if !s.phones.Valid(ctx, req.PhoneNumber) {
		return nil, apperr.New(apperr.InvalidPhoneNumber, "Invalid phone number")
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, apperr.Wrap(apperr.Unknown, "hash password", err)
	}
	roles := req.Roles
	if len(roles) == 0 {
		roles = []string{defaultRole}
	}
	now := s.now().UTC()
	m := &entity.Member{
		ID:           s.newID(),
		Email:        email,
		PasswordHash: hash,
		Name:         strings.TrimSpace(req.Name),
		PhoneNumber:  req.PhoneNumber,
		Roles:        roles,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Insert(ctx, m); err != nil {
		switch {
		case errors.Is(err, memberrepo.ErrDuplicateEmail):
			return nil, apperr.New(apperr.ConflictEmailExists, "Email already registered")
		case errors.Is(err, memberrepo.ErrDuplicatePhone):
			return nil, apperr.New(apperr.ConflictPhoneExists, "Phone number already registered")
		}
		return nil, apperr.Wrap(apperr.Unknown, "insert member", err)
	}
	s.logger.Infow("member registered", "member_id", m.ID, "email", utilities.MaskEmail(email))
	return s.Authenticate(ctx, email, req.Password)
}

func (s *Service) activeMember(ctx context.Context, email string) (*entity.Member, error) {
	m, err := s.store.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, memberrepo.ErrNotFound) {
			return nil, apperr.New(apperr.MemberNotFound, "Member doesn't exist")
		}
		return nil, apperr.Wrap(apperr.Unknown, "lookup member", err)
	}
	if !m.Active {
		return nil, apperr.New(apperr.MemberNotFound, "Member doesn't exist")
	}
	return m, nil
}

func principalOf(m *entity.Member, authenticated bool) *Principal {
	return &Principal{
		Email:         m.Email,
		Roles:         append([]string(nil), m.Roles...),
		Authenticated: authenticated,
	}
}
