package member

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-member/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-member/internal/member/entity"
	memberrepo "github.com/ovaphlow/pitchfork/service-member/internal/member/repo"
	"github.com/ovaphlow/pitchfork/service-member/internal/phone"
	"github.com/ovaphlow/pitchfork/service-member/pkg/utilities"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
	// MaxPage keeps Page*Size inside int32 so the offset never overflows.
	MaxPage = math.MaxInt32 / MaxPageSize
)

// Store is the persistence surface used by member administration.
type Store interface {
	FindByEmail(ctx context.Context, email string) (*entity.Member, error)
	FindByID(ctx context.Context, id string) (*entity.Member, error)
	FindByPhone(ctx context.Context, phone string) (*entity.Member, error)
	Search(ctx context.Context, c entity.Criteria, limit, offset int) ([]*entity.Member, int, error)
	Update(ctx context.Context, m *entity.Member) error
	Deactivate(ctx context.Context, id string, at time.Time) error
}

// MemberDto is the outward view of a member. The password hash is never part of it.
type MemberDto struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Email       string   `json:"email"`
	PhoneNumber string   `json:"phoneNumber"`
	Active      bool     `json:"active"`
	Blocked     bool     `json:"blocked"`
	Roles       []string `json:"roles"`
	JoiningDate string   `json:"joiningDate"`
}

func toDto(m *entity.Member) MemberDto {
	roles := append([]string{}, m.Roles...)
	return MemberDto{
		ID:          m.ID,
		Name:        m.Name,
		Email:       m.Email,
		PhoneNumber: m.PhoneNumber,
		Active:      m.Active,
		Blocked:     m.Blocked,
		Roles:       roles,
		JoiningDate: m.CreatedAt.UTC().Format(time.DateOnly),
	}
}

// PageRequest is a zero-based page index and a page size.
type PageRequest struct {
	Page int
	Size int
}

func (p PageRequest) normalized() PageRequest {
	if p.Page < 0 {
		p.Page = 0
	}
	if p.Page > MaxPage {
		p.Page = MaxPage
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

// Page is one slice of a paged result.
type Page struct {
	Content       []MemberDto `json:"content"`
	Page          int         `json:"page"`
	Size          int         `json:"size"`
	TotalElements int         `json:"totalElements"`
	TotalPages    int         `json:"totalPages"`
}

// UpdateRequest is the admin update payload.
type UpdateRequest struct {
	Name          string   `json:"name"`
	PhoneNumber   string   `json:"phoneNumber"`
	Roles         []string `json:"roles"`
	UnBlockMember bool     `json:"unBlockMember"`
}

// Service implements member administration.
type Service struct {
	store  Store
	phones phone.Validator
	logger *zap.SugaredLogger
	now    func() time.Time
}

func NewService(store Store, phones phone.Validator, logger *zap.SugaredLogger) *Service {
	if phones == nil {
		phones = phone.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{store: store, phones: phones, logger: logger, now: time.Now}
}

// Current returns the member behind the authenticated principal.
func (s *Service) Current(ctx context.Context, email string) (*MemberDto, error) {
	m, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, memberrepo.ErrNotFound) {
			return nil, apperr.New(apperr.MemberNotFound, "Member not found")
		}
		return nil, apperr.Wrap(apperr.Unknown, "lookup current member", err)
	}
	if !m.Active {
		return nil, apperr.New(apperr.MemberNotFound, "Member not found")
	}
	dto := toDto(m)
	return &dto, nil
}

// List pages over all members, active only unless showInactive.
func (s *Service) List(ctx context.Context, req PageRequest, showInactive bool) (*Page, error) {
	return s.Search(ctx, entity.Criteria{}, req, showInactive)
}

// Search pages over members matching c.
func (s *Service) Search(ctx context.Context, c entity.Criteria, req PageRequest, showInactive bool) (*Page, error) {
	req = req.normalized()
	c.Name = strings.TrimSpace(c.Name)
	c.Email = strings.TrimSpace(c.Email)
	c.Role = strings.TrimSpace(c.Role)
	c.IncludeInactive = showInactive

	members, total, err := s.store.Search(ctx, c, req.Size, req.Page*req.Size)
	if err != nil {
		return nil, apperr.Wrap(apperr.Unknown, "search members", err)
	}
	content := make([]MemberDto, 0, len(members))
	for _, m := range members {
		content = append(content, toDto(m))
	}
	return &Page{
		Content:       content,
		Page:          req.Page,
		Size:          req.Size,
		TotalElements: total,
		TotalPages:    (total + req.Size - 1) / req.Size,
	}, nil
}

// Delete soft-deletes the member.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Deactivate(ctx, id, s.now().UTC()); err != nil {
		if errors.Is(err, memberrepo.ErrNotFound) {
			return apperr.New(apperr.NotFound, "Member with memberId "+id+" doesn't exist")
		}
		return apperr.Wrap(apperr.Unknown, "deactivate member", err)
	}
	s.logger.Infow("member deactivated", "member_id", id)
	return nil
}

// Update changes name, phone and roles. UnBlockMember also resets lockout state.
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (*MemberDto, error) {
	m, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, memberrepo.ErrNotFound) {
			return nil, apperr.New(apperr.NotFound, "Member with memberId "+id+" doesn't exist")
		}
		return nil, apperr.Wrap(apperr.Unknown, "lookup member", err)
	}

	if req.PhoneNumber != m.PhoneNumber {
		owner, err := s.store.FindByPhone(ctx, req.PhoneNumber)
		switch {
		case err == nil && owner.ID != m.ID:
			return nil, apperr.New(apperr.ConflictPhoneExists, "Phone number already registered")
		case err != nil && !errors.Is(err, memberrepo.ErrNotFound):
			return nil, apperr.Wrap(apperr.Unknown, "lookup phone", err)
		}
		if !s.phones.Valid(ctx, req.PhoneNumber) {
			return nil, apperr.New(apperr.InvalidPhoneNumber, "Invalid phone number")
		}
	}

	m.Name = strings.TrimSpace(req.Name)
	m.PhoneNumber = req.PhoneNumber
	m.Roles = append([]string(nil), req.Roles...)
	if req.UnBlockMember {
		m.Unblock()
	}
	m.UpdatedAt = s.now().UTC()

	if err := s.store.Update(ctx, m); err != nil {
		switch {
		case errors.Is(err, memberrepo.ErrNotFound):
			return nil, apperr.New(apperr.NotFound, "Member with memberId "+id+" doesn't exist")
		case errors.Is(err, memberrepo.ErrDuplicatePhone):
			return nil, apperr.New(apperr.ConflictPhoneExists, "Phone number already registered")
		}
		return nil, apperr.Wrap(apperr.Unknown, "update member", err)
	}
	s.logger.Infow("member updated", "member_id", id, "phone", utilities.MaskPhone(m.PhoneNumber), "unblocked", req.UnBlockMember)
	dto := toDto(m)
	return &dto, nil
}
