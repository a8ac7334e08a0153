package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ovaphlow/pitchfork/service-member/internal/member/entity"
)

var (
	ErrNotFound       = errors.New("member not found")
	ErrDuplicateEmail = errors.New("email already registered")
	ErrDuplicatePhone = errors.New("phone number already registered")
)

const (
	emailConstraint = "members_email_key"
	phoneConstraint = "members_phone_number_key"
	uniqueViolation = "23505"
)

var memberColumns = []string{
	"id", "email", "password_hash", "name", "phone_number", "roles", "active", "blocked",
	"failed_login_attempts", "blocked_at", "created_at", "updated_at",
}

// memberRow mirrors the members table; phone_number is nullable so seeded
// accounts without a phone do not collide on the unique index.
type memberRow struct {
	ID                  string         `db:"id"`
	Email               string         `db:"email"`
	PasswordHash        string         `db:"password_hash"`
	Name                string         `db:"name"`
	PhoneNumber         sql.NullString `db:"phone_number"`
	Roles               pq.StringArray `db:"roles"`
	Active              bool           `db:"active"`
	Blocked             bool           `db:"blocked"`
	FailedLoginAttempts int            `db:"failed_login_attempts"`
	BlockedAt           *time.Time     `db:"blocked_at"`
	CreatedAt           time.Time      `db:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at"`
}

func (row memberRow) toEntity() *entity.Member {
	return &entity.Member{
		ID:                  row.ID,
		Email:               row.Email,
		PasswordHash:        row.PasswordHash,
		Name:                row.Name,
		PhoneNumber:         row.PhoneNumber.String,
		Roles:               []string(row.Roles),
		Active:              row.Active,
		Blocked:             row.Blocked,
		FailedLoginAttempts: row.FailedLoginAttempts,
		BlockedAt:           row.BlockedAt,
		CreatedAt:           row.CreatedAt,
		UpdatedAt:           row.UpdatedAt,
	}
}

// MemberRepo is the credential store backed by PostgreSQL.
type MemberRepo struct {
	db      *sqlx.DB
	builder squirrel.StatementBuilderType
}

func NewMemberRepo(db *sqlx.DB) *MemberRepo {
	return &MemberRepo{
		db:      db,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// EnsureTable creates the members table if not exists (idempotent).
// This is a convenience for early development; prefer migrations in production.
func (r *MemberRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE EXTENSION IF NOT EXISTS citext;
CREATE TABLE IF NOT EXISTS members (
  id VARCHAR(32) PRIMARY KEY,
  email CITEXT NOT NULL,
  password_hash TEXT NOT NULL,
  name TEXT NOT NULL DEFAULT '',
  phone_number TEXT,
  roles TEXT[] NOT NULL DEFAULT '{USER}',
  active BOOLEAN NOT NULL DEFAULT true,
  blocked BOOLEAN NOT NULL DEFAULT false,
  failed_login_attempts INT NOT NULL DEFAULT 0,
  blocked_at TIMESTAMPTZ,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  CONSTRAINT members_email_key UNIQUE (email),
  CONSTRAINT members_phone_number_key UNIQUE (phone_number),
  CONSTRAINT members_roles_not_empty CHECK (cardinality(roles) > 0),
  CONSTRAINT members_blocked_at_set CHECK (NOT blocked OR blocked_at IS NOT NULL)
);
CREATE INDEX IF NOT EXISTS idx_members_active ON members(active);
CREATE INDEX IF NOT EXISTS idx_members_roles ON members USING GIN (roles);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// Insert stores a new member. A unique violation on email or phone is
// reported as ErrDuplicateEmail / ErrDuplicatePhone so a racing duplicate
// registration never leaves a partial row behind.
func (r *MemberRepo) Insert(ctx context.Context, m *entity.Member) error {
	q, args, err := r.builder.Insert("members").
		Columns(memberColumns...).
		Values(
			m.ID, m.Email, m.PasswordHash, m.Name, nullable(m.PhoneNumber), pq.Array(m.Roles),
			m.Active, m.Blocked, m.FailedLoginAttempts, m.BlockedAt, m.CreatedAt, m.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert member sql: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
		return mapUniqueViolation(err)
	}
	return nil
}

// FindByEmail returns the member with the given email (case-insensitive due to citext).
func (r *MemberRepo) FindByEmail(ctx context.Context, email string) (*entity.Member, error) {
	return r.findOne(ctx, squirrel.Eq{"email": email})
}

// FindByPhone returns the member owning the phone number.
func (r *MemberRepo) FindByPhone(ctx context.Context, phone string) (*entity.Member, error) {
	return r.findOne(ctx, squirrel.Eq{"phone_number": phone})
}

// FindByID fetches a full member row.
func (r *MemberRepo) FindByID(ctx context.Context, id string) (*entity.Member, error) {
	return r.findOne(ctx, squirrel.Eq{"id": id})
}

func (r *MemberRepo) findOne(ctx context.Context, where squirrel.Eq) (*entity.Member, error) {
	q, args, err := r.builder.Select(memberColumns...).From("members").Where(where).Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select member sql: %w", err)
	}
	var row memberRow
	if err := r.db.GetContext(ctx, &row, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toEntity(), nil
}

// RecordFailedLogin increments the failure counter and blocks the member once
// the new count reaches threshold, in one statement so concurrent failures for
// the same account cannot both read the old count. blocked_at is only stamped
// on the transition into the blocked state.
func (r *MemberRepo) RecordFailedLogin(ctx context.Context, id string, threshold int, at time.Time) (int, bool, error) {
	const q = `UPDATE members
   SET failed_login_attempts = failed_login_attempts + 1,
       blocked = blocked OR failed_login_attempts + 1 >= $2,
       blocked_at = CASE WHEN NOT blocked AND failed_login_attempts + 1 >= $2 THEN $3 ELSE blocked_at END,
       updated_at = $3
 WHERE id = $1
RETURNING failed_login_attempts, blocked`
	var out struct {
		Attempts int  `db:"failed_login_attempts"`
		Blocked  bool `db:"blocked"`
	}
	if err := r.db.GetContext(ctx, &out, q, id, threshold, at); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, ErrNotFound
		}
		return 0, false, err
	}
	return out.Attempts, out.Blocked, nil
}

// Update writes the mutable profile and lockout columns of m.
func (r *MemberRepo) Update(ctx context.Context, m *entity.Member) error {
	q, args, err := r.builder.Update("members").
		Set("name", m.Name).
		Set("phone_number", nullable(m.PhoneNumber)).
		Set("roles", pq.Array(m.Roles)).
		Set("blocked", m.Blocked).
		Set("failed_login_attempts", m.FailedLoginAttempts).
		Set("blocked_at", m.BlockedAt).
		Set("updated_at", m.UpdatedAt).
		Where(squirrel.Eq{"id": m.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update member sql: %w", err)
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return mapUniqueViolation(err)
	}
	return requireRow(res)
}

// Deactivate soft-deletes a member.
func (r *MemberRepo) Deactivate(ctx context.Context, id string, at time.Time) error {
	const q = `UPDATE members SET active=false, updated_at=$2 WHERE id=$1`
	res, err := r.db.ExecContext(ctx, q, id, at)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// Search returns one page of members matching c plus the total match count.
func (r *MemberRepo) Search(ctx context.Context, c entity.Criteria, limit, offset int) ([]*entity.Member, int, error) {
	countQ, countArgs, err := applyCriteria(r.builder.Select("COUNT(*)").From("members"), c).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count members sql: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, countQ, countArgs...); err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []*entity.Member{}, 0, nil
	}

	q, args, err := applyCriteria(r.builder.Select(memberColumns...).From("members"), c).
		OrderBy("created_at DESC", "id").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build search members sql: %w", err)
	}
	var rows []memberRow
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, 0, err
	}
	out := make([]*entity.Member, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toEntity())
	}
	return out, total, nil
}

func applyCriteria(b squirrel.SelectBuilder, c entity.Criteria) squirrel.SelectBuilder {
	if !c.IncludeInactive {
		b = b.Where(squirrel.Eq{"active": true})
	}
	var or squirrel.Or
	if c.Name != "" {
		or = append(or, squirrel.ILike{"name": "%" + escapeLike(c.Name) + "%"})
	}
	if c.Email != "" {
		or = append(or, squirrel.ILike{"email": "%" + escapeLike(c.Email) + "%"})
	}
	if len(or) > 0 {
		b = b.Where(or)
	}
	if c.Role != "" {
		b = b.Where("? = ANY(roles)", c.Role)
	}
	return b
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes user input match literally inside a LIKE pattern.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func mapUniqueViolation(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		switch pqErr.Constraint {
		case emailConstraint:
			return ErrDuplicateEmail
		case phoneConstraint:
			return ErrDuplicatePhone
		}
	}
	return err
}
