package entity

import "time"

// Member is a registered account row in the `members` table.
// PasswordHash is a bcrypt digest and must never leave the service.
type Member struct {
	ID                  string
	Email               string
	PasswordHash        string
	Name                string
	PhoneNumber         string
	Roles               []string
	Active              bool
	Blocked             bool
	FailedLoginAttempts int
	BlockedAt           *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Unblock returns the member to the Active lockout state.
func (m *Member) Unblock() {
	m.Blocked = false
	m.FailedLoginAttempts = 0
	m.BlockedAt = nil
}

// HasRole reports whether role is one of the member's roles.
func (m *Member) HasRole(role string) bool {
	for _, r := range m.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Criteria filters the paged member search. Name and Email are
// case-insensitive substring matches OR-ed together; Role is exact.
type Criteria struct {
	Name            string
	Email           string
	Role            string
	IncludeInactive bool
}
