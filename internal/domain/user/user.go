package user

import (
	"errors"
	"strings"
	"time"
)

// Role is the closed set of account roles. Stored lowercase; a principal has
// exactly one role and it never changes after sign-up.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleParent Role = "parent"
	RoleTutor  Role = "tutor"
	RoleChild  Role = "child"
)

var ErrInvalidRole = errors.New("invalid role")

// ParseRole normalizes casing before matching so "Tutor" and "TUTOR" are both
// accepted. Unknown values are rejected, never coerced.
func ParseRole(v string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(v))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleParent:
		return RoleParent, nil
	case RoleTutor:
		return RoleTutor, nil
	case RoleChild:
		return RoleChild, nil
	default:
		return "", ErrInvalidRole
	}
}

func (r Role) IsValid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

func (r Role) String() string { return string(r) }

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // never expose hash in JSON
	FirstName    string    `json:"firstName"`
	LastName     string    `json:"lastName"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
