package auth

import (
	"errors"
	"fmt"
)

// Role grants a set of operations.
type Role string

const (
	// RoleService may request admission and record spend.
	RoleService Role = "service"

	// RoleAdmin may also change limits and budget settings.
	RoleAdmin Role = "admin"
)

// ParseRole validates a configured role. Empty means RoleService.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case "", RoleService:
		return RoleService, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", fmt.Errorf("unknown role %q (valid: service, admin)", s)
	}
}

// Allows reports whether r grants what required grants.
func (r Role) Allows(required Role) bool {
	return r == required || r == RoleAdmin
}

// Errors returned by Validate.
var (
	ErrMissingKey  = errors.New("missing API key")
	ErrInvalidKey  = errors.New("invalid API key")
	ErrDisabledKey = errors.New("API key disabled")
)

// Key is a configured API key.
type Key struct {
	Name     string
	Key      string
	Role     Role
	Disabled bool
}

// Principal identifies the caller of an authenticated request.
type Principal struct {
	Name string
	Role Role
}

// Validator resolves an API key to its principal.
type Validator interface {
	Validate(key string) (*Principal, error)
}
