package domain

import (
	"strings"

	"github.com/google/uuid"
)

// AccountRole is the role asserted by the identity provider.
type AccountRole string

const (
	AccountUser   AccountRole = "USER"
	AccountNotary AccountRole = "NOTARY"
	// AccountSystem is used for provider driven transitions.
	AccountSystem AccountRole = "SYSTEM"
)

// ParseAccountRole normalises a role claim. Unknown values fall back to USER.
func ParseAccountRole(value string) AccountRole {
	switch AccountRole(strings.ToUpper(strings.TrimSpace(value))) {
	case AccountNotary:
		return AccountNotary
	case AccountSystem:
		return AccountSystem
	}
	return AccountUser
}

// Actor is the caller of a transition together with request provenance.
type Actor struct {
	ID        uuid.UUID   `json:"id"`
	Role      AccountRole `json:"role"`
	SourceIP  string      `json:"sourceIp"`
	UserAgent string      `json:"userAgent"`
}

// SystemActor represents the signing provider acting through a webhook.
func SystemActor(sourceIP, userAgent string) Actor {
	return Actor{Role: AccountSystem, SourceIP: sourceIP, UserAgent: userAgent}
}

// IsNotary reports whether the actor holds a notary account.
func (a Actor) IsNotary() bool {
	return a.Role == AccountNotary
}

// Identity is a directory record for a user.
type Identity struct {
	ID    uuid.UUID   `json:"id"`
	Email string      `json:"email"`
	Name  string      `json:"name"`
	Role  AccountRole `json:"role"`
}
