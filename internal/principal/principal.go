package principal

import "strings"

// Role tags known to the gateway. Roles are always stored upper-case;
// comparison elsewhere relies on that normalization.
const (
	RoleUser  = "USER"
	RoleMod   = "MOD"
	RoleAdmin = "ADMIN"
	// RoleApp is granted implicitly to signed-request (API key) callers.
	RoleApp = "APP"
)

// Scheme tags recording which trust mechanism produced a Principal.
const (
	SchemePassword   = "password"
	SchemeFederated  = "federated"
	SchemeOAuth      = "oauth"
	SchemeSigned     = "signed"
	SchemeRememberMe = "rememberme"
	SchemeAnonymous  = "anonymous"
)

// Principal is a resolved caller identity. It is produced once per request
// by a successful authenticator (or remember-me validation) and never
// mutated afterwards.
type Principal struct {
	ID     string
	Roles  []string
	Scheme string
}

// New builds a Principal with roles normalized to upper case.
func New(id, scheme string, roles []string) Principal {
	norm := make([]string, 0, len(roles))
	for _, r := range roles {
		r = strings.ToUpper(strings.TrimSpace(r))
		if r != "" {
			norm = append(norm, r)
		}
	}
	return Principal{ID: id, Roles: norm, Scheme: scheme}
}

// Anonymous is the empty-role Principal used when no credential resolves.
func Anonymous() Principal {
	return Principal{Scheme: SchemeAnonymous}
}

// IsAnonymous reports whether p carries no authenticated identity.
func (p Principal) IsAnonymous() bool {
	return p.ID == "" || p.Scheme == SchemeAnonymous
}

// HasAnyRole reports whether p holds at least one of the required roles.
// Required roles are compared case-insensitively.
func (p Principal) HasAnyRole(required []string) bool {
	for _, want := range required {
		want = strings.ToUpper(want)
		for _, have := range p.Roles {
			if have == want {
				return true
			}
		}
	}
	return false
}
