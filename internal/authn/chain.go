package authn

import (
	"context"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"

	"paragate/gateway-service/internal/identity"
	"paragate/gateway-service/internal/principal"
	"paragate/gateway-service/internal/rate"
)

// ProviderVerifier validates a provider-issued token or assertion and
// returns the subject identifier it asserts. Implementations wrap errors
// with ErrProviderUnavailable for transport failures and timeouts, so the
// chain can distinguish "provider said no" from "provider unreachable".
type ProviderVerifier interface {
	Verify(ctx context.Context, token string) (subject string, err error)
}

// dummyHash is compared against when a username does not resolve, so the
// lookup-miss path costs the same as a real bcrypt comparison.
var dummyHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

// Chain resolves an extracted Credential into a Principal by delegating to
// the matched scheme's trust mechanism. It is stateless per request; all
// collaborators are injected at construction.
type Chain struct {
	users     identity.Store
	federated ProviderVerifier
	oauth     ProviderVerifier
	window    time.Duration
	attempts  *rate.Limiter
	nowFunc   func() time.Time
}

func NewChain(users identity.Store, federated, oauth ProviderVerifier, window time.Duration, attempts *rate.Limiter) *Chain {
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &Chain{
		users:     users,
		federated: federated,
		oauth:     oauth,
		window:    window,
		attempts:  attempts,
		nowFunc:   time.Now,
	}
}

// Authenticate verifies cred and produces a Principal, or a typed failure.
// clientIP feeds the login attempt limiter for interactive schemes.
func (c *Chain) Authenticate(ctx context.Context, cred Credential, clientIP string) (principal.Principal, error) {
	switch v := cred.(type) {
	case PasswordCredential:
		return c.authenticatePassword(ctx, v, clientIP)
	case FederatedAssertion:
		return c.verifyWithProvider(ctx, c.federated, v.ProviderResponse, principal.SchemeFederated)
	case OAuthCallback:
		return c.verifyWithProvider(ctx, c.oauth, v.ProviderToken, principal.SchemeOAuth)
	case SignedRequest:
		return c.authenticateSigned(ctx, v)
	default:
		return principal.Principal{}, ErrCredentialInvalid
	}
}

func (c *Chain) authenticatePassword(ctx context.Context, cred PasswordCredential, clientIP string) (principal.Principal, error) {
	if c.attempts != nil && clientIP != "" && !c.attempts.Allow("login:"+clientIP) {
		return principal.Principal{}, ErrTooManyAttempts
	}
	rec, err := c.users.LookupByUsername(ctx, cred.Username)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			// Burn a comparison anyway; unknown users must not be cheaper.
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(cred.Secret))
			return principal.Principal{}, ErrCredentialInvalid
		}
		return principal.Principal{}, ErrProviderUnavailable
	}
	if bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(cred.Secret)) != nil {
		return principal.Principal{}, ErrCredentialInvalid
	}
	return principal.New(rec.ID, principal.SchemePassword, rec.Roles), nil
}

func (c *Chain) verifyWithProvider(ctx context.Context, verifier ProviderVerifier, token, scheme string) (principal.Principal, error) {
	if verifier == nil {
		return principal.Principal{}, ErrProviderUnavailable
	}
	subject, err := verifier.Verify(ctx, token)
	if err != nil {
		if errors.Is(err, ErrProviderUnavailable) {
			return principal.Principal{}, ErrProviderUnavailable
		}
		return principal.Principal{}, ErrCredentialInvalid
	}
	rec, err := c.users.Lookup(ctx, subject)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return principal.Principal{}, ErrCredentialInvalid
		}
		return principal.Principal{}, ErrProviderUnavailable
	}
	return principal.New(rec.ID, scheme, rec.Roles), nil
}

func (c *Chain) authenticateSigned(ctx context.Context, sr SignedRequest) (principal.Principal, error) {
	// Replay window first: a stale timestamp is rejected regardless of
	// whether the signature would have checked out.
	if !timestampWithin(sr.Timestamp, c.nowFunc(), c.window) {
		return principal.Principal{}, ErrCredentialExpired
	}
	rec, err := c.users.Lookup(ctx, sr.APIKey)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return principal.Principal{}, ErrCredentialInvalid
		}
		return principal.Principal{}, ErrProviderUnavailable
	}
	if rec.Secret == "" || !verifySignature(rec.Secret, sr) {
		return principal.Principal{}, ErrCredentialInvalid
	}
	roles := append(append([]string{}, rec.Roles...), principal.RoleApp)
	return principal.New(rec.ID, principal.SchemeSigned, roles), nil
}
