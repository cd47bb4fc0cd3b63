// Package rememberme issues and validates the signed, time-bounded
// credential that re-establishes a caller's identity across requests
// without any server-side session.
package rememberme

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"paragate/gateway-service/internal/identity"
	"paragate/gateway-service/internal/principal"
)

const issuerName = "paragate"

var (
	ErrSecretTooShort = errors.New("rememberme: signing secret too short; need >=16 bytes")
	ErrNoIdentity     = errors.New("rememberme: cannot issue for anonymous principal")
)

// Claims carried inside a remember-me token. Roles are deliberately not
// embedded: they are re-fetched from the identity store on validation so
// role changes take effect without a fresh login.
type Claims struct {
	Series string `json:"series"`
	jwt.RegisteredClaims
}

// Service signs remember-me tokens with a process-wide HMAC secret and a
// configured validity. Tokens are only reissued on fresh password logins,
// never rotated mid-lifetime.
type Service struct {
	secret   []byte
	validity time.Duration
	users    identity.Store
	nowFunc  func() time.Time // for tests
}

// NewService decodes the base64url secret and prepares the service.
func NewService(secretB64 string, validity time.Duration, users identity.Store) (*Service, error) {
	dec, err := base64.RawURLEncoding.DecodeString(secretB64)
	if err != nil {
		return nil, err
	}
	if len(dec) < 16 {
		return nil, ErrSecretTooShort
	}
	if validity <= 0 {
		validity = 24 * time.Hour
	}
	return &Service{
		secret:   dec,
		validity: validity,
		users:    users,
		nowFunc:  time.Now,
	}, nil
}

// Issue mints a token for p, returning the signed string and its expiry.
func (s *Service) Issue(p principal.Principal) (string, time.Time, error) {
	if p.IsAnonymous() {
		return "", time.Time{}, ErrNoIdentity
	}
	now := s.nowFunc()
	expiry := now.Add(s.validity)
	claims := Claims{
		Series: uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuerName,
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiry, nil
}

// Validate verifies signature and expiry, then re-fetches the remembered
// identity's current roles. Any mismatch fails closed: (zero, false).
func (s *Service) Validate(ctx context.Context, token string) (principal.Principal, bool) {
	if token == "" {
		return principal.Principal{}, false
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(s.nowFunc),
	)
	var claims Claims
	parsed, err := parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return principal.Principal{}, false
	}
	if subtle.ConstantTimeCompare([]byte(claims.Issuer), []byte(issuerName)) != 1 {
		return principal.Principal{}, false
	}
	if claims.ExpiresAt == nil || claims.Subject == "" {
		return principal.Principal{}, false
	}
	rec, err := s.users.Lookup(ctx, claims.Subject)
	if err != nil {
		return principal.Principal{}, false
	}
	return principal.New(rec.ID, principal.SchemeRememberMe, rec.Roles), true
}
