// Package csrf implements the forgery guard for state-mutating requests.
// Tokens live in an external cache keyed by a stable per-caller identifier,
// never in a server session.
package csrf

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"time"
)

// Safe methods never require a forgery token.
var safeMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodTrace:   true,
	http.MethodOptions: true,
}

// SafeMethod reports whether method is in the CSRF-exempt safe set.
func SafeMethod(method string) bool {
	return safeMethods[method]
}

// Guard validates and issues per-caller forgery tokens. Issuance is
// idempotent per caller key within the TTL: repeated lookups before expiry
// return the same value.
type Guard struct {
	cache  Cache
	param  string
	header string
	ttl    time.Duration
}

func NewGuard(cache Cache, param, header string, ttl time.Duration) *Guard {
	if param == "" {
		param = "_csrf"
	}
	if header == "" {
		header = "X-CSRF-Token"
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Guard{cache: cache, param: param, header: header, ttl: ttl}
}

// Header returns the response/request header carrying the token.
func (g *Guard) Header() string { return g.header }

// Ensure returns the caller's current token, minting one if absent. Used
// on safe requests so the client has a token before its first mutation.
func (g *Guard) Ensure(ctx context.Context, callerKey string) (string, error) {
	existing, ok, err := g.cache.Get(ctx, callerKey)
	if err != nil {
		return "", err
	}
	if ok {
		return existing, nil
	}
	return g.issue(ctx, callerKey)
}

// Check validates a mutating request. If no token is stored for the caller
// yet, one is issued and the request is allowed through: first-use leniency
// is the price of the no-session design and is kept for compatibility.
// A stored token must match the submitted one exactly.
func (g *Guard) Check(ctx context.Context, r *http.Request, callerKey string) (allowed bool, err error) {
	expected, ok, err := g.cache.Get(ctx, callerKey)
	if err != nil {
		return false, err
	}
	if !ok {
		if _, err := g.issue(ctx, callerKey); err != nil {
			return false, err
		}
		return true, nil
	}
	submitted := r.Header.Get(g.header)
	if submitted == "" {
		submitted = r.FormValue(g.param)
	}
	if submitted == "" {
		return false, nil
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(submitted)) == 1, nil
}

func (g *Guard) issue(ctx context.Context, callerKey string) (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := base64.RawURLEncoding.EncodeToString(buf)
	if err := g.cache.Put(ctx, callerKey, token, g.ttl); err != nil {
		return "", err
	}
	return token, nil
}
