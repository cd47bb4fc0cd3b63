package gateway

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"paragate/gateway-service/internal/authn"
	"paragate/gateway-service/internal/authorize"
	"paragate/gateway-service/internal/config"
	"paragate/gateway-service/internal/csrf"
	"paragate/gateway-service/internal/identity"
	"paragate/gateway-service/internal/outcome"
	"paragate/gateway-service/internal/principal"
	"paragate/gateway-service/internal/rememberme"
)

const appSecret = "app-signing-secret"

type dispatched struct {
	hit       bool
	principal principal.Principal
}

func (d *dispatched) reset() { *d = dispatched{} }

func (d *dispatched) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d.hit = true
		if p, ok := PrincipalFromContext(r.Context()); ok {
			d.principal = p
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func testConfig() *config.Config {
	return &config.Config{
		Cookie: config.CookieCfg{Name: "auth", Path: "/", SameSite: "Lax", HTTPOnly: true},
		Security: config.SecurityCfg{
			Signin:        "/signin",
			SigninSuccess: "/",
			SigninFailure: "/signin",
			AccessDenied:  "/error/403",
			ReturnParam:   "returnto",
			Ignored:       []string{"/healthz", "/static/**"},
		},
		Auth: config.AuthCfg{
			PasswordPath:  "/password_auth",
			FederatedPath: "/openid_auth",
			OAuthPath:     "/facebook_auth",
			SignoutPath:   "/signout",
		},
		RememberMe: config.RememberMeCfg{ValiditySec: 3600},
		Signed:     config.SignedCfg{WindowSec: 900},
		Csrf:       config.CsrfCfg{Param: "_csrf", Header: "X-CSRF-Token", TTLSec: 3600},
	}
}

func testGateway(t *testing.T) (*Gateway, *dispatched) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt failed: %v", err)
	}
	store := identity.NewMemoryStore([]identity.UserRecord{
		{ID: "u1", Username: "alice", PasswordHash: string(hash), Roles: []string{"USER"}},
		{ID: "app1", Secret: appSecret, Roles: []string{"ADMIN"}},
	})
	cfg := testConfig()
	secret := base64.RawURLEncoding.EncodeToString([]byte("gatewaytestsecretatleast16bytes"))
	cfg.RememberMe.Secret = secret

	rm, err := rememberme.NewService(secret, time.Hour, store)
	if err != nil {
		t.Fatalf("rememberme.NewService failed: %v", err)
	}
	chain := authn.NewChain(store, nil, nil, cfg.SignedWindow(), nil)
	evaluator := authorize.NewEvaluator([]authorize.Rule{
		{Patterns: []string{"/admin/**"}, Roles: []string{"admin"}},
		{Patterns: []string{"/v1/**"}, Roles: []string{"user", "app"}},
		{Patterns: []string{"/**"}},
	})
	guard := csrf.NewGuard(csrf.NewMemoryCache(), cfg.Csrf.Param, cfg.Csrf.Header, cfg.CsrfTTL())
	out := &outcome.Handlers{
		SigninURL:     cfg.Security.Signin,
		SuccessURL:    cfg.Security.SigninSuccess,
		FailureURL:    cfg.Security.SigninFailure,
		DeniedURL:     cfg.Security.AccessDenied,
		ReturnParam:   cfg.Security.ReturnParam,
		APIPathPrefix: "/v1/",
	}
	d := &dispatched{}
	gw := New(cfg, zerolog.Nop(), chain, rm, evaluator, guard, out, d.handler())
	return gw, d
}

func loginRequest(extra url.Values) *http.Request {
	form := url.Values{"username": {"alice"}, "password": {"hunter2"}}
	for k, vs := range extra {
		form[k] = vs
	}
	r := httptest.NewRequest("POST", "/password_auth", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func authCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == "auth" {
			return c
		}
	}
	return nil
}

func TestLogin_RememberMeIssued(t *testing.T) {
	gw, d := testGateway(t)
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, loginRequest(url.Values{"auth-remember-me": {"true"}}))

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/" {
		t.Errorf("redirect target = %q, want /", loc)
	}
	c := authCookie(t, w)
	if c == nil {
		t.Fatal("remember-me cookie not issued")
	}
	if c.MaxAge <= 0 {
		t.Errorf("cookie MaxAge = %d, want future expiry", c.MaxAge)
	}
	if d.hit {
		t.Error("login post must terminate at the success handler, not dispatch")
	}
}

func TestLogin_NoOptInNoCookie(t *testing.T) {
	gw, _ := testGateway(t)
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, loginRequest(nil))

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}
	if authCookie(t, w) != nil {
		t.Error("cookie issued without remember-me opt-in")
	}
}

func TestLogin_AlwaysRemember(t *testing.T) {
	gw, _ := testGateway(t)
	gw.cfg.RememberMe.Always = true
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, loginRequest(nil))
	if authCookie(t, w) == nil {
		t.Error("always_remember must issue the cookie without the opt-in param")
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	gw, d := testGateway(t)
	form := url.Values{"username": {"alice"}, "password": {"nope"}}
	r := httptest.NewRequest("POST", "/password_auth", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, r)

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302 redirect to failure target", w.Code)
	}
	loc := w.Header().Get("Location")
	if !strings.HasPrefix(loc, "/signin") || !strings.Contains(loc, "code=invalid_credentials") {
		t.Errorf("failure redirect = %q", loc)
	}
	if strings.Contains(loc, "nope") {
		t.Error("failure redirect must never echo the submitted credential")
	}
	if d.hit {
		t.Error("failed login must not dispatch")
	}
}

func TestRememberMeFallback(t *testing.T) {
	gw, d := testGateway(t)

	// Login with opt-in to obtain the cookie.
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, loginRequest(url.Values{"auth-remember-me": {"true"}}))
	c := authCookie(t, w)
	if c == nil {
		t.Fatal("no cookie issued")
	}

	// Later request with no credential: remember-me re-establishes identity.
	r := httptest.NewRequest("GET", "/profile", nil)
	r.AddCookie(c)
	w2 := httptest.NewRecorder()
	gw.ServeHTTP(w2, r)

	if !d.hit {
		t.Fatalf("request not dispatched, status %d", w2.Code)
	}
	if d.principal.ID != "u1" || d.principal.Scheme != principal.SchemeRememberMe {
		t.Errorf("principal = %+v", d.principal)
	}
}

func TestAnonymous_RedirectedToSignin(t *testing.T) {
	gw, d := testGateway(t)
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, httptest.NewRequest("GET", "/profile", nil))

	if w.Code != http.StatusFound || w.Header().Get("Location") != "/signin" {
		t.Fatalf("anonymous browser caller: status %d location %q", w.Code, w.Header().Get("Location"))
	}
	if d.hit {
		t.Error("unauthenticated request must not dispatch")
	}
}

func TestAdmin_DeniedForUser(t *testing.T) {
	gw, d := testGateway(t)
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, loginRequest(url.Values{"auth-remember-me": {"true"}}))
	c := authCookie(t, w)

	r := httptest.NewRequest("GET", "/admin/settings", nil)
	r.AddCookie(c)
	w2 := httptest.NewRecorder()
	gw.ServeHTTP(w2, r)

	if w2.Code != http.StatusFound || w2.Header().Get("Location") != "/error/403" {
		t.Fatalf("USER on /admin: status %d location %q", w2.Code, w2.Header().Get("Location"))
	}
	if d.hit {
		t.Error("denied request must not dispatch")
	}
}

func signedHeaders(r *http.Request, ts time.Time, secret string) {
	stamp := strconv.FormatInt(ts.Unix(), 10)
	sig := authn.ComputeSignature(secret, authn.StringToSign(r.Method, r.URL.Path, stamp, ""))
	r.Header.Set("Authorization", authn.SignaturePrefix+" Credential=app1, Signature="+sig)
	r.Header.Set(authn.TimestampHeader, stamp)
}

func TestSignedRequest_DispatchedAndCsrfExempt(t *testing.T) {
	gw, d := testGateway(t)
	r := httptest.NewRequest("POST", "/v1/objects", nil)
	signedHeaders(r, time.Now(), appSecret)
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, r)

	if !d.hit {
		t.Fatalf("signed mutating request not dispatched, status %d body %s", w.Code, w.Body.String())
	}
	if d.principal.Scheme != principal.SchemeSigned {
		t.Errorf("scheme = %q", d.principal.Scheme)
	}
	if !d.principal.HasAnyRole([]string{principal.RoleApp}) {
		t.Errorf("signed caller roles = %v, missing APP", d.principal.Roles)
	}
}

func TestSignedRequest_StaleTimestampRejected(t *testing.T) {
	gw, d := testGateway(t)
	r := httptest.NewRequest("POST", "/v1/objects", nil)
	r.Header.Set("Accept", "application/json")
	signedHeaders(r, time.Now().Add(-time.Hour), appSecret)
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, r)

	if d.hit {
		t.Fatal("stale signed request must not dispatch")
	}
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
	if !strings.Contains(w.Body.String(), "credential_expired") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestCsrf_SecondMutationWithoutTokenRejected(t *testing.T) {
	gw, d := testGateway(t)
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, loginRequest(url.Values{"auth-remember-me": {"true"}}))
	c := authCookie(t, w)

	// First mutating request: no stored token yet, first-use leniency.
	r1 := httptest.NewRequest("POST", "/v1/objects", nil)
	r1.AddCookie(c)
	w1 := httptest.NewRecorder()
	gw.ServeHTTP(w1, r1)
	if !d.hit {
		t.Fatalf("first mutating request must pass, status %d", w1.Code)
	}

	// Second mutating request without the token: rejected before dispatch.
	d.reset()
	r2 := httptest.NewRequest("POST", "/v1/objects", nil)
	r2.AddCookie(c)
	w2 := httptest.NewRecorder()
	gw.ServeHTTP(w2, r2)
	if d.hit {
		t.Fatal("csrf-rejected request must not reach the handler")
	}
	if w2.Code != http.StatusForbidden || !strings.Contains(w2.Body.String(), "csrf_rejected") {
		t.Errorf("status %d body %s", w2.Code, w2.Body.String())
	}
}

func TestCsrf_TokenFromSafeRequestAccepted(t *testing.T) {
	gw, d := testGateway(t)
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, loginRequest(url.Values{"auth-remember-me": {"true"}}))
	c := authCookie(t, w)

	// Safe request issues the token in the response header.
	rGet := httptest.NewRequest("GET", "/v1/objects", nil)
	rGet.AddCookie(c)
	wGet := httptest.NewRecorder()
	gw.ServeHTTP(wGet, rGet)
	token := wGet.Header().Get("X-CSRF-Token")
	if token == "" {
		t.Fatal("safe request must expose the csrf token")
	}

	d.reset()
	r := httptest.NewRequest("POST", "/v1/objects", nil)
	r.AddCookie(c)
	r.Header.Set("X-CSRF-Token", token)
	w2 := httptest.NewRecorder()
	gw.ServeHTTP(w2, r)
	if !d.hit {
		t.Fatalf("mutating request with matching token must dispatch, status %d", w2.Code)
	}
}

func TestAmbiguousExtraction_FailsClosed(t *testing.T) {
	gw, d := testGateway(t)
	r := loginRequest(nil)
	signedHeaders(r, time.Now(), appSecret)
	r.URL.Path = "/password_auth"
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, r)

	if d.hit {
		t.Fatal("ambiguous request must not dispatch")
	}
	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want redirect to failure target", w.Code)
	}
	if !strings.Contains(w.Header().Get("Location"), "code=ambiguous_request") {
		t.Errorf("location = %q", w.Header().Get("Location"))
	}
}

func TestIgnoredPath_BypassesPipeline(t *testing.T) {
	gw, d := testGateway(t)
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))
	if !d.hit {
		t.Fatal("ignored path must bypass the pipeline and dispatch")
	}
	if d.principal.ID != "" {
		t.Errorf("ignored path should not resolve a principal, got %+v", d.principal)
	}
}

func TestSignout_ClearsCookie(t *testing.T) {
	gw, _ := testGateway(t)
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, httptest.NewRequest("POST", "/signout", nil))

	if w.Code != http.StatusFound || w.Header().Get("Location") != "/signin" {
		t.Fatalf("signout: status %d location %q", w.Code, w.Header().Get("Location"))
	}
	c := authCookie(t, w)
	if c == nil || c.MaxAge >= 0 {
		t.Error("signout must clear the auth cookie")
	}
}

func TestSignout_GetDoesNotClearCookie(t *testing.T) {
	gw, d := testGateway(t)
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, loginRequest(url.Values{"auth-remember-me": {"true"}}))
	c := authCookie(t, w)

	// GET must not act: an <img src="/signout"> would log the caller out.
	r := httptest.NewRequest("GET", "/signout", nil)
	r.AddCookie(c)
	w2 := httptest.NewRecorder()
	gw.ServeHTTP(w2, r)

	if authCookie(t, w2) != nil {
		t.Error("GET /signout must not touch the auth cookie")
	}
	if !d.hit {
		t.Error("GET /signout should flow through the pipeline like any path")
	}
}

func TestReturnTo_Sanitized(t *testing.T) {
	gw, _ := testGateway(t)

	r := loginRequest(url.Values{"returnto": {"/dashboard"}})
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, r)
	if loc := w.Header().Get("Location"); loc != "/dashboard" {
		t.Errorf("same-origin returnto: location = %q", loc)
	}

	r2 := loginRequest(url.Values{"returnto": {"https://evil.example/phish"}})
	w2 := httptest.NewRecorder()
	gw.ServeHTTP(w2, r2)
	if loc := w2.Header().Get("Location"); loc != "/" {
		t.Errorf("cross-origin returnto must collapse to /, got %q", loc)
	}

	// Browsers fold "\" into "/" in http(s) URLs, so "/\host" would
	// resolve as "//host".
	r3 := loginRequest(url.Values{"returnto": {`/\evil.example`}})
	w3 := httptest.NewRecorder()
	gw.ServeHTTP(w3, r3)
	if loc := w3.Header().Get("Location"); loc != "/" {
		t.Errorf("backslash returnto must collapse to /, got %q", loc)
	}
}

func TestUnmatchedPath_KnownUserDenied(t *testing.T) {
	gw, d := testGateway(t)
	gw.evaluator = authorize.NewEvaluator([]authorize.Rule{
		{Patterns: []string{"/covered/**"}, Roles: []string{"user"}},
	})

	w := httptest.NewRecorder()
	gw.ServeHTTP(w, loginRequest(url.Values{"auth-remember-me": {"true"}}))
	c := authCookie(t, w)

	r := httptest.NewRequest("GET", "/uncovered", nil)
	r.AddCookie(c)
	w2 := httptest.NewRecorder()
	gw.ServeHTTP(w2, r)

	if w2.Code != http.StatusFound || w2.Header().Get("Location") != "/error/403" {
		t.Fatalf("known user on unmatched path: status %d location %q, want access denied",
			w2.Code, w2.Header().Get("Location"))
	}
	if d.hit {
		t.Error("unmatched path must not dispatch")
	}
}
