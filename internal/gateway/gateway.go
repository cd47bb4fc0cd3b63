// Package gateway wires the request-time authentication and authorization
// pipeline: extract -> authenticate (or remember-me fallback) -> authorize
// -> csrf -> dispatch. The pipeline is strictly forward-moving and holds no
// state between requests; anything cross-request lives in the client cookie
// or the external cache.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"paragate/gateway-service/internal/authn"
	"paragate/gateway-service/internal/authorize"
	"paragate/gateway-service/internal/config"
	"paragate/gateway-service/internal/csrf"
	"paragate/gateway-service/internal/httputil"
	"paragate/gateway-service/internal/metrics"
	"paragate/gateway-service/internal/outcome"
	"paragate/gateway-service/internal/principal"
	"paragate/gateway-service/internal/rememberme"
)

type principalKey struct{}

// WithPrincipal attaches p to ctx for downstream handlers.
func WithPrincipal(ctx context.Context, p principal.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the request's resolved Principal.
func PrincipalFromContext(ctx context.Context) (principal.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(principal.Principal)
	return p, ok
}

// Gateway guards an inner handler. All collaborators are injected at
// construction; nothing is looked up from ambient global state.
type Gateway struct {
	cfg        *config.Config
	log        zerolog.Logger
	paths      authn.Paths
	chain      *authn.Chain
	rememberMe *rememberme.Service
	evaluator  *authorize.Evaluator
	guard      *csrf.Guard
	outcome    *outcome.Handlers
	next       http.Handler
}

func New(cfg *config.Config, log zerolog.Logger, chain *authn.Chain, rm *rememberme.Service,
	ev *authorize.Evaluator, guard *csrf.Guard, out *outcome.Handlers, next http.Handler) *Gateway {
	return &Gateway{
		cfg: cfg,
		log: log,
		paths: authn.Paths{
			Password:  cfg.Auth.PasswordPath,
			Federated: cfg.Auth.FederatedPath,
			OAuth:     cfg.Auth.OAuthPath,
		},
		chain:      chain,
		rememberMe: rm,
		evaluator:  ev,
		guard:      guard,
		outcome:    out,
		next:       next,
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		metrics.PipelineDuration.Observe(time.Since(start).Seconds())
	}()

	if g.ignored(r.URL.Path) {
		g.next.ServeHTTP(w, r)
		return
	}
	// Signout only on POST; clearing the cookie from a GET would let any
	// cross-site image tag log the caller out.
	if r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, g.cfg.Auth.SignoutPath) {
		g.signout(w, r)
		return
	}

	cred, err := authn.Extract(r, g.paths)
	if err != nil {
		// Two schemes claimed the request: configuration bug, fail closed.
		g.log.Warn().Str("path", r.URL.Path).Msg("ambiguous credential extraction")
		g.outcome.AuthFailure(w, r, authn.FailureCode(err), http.StatusBadRequest)
		return
	}

	var p principal.Principal
	if cred != nil {
		p, err = g.chain.Authenticate(r.Context(), cred, httputil.ClientIP(r))
		if err != nil {
			metrics.AuthnOutcome.WithLabelValues(cred.Scheme(), "failure").Inc()
			g.outcome.AuthFailure(w, r, authn.FailureCode(err), failureStatus(err))
			return
		}
		metrics.AuthnOutcome.WithLabelValues(cred.Scheme(), "success").Inc()

		// Interactive login posts terminate here; only signed API calls
		// continue into the protected route.
		if _, isSigned := cred.(authn.SignedRequest); !isSigned {
			if p.Scheme == principal.SchemePassword && g.rememberOptedIn(r) {
				g.issueRememberMe(w, p)
			}
			g.outcome.Success(w, r, p)
			return
		}
	} else {
		p = g.rememberedOrAnonymous(r)
	}

	decision := g.evaluator.Evaluate(r.URL.Path, p)
	if !decision.Allowed {
		metrics.AuthzDecision.WithLabelValues("deny").Inc()
		// An unknown caller is sent to sign in; a known caller is denied,
		// whether under-privileged or on a path no rule covers.
		if p.IsAnonymous() {
			g.outcome.Unauthenticated(w, r)
		} else {
			g.outcome.AccessDenied(w, r, p)
		}
		return
	}
	metrics.AuthzDecision.WithLabelValues("allow").Inc()

	if !g.checkCsrf(w, r, cred, p) {
		return
	}

	g.next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
}

// rememberedOrAnonymous runs the remember-me fallback for requests carrying
// no active credential.
func (g *Gateway) rememberedOrAnonymous(r *http.Request) principal.Principal {
	c, err := r.Cookie(g.cfg.Cookie.Name)
	if err != nil || c.Value == "" {
		return principal.Anonymous()
	}
	p, ok := g.rememberMe.Validate(r.Context(), c.Value)
	if !ok {
		metrics.RememberMeValidated.WithLabelValues("invalid").Inc()
		return principal.Anonymous()
	}
	metrics.RememberMeValidated.WithLabelValues("ok").Inc()
	return p
}

// checkCsrf enforces the forgery guard. Signed requests are inherently
// replay-protected and exempt; safe methods only ensure a token exists so
// the client has one before its first mutation.
func (g *Gateway) checkCsrf(w http.ResponseWriter, r *http.Request, cred authn.Credential, p principal.Principal) bool {
	if _, isSigned := cred.(authn.SignedRequest); isSigned {
		metrics.CsrfChecks.WithLabelValues("exempt").Inc()
		return true
	}
	key := callerKey(r, p)
	if csrf.SafeMethod(r.Method) {
		token, err := g.guard.Ensure(r.Context(), key)
		if err != nil {
			// Not a protection decision on a safe method; log and move on.
			g.log.Warn().Err(err).Msg("csrf token issuance failed")
			return true
		}
		w.Header().Set(g.guard.Header(), token)
		metrics.CsrfChecks.WithLabelValues("issued").Inc()
		return true
	}

	allowed, err := g.guard.Check(r.Context(), r, key)
	if err != nil {
		// Cache unavailable: fail closed rather than skip the check.
		g.log.Error().Err(err).Msg("csrf cache unavailable")
		g.outcome.Unavailable(w, r)
		return false
	}
	if !allowed {
		metrics.CsrfChecks.WithLabelValues("rejected").Inc()
		g.outcome.CsrfRejected(w, r)
		return false
	}
	metrics.CsrfChecks.WithLabelValues("matched").Inc()
	return true
}

// callerKey is the stable per-caller identifier for CSRF token storage:
// the principal id when known, the client address otherwise. Never a
// session id, because there are no sessions.
func callerKey(r *http.Request, p principal.Principal) string {
	if !p.IsAnonymous() {
		return "uid:" + p.ID
	}
	return "ip:" + httputil.ClientIP(r)
}

func (g *Gateway) rememberOptedIn(r *http.Request) bool {
	if g.cfg.RememberMe.Always {
		return true
	}
	v := r.FormValue(g.cfg.Cookie.Name + "-remember-me")
	return v == "true" || v == "on" || v == "1"
}

func (g *Gateway) issueRememberMe(w http.ResponseWriter, p principal.Principal) {
	token, expiry, err := g.rememberMe.Issue(p)
	if err != nil {
		g.log.Error().Err(err).Msg("remember-me issuance failed")
		return
	}
	http.SetCookie(w, g.buildCookie(token, int(time.Until(expiry).Seconds())))
	metrics.RememberMeIssued.Inc()
}

func (g *Gateway) signout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, g.buildCookie("", -1))
	if g.outcome.IsAPIRequest(r) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "signed_out"})
		return
	}
	http.Redirect(w, r, g.cfg.Security.Signin, http.StatusFound)
}

func (g *Gateway) ignored(path string) bool {
	for _, pat := range g.cfg.Security.Ignored {
		if authorize.MatchPattern(pat, path) {
			return true
		}
	}
	return false
}

func (g *Gateway) buildCookie(value string, maxAge int) *http.Cookie {
	c := &http.Cookie{
		Name:     g.cfg.Cookie.Name,
		Value:    value,
		Path:     g.cfg.Cookie.Path,
		MaxAge:   maxAge,
		Secure:   g.cfg.Cookie.Secure,
		HttpOnly: g.cfg.Cookie.HTTPOnly,
	}
	switch strings.ToLower(g.cfg.Cookie.SameSite) {
	case "none":
		c.SameSite = http.SameSiteNoneMode
	default:
		c.SameSite = http.SameSiteLaxMode
	}
	if g.cfg.Cookie.Domain != "" {
		c.Domain = g.cfg.Cookie.Domain
	}
	return c
}

func failureStatus(err error) int {
	switch {
	case errors.Is(err, authn.ErrProviderUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, authn.ErrTooManyAttempts):
		return http.StatusTooManyRequests
	case errors.Is(err, authn.ErrExtractionAmbiguous):
		return http.StatusBadRequest
	default:
		return http.StatusUnauthorized
	}
}
