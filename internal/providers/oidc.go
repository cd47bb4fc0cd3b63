package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"

	"paragate/gateway-service/internal/authn"
	"paragate/gateway-service/internal/circuitbreaker"
	"paragate/gateway-service/internal/metrics"
)

// OIDC verifies federated identity assertions (ID tokens) against the
// issuer's published keys. Discovery happens once at construction.
type OIDC struct {
	verifier *oidc.IDTokenVerifier
	timeout  time.Duration
	breaker  *circuitbreaker.Breaker
}

func NewOIDC(ctx context.Context, issuer, clientID string, timeout time.Duration) (*OIDC, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery for %s: %w", issuer, err)
	}
	return &OIDC{
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
		timeout:  timeout,
		breaker:  circuitbreaker.New("federated", 5, 30*time.Second),
	}, nil
}

func (o *OIDC) Verify(ctx context.Context, rawToken string) (string, error) {
	if err := o.breaker.Allow(); err != nil {
		metrics.ProviderCalls.WithLabelValues("federated", "breaker_open").Inc()
		return "", fmt.Errorf("%w: %v", authn.ErrProviderUnavailable, err)
	}
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	idToken, err := o.verifier.Verify(ctx, rawToken)
	if err != nil {
		if ctx.Err() != nil {
			o.breaker.RecordFailure()
			metrics.ProviderCalls.WithLabelValues("federated", "timeout").Inc()
			return "", fmt.Errorf("%w: %v", authn.ErrProviderUnavailable, err)
		}
		o.breaker.RecordSuccess()
		metrics.ProviderCalls.WithLabelValues("federated", "rejected").Inc()
		return "", fmt.Errorf("assertion rejected: %w", err)
	}
	o.breaker.RecordSuccess()
	metrics.ProviderCalls.WithLabelValues("federated", "ok").Inc()
	return idToken.Subject, nil
}
