// Package providers holds the outbound verifiers for federated-identity
// and OAuth credentials. Every call has a bounded timeout and goes through
// a circuit breaker; a timeout or open breaker surfaces as provider
// unavailability, never as a silent grant.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"paragate/gateway-service/internal/authn"
	"paragate/gateway-service/internal/circuitbreaker"
	"paragate/gateway-service/internal/metrics"
)

// OAuth verifies provider access tokens by calling the provider's
// token-inspection endpoint (the graph "me" call) and reading the subject
// id from its JSON response.
type OAuth struct {
	endpoint string
	client   *http.Client
	breaker  *circuitbreaker.Breaker
}

func NewOAuth(endpoint string, timeout time.Duration) *OAuth {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &OAuth{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		breaker:  circuitbreaker.New("oauth", 5, 30*time.Second),
	}
}

func (o *OAuth) Verify(ctx context.Context, token string) (string, error) {
	if err := o.breaker.Allow(); err != nil {
		metrics.ProviderCalls.WithLabelValues("oauth", "breaker_open").Inc()
		return "", fmt.Errorf("%w: %v", authn.ErrProviderUnavailable, err)
	}

	u, err := url.Parse(o.endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: bad endpoint: %v", authn.ErrProviderUnavailable, err)
	}
	q := u.Query()
	q.Set("access_token", token)
	q.Set("fields", "id")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", authn.ErrProviderUnavailable, err)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		o.breaker.RecordFailure()
		metrics.ProviderCalls.WithLabelValues("oauth", "error").Inc()
		return "", fmt.Errorf("%w: %v", authn.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		o.breaker.RecordFailure()
		metrics.ProviderCalls.WithLabelValues("oauth", "error").Inc()
		return "", fmt.Errorf("%w: provider returned %d", authn.ErrProviderUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		// 4xx means the token itself was rejected.
		o.breaker.RecordSuccess()
		metrics.ProviderCalls.WithLabelValues("oauth", "rejected").Inc()
		return "", fmt.Errorf("provider rejected token (%d)", resp.StatusCode)
	}

	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.ID == "" {
		o.breaker.RecordFailure()
		metrics.ProviderCalls.WithLabelValues("oauth", "error").Inc()
		return "", fmt.Errorf("%w: unparsable provider response", authn.ErrProviderUnavailable)
	}
	o.breaker.RecordSuccess()
	metrics.ProviderCalls.WithLabelValues("oauth", "ok").Inc()
	return body.ID, nil
}
