package authn

import (
	"net/http"
	"strings"
)

// Paths configures the fixed sub-path suffixes that route interactive login
// posts to their schemes. Signed requests are recognized on any path by
// their Authorization header shape instead.
type Paths struct {
	Password  string
	Federated string
	OAuth     string
}

// An extractor inspects a request and returns a Credential if the request's
// path and shape match its scheme, else nil. Extraction is pure; malformed
// scheme payloads count as "no match", never as an abort.
type extractor func(r *http.Request) Credential

func (p Paths) extractors() []extractor {
	// Fixed priority order: password, federated, oauth, signed.
	return []extractor{
		p.extractPassword,
		p.extractFederated,
		p.extractOAuth,
		extractSigned,
	}
}

// Extract runs every extractor over r. No match returns (nil, nil); more
// than one match is a configuration error and fails closed.
func Extract(r *http.Request, p Paths) (Credential, error) {
	var found Credential
	for _, ex := range p.extractors() {
		cred := ex(r)
		if cred == nil {
			continue
		}
		if found != nil {
			return nil, ErrExtractionAmbiguous
		}
		found = cred
	}
	return found, nil
}

func pathMatches(r *http.Request, suffix string) bool {
	return suffix != "" && strings.HasSuffix(r.URL.Path, suffix)
}

func (p Paths) extractPassword(r *http.Request) Credential {
	if r.Method != http.MethodPost || !pathMatches(r, p.Password) {
		return nil
	}
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")
	if username == "" || password == "" {
		return nil
	}
	return PasswordCredential{Username: username, Secret: password}
}

func (p Paths) extractFederated(r *http.Request) Credential {
	if !pathMatches(r, p.Federated) {
		return nil
	}
	assertion := r.FormValue("id_token")
	if assertion == "" {
		return nil
	}
	return FederatedAssertion{ProviderResponse: assertion}
}

func (p Paths) extractOAuth(r *http.Request) Credential {
	if !pathMatches(r, p.OAuth) {
		return nil
	}
	token := r.FormValue("access_token")
	if token == "" {
		return nil
	}
	return OAuthCallback{ProviderToken: token}
}

func extractSigned(r *http.Request) Credential {
	apiKey, sig, ok := parseAuthorization(r.Header.Get(AuthorizationHeader))
	if !ok {
		return nil
	}
	ts := r.Header.Get(TimestampHeader)
	if ts == "" {
		return nil
	}
	return SignedRequest{
		APIKey:      apiKey,
		Signature:   sig,
		Timestamp:   ts,
		PayloadHash: r.Header.Get(PayloadHashHeader),
		Method:      r.Method,
		Path:        r.URL.Path,
	}
}
