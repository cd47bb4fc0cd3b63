package authn

// Credential is the scheme-specific proof of identity extracted from a
// request. Exactly one variant is extracted per request; extraction is
// mutually exclusive across schemes.
type Credential interface {
	Scheme() string
}

// PasswordCredential is a username/password form post.
type PasswordCredential struct {
	Username string
	Secret   string
}

// FederatedAssertion carries the raw identity assertion from a federated
// provider callback (an OIDC ID token).
type FederatedAssertion struct {
	ProviderResponse string
}

// OAuthCallback carries the provider access token from an OAuth callback.
type OAuthCallback struct {
	ProviderToken string
}

// SignedRequest is an HMAC-signed API call. PayloadHash is the hex SHA-256
// of the request body as asserted by the caller; it is bound into the
// signature.
type SignedRequest struct {
	APIKey      string
	Signature   string
	Timestamp   string
	PayloadHash string
	Method      string
	Path        string
}

func (PasswordCredential) Scheme() string { return "password" }
func (FederatedAssertion) Scheme() string { return "federated" }
func (OAuthCallback) Scheme() string      { return "oauth" }
func (SignedRequest) Scheme() string      { return "signed" }
