package authn

import "errors"

// Typed authentication failures. All of them are recovered into one of the
// terminal outcome handlers; none propagate as uncaught faults.
var (
	// ErrExtractionAmbiguous means two schemes claimed one request. That is
	// a configuration bug and the request is rejected rather than routed to
	// either scheme.
	ErrExtractionAmbiguous = errors.New("authn: multiple credential schemes matched request")

	// ErrCredentialInvalid covers bad passwords, signature mismatches and
	// rejected provider assertions.
	ErrCredentialInvalid = errors.New("authn: invalid credential")

	// ErrCredentialExpired covers signed-request timestamps outside the
	// replay window.
	ErrCredentialExpired = errors.New("authn: credential expired")

	// ErrProviderUnavailable covers failed or timed-out calls to identity
	// and OAuth providers, and unavailable internal collaborators. Always
	// fail closed, never grant.
	ErrProviderUnavailable = errors.New("authn: identity provider unavailable")

	// ErrTooManyAttempts is returned when a client address exceeds the
	// login attempt quota.
	ErrTooManyAttempts = errors.New("authn: too many login attempts")
)

// FailureCode maps an authentication error to the stable, non-sensitive
// reason code carried in user-visible responses.
func FailureCode(err error) string {
	switch {
	case errors.Is(err, ErrExtractionAmbiguous):
		return "ambiguous_request"
	case errors.Is(err, ErrCredentialExpired):
		return "credential_expired"
	case errors.Is(err, ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, ErrTooManyAttempts):
		return "too_many_attempts"
	default:
		return "invalid_credentials"
	}
}
