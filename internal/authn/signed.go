package authn

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Wire format for signed API requests:
//
//	Authorization: PG1-HMAC-SHA256 Credential=<apiKey>, Signature=<hex>
//	X-PG-Timestamp: <unix seconds>
//	X-PG-Content-Sha256: <hex sha256 of body, or the empty-body hash>
//
// The signature is HMAC-SHA256 over "method\npath\ntimestamp\npayloadHash"
// keyed with the caller's registered shared secret.
const (
	SignaturePrefix     = "PG1-HMAC-SHA256"
	TimestampHeader     = "X-PG-Timestamp"
	PayloadHashHeader   = "X-PG-Content-Sha256"
	AuthorizationHeader = "Authorization"
)

// EmptyPayloadHash is the hex SHA-256 of a zero-length body.
var EmptyPayloadHash = hex.EncodeToString(func() []byte {
	h := sha256.Sum256(nil)
	return h[:]
}())

// parseAuthorization splits the signed-request Authorization header into
// its apiKey and signature. ok is false for anything malformed.
func parseAuthorization(header string) (apiKey, signature string, ok bool) {
	rest, found := strings.CutPrefix(header, SignaturePrefix+" ")
	if !found {
		return "", "", false
	}
	for _, part := range strings.Split(rest, ",") {
		part = strings.TrimSpace(part)
		switch {
		case strings.HasPrefix(part, "Credential="):
			apiKey = strings.TrimPrefix(part, "Credential=")
		case strings.HasPrefix(part, "Signature="):
			signature = strings.TrimPrefix(part, "Signature=")
		}
	}
	if apiKey == "" || signature == "" {
		return "", "", false
	}
	return apiKey, signature, true
}

// StringToSign assembles the canonical signing payload.
func StringToSign(method, path, timestamp, payloadHash string) string {
	if payloadHash == "" {
		payloadHash = EmptyPayloadHash
	}
	return method + "\n" + path + "\n" + timestamp + "\n" + payloadHash
}

// ComputeSignature returns the hex HMAC-SHA256 of stringToSign under secret.
func ComputeSignature(secret, stringToSign string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(stringToSign))
	return hex.EncodeToString(mac.Sum(nil))
}

// verifySignature recomputes the expected signature and compares in
// constant time.
func verifySignature(secret string, sr SignedRequest) bool {
	expected := ComputeSignature(secret, StringToSign(sr.Method, sr.Path, sr.Timestamp, sr.PayloadHash))
	return hmac.Equal([]byte(expected), []byte(sr.Signature))
}

// timestampWithin reports whether ts (unix seconds) is within window of now
// in either direction. Drift past the window means the request is replayed
// or the caller's clock is broken; both are rejected.
func timestampWithin(ts string, now time.Time, window time.Duration) bool {
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	drift := now.Sub(time.Unix(sec, 0))
	if drift < 0 {
		drift = -drift
	}
	return drift <= window
}
