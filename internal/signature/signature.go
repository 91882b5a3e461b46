// Package signature validates the HMAC signatures Meta attaches to webhook
// event notifications.
//
// Meta signs the raw request body with the App Secret and sends the digest in
// one of two headers:
//
//	X-Hub-Signature-256: sha256=<hex-encoded HMAC-SHA256>
//	X-Hub-Signature:     sha1=<hex-encoded HMAC-SHA1>
//
// Validation must run over the exact bytes received. Re-serializing a parsed
// payload changes whitespace and key order and will never match.
//
// Reference: https://developers.facebook.com/docs/messenger-platform/webhooks#validate-payloads
package signature

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"hash"
	"net/http"
	"strings"
)

// Header names used by Meta for payload signatures.
const (
	HeaderSHA256 = "X-Hub-Signature-256"
	HeaderSHA1   = "X-Hub-Signature"
)

// Algorithm is the digest prefix in a signature header value.
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	SHA1   Algorithm = "sha1"
)

// ErrInvalid is returned for every validation failure: absent header,
// unsupported algorithm, undecodable digest, mismatch, or an empty secret.
// Callers cannot tell these apart, which keeps the failure response uniform.
var ErrInvalid = errors.New("invalid signature")

func (a Algorithm) hasher() func() hash.Hash {
	switch a {
	case SHA1:
		return sha1.New
	default:
		return sha256.New
	}
}

// FromRequest returns the signature header value to validate, preferring the
// SHA-256 header when both are present.
func FromRequest(h http.Header) string {
	if v := h.Get(HeaderSHA256); v != "" {
		return v
	}
	return h.Get(HeaderSHA1)
}

// Validate checks header against the HMAC of body keyed with secret.
//
// The expected digest is always computed, even when the header is malformed
// or the secret is empty, so the work done does not depend on which check
// fails. The final comparison uses hmac.Equal.
func Validate(body []byte, header, secret string) error {
	alg, digest, ok := strings.Cut(header, "=")
	algorithm := Algorithm(alg)
	if algorithm != SHA1 && algorithm != SHA256 {
		ok = false
	}

	mac := hmac.New(algorithm.hasher(), []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	received, err := hex.DecodeString(digest)
	if err != nil {
		ok = false
	}

	match := hmac.Equal(received, expected)
	if !ok || !match || secret == "" {
		return ErrInvalid
	}
	return nil
}

// Sign returns the header value Meta would send for body under secret.
func Sign(body []byte, secret string, alg Algorithm) string {
	mac := hmac.New(alg.hasher(), []byte(secret))
	mac.Write(body)
	return string(alg) + "=" + hex.EncodeToString(mac.Sum(nil))
}

// HeaderFor returns the header name that carries signatures of alg.
func HeaderFor(alg Algorithm) string {
	if alg == SHA1 {
		return HeaderSHA1
	}
	return HeaderSHA256
}
