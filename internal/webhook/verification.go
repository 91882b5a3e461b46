package webhook

import (
	"crypto/subtle"
	"errors"
	"net/url"
)

// Query parameters of the subscription handshake.
const (
	paramMode        = "hub.mode"
	paramVerifyToken = "hub.verify_token"
	paramChallenge   = "hub.challenge"

	modeSubscribe = "subscribe"
)

// ErrVerification is returned for any failed handshake.
var ErrVerification = errors.New("webhook verification failed")

// VerificationRequest holds the handshake query parameters.
type VerificationRequest struct {
	Mode      string
	Token     string
	Challenge string
}

// ParseVerificationRequest extracts the handshake parameters from q.
func ParseVerificationRequest(q url.Values) VerificationRequest {
	return VerificationRequest{
		Mode:      q.Get(paramMode),
		Token:     q.Get(paramVerifyToken),
		Challenge: q.Get(paramChallenge),
	}
}

// Handshake answers Meta's subscription handshake.
//
// Meta sends:
//
//	GET /webhook?hub.mode=subscribe&hub.verify_token=<token>&hub.challenge=<challenge>
//
// and expects the challenge echoed back verbatim when the token matches.
type Handshake struct {
	verifyToken string
}

// NewHandshake creates a Handshake for the configured verify token.
func NewHandshake(verifyToken string) Handshake {
	return Handshake{verifyToken: verifyToken}
}

// Verify returns the challenge to echo, or ErrVerification when the token is
// absent or wrong, the challenge is absent, or hub.mode is present with a
// value other than "subscribe". An empty configured token never verifies.
func (h Handshake) Verify(q url.Values) (string, error) {
	req := ParseVerificationRequest(q)

	tokenOK := subtle.ConstantTimeCompare([]byte(req.Token), []byte(h.verifyToken)) == 1
	if !tokenOK || h.verifyToken == "" || req.Challenge == "" {
		return "", ErrVerification
	}
	if q.Has(paramMode) && req.Mode != modeSubscribe {
		return "", ErrVerification
	}
	return req.Challenge, nil
}

// verificationFailureBody is the 400 body for a failed handshake. It echoes
// the caller's own query string and nothing from configuration.
func verificationFailureBody(rawQuery string) string {
	return "Incorrect webhook_verify_token or No hub.challenge in " + rawQuery
}
