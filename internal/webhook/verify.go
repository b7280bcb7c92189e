// Package webhook authenticates and reconciles signing-provider callbacks.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/rpattn/lexsign/internal/domain"
)

const (
	// SignatureHeader carries "sha256=<hex>" over the raw request body.
	SignatureHeader = "X-Docuseal-Signature"
	signaturePrefix = "sha256="
)

// Failure reasons. They are logged and audited, and only shown to callers in verbose mode.
const (
	ReasonSecretUnset = "webhook secret is not configured"
	ReasonMissing     = "signature header is missing"
	ReasonMalformed   = "signature must be sha256= followed by a hex digest"
	ReasonMismatch    = "signature does not match payload"
)

// VerificationError explains why a delivery was rejected.
type VerificationError struct {
	Reason string
}

func (e *VerificationError) Error() string {
	return domain.ErrWebhookAuthenticity.Error() + ": " + e.Reason
}

func (e *VerificationError) Unwrap() error { return domain.ErrWebhookAuthenticity }

// Sign computes the header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks header against an HMAC-SHA256 of body in constant time.
func Verify(secret string, body []byte, header string) error {
	if strings.TrimSpace(secret) == "" {
		return &VerificationError{Reason: ReasonSecretUnset}
	}
	sig := strings.TrimSpace(header)
	if sig == "" {
		return &VerificationError{Reason: ReasonMissing}
	}
	if len(sig) <= len(signaturePrefix) || !strings.EqualFold(sig[:len(signaturePrefix)], signaturePrefix) {
		return &VerificationError{Reason: ReasonMalformed}
	}
	got, err := hex.DecodeString(sig[len(signaturePrefix):])
	if err != nil || len(got) != sha256.Size {
		return &VerificationError{Reason: ReasonMalformed}
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return &VerificationError{Reason: ReasonMismatch}
	}
	return nil
}
