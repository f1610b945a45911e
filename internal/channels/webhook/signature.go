// Package webhook implements the outbound webhook delivery channel: JSON
// payloads POSTed to user-configured HTTPS endpoints with HMAC signing and
// strict SSRF protection.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"relaypoint/internal/types"
)

// SignatureHeader carries the payload signature on every webhook request.
const SignatureHeader = "X-Relaypoint-Signature"

// SigningKeys holds the active signing secret plus, during rotation, the
// previous secret and the end of its grace period.
type SigningKeys struct {
	Secret            types.SecretString
	PreviousSecret    types.SecretString
	PreviousExpiresAt time.Time
}

// Signer produces and verifies webhook signature headers with dual-validity
// support for zero-downtime secret rotation.
//
// Header format: t=<unix>,v1=<hmac>[,v1_old=<hmac>]
// The signed content is "{unix_timestamp}.{payload}" under HMAC-SHA256.
type Signer struct {
	keys SigningKeys
}

// NewSigner creates a Signer for the given keys.
func NewSigner(keys SigningKeys) (*Signer, error) {
	if keys.Secret.Unmask() == "" {
		return nil, fmt.Errorf("webhook signer: signing secret is empty")
	}
	return &Signer{keys: keys}, nil
}

// Sign returns the signature header value for a payload at the given time.
// While the previous secret's grace period is open the header carries a
// v1_old signature so receivers mid-rotation can still verify.
func (s *Signer) Sign(payload []byte, now time.Time) string {
	content := fmt.Sprintf("%d.%s", now.Unix(), payload)
	header := fmt.Sprintf("t=%d,v1=%s", now.Unix(), computeHMAC(content, s.keys.Secret.Unmask()))

	prev := s.keys.PreviousSecret.Unmask()
	if prev != "" && !s.keys.PreviousExpiresAt.IsZero() && !now.After(s.keys.PreviousExpiresAt) {
		header = fmt.Sprintf("%s,v1_old=%s", header, computeHMAC(content, prev))
	}
	return header
}

// Verify checks a payload against a signature header. Either the current or
// the previous secret may validate the v1 signature, and v1_old is checked
// against the previous secret, so both sides of a rotation interoperate.
func (s *Signer) Verify(payload []byte, header string) bool {
	parts := parseSignatureHeader(header)
	if parts.timestamp == "" || parts.v1 == "" {
		return false
	}
	content := fmt.Sprintf("%s.%s", parts.timestamp, payload)

	if equalHMAC(parts.v1, content, s.keys.Secret.Unmask()) {
		return true
	}
	prev := s.keys.PreviousSecret.Unmask()
	if prev == "" {
		return false
	}
	if parts.v1Old != "" && equalHMAC(parts.v1Old, content, prev) {
		return true
	}
	return equalHMAC(parts.v1, content, prev)
}

type signatureParts struct {
	timestamp string
	v1        string
	v1Old     string
}

// parseSignatureHeader breaks a header of form "t=<unix>,v1=<hex>[,v1_old=<hex>]"
// into its components. Unknown segments are ignored.
func parseSignatureHeader(header string) signatureParts {
	var parts signatureParts
	for _, segment := range strings.Split(header, ",") {
		kv := strings.SplitN(segment, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.TrimSpace(kv[0]) {
		case "t":
			parts.timestamp = strings.TrimSpace(kv[1])
		case "v1":
			parts.v1 = strings.TrimSpace(kv[1])
		case "v1_old":
			parts.v1Old = strings.TrimSpace(kv[1])
		}
	}
	return parts
}

func computeHMAC(content, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(content))
	return hex.EncodeToString(mac.Sum(nil))
}

func equalHMAC(got, content, key string) bool {
	return hmac.Equal([]byte(got), []byte(computeHMAC(content, key)))
}
