// Package signature produces the privacy-preserving identity bundle
// consumed by every other detection component. It never returns raw
// PII — only keyed HMAC digests derived from it.
package signature

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strings"

	"github.com/nodeforge/botwall/internal/detect/detecterr"
)

// MinKeyBytes is the minimum accepted secret key length (128 bits).
const MinKeyBytes = 16

// MaxHexLen is the hash output length after hex-encoding and truncation.
// HMAC-SHA512 hex-encodes to exactly 128 characters, so truncation here
// is a defensive clamp rather than a lossy step for the algorithm we use.
const MaxHexLen = 128

// Signatures is the bundle produced once per request and reused by
// every downstream component. Per-factor fields are empty when their
// raw input was absent — never populated with a placeholder.
type Signatures struct {
	Primary               string // HMAC(key, IP || UA)
	IPHash                string
	UAHash                string
	SubnetHash            string
	ClientFingerprintHash string
	PluginHash            string
	RequestFingerprint    string // HMAC(key, method || path || UA)
}

// Inputs carries the raw request attributes the Signature Service
// needs. Callers build this once per request from RequestFeatures; it
// never crosses component boundaries itself — only the resulting
// Signatures does.
type Inputs struct {
	IP                string
	UserAgent         string
	Subnet            string
	ClientFingerprint string
	PluginID          string
	Method            string
	Path              string
}

// Service produces Signatures for requests, keyed by a shared secret.
// It is safe for concurrent use; it holds no per-request state.
type Service struct {
	key []byte
}

// NewService validates the key and returns a Service. It refuses to
// start with a short or empty key, matching spec §4.1's failure mode:
// the caller must treat this as a startup-time ConfigurationError.
func NewService(key []byte) (*Service, error) {
	if len(key) < MinKeyBytes {
		return nil, detecterr.New(detecterr.KindConfiguration, "signature.NewService",
			"signature hash key must be at least 128 bits", nil)
	}
	// Defensive copy so the caller's slice can't mutate our key later.
	k := make([]byte, len(key))
	copy(k, key)
	return &Service{key: k}, nil
}

// Build computes the Signatures bundle for one request. Identical
// Inputs always yield identical Signatures (spec §3 determinism
// invariant); distinct factors are hashed independently so a missing
// factor never produces a zero-value collision with a present one.
func (s *Service) Build(in Inputs) Signatures {
	var out Signatures

	if in.IP != "" && in.UserAgent != "" {
		out.Primary = s.digest("primary", in.IP, "\x00", in.UserAgent)
	}
	if in.IP != "" {
		out.IPHash = s.digest("ip", in.IP)
	}
	if in.UserAgent != "" {
		out.UAHash = s.digest("ua", in.UserAgent)
	}
	if in.Subnet != "" {
		out.SubnetHash = s.digest("subnet", in.Subnet)
	}
	if in.ClientFingerprint != "" {
		out.ClientFingerprintHash = s.digest("fingerprint", in.ClientFingerprint)
	}
	if in.PluginID != "" {
		out.PluginHash = s.digest("plugin", in.PluginID)
	}
	if in.Method != "" && in.Path != "" && in.UserAgent != "" {
		out.RequestFingerprint = s.digest("reqfp", in.Method, "\x00", in.Path, "\x00", in.UserAgent)
	}

	return out
}

// digest computes HMAC-SHA512(key, domain || parts...) and returns the
// hex-encoded, length-clamped result. The domain separator prevents an
// IP hash and a UA hash from ever being computed over the same bytes.
func (s *Service) digest(domain string, parts ...string) string {
	mac := hmac.New(sha512.New, s.key)
	mac.Write([]byte(domain))
	mac.Write([]byte("\x00"))
	for _, p := range parts {
		mac.Write([]byte(p))
	}
	sum := mac.Sum(nil)
	h := hex.EncodeToString(sum)
	if len(h) > MaxHexLen {
		h = h[:MaxHexLen]
	}
	return h
}

// HasFactor reports whether a per-factor hash was populated, useful
// for detectors that declare an optional input.
func (s Signatures) HasFactor(name string) bool {
	switch strings.ToLower(name) {
	case "ip":
		return s.IPHash != ""
	case "ua":
		return s.UAHash != ""
	case "subnet":
		return s.SubnetHash != ""
	case "fingerprint":
		return s.ClientFingerprintHash != ""
	case "plugin":
		return s.PluginHash != ""
	default:
		return false
	}
}
