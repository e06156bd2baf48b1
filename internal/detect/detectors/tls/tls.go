// Package tls implements a second-wave Fingerprint-category detector
// that flags TLS handshake shapes inconsistent with the claimed user
// agent: a browser-claiming UA negotiating an ALPN protocol no real
// browser uses. The TLS protocol version and cipher are not examined.
// Grounded on
// the reference platform's table-driven classification shape
// (internal/alerts/unified_eval.go unifiedDefaultThresholds).
package tls

import (
	"context"
	"strings"

	"github.com/nodeforge/botwall/internal/detect/blackboard"
	"github.com/nodeforge/botwall/internal/detect/registry"
)

// browserALPN lists the ALPN protocols real browsers negotiate.
// Anything else paired with a browser-claiming UA is suspicious.
var browserALPN = map[string]struct{}{
	"h2":       {},
	"http/1.1": {},
}

// Detector is the TLS-shape Fingerprint-category built-in detector.
type Detector struct{}

func New() *Detector { return &Detector{} }

func (d *Detector) Metadata() registry.Metadata {
	return registry.Metadata{
		Name:        "tls.shape",
		Category:    blackboard.CategoryFingerprint,
		Wave:        1,
		Inputs:      []string{"ua.suspicious"},
		Outputs:     []string{"tls.alpn-mismatch"},
		Description: "Flags TLS handshake shapes inconsistent with the claimed browser user agent.",
	}
}

func (d *Detector) Evaluate(_ context.Context, bb *blackboard.Blackboard) (blackboard.Contribution, error) {
	ua := strings.ToLower(bb.Features.UserAgent)
	claimsBrowser := strings.Contains(ua, "mozilla") || strings.Contains(ua, "chrome") || strings.Contains(ua, "safari") || strings.Contains(ua, "firefox")

	if !claimsBrowser || bb.Features.ALPN == "" {
		bb.Signals.Set("tls.alpn-mismatch", blackboard.BoolSignal(false))
		return blackboard.Contribution{
			ConfidenceDelta: 0,
			Weight:          0.5,
			Reason:          "no browser claim or no TLS metadata to evaluate",
		}, nil
	}

	_, ok := browserALPN[strings.ToLower(bb.Features.ALPN)]
	mismatch := !ok
	bb.Signals.Set("tls.alpn-mismatch", blackboard.BoolSignal(mismatch))

	if mismatch {
		return blackboard.Contribution{
			ConfidenceDelta:  0.4,
			Weight:           0.8,
			Reason:           "browser-claiming user agent negotiated an unexpected ALPN protocol",
			SuggestedBotType: "Impersonator",
		}, nil
	}

	return blackboard.Contribution{
		ConfidenceDelta: -0.1,
		Weight:          0.5,
		Reason:          "TLS shape consistent with the claimed browser",
	}, nil
}
