// Package useragent implements the first-wave UserAgent category
// detector: cheap string-matching against known bot/crawler tokens,
// plus a check for an empty user agent. Truncated or otherwise
// malformed user agents are not flagged. Grounded on the reference platform's substring-based
// ErrorCategory classification (internal/ai/circuit/breaker.go
// CategorizeError) generalized from error messages to UA strings.
package useragent

import (
	"context"
	"strings"

	"github.com/nodeforge/botwall/internal/detect/blackboard"
	"github.com/nodeforge/botwall/internal/detect/registry"
)

// knownBotTokens lists case-insensitive substrings strongly
// associated with automated clients. Verified search-engine crawlers
// are deliberately excluded here; that distinction is the Verifier
// plug-in's job, not this detector's.
var knownBotTokens = []string{
	"bot", "crawler", "spider", "scrapy", "curl/", "wget/", "python-requests",
	"python-urllib", "go-http-client", "headlesschrome", "phantomjs", "libwww-perl",
	"httpclient", "java/", "okhttp", "axios/", "node-fetch",
}

// Detector is the UserAgent-category built-in detector.
type Detector struct{}

// New returns a UserAgent detector.
func New() *Detector { return &Detector{} }

func (d *Detector) Metadata() registry.Metadata {
	return registry.Metadata{
		Name:        "useragent.token",
		Category:    blackboard.CategoryUserAgent,
		Wave:        0,
		Outputs:     []string{"ua.suspicious", "ua.empty"},
		Description: "Flags empty or known-bot user agent strings.",
	}
}

func (d *Detector) Evaluate(_ context.Context, bb *blackboard.Blackboard) (blackboard.Contribution, error) {
	ua := bb.Features.UserAgent

	if ua == "" {
		bb.Signals.Set("ua.empty", blackboard.BoolSignal(true))
		return blackboard.Contribution{
			ConfidenceDelta:  0.6,
			Weight:           1.0,
			Reason:           "missing user agent header",
			SuggestedBotType: "Unknown",
		}, nil
	}
	bb.Signals.Set("ua.empty", blackboard.BoolSignal(false))

	lower := strings.ToLower(ua)
	for _, token := range knownBotTokens {
		if strings.Contains(lower, token) {
			bb.Signals.Set("ua.suspicious", blackboard.BoolSignal(true))
			return blackboard.Contribution{
				ConfidenceDelta:  0.85,
				Weight:           1.0,
				Reason:           "user agent matched known bot token: " + token,
				SuggestedBotType: "Crawler",
				SuggestedBotName: token,
			}, nil
		}
	}
	bb.Signals.Set("ua.suspicious", blackboard.BoolSignal(false))

	return blackboard.Contribution{
		ConfidenceDelta: -0.1,
		Weight:          1.0,
		Reason:          "user agent looks like an ordinary browser",
	}, nil
}
