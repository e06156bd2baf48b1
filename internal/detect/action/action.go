// Package action implements the Action Resolver: a pure function
// mapping AggregatedEvidence plus an ActionPolicy to a Decision. It
// touches no shared state and never blocks.
package action

import (
	"math"
	"math/rand"

	"github.com/nodeforge/botwall/internal/detect/blackboard"
	"github.com/nodeforge/botwall/internal/detect/policy"
)

// Decision is what the caller (middleware) should do with a request.
type Decision struct {
	Action ActionKind

	ThrottleDelayMs int64
	ChallengeDifficulty int
	MaskedFields    []string

	RiskBand blackboard.RiskBand
	Reason   string
}

// ActionKind mirrors policy.ActionKind to keep this package's public
// surface self-contained.
type ActionKind = policy.ActionKind

const (
	Allow     = policy.ActionAllow
	Log       = policy.ActionLog
	Throttle  = policy.ActionThrottle
	Challenge = policy.ActionChallenge
	MaskPII   = policy.ActionMaskPII
	Block     = policy.ActionBlock
)

// Rand is the jitter source. Overridable for deterministic tests.
var Rand = rand.Float64

// Resolve maps evidence and the governing ActionPolicy to a Decision.
// A risk band absent from the policy's BandActions table is a
// programming error at policy-registration time (policy.Registry
// validates this in RegisterActionPolicy), so Resolve treats an
// unmapped band as Allow plus a reason string rather than panicking —
// fail open, matching spec §7's masking failure mode generalized to
// the whole resolver.
func Resolve(evidence blackboard.AggregatedEvidence, ap policy.ActionPolicy) Decision {
	band := string(evidence.RiskBand)
	kind, ok := ap.BandActions[band]
	if !ok {
		return Decision{Action: Allow, RiskBand: evidence.RiskBand, Reason: "unmapped risk band, failing open"}
	}

	d := Decision{Action: kind, RiskBand: evidence.RiskBand}

	switch kind {
	case Throttle:
		d.ThrottleDelayMs = throttleDelay(evidence.BotProbability, ap)
		d.Reason = "throttled per risk band"
	case Challenge:
		d.ChallengeDifficulty = challengeDifficulty(evidence.BotProbability, ap)
		d.Reason = "challenge issued per risk band"
	case MaskPII:
		d.MaskedFields = maskFields(ap)
		d.Reason = "PII masked per risk band"
	case Block:
		d.Reason = "blocked per risk band"
	case Allow:
		d.Reason = "allowed per risk band"
	case Log:
		d.Reason = "logged only per risk band"
	}

	return d
}

// throttleDelay scales linearly from BaseDelayMs to MaxDelayMs with
// botProbability, then applies symmetric jitter of +/- JitterRatio,
// clamped back into [BaseDelayMs, MaxDelayMs] so jitter never produces
// a negative or unbounded delay.
func throttleDelay(botProbability float64, ap policy.ActionPolicy) int64 {
	base := float64(ap.ThrottleBaseDelayMs)
	max := float64(ap.ThrottleMaxDelayMs)
	if max < base {
		max = base
	}
	delay := base + botProbability*(max-base)

	if ap.ThrottleJitterRatio > 0 {
		jitter := delay * ap.ThrottleJitterRatio * (2*Rand() - 1)
		delay += jitter
	}

	if delay < base {
		delay = base
	}
	if delay > max {
		delay = max
	}
	return int64(math.Round(delay))
}

// challengeDifficulty scales proof-of-work difficulty linearly from
// BaseDifficulty to MaxDifficulty with botProbability.
func challengeDifficulty(botProbability float64, ap policy.ActionPolicy) int {
	base := float64(ap.ChallengeBaseDifficulty)
	max := float64(ap.ChallengeMaxDifficulty)
	if max < base {
		max = base
	}
	diff := base + botProbability*(max-base)
	return int(math.Round(diff))
}

// maskFields returns the configured mask field list, or an empty
// slice (never nil) so callers can range over it unconditionally.
func maskFields(ap policy.ActionPolicy) []string {
	if ap.MaskFields == nil {
		return []string{}
	}
	out := make([]string, len(ap.MaskFields))
	copy(out, ap.MaskFields)
	return out
}
