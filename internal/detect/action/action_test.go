package action

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nodeforge/botwall/internal/detect/blackboard"
	"github.com/nodeforge/botwall/internal/detect/policy"
)

func fullPolicy() policy.ActionPolicy {
	return policy.ActionPolicy{
		Name: "test",
		BandActions: map[string]policy.ActionKind{
			"VeryLow": policy.ActionAllow, "Low": policy.ActionAllow, "Medium": policy.ActionLog,
			"High": policy.ActionThrottle, "VeryHigh": policy.ActionChallenge, "Verified": policy.ActionAllow,
		},
		ThrottleBaseDelayMs:     50,
		ThrottleMaxDelayMs:      500,
		ChallengeBaseDifficulty: 2,
		ChallengeMaxDifficulty:  6,
		MaskFields:              []string{"email"},
	}
}

func TestResolveUnmappedBandFailsOpen(t *testing.T) {
	ap := policy.ActionPolicy{Name: "partial", BandActions: map[string]policy.ActionKind{}}
	d := Resolve(blackboard.AggregatedEvidence{RiskBand: blackboard.RiskHigh}, ap)
	assert.Equal(t, Allow, d.Action)
}

func TestResolveThrottleScalesWithProbability(t *testing.T) {
	Rand = func() float64 { return 0.5 } // zero jitter

	low := Resolve(blackboard.AggregatedEvidence{RiskBand: blackboard.RiskHigh, BotProbability: 0.6}, fullPolicy())
	high := Resolve(blackboard.AggregatedEvidence{RiskBand: blackboard.RiskHigh, BotProbability: 0.9}, fullPolicy())

	assert.Equal(t, Throttle, low.Action)
	assert.Greater(t, high.ThrottleDelayMs, low.ThrottleDelayMs)
	assert.LessOrEqual(t, high.ThrottleDelayMs, int64(500))
	assert.GreaterOrEqual(t, low.ThrottleDelayMs, int64(50))
}

func TestResolveChallengeScalesWithProbability(t *testing.T) {
	d := Resolve(blackboard.AggregatedEvidence{RiskBand: blackboard.RiskVeryHigh, BotProbability: 1.0}, fullPolicy())
	assert.Equal(t, Challenge, d.Action)
	assert.Equal(t, 6, d.ChallengeDifficulty)
}

func TestResolveMaskPII(t *testing.T) {
	ap := fullPolicy()
	ap.BandActions["Medium"] = policy.ActionMaskPII
	d := Resolve(blackboard.AggregatedEvidence{RiskBand: blackboard.RiskMedium}, ap)
	assert.Equal(t, MaskPII, d.Action)
	assert.Equal(t, []string{"email"}, d.MaskedFields)
}

func TestResolveVerifiedAllows(t *testing.T) {
	d := Resolve(blackboard.AggregatedEvidence{RiskBand: blackboard.RiskVerified}, fullPolicy())
	assert.Equal(t, Allow, d.Action)
}
