package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodeforge/botwall/internal/detect/detecterr"
)

func fullBandActions() map[string]ActionKind {
	return map[string]ActionKind{
		"VeryLow": ActionAllow, "Low": ActionAllow, "Medium": ActionLog,
		"High": ActionThrottle, "VeryHigh": ActionChallenge, "Verified": ActionAllow,
	}
}

func TestRegisterActionPolicyRequiresEveryBand(t *testing.T) {
	r := New()
	err := r.RegisterActionPolicy(ActionPolicy{
		Name:        "default",
		BandActions: map[string]ActionKind{"VeryLow": ActionAllow},
	})
	assert.Error(t, err)
}

func TestResolveDetectionPolicyFallsBackToDefault(t *testing.T) {
	r := New()
	require.NoError(t, r.SetDefault(DetectionPolicy{Name: "default"}))

	dp := r.ResolveDetectionPolicy("/unmatched")
	assert.Equal(t, "default", dp.Name)
}

func TestResolveDetectionPolicyLongestMatchWins(t *testing.T) {
	r := New()
	require.NoError(t, r.SetDefault(DetectionPolicy{Name: "default"}))
	require.NoError(t, r.Register("/api/*", DetectionPolicy{Name: "api"}))
	require.NoError(t, r.Register("/api/admin/*", DetectionPolicy{Name: "api-admin"}))

	dp := r.ResolveDetectionPolicy("/api/admin/users")
	assert.Equal(t, "api-admin", dp.Name)

	dp2 := r.ResolveDetectionPolicy("/api/widgets")
	assert.Equal(t, "api", dp2.Name)
}

func TestRegisterDetectionPolicyIsIdempotentByGlob(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("/api/*", DetectionPolicy{Name: "v1"}))
	require.NoError(t, r.Register("/api/*", DetectionPolicy{Name: "v2"}))
	require.NoError(t, r.SetDefault(DetectionPolicy{Name: "default"}))

	dp := r.ResolveDetectionPolicy("/api/widgets")
	assert.Equal(t, "v2", dp.Name)
}

func TestResolveActionPolicyByName(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterActionPolicy(ActionPolicy{Name: "throttle-stealth", BandActions: fullBandActions()}))

	ap, err := r.ResolveActionPolicy("throttle-stealth")
	require.NoError(t, err)
	assert.Equal(t, "throttle-stealth", ap.Name)
}

func TestResolveActionPolicyUnknownNameFails(t *testing.T) {
	r := New()
	_, err := r.ResolveActionPolicy("does-not-exist")
	require.Error(t, err)
	assert.True(t, detecterr.Of(err, detecterr.KindActionPolicyMissing))
}

func TestDefaultActionPolicyNameRoundTrips(t *testing.T) {
	r := New()
	r.SetDefaultActionPolicyName("default")
	assert.Equal(t, "default", r.DefaultActionPolicyName())
}
