package blackboard

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignalMapFirstWriterWins(t *testing.T) {
	m := NewSignalMap()

	ok := m.Set("ua.suspicious", BoolSignal(true))
	assert.True(t, ok)

	ok = m.Set("ua.suspicious", BoolSignal(false))
	assert.False(t, ok)

	v, found := m.Get("ua.suspicious")
	assert.True(t, found)
	assert.True(t, v.Bool)
}

func TestBandForThresholds(t *testing.T) {
	assert.Equal(t, RiskVeryLow, BandFor(0.0))
	assert.Equal(t, RiskLow, BandFor(0.2))
	assert.Equal(t, RiskMedium, BandFor(0.4))
	assert.Equal(t, RiskHigh, BandFor(0.6))
	assert.Equal(t, RiskVeryHigh, BandFor(0.8))
	assert.Equal(t, RiskVeryHigh, BandFor(1.0))
}

func TestBlackboardAddContributionTracksCompleted(t *testing.T) {
	features := NewRequestFeatures("", 0)
	bb := New(features)

	bb.AddContribution(Contribution{DetectorName: "useragent.token", ConfidenceDelta: 0.5, Weight: 1})
	bb.MarkFailed("network.subnet")
	bb.MarkOmitted("behavioral.history")

	snap := bb.Snapshot()
	assert.Len(t, snap.Contributions, 1)
	_, completed := snap.ContributingDetectors["useragent.token"]
	assert.True(t, completed)
	_, failed := snap.FailedDetectors["network.subnet"]
	assert.True(t, failed)
	_, omitted := snap.OmittedDetectors["behavioral.history"]
	assert.True(t, omitted)
}

func TestContributionEffective(t *testing.T) {
	c := Contribution{ConfidenceDelta: 0.5, Weight: 2}
	assert.InDelta(t, 1.0, c.Effective(), 1e-9)
}

func TestRequestFeaturesAssignsID(t *testing.T) {
	f := NewRequestFeatures("", 0)
	assert.NotEmpty(t, f.RequestID)

	f2 := NewRequestFeatures("explicit-id", 0)
	assert.Equal(t, "explicit-id", f2.RequestID)
}
