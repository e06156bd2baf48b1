package useragent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodeforge/botwall/internal/detect/blackboard"
)

func TestEvaluateFlagsEmptyUserAgent(t *testing.T) {
	bb := blackboard.New(blackboard.NewRequestFeatures("r1", 0))
	d := New()

	c, err := d.Evaluate(context.Background(), bb)
	require.NoError(t, err)
	assert.Greater(t, c.ConfidenceDelta, 0.0)

	v, ok := bb.Signals.Get("ua.empty")
	require.True(t, ok)
	assert.True(t, v.Bool)
}

func TestEvaluateFlagsKnownBotToken(t *testing.T) {
	f := blackboard.NewRequestFeatures("r1", 0)
	f.UserAgent = "curl/8.4.0"
	bb := blackboard.New(f)
	d := New()

	c, err := d.Evaluate(context.Background(), bb)
	require.NoError(t, err)
	assert.Greater(t, c.ConfidenceDelta, 0.5)
	assert.Equal(t, "Crawler", c.SuggestedBotType)
}

func TestEvaluateAllowsOrdinaryBrowser(t *testing.T) {
	f := blackboard.NewRequestFeatures("r1", 0)
	f.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	bb := blackboard.New(f)
	d := New()

	c, err := d.Evaluate(context.Background(), bb)
	require.NoError(t, err)
	assert.Less(t, c.ConfidenceDelta, 0.0)
}
