package tls

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodeforge/botwall/internal/detect/blackboard"
)

func TestEvaluateFlagsALPNMismatchForBrowserClaim(t *testing.T) {
	f := blackboard.NewRequestFeatures("r1", 0)
	f.UserAgent = "Mozilla/5.0 Chrome/120.0"
	f.ALPN = "spdy/3"
	bb := blackboard.New(f)
	d := New()

	c, err := d.Evaluate(context.Background(), bb)
	require.NoError(t, err)
	assert.Greater(t, c.ConfidenceDelta, 0.0)
}

func TestEvaluateAllowsConsistentALPN(t *testing.T) {
	f := blackboard.NewRequestFeatures("r1", 0)
	f.UserAgent = "Mozilla/5.0 Chrome/120.0"
	f.ALPN = "h2"
	bb := blackboard.New(f)
	d := New()

	c, err := d.Evaluate(context.Background(), bb)
	require.NoError(t, err)
	assert.Less(t, c.ConfidenceDelta, 0.0)
}

func TestEvaluateSkipsNonBrowserClaims(t *testing.T) {
	f := blackboard.NewRequestFeatures("r1", 0)
	f.UserAgent = "curl/8.0"
	bb := blackboard.New(f)
	d := New()

	c, err := d.Evaluate(context.Background(), bb)
	require.NoError(t, err)
	assert.Equal(t, 0.0, c.ConfidenceDelta)
}
