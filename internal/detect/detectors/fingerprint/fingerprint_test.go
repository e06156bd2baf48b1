package fingerprint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodeforge/botwall/internal/detect/blackboard"
)

func TestEvaluateFlagsMissingProbe(t *testing.T) {
	bb := blackboard.New(blackboard.NewRequestFeatures("r1", 0))
	d := New()

	c, err := d.Evaluate(context.Background(), bb)
	require.NoError(t, err)
	assert.Greater(t, c.ConfidenceDelta, 0.0)
}

func TestEvaluateAllowsPresentProbe(t *testing.T) {
	f := blackboard.NewRequestFeatures("r1", 0)
	f.ClientProbePayload = "0123456789abcdef0123"
	bb := blackboard.New(f)
	d := New()

	c, err := d.Evaluate(context.Background(), bb)
	require.NoError(t, err)
	assert.Less(t, c.ConfidenceDelta, 0.0)
}
