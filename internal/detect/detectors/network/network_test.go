package network

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodeforge/botwall/internal/detect/blackboard"
	"github.com/nodeforge/botwall/internal/detect/reputation"
)

func TestEvaluateFlagsDatacenterSubnet(t *testing.T) {
	rep := reputation.New()
	d := New(rep, func(subnet string) bool { return subnet == "203.0.113.0/24" })

	f := blackboard.NewRequestFeatures("r1", 0)
	f.Subnet24 = "203.0.113.0/24"
	bb := blackboard.New(f)

	c, err := d.Evaluate(context.Background(), bb)
	require.NoError(t, err)
	assert.Greater(t, c.ConfidenceDelta, 0.0)
	assert.Equal(t, "DatacenterClient", c.SuggestedBotType)
}

func TestEvaluateFactorsInSubnetReputation(t *testing.T) {
	rep := reputation.New()
	d := New(rep, func(string) bool { return false })

	f := blackboard.NewRequestFeatures("r1", 0)
	bb := blackboard.New(f)
	bb.Signatures.SubnetHash = "subnet-hash-1"
	rep.RecordReputation("subnet-hash-1", 1.0)

	c, err := d.Evaluate(context.Background(), bb)
	require.NoError(t, err)
	assert.Greater(t, c.ConfidenceDelta, 0.0)
}
