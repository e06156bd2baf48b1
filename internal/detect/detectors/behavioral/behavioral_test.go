package behavioral

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodeforge/botwall/internal/detect/behavior"
	"github.com/nodeforge/botwall/internal/detect/blackboard"
)

func TestEvaluateAbstainsWithoutHistory(t *testing.T) {
	hist := behavior.New()
	d := New(hist, nil)

	f := blackboard.NewRequestFeatures("r1", 0)
	bb := blackboard.New(f)
	bb.Signatures.Primary = "sig-1"

	c, err := d.Evaluate(context.Background(), bb)
	require.NoError(t, err)
	assert.Equal(t, 0.0, c.ConfidenceDelta)
}

func TestEvaluateUsesPriorEMA(t *testing.T) {
	hist := behavior.New()
	hist.Record("sig-1", behavior.Observation{BotProbability: 0.9})
	d := New(hist, nil)

	f := blackboard.NewRequestFeatures("r1", 0)
	bb := blackboard.New(f)
	bb.Signatures.Primary = "sig-1"

	c, err := d.Evaluate(context.Background(), bb)
	require.NoError(t, err)
	assert.Greater(t, c.ConfidenceDelta, 0.0)
}

func TestEvaluateWritesMarkovSignals(t *testing.T) {
	hist := behavior.New()
	hist.Record("sig-1", behavior.Observation{BotProbability: 0.9, Path: "/a"})
	hist.Record("sig-1", behavior.Observation{BotProbability: 0.9, Path: "/b"})
	hist.ObserveCohortBaseline(behavior.CohortKey{}, "/a")

	d := New(hist, func(*blackboard.Blackboard) behavior.CohortKey { return behavior.CohortKey{} })

	f := blackboard.NewRequestFeatures("r1", 0)
	bb := blackboard.New(f)
	bb.Signatures.Primary = "sig-1"

	_, err := d.Evaluate(context.Background(), bb)
	require.NoError(t, err)

	for _, key := range []string{
		"markov.self-drift", "markov.human-drift", "markov.novelty",
		"markov.entropy-delta", "markov.loop-score", "markov.sequence-surprise",
	} {
		_, ok := bb.Signals.Get(key)
		assert.True(t, ok, "expected %s to be set", key)
	}
}
