// Package behavioral implements a final-wave Behavioral-category
// detector that consults the Behavioral History for a signature's EMA
// bot probability and cohort drift, contributing only once prior
// history exists — a cold signature contributes nothing (delta 0),
// letting earlier waves carry the full weight. Grounded on the
// reference platform's confidence-from-sample-size shape
// (internal/ai/patterns/detector.go computePattern).
package behavioral

import (
	"context"

	"github.com/nodeforge/botwall/internal/detect/behavior"
	"github.com/nodeforge/botwall/internal/detect/blackboard"
	"github.com/nodeforge/botwall/internal/detect/registry"
)

// DriftThreshold is the Jensen-Shannon divergence above which a
// signature's path-access pattern is considered meaningfully drifted
// from its cohort baseline.
const DriftThreshold = 0.35

// Detector is the Behavioral-category built-in detector.
type Detector struct {
	History *behavior.History
	Cohort  func(bb *blackboard.Blackboard) behavior.CohortKey
}

// New returns a Behavioral detector backed by hist. cohort derives the
// cohort key for a request from its blackboard; callers typically
// base this on the net.is-datacenter signal and a returning-visitor
// cookie check.
func New(hist *behavior.History, cohort func(bb *blackboard.Blackboard) behavior.CohortKey) *Detector {
	return &Detector{History: hist, Cohort: cohort}
}

func (d *Detector) Metadata() registry.Metadata {
	return registry.Metadata{
		Name:     "behavioral.history",
		Category: blackboard.CategoryBehavioral,
		Wave:     2,
		Inputs:   []string{"net.is-datacenter"},
		Outputs: []string{
			"markov.self-drift", "markov.human-drift", "markov.novelty",
			"markov.entropy-delta", "markov.loop-score", "markov.sequence-surprise",
		},
		Description: "Contributes prior EMA bot probability and cohort drift for a returning signature.",
	}
}

func (d *Detector) Evaluate(_ context.Context, bb *blackboard.Blackboard) (blackboard.Contribution, error) {
	if bb.Signatures.Primary == "" {
		return blackboard.Contribution{Reason: "no primary signature available"}, nil
	}

	ema, ok := d.History.EMA(bb.Signatures.Primary)
	if !ok {
		return blackboard.Contribution{Reason: "no prior history for this signature"}, nil
	}

	// Map EMA in [0,1] to a signed delta in [-0.5, 0.5] centered on 0.5.
	delta := (ema - 0.5)
	reason := "prior EMA bot probability informs this request"
	weight := 1.0

	if d.Cohort != nil {
		key := d.Cohort(bb)
		if ds, ok := d.History.DriftSignals(bb.Signatures.Primary, key); ok {
			writeMarkovSignals(bb, ds)
			if ds.HumanDrift >= DriftThreshold || ds.SelfDrift >= DriftThreshold {
				delta += 0.2
				weight = 1.2
				reason = "prior EMA plus significant drift from cohort baseline"
			}
		}
	}

	return blackboard.Contribution{
		ConfidenceDelta: clamp(delta),
		Weight:          weight,
		Reason:          reason,
	}, nil
}

// writeMarkovSignals publishes the Behavioral History's drift-signal
// bundle under the markov.* keys other detectors may consume (spec
// §4.7). First-writer-wins: a later call for the same request is a
// no-op for any key already set.
func writeMarkovSignals(bb *blackboard.Blackboard, ds behavior.DriftSignals) {
	bb.Signals.Set("markov.self-drift", blackboard.NumberSignal(ds.SelfDrift))
	bb.Signals.Set("markov.human-drift", blackboard.NumberSignal(ds.HumanDrift))
	bb.Signals.Set("markov.novelty", blackboard.NumberSignal(ds.Novelty))
	bb.Signals.Set("markov.entropy-delta", blackboard.NumberSignal(ds.EntropyDelta))
	bb.Signals.Set("markov.loop-score", blackboard.NumberSignal(ds.LoopScore))
	bb.Signals.Set("markov.sequence-surprise", blackboard.NumberSignal(ds.SequenceSurprise))
}

func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
