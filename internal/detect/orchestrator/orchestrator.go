// Package orchestrator runs the per-request detection pipeline: build
// signatures, check the verdict cache, run the fast-path reputation
// step, fan out detector waves with a wall-clock budget, fuse
// contributions into AggregatedEvidence, resolve the triggered action
// policy, emit a signal event, and feed the Behavioral History and
// Learning Coordinator. Wave fan-out uses golang.org/x/sync/errgroup
// for structured concurrency, grounded on the reference platform's
// goroutine-per-check pattern generalized from a flat worker pool into
// priority waves with a join barrier.
package orchestrator

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/nodeforge/botwall/internal/detect/behavior"
	"github.com/nodeforge/botwall/internal/detect/blackboard"
	"github.com/nodeforge/botwall/internal/detect/learning"
	"github.com/nodeforge/botwall/internal/detect/policy"
	"github.com/nodeforge/botwall/internal/detect/registry"
	"github.com/nodeforge/botwall/internal/detect/reputation"
	"github.com/nodeforge/botwall/internal/detect/signalbus"
	"github.com/nodeforge/botwall/internal/detect/signature"
)

// DefaultVerdictCacheTTL bounds how long a cached verdict is reused
// for an identical primary signature before the pipeline re-runs.
const DefaultVerdictCacheTTL = 30 * time.Second

// DefaultLearningRate is used for the confusion-matrix-driven weight
// nudges the orchestrator submits after each request.
const DefaultLearningRate = 0.05

// Orchestrator wires the Signature Service, Detector Registry, Policy
// Registry, Weight & Reputation Store, Learning Coordinator, and
// Behavioral History into the single per-request Evaluate call.
type Orchestrator struct {
	Signatures *signature.Service
	Registry   *registry.Registry
	Policies   *policy.Registry
	Reputation *reputation.Store
	Learning   *learning.Coordinator
	History    *behavior.History
	Bus        *signalbus.Bus

	VerdictCacheTTL time.Duration
	LearningRate    float64
}

// New returns an Orchestrator with spec-default tunables; callers
// override VerdictCacheTTL/LearningRate after construction if needed.
func New(sig *signature.Service, reg *registry.Registry, pol *policy.Registry, rep *reputation.Store, lc *learning.Coordinator, hist *behavior.History, bus *signalbus.Bus) *Orchestrator {
	return &Orchestrator{
		Signatures:      sig,
		Registry:        reg,
		Policies:        pol,
		Reputation:      rep,
		Learning:        lc,
		History:         hist,
		Bus:             bus,
		VerdictCacheTTL: DefaultVerdictCacheTTL,
		LearningRate:    DefaultLearningRate,
	}
}

// Evaluate runs the full detection pipeline for one request and
// returns the resulting AggregatedEvidence. It never returns an error
// for detector failures — those are folded into FailedDetectors —
// only for truly fatal, unrecoverable conditions (none currently
// exist on this path, so the error return is always nil; it is kept
// for interface symmetry with the rest of the ambient error-kind
// vocabulary and future fatal conditions).
func (o *Orchestrator) Evaluate(ctx context.Context, features blackboard.RequestFeatures, sigInputs signature.Inputs, cohort behavior.CohortKey) (blackboard.AggregatedEvidence, error) {
	bb := blackboard.New(features)
	bb.Signatures = o.Signatures.Build(sigInputs)
	bb.SetState(blackboard.StateSignaturesBuilt)

	detPolicy := o.Policies.ResolveDetectionPolicy(features.Path)

	if bb.Signatures.Primary != "" {
		if prob, band, ok := o.Reputation.LookupVerdict(bb.Signatures.Primary); ok {
			bb.SetState(blackboard.StateCachedVerdict)
			ev := bb.Snapshot()
			ev.BotProbability = prob
			ev.RiskBand = blackboard.RiskBand(band)
			ev.EarlyExit = true
			ev.EarlyExitVerdict = blackboard.VerdictTimedOut // reused as "served from cache"
			ev.PolicyName = detPolicy.Name
			ev.TriggeredActionPolicyName = o.selectActionPolicyName(bb, detPolicy, ev)
			log.Debug().Str("component", "orchestrator").Str("requestId", features.RequestID).
				Msg("served cached verdict")
			return ev, nil
		}
	}

	// Fast-path reputation: a contribution derived from the signature's
	// prior EMA and pattern dirtyScore, evaluated before any detector
	// runs (spec §4.4 step 3). A sufficiently dirty pattern short-
	// circuits the request before the first wave.
	fastPath, blocked := o.fastPathReputation(bb, detPolicy)
	bb.AddContribution(fastPath)
	bb.SetState(blackboard.StateFastPathDone)

	if blocked {
		evidence := o.aggregate(bb, detPolicy)
		evidence.PolicyName = detPolicy.Name
		evidence.EarlyExit = true
		evidence.EarlyExitVerdict = blackboard.VerdictImmediateBot
		o.finish(bb, features, cohort, detPolicy, &evidence)
		return evidence, nil
	}

	budget := time.Duration(detPolicy.WaveBudgetMs) * time.Millisecond
	waveCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	bb.SetState(blackboard.StateWaveInProgress)
	earlyVerdict := o.runWaves(waveCtx, bb, detPolicy)
	bb.SetState(blackboard.StateWaveDone)

	evidence := o.aggregate(bb, detPolicy)
	evidence.PolicyName = detPolicy.Name
	if earlyVerdict != blackboard.VerdictNone {
		evidence.EarlyExit = true
		evidence.EarlyExitVerdict = earlyVerdict
	}

	o.finish(bb, features, cohort, detPolicy, &evidence)
	return evidence, nil
}

// finish performs the shared tail of Evaluate: action-policy
// selection, verdict caching, behavioral history recording, learning
// task submission, and signal-bus publication.
func (o *Orchestrator) finish(bb *blackboard.Blackboard, features blackboard.RequestFeatures, cohort behavior.CohortKey, detPolicy policy.DetectionPolicy, evidence *blackboard.AggregatedEvidence) {
	bb.SetState(blackboard.StateAggregated)

	evidence.TriggeredActionPolicyName = o.selectActionPolicyName(bb, detPolicy, *evidence)

	if bb.Signatures.Primary != "" {
		o.Reputation.CacheVerdict(bb.Signatures.Primary, evidence.BotProbability, string(evidence.RiskBand), o.VerdictCacheTTL)
		o.Reputation.RecordReputation(bb.Signatures.Primary, evidence.BotProbability)

		o.History.Record(bb.Signatures.Primary, behavior.Observation{
			At:             time.Now(),
			BotProbability: evidence.BotProbability,
			Path:           features.Path,
		})
		o.History.ObserveCohortBaseline(cohort, features.Path)
	}

	o.submitLearningTasks(bb, *evidence)

	bb.SetState(blackboard.StateActionSelected)

	if o.Bus != nil {
		o.Bus.Publish(signalbus.Event{
			RequestID:      features.RequestID,
			BotProbability: evidence.BotProbability,
			RiskBand:       string(evidence.RiskBand),
			PolicyName:     detPolicy.Name,
			At:             time.Now(),
		})
	}
	bb.SetState(blackboard.StateEmitted)
}

// fastPathReputation derives a contribution from the signature's prior
// EMA (Behavioral History) and its decayed pattern reputation (the
// Weight & Reputation Store's per-pattern dirtyScore), without waiting
// on any detector. A brand-new signature with no recorded history
// produces a neutral (zero-delta) contribution rather than leaning
// human, matching spec §8's zero-budget boundary expectation of
// botProbability ≈ 0.5. It also reports whether dirtyScore alone
// crosses dp's immediate-block threshold.
func (o *Orchestrator) fastPathReputation(bb *blackboard.Blackboard, dp policy.DetectionPolicy) (blackboard.Contribution, bool) {
	sig := bb.Signatures.Primary
	if sig == "" {
		return blackboard.Contribution{DetectorName: "orchestrator.fast-path", Reason: "no primary signature available"}, false
	}

	hasPattern := o.Reputation.HasPattern(sig)
	dirtyScore := o.Reputation.ReputationOf(sig)
	ema, hasEMA := o.History.EMA(sig)

	if !hasPattern && !hasEMA {
		return blackboard.Contribution{
			DetectorName: "orchestrator.fast-path",
			Category:     blackboard.CategoryFingerprint,
			Reason:       "no prior reputation or history for this signature",
		}, false
	}

	signal := dirtyScore
	if hasEMA {
		if hasPattern {
			signal = (dirtyScore + ema) / 2
		} else {
			signal = ema
		}
	}

	blocked := dp.ImmediateBlockThreshold > 0 && dirtyScore >= dp.ImmediateBlockThreshold
	return blackboard.Contribution{
		DetectorName:    "orchestrator.fast-path",
		Category:        blackboard.CategoryFingerprint,
		ConfidenceDelta: clampUnit((signal - 0.5) * 2),
		Weight:          1.0,
		Reason:          "fast-path reputation from prior pattern/EMA history",
	}, blocked
}

// runWaves fans out each wave's detectors concurrently via errgroup,
// appends each detector's contribution, and stops early when the
// running score crosses an immediate-bot/immediate-human threshold or
// the wave budget's context is done. It returns the early-exit
// verdict, or VerdictNone if every wave ran to completion.
func (o *Orchestrator) runWaves(ctx context.Context, bb *blackboard.Blackboard, dp policy.DetectionPolicy) blackboard.EarlyExitVerdict {
	for _, wave := range o.Registry.Waves() {
		select {
		case <-ctx.Done():
			o.markRemainingOmitted(bb, dp, wave)
			return blackboard.VerdictTimedOut
		default:
		}

		detectors := o.Registry.DetectorsInWave(wave, dp.DetectorNames)
		if len(detectors) == 0 {
			continue
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, d := range detectors {
			d := d
			g.Go(func() error {
				start := time.Now()
				contrib, err := d.Evaluate(gctx, bb)
				meta := d.Metadata()
				if err != nil {
					if gctx.Err() != nil {
						// The wall-clock budget ran out while this detector was in flight.
						bb.MarkOmitted(meta.Name)
						return nil
					}
					bb.MarkFailed(meta.Name)
					log.Debug().Str("component", "orchestrator").Str("detector", meta.Name).
						Err(err).Msg("detector evaluation failed")
					return nil // recoverable: never abort the wave for one detector
				}
				contrib.DetectorName = meta.Name
				contrib.Category = meta.Category
				contrib.Priority = meta.Wave
				contrib.ProcessingTimeMs = time.Since(start).Milliseconds()
				contrib.Weight = o.Reputation.WeightOf(meta.Name) * contrib.Weight
				if contrib.Weight == 0 {
					contrib.Weight = o.Reputation.WeightOf(meta.Name)
				}
				bb.AddContribution(contrib)
				return nil
			})
		}
		_ = g.Wait() // per-detector errors never abort the wave; only ctx cancellation does

		select {
		case <-ctx.Done():
			o.markRemainingOmitted(bb, dp, wave+1)
			return blackboard.VerdictTimedOut
		default:
		}

		score, _ := fuse(bb.Contributions())
		if dp.ImmediateBotAt > 0 && score >= dp.ImmediateBotAt {
			return blackboard.VerdictImmediateBot
		}
		if dp.ImmediateHumanAt > 0 && score <= dp.ImmediateHumanAt {
			return blackboard.VerdictImmediateHuman
		}
	}
	return blackboard.VerdictNone
}

func (o *Orchestrator) markRemainingOmitted(bb *blackboard.Blackboard, dp policy.DetectionPolicy, fromWave int) {
	for _, wave := range o.Registry.Waves() {
		if wave < fromWave {
			continue
		}
		for _, d := range o.Registry.DetectorsInWave(wave, dp.DetectorNames) {
			bb.MarkOmitted(d.Metadata().Name)
		}
	}
}

// fuse computes the logistic-squashed weighted sum of contributions:
// score = sigmoid(sum(confidenceDelta * weight)), plus a confidence
// equal to the mean contribution weight, capped at 1. The confidence
// does not depend on the size of the deltas or on whether they agree
// in sign.
func fuse(contributions []blackboard.Contribution) (botProbability, confidence float64) {
	if len(contributions) == 0 {
		return 0, 0
	}
	var sum, weightSum float64
	for _, c := range contributions {
		sum += c.Effective()
		weightSum += c.Weight
	}
	botProbability = sigmoid(sum)
	if weightSum > 0 {
		confidence = math.Min(1, weightSum/float64(len(contributions)))
	}
	return botProbability, confidence
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func clampUnit(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

// aggregate fuses the blackboard's contributions into the final
// AggregatedEvidence, including risk band and primary bot-type
// selection (highest-effective-contribution detector that suggested
// one). Verified is set only from the explicit verifiedbot.confirmed /
// verifiedbot.spoofed signals (spec §4.4 step 5), never from a
// contribution's category or sign, since a confirmed verified crawler
// can validly carry a negative (human-leaning) confidenceDelta.
func (o *Orchestrator) aggregate(bb *blackboard.Blackboard, dp policy.DetectionPolicy) blackboard.AggregatedEvidence {
	contributions := bb.Contributions()
	prob, confidence := fuse(contributions)

	ev := bb.Snapshot()
	ev.BotProbability = prob
	ev.Confidence = confidence
	ev.RiskBand = blackboard.BandFor(prob)

	var best blackboard.Contribution
	var haveBest bool
	for _, c := range contributions {
		if c.SuggestedBotType == "" {
			continue
		}
		if !haveBest || math.Abs(c.Effective()) > math.Abs(best.Effective()) {
			best = c
			haveBest = true
		}
	}
	if haveBest {
		ev.PrimaryBotType = best.SuggestedBotType
		ev.PrimaryBotName = best.SuggestedBotName
	}

	confirmed, hasConfirmed := bb.Signals.Get("verifiedbot.confirmed")
	spoofed, hasSpoofed := bb.Signals.Get("verifiedbot.spoofed")
	verifiedConfirmed := hasConfirmed && confirmed.Kind == blackboard.SignalBool && confirmed.Bool
	notSpoofed := !hasSpoofed || (spoofed.Kind == blackboard.SignalBool && !spoofed.Bool)
	if verifiedConfirmed && notSpoofed {
		ev.RiskBand = blackboard.RiskVerified
	}

	return ev
}

// selectActionPolicyName applies the detection policy's transitions in
// declaration order; the first whose condition fires wins (spec §4.3/
// §4.4 step 7). Falls back to the policy's own ActionPolicyName, then
// the registry's global default.
func (o *Orchestrator) selectActionPolicyName(bb *blackboard.Blackboard, dp policy.DetectionPolicy, ev blackboard.AggregatedEvidence) string {
	for _, t := range dp.Transitions {
		if t.WhenRiskExceeds != nil && ev.BotProbability > *t.WhenRiskExceeds {
			return t.ActionPolicyName
		}
		if t.WhenSignalPresent != "" {
			if _, ok := bb.Signals.Get(t.WhenSignalPresent); ok {
				return t.ActionPolicyName
			}
		}
	}
	if dp.ActionPolicyName != "" {
		return dp.ActionPolicyName
	}
	return o.Policies.DefaultActionPolicyName()
}

// submitLearningTasks derives confusion-matrix signals from the final
// evidence and submits a WeightUpdate task per contributing detector —
// a detector whose contribution direction agreed with the final
// verdict is nudged toward higher confidence, one that disagreed is
// nudged down — plus the named signal-to-task triggers spec §4.6
// enumerates. This is the non-blocking trigger path spec §4.6
// describes as breaking the orchestrator/learning/weight-store cycle
// via message passing rather than a direct call back into Reputation
// from inside a wave.
func (o *Orchestrator) submitLearningTasks(bb *blackboard.Blackboard, ev blackboard.AggregatedEvidence) {
	verdictIsBot := ev.BotProbability >= 0.5
	for _, c := range ev.Contributions {
		if c.DetectorName == "" {
			continue
		}
		agreed := (c.Effective() > 0) == verdictIsBot
		signal := 0.0
		if agreed {
			signal = 1.0
		}
		o.Learning.Submit(learning.NewTask(learning.TaskWeightUpdate, c.DetectorName, c.DetectorName, signal, o.LearningRate))
	}

	for _, t := range learning.DeriveTasks(bb.Signals, ev, o.LearningRate) {
		o.Learning.Submit(t)
	}
}
