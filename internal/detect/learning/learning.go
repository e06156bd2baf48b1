// Package learning implements the Learning Coordinator: bounded,
// per-signal-key worker channels that absorb WeightUpdate and
// ModelTraining tasks off the request path, dropping tasks under
// back-pressure rather than blocking a detector. Grounded on the
// reference platform's dirty-flag async persistence idiom
// (internal/ai/learning/store.go) generalized into a worker-pool
// shape, and on its breaker's callback-hook style
// (internal/ai/circuit/breaker.go) for the trigger-service pattern.
package learning

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nodeforge/botwall/internal/detect/blackboard"
	"github.com/nodeforge/botwall/internal/detect/reputation"
)

// TaskKind enumerates the Learning Coordinator's task vocabulary
// (spec §4.6).
type TaskKind string

const (
	TaskPatternUpdate     TaskKind = "PatternUpdate"
	TaskModelTraining     TaskKind = "ModelTraining"
	TaskWeightUpdate      TaskKind = "WeightUpdate"
	TaskPatternExtraction TaskKind = "PatternExtraction"
	TaskReputationUpdate  TaskKind = "ReputationUpdate"
	TaskDriftAnalysis     TaskKind = "DriftAnalysis"
	TaskRuleConsolidation TaskKind = "RuleConsolidation"
)

// Task is one unit of learning work, always attributable to a single
// detector/signature signal key so it can be routed to that key's
// worker.
type Task struct {
	ID           string
	Kind         TaskKind
	SignalKey    string // routing key: detector name or signature hash
	DetectorName string
	Signal       float64 // outcome strength in [0,1]
	LearningRate float64
}

// NewTask stamps a Task with a monotonic ULID, matching the reference
// platform's sortable event-ID convention.
func NewTask(kind TaskKind, signalKey, detectorName string, signal, learningRate float64) Task {
	return Task{
		ID:           ulid.Make().String(),
		Kind:         kind,
		SignalKey:    signalKey,
		DetectorName: detectorName,
		Signal:       signal,
		LearningRate: learningRate,
	}
}

// Stats is a point-in-time snapshot of coordinator activity.
type Stats struct {
	Submitted int64
	Processed int64
	Dropped   int64
}

// Coordinator owns one bounded channel per signal key ("worker"), so a
// slow or backlogged key never blocks submissions for another key.
// Submit never blocks: a full worker queue drops the task.
type Coordinator struct {
	store      *reputation.Store
	queueSize  int

	mu      sync.Mutex
	workers map[string]chan Task
	wg      sync.WaitGroup

	statsMu sync.Mutex
	stats   Stats

	ctx    context.Context
	cancel context.CancelFunc
}

// New returns a Coordinator backed by store, with queueSize slots per
// signal-key worker.
func New(store *reputation.Store, queueSize int) *Coordinator {
	if queueSize <= 0 {
		queueSize = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		store:     store,
		queueSize: queueSize,
		workers:   make(map[string]chan Task),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Submit attempts to enqueue a task for its signal key's worker,
// spawning the worker lazily on first use. It never blocks: if the
// worker's queue is full the task is dropped and counted (spec §4.6
// back-pressure policy: "drop, never block a detector").
func (c *Coordinator) Submit(t Task) {
	c.mu.Lock()
	ch, ok := c.workers[t.SignalKey]
	if !ok {
		ch = make(chan Task, c.queueSize)
		c.workers[t.SignalKey] = ch
		c.wg.Add(1)
		go c.runWorker(t.SignalKey, ch)
	}
	c.mu.Unlock()

	c.statsMu.Lock()
	c.stats.Submitted++
	c.statsMu.Unlock()

	select {
	case ch <- t:
	default:
		c.statsMu.Lock()
		c.stats.Dropped++
		c.statsMu.Unlock()
		log.Debug().Str("component", "learning").Str("signalKey", t.SignalKey).
			Str("taskKind", string(t.Kind)).Msg("learning queue full, dropping task")
	}
}

func (c *Coordinator) runWorker(signalKey string, ch chan Task) {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			// Process whatever is already queued, then exit.
			for {
				select {
				case t, ok := <-ch:
					if !ok {
						return
					}
					c.process(t)
				default:
					return
				}
			}
		case t, ok := <-ch:
			if !ok {
				return
			}
			c.process(t)
		}
	}
}

func (c *Coordinator) process(t Task) {
	switch t.Kind {
	case TaskWeightUpdate, TaskModelTraining, TaskPatternUpdate, TaskRuleConsolidation:
		newWeight := c.store.AdjustWeight(t.DetectorName, t.Signal, t.LearningRate)
		log.Debug().Str("component", "learning").Str("detector", t.DetectorName).
			Str("taskKind", string(t.Kind)).Float64("newWeight", newWeight).Msg("weight adjusted")
	case TaskReputationUpdate, TaskPatternExtraction:
		c.store.RecordReputation(t.SignalKey, t.Signal)
	case TaskDriftAnalysis:
		log.Debug().Str("component", "learning").Str("signalKey", t.SignalKey).
			Float64("signal", t.Signal).Msg("drift analysis task processed")
	default:
		log.Warn().Str("component", "learning").Str("kind", string(t.Kind)).Msg("unknown task kind")
	}

	c.statsMu.Lock()
	c.stats.Processed++
	c.statsMu.Unlock()
}

// DeriveTasks turns the signals detectors left on the blackboard plus
// the final aggregated evidence into the named trigger tasks spec
// §4.6 enumerates. user.feedback_received is the one trigger that
// cannot be derived at evaluation time — it represents ground truth
// arriving later out of band — so callers submit it separately via
// SubmitFeedback once a label is available.
func DeriveTasks(signals *blackboard.SignalMap, ev blackboard.AggregatedEvidence, learningRate float64) []Task {
	var tasks []Task
	snap := signals.Snapshot()

	if boolSignal(snap, "ua.headless_detected") || boolSignal(snap, "ua.pattern_match") {
		tasks = append(tasks, NewTask(TaskPatternExtraction, "ua.pattern", "", 1.0, learningRate))
	}
	if numberSignal(snap, "ua.bot_probability") >= 0.85 && ev.Confidence >= 0.7 {
		tasks = append(tasks, NewTask(TaskPatternExtraction, "ua.pattern", "", ev.BotProbability, learningRate))
	}
	if ev.BotProbability >= 0.5 && ev.Confidence < 0.7 {
		tasks = append(tasks, NewTask(TaskModelTraining, "heuristic.weights", "", ev.BotProbability, learningRate))
	}
	if ev.Confidence >= 0.85 {
		tasks = append(tasks, NewTask(TaskPatternUpdate, "heuristic.weights", "", ev.BotProbability, learningRate))
	}
	if boolSignal(snap, "tls.unknown_fingerprint") && ev.BotProbability >= 0.7 && ev.Confidence >= 0.5 {
		tasks = append(tasks, NewTask(TaskPatternExtraction, "tls.ja3", "", 1.0, learningRate))
	}

	return tasks
}

// SubmitFeedback submits the user.feedback_received trigger: a
// caller-supplied ground-truth label (1.0 = confirmed bot, 0.0 =
// confirmed human) arriving after the request that produced the
// evidence has already completed.
func (c *Coordinator) SubmitFeedback(label, learningRate float64) {
	c.Submit(NewTask(TaskWeightUpdate, "heuristic.weights", "", label, learningRate))
}

func boolSignal(snap map[string]blackboard.SignalValue, key string) bool {
	v, ok := snap[key]
	return ok && v.Kind == blackboard.SignalBool && v.Bool
}

func numberSignal(snap map[string]blackboard.SignalValue, key string) float64 {
	v, ok := snap[key]
	if !ok || v.Kind != blackboard.SignalNumber {
		return 0
	}
	return v.Num
}

// Stats returns a snapshot of submission/processing/drop counters.
func (c *Coordinator) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

// Shutdown cancels the workers; each processes the tasks already in
// its queue and then exits. Shutdown waits for that drain up to the
// caller's own context deadline. Submit does not check for shutdown: a
// task submitted afterwards to a key whose worker has exited stays
// queued and is never processed.
func (c *Coordinator) Shutdown(ctx context.Context) {
	c.cancel()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn().Str("component", "learning").Msg("shutdown deadline exceeded, workers still draining")
	}
}

// SetGlobalLevel is a thin convenience wrapper so cmd/gateway can tune
// verbosity without importing zerolog directly for this one call.
func SetGlobalLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}
