// Package blackboard holds the per-request working memory detectors
// publish into, plus the aggregated evidence shape the orchestrator
// produces. It is the shared vocabulary every other detect/* package
// imports.
package blackboard

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nodeforge/botwall/internal/detect/signature"
)

// RequestFeatures is the immutable, once-built view of an inbound
// request. It is never mutated after construction and is dropped at
// request exit.
type RequestFeatures struct {
	RequestID   string
	TimestampMs int64

	Method      string
	Path        string
	HTTPVersion string

	RemoteAddr string
	Subnet24   string
	Headers    map[string]string // case-insensitive keys, lower-cased by the builder
	UserAgent  string            // raw; used only inside the Signature Service and never logged
	Cookies    []string          // names only

	TLSProtocol string
	TLSCipher   string
	ALPN        string

	UpstreamCountryCode string
	ClientProbePayload  string
}

// NewRequestFeatures builds a RequestFeatures value, assigning a
// request ID via uuid when the caller didn't supply one.
func NewRequestFeatures(requestID string, timestampMs int64) RequestFeatures {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	return RequestFeatures{
		RequestID:   requestID,
		TimestampMs: timestampMs,
		Headers:     make(map[string]string),
	}
}

// SignalValue is the dynamic value stored under a signal key: a bool,
// a float64 in [0,1], a small int, or a short string. Exactly one
// field is meaningful, selected by Kind.
type SignalKind int

const (
	SignalBool SignalKind = iota
	SignalNumber
	SignalInt
	SignalString
)

type SignalValue struct {
	Kind SignalKind
	Bool bool
	Num  float64
	Int  int64
	Str  string
}

func BoolSignal(v bool) SignalValue     { return SignalValue{Kind: SignalBool, Bool: v} }
func NumberSignal(v float64) SignalValue { return SignalValue{Kind: SignalNumber, Num: v} }
func IntSignal(v int64) SignalValue     { return SignalValue{Kind: SignalInt, Int: v} }
func StringSignal(v string) SignalValue { return SignalValue{Kind: SignalString, Str: v} }

// Category groups detectors into the intrinsic taxonomy spec §4.2/§9
// names instead of a class-inheritance hierarchy.
type Category string

const (
	CategoryUserAgent  Category = "UserAgent"
	CategoryNetwork    Category = "Network"
	CategoryFingerprint Category = "Fingerprint"
	CategoryBehavioral Category = "Behavioral"
	CategoryAI         Category = "AI"
	CategoryVerifier   Category = "Verifier"
)

// Contribution is a single detector's signed, weighted input.
type Contribution struct {
	DetectorName      string
	Category          Category
	ConfidenceDelta    float64 // [-1, 1]
	Weight             float64 // [0, inf), default 1.0
	Reason             string
	Priority           int // wave
	ProcessingTimeMs   int64
	SuggestedBotType   string
	SuggestedBotName   string
}

// Effective returns ConfidenceDelta * Weight, always recomputed rather
// than cached.
func (c Contribution) Effective() float64 { return c.ConfidenceDelta * c.Weight }

// SignalMap is the append-only, first-writer-wins signal store for one
// request. Writes from a later wave never overwrite an earlier one's
// key (spec §5 "Signal Map enforces first-writer-wins semantics").
type SignalMap struct {
	mu     sync.RWMutex
	values map[string]SignalValue
}

func NewSignalMap() *SignalMap {
	return &SignalMap{values: make(map[string]SignalValue)}
}

// Set writes a key if and only if it is not already present. It
// reports whether the write took effect.
func (m *SignalMap) Set(key string, v SignalValue) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.values[key]; exists {
		return false
	}
	m.values[key] = v
	return true
}

// Get returns the value for key and whether it was present. Detectors
// that did not declare a key as an input see the zero value at
// runtime (spec §4.4 tie-breaks) — enforcing the declaration contract
// itself is a unit-test-time concern, not a runtime one.
func (m *SignalMap) Get(key string) (SignalValue, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

// Snapshot returns a shallow copy of all signals as they stand right
// now, safe to range over without holding the map's lock.
func (m *SignalMap) Snapshot() map[string]SignalValue {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]SignalValue, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

// RiskBand buckets botProbability per spec §4.4/§3.
type RiskBand string

const (
	RiskVeryLow  RiskBand = "VeryLow"
	RiskLow      RiskBand = "Low"
	RiskMedium   RiskBand = "Medium"
	RiskHigh     RiskBand = "High"
	RiskVeryHigh RiskBand = "VeryHigh"
	RiskVerified RiskBand = "Verified"
)

// BandFor maps a bot probability to its risk band using the fixed
// thresholds of spec §4.4. Verified is never chosen here — callers
// must apply the verified-bot override themselves.
func BandFor(botProbability float64) RiskBand {
	switch {
	case botProbability < 0.2:
		return RiskVeryLow
	case botProbability < 0.4:
		return RiskLow
	case botProbability < 0.6:
		return RiskMedium
	case botProbability < 0.8:
		return RiskHigh
	default:
		return RiskVeryHigh
	}
}

// EarlyExitVerdict enumerates why a request stopped early.
type EarlyExitVerdict string

const (
	VerdictNone          EarlyExitVerdict = ""
	VerdictImmediateBot  EarlyExitVerdict = "ImmediateBot"
	VerdictImmediateHuman EarlyExitVerdict = "ImmediateHuman"
	VerdictTimedOut      EarlyExitVerdict = "TimedOut"
)

// AggregatedEvidence is the core's only output value (plus an
// ActionDecision the Action Resolver derives from it). Never nil.
type AggregatedEvidence struct {
	BotProbability float64
	Confidence     float64
	RiskBand       RiskBand

	PrimaryBotType string
	PrimaryBotName string

	Contributions []Contribution

	TriggeredActionPolicyName string
	EarlyExit                 bool
	EarlyExitVerdict          EarlyExitVerdict

	TotalProcessingTimeMs int64
	ContributingDetectors map[string]struct{}
	FailedDetectors       map[string]struct{}
	OmittedDetectors      map[string]struct{}

	PolicyName string
	Signatures signature.Signatures
	RequestID  string
}

// State is the per-request state machine position (spec §4.4).
type State string

const (
	StateCreated           State = "CREATED"
	StateSignaturesBuilt   State = "SIGNATURES_BUILT"
	StateCachedVerdict     State = "CACHED_VERDICT"
	StateFastPathDone      State = "FAST_PATH_DONE"
	StateWaveInProgress    State = "WAVE_IN_PROGRESS"
	StateWaveDone          State = "WAVE_DONE"
	StateAggregated        State = "AGGREGATED"
	StateActionSelected    State = "ACTION_SELECTED"
	StateEmitted           State = "EMITTED"
	StateAborted           State = "ABORTED"
	StateFailed            State = "FAILED"
)

// Blackboard is the per-request working memory: immutable features
// plus the growing, guarded state detectors append to. One value per
// request; discarded at request exit.
type Blackboard struct {
	Features   RequestFeatures
	Signatures signature.Signatures
	Signals    *SignalMap

	mu                    sync.Mutex
	contributions         []Contribution
	completedDetectors    map[string]struct{}
	failedDetectors       map[string]struct{}
	omittedDetectors      map[string]struct{}
	state                 State
	startedAt             time.Time
}

// New creates a fresh Blackboard for one request.
func New(features RequestFeatures) *Blackboard {
	return &Blackboard{
		Features:           features,
		Signals:            NewSignalMap(),
		completedDetectors: make(map[string]struct{}),
		failedDetectors:    make(map[string]struct{}),
		omittedDetectors:   make(map[string]struct{}),
		state:              StateCreated,
		startedAt:          time.Now(),
	}
}

// SetState records the current pipeline state.
func (b *Blackboard) SetState(s State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = s
}

func (b *Blackboard) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// AddContribution appends a detector's contribution under a per-
// blackboard lock (spec §4.4 "per-detector lock on the blackboard" —
// one mutex per request blackboard is sufficient since contributions
// within a wave never block on each other past the append itself).
func (b *Blackboard) AddContribution(c Contribution) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.contributions = append(b.contributions, c)
	b.completedDetectors[c.DetectorName] = struct{}{}
}

// MarkFailed records a detector as failed (recoverable error or
// timeout) without a contribution.
func (b *Blackboard) MarkFailed(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failedDetectors[name] = struct{}{}
}

// MarkOmitted records a detector that did not complete within the
// wall-clock budget: it either never started or was still running
// when the budget ran out.
func (b *Blackboard) MarkOmitted(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.omittedDetectors[name] = struct{}{}
}

// Contributions returns a snapshot copy of all contributions so far.
func (b *Blackboard) Contributions() []Contribution {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Contribution, len(b.contributions))
	copy(out, b.contributions)
	return out
}

func (b *Blackboard) sets() (completed, failed, omitted map[string]struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	completed = copySet(b.completedDetectors)
	failed = copySet(b.failedDetectors)
	omitted = copySet(b.omittedDetectors)
	return
}

func copySet(in map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}

// Elapsed returns wall-clock time since the blackboard was created.
func (b *Blackboard) Elapsed() time.Duration {
	return time.Since(b.startedAt)
}

// Snapshot produces an AggregatedEvidence carrying the structural
// bookkeeping fields (contributions, detector sets, elapsed time);
// callers (the orchestrator) fill in the scoring fields.
func (b *Blackboard) Snapshot() AggregatedEvidence {
	completed, failed, omitted := b.sets()
	return AggregatedEvidence{
		Contributions:         b.Contributions(),
		ContributingDetectors: completed,
		FailedDetectors:       failed,
		OmittedDetectors:      omitted,
		TotalProcessingTimeMs: b.Elapsed().Milliseconds(),
		Signatures:            b.Signatures,
		RequestID:             b.Features.RequestID,
	}
}
