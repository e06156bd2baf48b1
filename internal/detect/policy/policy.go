// Package policy holds the Detection Policy and Action Policy types
// and the registries that resolve a request path to a detection
// policy (via longest-glob-match) and an action-policy name to a
// concrete ActionPolicy (spec §4.3).
package policy

import (
	"fmt"
	"sync"

	"github.com/IGLOU-EU/go-wildcard/v2"

	"github.com/nodeforge/botwall/internal/detect/detecterr"
)

// Transition is one ordered rule in a DetectionPolicy's transition
// list: if its condition fires, ActionPolicyName is the action policy
// selected for the request, overriding the policy's own
// ActionPolicyName. Exactly one of WhenRiskExceeds/WhenSignalPresent
// is meaningful per transition.
type Transition struct {
	// WhenRiskExceeds fires when the final botProbability is strictly
	// greater than the threshold. nil means this condition is unused.
	WhenRiskExceeds *float64

	// WhenSignalPresent fires when the named signal-map key was set by
	// any detector during the request. Empty means this condition is
	// unused.
	WhenSignalPresent string

	ActionPolicyName string
}

// DetectionPolicy names which detectors run, grouped implicitly by
// the registry's own wave numbers, the wall-clock budget and
// early-exit thresholds for requests it governs, and how the
// governing action policy is chosen.
type DetectionPolicy struct {
	Name string

	// DetectorNames restricts the registry's detectors to this set.
	// A nil set means "every registered detector" (the default
	// policy's behavior).
	DetectorNames map[string]struct{}

	WaveBudgetMs     int64 // wall-clock budget for the whole detection phase
	ImmediateBotAt   float64
	ImmediateHumanAt float64

	// ImmediateBlockThreshold gates the fast-path reputation step's own
	// early exit: a pattern dirtyScore at or above this threshold stops
	// the request before any wave runs (spec §4.4 step 3).
	ImmediateBlockThreshold float64

	// ActionPolicyName is this policy's default action-policy choice,
	// used when no Transition fires. May be empty, in which case the
	// registry's global default action-policy name applies.
	ActionPolicyName string

	// Transitions are evaluated in declaration order; the first whose
	// condition fires selects the action policy (spec §4.3/§4.4 step 7).
	Transitions []Transition

	// WeightOverrides holds per-detector weights for this path family,
	// kept apart from the shared Weight Store. The orchestrator does not
	// read this field: contribution weights come from the Weight Store
	// and the detector's own Weight only.
	WeightOverrides map[string]float64
}

// ActionKind enumerates the actions the Action Resolver can select.
type ActionKind string

const (
	ActionAllow     ActionKind = "Allow"
	ActionLog       ActionKind = "Log"
	ActionThrottle  ActionKind = "Throttle"
	ActionChallenge ActionKind = "Challenge"
	ActionMaskPII   ActionKind = "MaskPII"
	ActionBlock     ActionKind = "Block"
)

// ActionPolicy maps risk bands to actions, plus the tunables each
// action kind needs. Every ActionPolicy is registered under a unique
// Name and selected by that name, never by path directly (spec §4.3).
type ActionPolicy struct {
	Name string

	// BandActions maps a RiskBand string (blackboard.RiskBand) to the
	// action taken for it. Every band must be covered; a missing band
	// is rejected at registration time.
	BandActions map[string]ActionKind

	// ThrottleBaseDelayMs/ThrottleMaxDelayMs/ThrottleJitterRatio drive
	// the Action Resolver's throttle delay computation (spec §4.8).
	ThrottleBaseDelayMs int64
	ThrottleMaxDelayMs  int64
	ThrottleJitterRatio float64

	// ChallengeBaseDifficulty/ChallengeMaxDifficulty scale
	// proof-of-work difficulty with bot probability.
	ChallengeBaseDifficulty int
	ChallengeMaxDifficulty  int

	// MaskFields lists response/body field names the MaskPII action
	// redacts. Masking fails open (never blocks the response) if the
	// configured fields can't be located.
	MaskFields []string
}

// pathPolicy is one registered (globPattern, DetectionPolicy) pair.
type pathPolicy struct {
	glob      string
	detection DetectionPolicy
}

// Registry resolves a request path to its governing DetectionPolicy
// via longest-match-wins glob resolution, falling back to a mandatory
// default, and separately resolves action-policy names to their
// registered ActionPolicy (spec §4.3's two distinct operations,
// resolveDetectionPolicy and resolveActionPolicy).
type Registry struct {
	mu               sync.RWMutex
	policies         []pathPolicy
	defaultDetection DetectionPolicy
	hasDefault       bool

	actionPolicies          map[string]ActionPolicy
	defaultActionPolicyName string
}

// New returns an empty Registry. SetDefault and RegisterActionPolicy
// must be called before ResolveDetectionPolicy/ResolveActionPolicy are
// used in anger.
func New() *Registry {
	return &Registry{actionPolicies: make(map[string]ActionPolicy)}
}

// SetDefault installs the fallback detection policy applied when no
// registered glob matches a path.
func (r *Registry) SetDefault(detection DetectionPolicy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultDetection = detection
	r.hasDefault = true
	return nil
}

// Register adds a glob-scoped detection policy. Registration is
// idempotent by glob pattern: re-registering the same pattern replaces
// it rather than appending a duplicate, so hot-reload (fsnotify-driven)
// can call this repeatedly without leaking entries.
func (r *Registry) Register(glob string, detection DetectionPolicy) error {
	if glob == "" {
		return fmt.Errorf("policy: glob pattern must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i, p := range r.policies {
		if p.glob == glob {
			r.policies[i] = pathPolicy{glob: glob, detection: detection}
			return nil
		}
	}
	r.policies = append(r.policies, pathPolicy{glob: glob, detection: detection})
	return nil
}

// RegisterActionPolicy adds or replaces a named action policy. Every
// risk band must be covered.
func (r *Registry) RegisterActionPolicy(ap ActionPolicy) error {
	if ap.Name == "" {
		return fmt.Errorf("policy: action policy must have a name")
	}
	if err := validateAction(ap); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actionPolicies[ap.Name] = ap
	return nil
}

// SetDefaultActionPolicyName installs the global fallback action
// policy name used when a DetectionPolicy has no ActionPolicyName and
// no Transition fires (spec §4.3 option (c)).
func (r *Registry) SetDefaultActionPolicyName(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultActionPolicyName = name
}

// DefaultActionPolicyName returns the registry's global fallback name.
func (r *Registry) DefaultActionPolicyName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultActionPolicyName
}

func validateAction(a ActionPolicy) error {
	required := []string{"VeryLow", "Low", "Medium", "High", "VeryHigh", "Verified"}
	for _, band := range required {
		if _, ok := a.BandActions[band]; !ok {
			return fmt.Errorf("policy: action policy %q missing action for risk band %q", a.Name, band)
		}
	}
	return nil
}

// ResolveDetectionPolicy returns the DetectionPolicy governing path,
// choosing the registered glob with the longest literal pattern that
// matches (longest-match-wins per spec §4.3); ties break on
// registration order (first registered wins). Falls back to the
// default when nothing matches.
func (r *Registry) ResolveDetectionPolicy(path string) DetectionPolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bestLen := -1
	var best *pathPolicy
	for i, p := range r.policies {
		if !wildcard.Match(p.glob, path) {
			continue
		}
		if len(p.glob) > bestLen {
			bestLen = len(p.glob)
			best = &r.policies[i]
		}
	}
	if best != nil {
		return best.detection
	}
	return r.defaultDetection
}

// ResolveActionPolicy looks up a named action policy, failing with
// detecterr.KindActionPolicyMissing if name was never registered (spec
// §4.3 resolveActionPolicy).
func (r *Registry) ResolveActionPolicy(name string) (ActionPolicy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ap, ok := r.actionPolicies[name]
	if !ok {
		return ActionPolicy{}, detecterr.New(detecterr.KindActionPolicyMissing, "policy.ResolveActionPolicy",
			fmt.Sprintf("action policy %q is not registered", name), nil)
	}
	return ap, nil
}

// HasDefault reports whether a default detection policy has been set.
func (r *Registry) HasDefault() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hasDefault
}
