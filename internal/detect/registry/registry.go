// Package registry holds the Detector contract and the in-process
// registry detectors are registered into at composition-root time.
// There is no global mutable registry — each Engine owns its own.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nodeforge/botwall/internal/detect/blackboard"
)

// Metadata describes a detector's identity and scheduling hints.
// Detectors are polymorphic over this + Evaluate, replacing an
// inheritance hierarchy with a single small interface (spec §9 Design
// Notes).
type Metadata struct {
	Name        string
	Category    blackboard.Category
	Wave        int      // priority; lower waves run first
	Inputs      []string // signal-map keys this detector reads
	Outputs     []string // signal-map keys this detector may write
	Description string
}

// Detector is the contract every detection unit implements, whether
// built-in or a third-party plug-in.
type Detector interface {
	Metadata() Metadata
	Evaluate(ctx context.Context, bb *blackboard.Blackboard) (blackboard.Contribution, error)
}

// Registry holds detectors grouped by wave, in registration order
// within a wave. It is built once at startup; writes take the lock
// exclusively and reads take it shared.
type Registry struct {
	mu        sync.RWMutex
	detectors map[string]Detector
	waves     map[int][]string // wave -> detector names, registration order
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		detectors: make(map[string]Detector),
		waves:     make(map[int][]string),
	}
}

// Register adds a detector. It is idempotent-unsafe by name: a
// duplicate name is a startup-time configuration error, matching the
// fail-loud posture of the rest of the ambient stack.
func (r *Registry) Register(d Detector) error {
	meta := d.Metadata()
	if meta.Name == "" {
		return fmt.Errorf("registry: detector metadata must have a name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.detectors[meta.Name]; exists {
		return fmt.Errorf("registry: detector %q already registered", meta.Name)
	}
	r.detectors[meta.Name] = d
	r.waves[meta.Wave] = append(r.waves[meta.Wave], meta.Name)
	return nil
}

// Waves returns the set of wave numbers in ascending order.
func (r *Registry) Waves() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int, 0, len(r.waves))
	for w := range r.waves {
		out = append(out, w)
	}
	sort.Ints(out)
	return out
}

// DetectorsInWave returns the detectors registered in a given wave, in
// registration order, filtered down to those named in allow (when
// allow is non-nil — a DetectionPolicy's selected set).
func (r *Registry) DetectorsInWave(wave int, allow map[string]struct{}) []Detector {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := r.waves[wave]
	out := make([]Detector, 0, len(names))
	for _, name := range names {
		if allow != nil {
			if _, ok := allow[name]; !ok {
				continue
			}
		}
		out = append(out, r.detectors[name])
	}
	return out
}

// Get returns a detector by name.
func (r *Registry) Get(name string) (Detector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.detectors[name]
	return d, ok
}

// Names returns every registered detector name, unordered.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.detectors))
	for name := range r.detectors {
		out = append(out, name)
	}
	return out
}
