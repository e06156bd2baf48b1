// Package fingerprint implements a second-wave Fingerprint-category
// detector that checks client-probe presence: the client-side
// fingerprint payload (a hash of canvas/WebGL/font enumeration
// supplied by an opt-in JS probe) must be present and at least
// MinProbeLength bytes long, or it is treated as absent/spoofed. The
// payload is not checked against other request attributes. Grounded on the reference platform's
// maxEvents/minOccurrences bounded-state shape
// (internal/ai/patterns/detector.go).
package fingerprint

import (
	"context"

	"github.com/nodeforge/botwall/internal/detect/blackboard"
	"github.com/nodeforge/botwall/internal/detect/registry"
)

// MinProbeLength is the shortest plausible client-probe payload; a
// shorter one is treated as a stub/missing probe.
const MinProbeLength = 16

// Detector is the client-fingerprint-consistency built-in detector.
type Detector struct{}

func New() *Detector { return &Detector{} }

func (d *Detector) Metadata() registry.Metadata {
	return registry.Metadata{
		Name:        "fingerprint.probe",
		Category:    blackboard.CategoryFingerprint,
		Wave:        1,
		Outputs:     []string{"fp.present"},
		Description: "Flags missing or stub client-side fingerprint probes.",
	}
}

func (d *Detector) Evaluate(_ context.Context, bb *blackboard.Blackboard) (blackboard.Contribution, error) {
	probe := bb.Features.ClientProbePayload
	present := len(probe) >= MinProbeLength
	bb.Signals.Set("fp.present", blackboard.BoolSignal(present))

	if !present {
		return blackboard.Contribution{
			ConfidenceDelta: 0.25,
			Weight:          0.6,
			Reason:          "client fingerprint probe missing or too short to be genuine",
		}, nil
	}

	return blackboard.Contribution{
		ConfidenceDelta: -0.15,
		Weight:          0.6,
		Reason:          "client fingerprint probe present",
	}, nil
}
