// Package network implements the Network category detector: flags
// requests originating from known datacenter/hosting-provider subnets
// and subnets with an already-poor reputation. Grounded on the
// reference platform's threshold/override resolution shape
// (internal/alerts/unified_eval.go CheckUnifiedResource).
package network

import (
	"context"

	"github.com/nodeforge/botwall/internal/detect/blackboard"
	"github.com/nodeforge/botwall/internal/detect/registry"
	"github.com/nodeforge/botwall/internal/detect/reputation"
)

// Detector is the Network-category built-in detector. It consults the
// Weight & Reputation Store for the requesting subnet's prior
// reputation in addition to a static datacenter-range check.
type Detector struct {
	Reputation *reputation.Store

	// IsDatacenterSubnet is injected so tests and deployments can
	// supply their own datacenter-range source without this package
	// depending on a specific IP-intelligence provider.
	IsDatacenterSubnet func(subnet24 string) bool
}

// New returns a Network detector backed by rep.
func New(rep *reputation.Store, isDatacenter func(string) bool) *Detector {
	if isDatacenter == nil {
		isDatacenter = func(string) bool { return false }
	}
	return &Detector{Reputation: rep, IsDatacenterSubnet: isDatacenter}
}

func (d *Detector) Metadata() registry.Metadata {
	return registry.Metadata{
		Name:        "network.subnet",
		Category:    blackboard.CategoryNetwork,
		Wave:        0,
		Outputs:     []string{"net.is-datacenter"},
		Description: "Flags datacenter-range subnets and subnets with poor reputation history.",
	}
}

func (d *Detector) Evaluate(_ context.Context, bb *blackboard.Blackboard) (blackboard.Contribution, error) {
	isDatacenter := d.IsDatacenterSubnet(bb.Features.Subnet24)
	bb.Signals.Set("net.is-datacenter", blackboard.BoolSignal(isDatacenter))

	var delta float64
	reason := "subnet has no adverse history"

	if isDatacenter {
		delta += 0.3
		reason = "request originates from a known datacenter range"
	}

	if bb.Signatures.SubnetHash != "" {
		rep := d.Reputation.ReputationOf(bb.Signatures.SubnetHash)
		if rep > 0 {
			delta += 0.5 * rep
			reason = "subnet has a poor prior reputation score"
		}
	}

	if delta == 0 {
		delta = -0.05
	}

	return blackboard.Contribution{
		ConfidenceDelta: clamp(delta),
		Weight:          1.0,
		Reason:          reason,
		SuggestedBotType: suggestedType(isDatacenter),
	}, nil
}

func suggestedType(isDatacenter bool) string {
	if isDatacenter {
		return "DatacenterClient"
	}
	return ""
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
