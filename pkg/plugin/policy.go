package plugin

import (
	"fmt"
	"slices"
)

// Policy restricts which plugins the manager accepts.
type Policy struct {
	AllowedCapabilities []Capability `yaml:"allowedCapabilities" json:"allowed_capabilities,omitempty"`
	DeniedCapabilities  []Capability `yaml:"deniedCapabilities" json:"denied_capabilities,omitempty"`
	AllowedCategories   []Category   `yaml:"allowedCategories" json:"allowed_categories,omitempty"`
	// MaxComplexityScore tightens the global bound of 100 when set.
	MaxComplexityScore int `yaml:"maxComplexityScore" json:"max_complexity_score,omitempty"`
}

// Merge returns a new policy using values from other when not present.
func (p Policy) Merge(other Policy) Policy {
	if len(p.AllowedCapabilities) == 0 {
		p.AllowedCapabilities = other.AllowedCapabilities
	}
	if len(p.DeniedCapabilities) == 0 {
		p.DeniedCapabilities = other.DeniedCapabilities
	}
	if len(p.AllowedCategories) == 0 {
		p.AllowedCategories = other.AllowedCategories
	}
	if p.MaxComplexityScore == 0 {
		p.MaxComplexityScore = other.MaxComplexityScore
	}
	return p
}

func (p Policy) clone() Policy {
	p.AllowedCapabilities = slices.Clone(p.AllowedCapabilities)
	p.DeniedCapabilities = slices.Clone(p.DeniedCapabilities)
	p.AllowedCategories = slices.Clone(p.AllowedCategories)
	return p
}

func (p Policy) validate() error {
	if p.MaxComplexityScore < 0 || p.MaxComplexityScore > MaxComplexityScore {
		return fmt.Errorf("maxComplexityScore must be within [0, %d]", MaxComplexityScore)
	}
	for _, c := range p.DeniedCapabilities {
		if slices.Contains(p.AllowedCapabilities, c) {
			return fmt.Errorf("capability %s is both allowed and denied", c)
		}
	}
	return nil
}

// PolicyEnforcer decides whether a descriptor satisfies a policy.
type PolicyEnforcer interface {
	Validate(meta Metadata, policy Policy) error
}

// CapabilityEnforcer checks capabilities, category and complexity.
type CapabilityEnforcer struct{}

// Validate implements PolicyEnforcer.
func (CapabilityEnforcer) Validate(meta Metadata, policy Policy) error {
	for _, c := range policy.DeniedCapabilities {
		if meta.HasCapability(c) {
			return registrationError("capabilities", "capability %s is explicitly denied", c)
		}
	}
	if len(policy.AllowedCapabilities) > 0 {
		for _, c := range meta.Capabilities {
			if !slices.Contains(policy.AllowedCapabilities, c) {
				return registrationError("capabilities", "capability %s not permitted", c)
			}
		}
	}
	if len(policy.AllowedCategories) > 0 && !slices.Contains(policy.AllowedCategories, meta.Category) {
		return registrationError("category", "category %s not permitted", meta.Category)
	}
	if policy.MaxComplexityScore > 0 && meta.ComplexityScore > policy.MaxComplexityScore {
		return registrationError("complexity_score", "complexity score %d exceeds policy limit %d", meta.ComplexityScore, policy.MaxComplexityScore)
	}
	return nil
}

// MergePolicies combines the default and plugin specific policies.
func MergePolicies(defaults Policy, plugin *Policy) Policy {
	if plugin == nil {
		return defaults.clone()
	}
	return plugin.clone().Merge(defaults.clone())
}
