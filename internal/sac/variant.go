package sac

import (
	"fmt"
	"strings"
)

// Variant tags a behavioral overlay on the base kinetochore transition table.
// Variants model pathological cell states used for fault injection.
type Variant string

const (
	VariantNone Variant = ""

	// VariantFaultySensor never inhibits and always claims readiness,
	// regardless of real attachment state (MAD2-null). It is the principal
	// scenario the safety monitor exists to catch.
	VariantFaultySensor Variant = "faulty_sensor"

	// VariantUnstableBoundary injects post-transition flicker: a freshly
	// tensioned kinetochore may drop back to relaxed (weak CTCF boundaries).
	VariantUnstableBoundary Variant = "unstable_boundary"

	// VariantHyperstable scales detachment probability down, modeling
	// attachments too strong to correct.
	VariantHyperstable Variant = "hyperstable"

	// VariantElevatedMisattachmentRisk scales misattachment probability up
	// (merotelic drift).
	VariantElevatedMisattachmentRisk Variant = "elevated_misattachment_risk"
)

func ParseVariant(s string) (Variant, error) {
	switch Variant(strings.ToLower(strings.TrimSpace(s))) {
	case VariantNone:
		return VariantNone, nil
	case VariantFaultySensor:
		return VariantFaultySensor, nil
	case VariantUnstableBoundary:
		return VariantUnstableBoundary, nil
	case VariantHyperstable:
		return VariantHyperstable, nil
	case VariantElevatedMisattachmentRisk:
		return VariantElevatedMisattachmentRisk, nil
	default:
		return "", fmt.Errorf("invalid agent variant: %q", s)
	}
}

// variantHooks is the override surface a variant may supply. Every hook is
// optional; the base transition table stays in force for anything left nil.
//
// derive must return a per-call copy of the physics; Physics is passed by
// value precisely so a variant cannot mutate configuration shared with other
// agents in the same tick.
type variantHooks struct {
	emit   func(*Agent) float64
	ready  func(*Agent) bool
	derive func(*Agent, Physics) Physics
	post   func(*Agent, Physics)
}

var variantTable = map[Variant]variantHooks{
	VariantFaultySensor: {
		emit:  func(*Agent) float64 { return 0 },
		ready: func(*Agent) bool { return true },
	},
	VariantUnstableBoundary: {
		post: func(a *Agent, phys Physics) {
			if a.State != StateAttachedTensioned {
				return
			}
			if a.rng.Float64() < phys.CTCFInstability {
				a.State = StateAttachedRelaxed
				a.StabilityCount = 0
			}
		},
	},
	VariantHyperstable: {
		derive: func(_ *Agent, phys Physics) Physics {
			phys.DetachProbability *= phys.HyperstabilizationFactor
			return phys
		},
	},
	VariantElevatedMisattachmentRisk: {
		derive: func(_ *Agent, phys Physics) Physics {
			phys.MisattachProbability *= phys.MerotelicDriftMultiplier
			return phys
		},
	},
}

func (a *Agent) hooks() variantHooks {
	return variantTable[a.Variant]
}
