// Package sac models the spindle-assembly checkpoint: kinetochore sensor
// agents, the cytoplasmic inhibitor bus, the APC/C commit latch, and the
// runtime safety monitor that watches them.
package sac

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
)

// State is the attachment state of a single kinetochore.
type State string

const (
	StateDetached          State = "detached"
	StateAttachedRelaxed   State = "attached_relaxed"
	StateAttachedTensioned State = "attached_tensioned"
	// StateMisattached is merotelic attachment: bound to both poles at once.
	// It can produce false tension but never satisfies the checkpoint.
	StateMisattached State = "misattached"
)

func ParseState(s string) (State, error) {
	switch State(strings.ToLower(strings.TrimSpace(s))) {
	case StateDetached:
		return StateDetached, nil
	case StateAttachedRelaxed:
		return StateAttachedRelaxed, nil
	case StateAttachedTensioned:
		return StateAttachedTensioned, nil
	case StateMisattached:
		return StateMisattached, nil
	default:
		return "", fmt.Errorf("invalid kinetochore state: %q", s)
	}
}

// Attached reports whether the kinetochore is bound to a spindle pole in any
// form, including merotelically.
func (s State) Attached() bool {
	return s != StateDetached && s != ""
}

// Physics holds the transition parameters shared by every agent in a run.
// It is always passed by value: variants that scale a parameter derive a
// per-call copy and never mutate configuration seen by other agents.
type Physics struct {
	TensionThreshold          float64
	NoiseSigma                float64
	AttachProbability         float64
	DetachProbability         float64
	MisattachProbability      float64
	MisattachDetachMultiplier float64
	TensionStabilityWindow    int

	// WAPL-like unloading: below the relaxed threshold, detachment pressure
	// grows as tension falls.
	WAPLRelaxedThreshold  float64
	WAPLUnloadProbability float64

	// Variant-specific knobs.
	CTCFInstability          float64 // UnstableBoundary
	HyperstabilizationFactor float64 // Hyperstable
	MerotelicDriftMultiplier float64 // ElevatedMisattachmentRisk
}

// Snapshot is the sibling view an agent receives during update. Both sisters
// of a pair observe the snapshot taken before either of them moved this tick.
type Snapshot struct {
	State State
}

// Agent is one kinetochore: a finite state machine with stochastic
// transitions and a tension sensor. Two agents sharing a PairID are sister
// kinetochores of one chromosome.
type Agent struct {
	ID      int
	PairID  int
	Variant Variant

	TensionThreshold float64
	NoiseSigma       float64

	State   State
	Tension float64

	// StabilityCount is the number of consecutive ticks the measured tension
	// met the threshold while the pair was eligible. It resets to zero on any
	// violation of those conditions.
	StabilityCount int

	// MisattachTicks counts consecutive ticks spent merotelically attached.
	MisattachTicks int

	rng *rand.Rand
}

// NewAgent creates a detached kinetochore with its own random stream.
func NewAgent(id, pairID int, variant Variant, tensionThreshold, noiseSigma float64, rng *rand.Rand) *Agent {
	return &Agent{
		ID:               id,
		PairID:           pairID,
		Variant:          variant,
		TensionThreshold: tensionThreshold,
		NoiseSigma:       noiseSigma,
		State:            StateDetached,
		rng:              rng,
	}
}

// Snapshot captures the agent's current state for its sister's update.
func (a *Agent) Snapshot() Snapshot {
	return Snapshot{State: a.State}
}

// Update advances the agent by one tick. The sibling snapshot must be the
// sister's pre-tick state. Variant hooks run around the base transition
// table: parameter derivation before, post-transition adjustment after.
func (a *Agent) Update(sibling Snapshot, phys Physics) {
	h := a.hooks()
	if h.derive != nil {
		phys = h.derive(a, phys)
	}
	a.baseUpdate(sibling, phys)
	if h.post != nil {
		h.post(a, phys)
	}
}

func (a *Agent) baseUpdate(sibling Snapshot, phys Physics) {
	// Stochastic attachment and detachment.
	if a.State == StateDetached {
		if a.rng.Float64() < phys.AttachProbability {
			if a.rng.Float64() < phys.MisattachProbability {
				a.State = StateMisattached
				a.MisattachTicks = 0
			} else {
				a.State = StateAttachedRelaxed
			}
		}
	} else {
		detachProb := phys.DetachProbability
		if a.State == StateMisattached {
			detachProb *= phys.MisattachDetachMultiplier
		}
		if a.rng.Float64() < detachProb {
			a.detach()
		}
	}

	if a.State == StateMisattached {
		a.MisattachTicks++
		// Merotely produces an unstable false-tension reading; it never
		// transitions to AttachedTensioned.
		reading := 0.5 + a.rng.NormFloat64()*a.NoiseSigma*2
		a.Tension = math.Max(0, reading)
		return
	}

	// Real tension exists only when both sisters are correctly attached.
	if a.State.Attached() && sibling.State.Attached() && sibling.State != StateMisattached {
		measured := 1.0 + a.rng.NormFloat64()*a.NoiseSigma
		a.Tension = measured

		if measured >= a.TensionThreshold {
			a.StabilityCount++
			// Aurora-B-like filter: tension must hold for a full window of
			// consecutive ticks before the state change is accepted.
			if a.StabilityCount >= phys.TensionStabilityWindow {
				a.State = StateAttachedTensioned
			} else {
				a.State = StateAttachedRelaxed
			}
			return
		}

		a.StabilityCount = 0
		a.State = StateAttachedRelaxed
		if measured < phys.WAPLRelaxedThreshold {
			unload := phys.WAPLUnloadProbability * (1.0 - measured/phys.WAPLRelaxedThreshold)
			if a.rng.Float64() < unload {
				a.detach()
			}
		}
		return
	}

	a.Tension = 0
	a.StabilityCount = 0
}

func (a *Agent) detach() {
	a.State = StateDetached
	a.Tension = 0
	a.StabilityCount = 0
	a.MisattachTicks = 0
}

// EmitSignal returns the agent's inhibitory flux for this tick: 0 when the
// checkpoint is satisfied, 1 in every other state including misattachment.
// Variants may override the emission.
func (a *Agent) EmitSignal() float64 {
	if h := a.hooks().emit; h != nil {
		return h(a)
	}
	if a.State == StateAttachedTensioned {
		return 0
	}
	return 1
}

// Ready reports the agent's claimed anaphase readiness. Variants may lie
// here; use Tensioned for ground truth.
func (a *Agent) Ready() bool {
	if h := a.hooks().ready; h != nil {
		return h(a)
	}
	return a.Tensioned()
}

// Tensioned reports true readiness from the raw state, ignoring any variant
// override. The safety monitor is fed from this.
func (a *Agent) Tensioned() bool {
	return a.State == StateAttachedTensioned
}

// Misattached reports whether the agent is merotelically attached.
func (a *Agent) Misattached() bool {
	return a.State == StateMisattached
}
