package sac

// Bus models the cytoplasm as a shared analog channel. The mitotic checkpoint
// complex (MCC) concentration is a leaky integrator over the inhibitory flux
// emitted by every kinetochore: aggregation across many independent noisy
// sources low-pass-filters single-agent noise before it reaches the decision
// layer.
type Bus struct {
	Concentration   float64
	ProductionRate  float64
	DegradationRate float64

	history []float64
}

func NewBus(initial, production, degradation float64) *Bus {
	return &Bus{
		Concentration:   initial,
		ProductionRate:  production,
		DegradationRate: degradation,
	}
}

// Update applies one tick of decay and integrates the aggregate flux.
// Concentration cannot go below zero.
func (b *Bus) Update(totalFlux float64) {
	b.Concentration *= 1.0 - b.DegradationRate
	b.Concentration += totalFlux * b.ProductionRate
	if b.Concentration < 0 {
		b.Concentration = 0
	}
	b.history = append(b.history, b.Concentration)
}

// History returns a copy of the per-tick concentration trace.
func (b *Bus) History() []float64 {
	return append([]float64{}, b.history...)
}
