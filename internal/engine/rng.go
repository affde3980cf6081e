package engine

import "math/rand/v2"

// streamSalt separates per-agent streams drawn from one run seed.
const streamSalt = 0x9e3779b97f4a7c15

// Streams hands out one deterministic random stream per agent. Independent
// per-agent PCG states keep a run reproducible regardless of the order agent
// updates are executed in.
type Streams struct {
	seed uint64
}

func NewStreams(seed uint64) *Streams {
	return &Streams{seed: seed}
}

// Agent returns the stream for the given agent id. Calling it twice with the
// same id yields two generators that produce identical sequences.
func (s *Streams) Agent(id int) *rand.Rand {
	return rand.New(rand.NewPCG(s.seed, uint64(id)^streamSalt))
}
