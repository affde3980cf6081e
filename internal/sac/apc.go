package sac

// Controller is the APC/C decision latch. Once the aggregate inhibitor level
// falls below the activation threshold the anaphase decision is taken; there
// is no reverse edge.
type Controller struct {
	Threshold float64

	committed bool
}

func NewController(threshold float64) *Controller {
	return &Controller{Threshold: threshold}
}

// Evaluate latches the commit decision when the bus level is below the
// activation threshold and returns the latch value. Idempotent once true.
func (c *Controller) Evaluate(busLevel float64) bool {
	if busLevel < c.Threshold {
		c.committed = true
	}
	return c.committed
}

// Committed reports the latch without re-evaluating.
func (c *Controller) Committed() bool {
	return c.committed
}
