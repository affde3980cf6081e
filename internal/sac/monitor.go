package sac

import "fmt"

// Violation is one recorded breach of the checkpoint safety property.
type Violation struct {
	Tick    int    `json:"tick"`
	Message string `json:"message"`
}

// MisattachmentEvent records one tick spent merotelically attached.
type MisattachmentEvent struct {
	Tick    int `json:"tick"`
	AgentID int `json:"agent_id"`
}

// Monitor is a runtime checker of the temporal safety property
// G(committed -> all_ready AND no misattachment). It is a pure observer:
// it records violations and never mutates the monitored system.
type Monitor struct {
	violations []Violation
	events     []MisattachmentEvent
}

func NewMonitor() *Monitor {
	return &Monitor{}
}

// Check evaluates both safety clauses for one tick and returns false when
// either is violated. The clauses are checked independently: fault-injected
// signal emission can decouple claimed readiness from true misattachment,
// so one violation must not mask the other.
func (m *Monitor) Check(tick int, allReady, committed bool, misattachedCount int) bool {
	ok := true
	if committed && !allReady {
		m.violations = append(m.violations, Violation{
			Tick:    tick,
			Message: fmt.Sprintf("anaphase committed at tick %d while system not ready", tick),
		})
		ok = false
	}
	if committed && misattachedCount > 0 {
		m.violations = append(m.violations, Violation{
			Tick:    tick,
			Message: fmt.Sprintf("anaphase committed at tick %d with %d misattached kinetochores", tick, misattachedCount),
		})
		ok = false
	}
	return ok
}

// LogMisattachment appends one misattachment observation.
func (m *Monitor) LogMisattachment(tick, agentID int) {
	m.events = append(m.events, MisattachmentEvent{Tick: tick, AgentID: agentID})
}

// Violations returns a copy of the recorded violations.
func (m *Monitor) Violations() []Violation {
	return append([]Violation{}, m.violations...)
}

// Report summarizes a finished run: pass/fail plus aggregate misattachment
// statistics.
type Report struct {
	Passed              bool        `json:"passed"`
	Violations          []Violation `json:"violations,omitempty"`
	MisattachmentEvents int         `json:"misattachment_events"`
	AffectedAgents      int         `json:"affected_agents"`
}

func (m *Monitor) Report() Report {
	affected := map[int]struct{}{}
	for _, ev := range m.events {
		affected[ev.AgentID] = struct{}{}
	}
	return Report{
		Passed:              len(m.violations) == 0,
		Violations:          append([]Violation{}, m.violations...),
		MisattachmentEvents: len(m.events),
		AffectedAgents:      len(affected),
	}
}
