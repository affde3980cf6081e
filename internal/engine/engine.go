// Package engine drives the spindle-assembly checkpoint simulation: it owns
// the tick scheduler, the outcome state machine, and the run artifacts.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/zeebo/blake3"

	"github.com/strandbio/spindle/internal/sac"
)

// Outcome is the orchestrator's top-level run state.
type Outcome string

const (
	OutcomeRunning Outcome = "running"

	// OutcomeMitoticArrest is a soft, non-terminal state: the checkpoint has
	// held past its time budget but the cell is still cycling.
	OutcomeMitoticArrest Outcome = "mitotic_arrest"

	OutcomeApoptosis         Outcome = "apoptosis"
	OutcomeAnaphaseCompleted Outcome = "anaphase_completed"
)

// Terminal reports whether the outcome ends the run.
func (o Outcome) Terminal() bool {
	return o == OutcomeApoptosis || o == OutcomeAnaphaseCompleted
}

// TickStats is the per-tick telemetry record consumed by progress sinks and
// the NDJSON trace.
type TickStats struct {
	Tick             int     `json:"tick"`
	MCCConcentration float64 `json:"mcc_concentration"`
	ReadyCount       int     `json:"ready"`
	TotalAgents      int     `json:"total"`
	MisattachedCount int     `json:"misattached"`
	Arrested         bool    `json:"arrested"`
	Committed        bool    `json:"committed"`
}

type RunOptions struct {
	Config *Config

	// Seed drives every random stream in the run. Zero means "pick one from
	// the clock"; the effective seed is always reported in the Result so any
	// run can be replayed.
	Seed uint64

	// RunID is a globally unique filesystem-safe identifier. If empty, one is
	// generated (ULID).
	RunID string

	// LogsRoot, when set, receives run_config.json, trace.ndjson,
	// snapshots.bin and final.json.
	LogsRoot string

	// Progress, when set, is invoked once per tick after the safety check.
	Progress func(TickStats)
}

func (o *RunOptions) applyDefaults() error {
	if o.Config == nil {
		return fmt.Errorf("config is required")
	}
	if o.RunID == "" {
		o.RunID = NewRunID()
	}
	if o.Seed == 0 {
		o.Seed = uint64(time.Now().UnixNano())
	}
	return nil
}

// NewRunID returns a fresh ULID run identifier.
func NewRunID() string {
	return ulid.Make().String()
}

type Result struct {
	RunID   string  `json:"run_id"`
	Seed    uint64  `json:"seed"`
	Outcome Outcome `json:"outcome"`

	// Ticks is the number of ticks executed (the last tick index + 1).
	Ticks int `json:"ticks"`

	// CommitTick and ArrestTick are -1 when the event never happened.
	CommitTick int `json:"commit_tick"`
	ArrestTick int `json:"arrest_tick"`

	Final  TickStats  `json:"final"`
	Safety sac.Report `json:"safety"`

	// MCCHistory is the bus concentration per tick.
	MCCHistory []float64 `json:"mcc_history,omitempty"`

	// ConfigDigest fingerprints the resolved configuration; TraceDigest
	// fingerprints the full per-tick state sequence. Two runs with the same
	// seed and config must produce identical digests.
	ConfigDigest string `json:"config_digest"`
	TraceDigest  string `json:"trace_digest"`
}

// Engine wires the population, bus, controller and monitor together and runs
// the tick loop.
type Engine struct {
	Options RunOptions

	Agents     []*sac.Agent
	Bus        *sac.Bus
	Controller *sac.Controller
	Monitor    *sac.Monitor

	physics            sac.Physics
	maxMitosisTime     int
	apoptosisThreshold int

	outcome    Outcome
	commitTick int
	arrestTick int
}

// New builds an engine from validated options: one agent pair per chromosome,
// variants resolved from the config, one random stream per agent.
func New(opts RunOptions) (*Engine, error) {
	if err := opts.applyDefaults(); err != nil {
		return nil, err
	}
	cfg := opts.Config
	byPair, err := cfg.VariantByPair()
	if err != nil {
		return nil, err
	}

	streams := NewStreams(opts.Seed)
	tensionThreshold := *cfg.Physics.TensionThreshold
	noise := *cfg.Physics.NoiseLevel

	agents := make([]*sac.Agent, 0, cfg.TotalAgents())
	for pair := 0; pair < cfg.Pairs(); pair++ {
		variant := byPair[pair]
		for side := 0; side < 2; side++ {
			id := pair*2 + side
			agents = append(agents, sac.NewAgent(id, pair, variant, tensionThreshold, noise, streams.Agent(id)))
		}
	}

	return &Engine{
		Options:            opts,
		Agents:             agents,
		Bus:                sac.NewBus(*cfg.Bus.MCCInitialConcentration, *cfg.Bus.MCCProductionRate, *cfg.Bus.MCCDegradationRate),
		Controller:         sac.NewController(*cfg.Bus.APCActivationThreshold),
		Monitor:            sac.NewMonitor(),
		physics:            cfg.SACPhysics(),
		maxMitosisTime:     *cfg.Limits.MaxMitosisTime,
		apoptosisThreshold: *cfg.Limits.ApoptosisThreshold,
		outcome:            OutcomeRunning,
		commitTick:         -1,
		arrestTick:         -1,
	}, nil
}

// Run executes ticks until a terminal outcome or the tick budget (the larger
// of the two limits, inclusive) is exhausted.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	rec, err := newRecorder(e.Options.LogsRoot)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rec.Close() }()

	if e.Options.LogsRoot != "" {
		if err := writeJSON(filepath.Join(e.Options.LogsRoot, "run_config.json"), e.Options.Config); err != nil {
			return nil, err
		}
	}

	maxTicks := e.maxMitosisTime
	if e.apoptosisThreshold > maxTicks {
		maxTicks = e.apoptosisThreshold
	}

	var last TickStats
	ticks := 0
	for tick := 0; tick <= maxTicks; tick++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		last = e.step(tick)
		ticks = tick + 1
		if err := rec.Record(last, e.Agents); err != nil {
			return nil, err
		}
		if e.Options.Progress != nil {
			e.Options.Progress(last)
		}
		if e.outcome.Terminal() {
			break
		}
	}

	res := &Result{
		RunID:        e.Options.RunID,
		Seed:         e.Options.Seed,
		Outcome:      e.outcome,
		Ticks:        ticks,
		CommitTick:   e.commitTick,
		ArrestTick:   e.arrestTick,
		Final:        last,
		Safety:       e.Monitor.Report(),
		MCCHistory:   e.Bus.History(),
		ConfigDigest: configDigest(e.Options.Config),
		TraceDigest:  rec.Digest(),
	}

	if e.Options.LogsRoot != "" {
		final := finalDoc{
			Timestamp: time.Now().UTC(),
			Result:    res,
		}
		if err := writeJSON(filepath.Join(e.Options.LogsRoot, "final.json"), final); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// step runs one tick: agent updates in fixed pair order, flux aggregation,
// bus integration, commit evaluation, safety check, then timeout policy.
func (e *Engine) step(tick int) TickStats {
	for i := 0; i < len(e.Agents); i += 2 {
		k1, k2 := e.Agents[i], e.Agents[i+1]
		// Both sisters observe the pair's pre-tick snapshot, so update order
		// within a pair carries no information.
		s1, s2 := k1.Snapshot(), k2.Snapshot()
		k1.Update(s2, e.physics)
		k2.Update(s1, e.physics)
	}

	totalFlux := 0.0
	ready := 0
	tensioned := 0
	misattached := 0
	for _, k := range e.Agents {
		totalFlux += k.EmitSignal()
		if k.Ready() {
			ready++
		}
		if k.Tensioned() {
			tensioned++
		}
		if k.Misattached() {
			misattached++
			e.Monitor.LogMisattachment(tick, k.ID)
		}
	}

	e.Bus.Update(totalFlux)
	committed := e.Controller.Evaluate(e.Bus.Concentration)
	if committed && e.commitTick < 0 {
		e.commitTick = tick
	}

	// The monitor sees ground-truth readiness; a faulty sensor can lie to the
	// controller but not to the verifier.
	allReady := tensioned == len(e.Agents)
	e.Monitor.Check(tick, allReady, committed, misattached)

	// Timeout policy. The arrest check precedes the apoptosis check so a
	// coincident threshold records the arrest first.
	if tick >= e.maxMitosisTime && !committed && e.arrestTick < 0 {
		e.arrestTick = tick
		e.outcome = OutcomeMitoticArrest
	}
	if tick >= e.apoptosisThreshold {
		e.outcome = OutcomeApoptosis
	} else if committed {
		e.outcome = OutcomeAnaphaseCompleted
	}

	return TickStats{
		Tick:             tick,
		MCCConcentration: e.Bus.Concentration,
		ReadyCount:       ready,
		TotalAgents:      len(e.Agents),
		MisattachedCount: misattached,
		Arrested:         e.arrestTick >= 0,
		Committed:        committed,
	}
}

// Outcome returns the current outcome state.
func (e *Engine) Outcome() Outcome {
	return e.outcome
}

func configDigest(cfg *Config) string {
	b, err := json.Marshal(cfg)
	if err != nil {
		return ""
	}
	sum := blake3.Sum256(b)
	return fmt.Sprintf("%x", sum)
}

type finalDoc struct {
	Timestamp time.Time `json:"timestamp"`
	*Result
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}
