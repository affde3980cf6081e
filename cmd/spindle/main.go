package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/strandbio/spindle/internal/engine"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		os.Exit(runCmd(os.Args[2:]))
	case "validate":
		os.Exit(validateCmd(os.Args[2:]))
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  spindle run --config <sim.yaml> [--seed <n>] [--run-id <id>] [--logs-root <dir>] [--quiet] [--json]")
	fmt.Fprintln(os.Stderr, "  spindle validate --config <sim.yaml>")
}

type runArgs struct {
	configPath string
	seed       uint64
	runID      string
	logsRoot   string
	quiet      bool
	jsonOut    bool
}

func parseRunArgs(args []string) (runArgs, error) {
	var ra runArgs
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			i++
			if i >= len(args) {
				return ra, fmt.Errorf("--config requires a value")
			}
			ra.configPath = args[i]
		case "--seed":
			i++
			if i >= len(args) {
				return ra, fmt.Errorf("--seed requires a value")
			}
			v, err := strconv.ParseUint(args[i], 10, 64)
			if err != nil {
				return ra, fmt.Errorf("invalid --seed %q: %w", args[i], err)
			}
			ra.seed = v
		case "--run-id":
			i++
			if i >= len(args) {
				return ra, fmt.Errorf("--run-id requires a value")
			}
			ra.runID = args[i]
		case "--logs-root":
			i++
			if i >= len(args) {
				return ra, fmt.Errorf("--logs-root requires a value")
			}
			ra.logsRoot = args[i]
		case "--quiet":
			ra.quiet = true
		case "--json":
			ra.jsonOut = true
		default:
			return ra, fmt.Errorf("unknown arg: %s", args[i])
		}
	}
	if ra.configPath == "" {
		return ra, fmt.Errorf("--config is required")
	}
	return ra, nil
}

func runCmd(args []string) int {
	ra, err := parseRunArgs(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		usage()
		return 1
	}

	cfg, err := engine.LoadConfig(ra.configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	interval := *cfg.TraceInterval
	opts := engine.RunOptions{
		Config:   cfg,
		Seed:     ra.seed,
		RunID:    ra.runID,
		LogsRoot: ra.logsRoot,
	}
	if !ra.quiet {
		opts.Progress = func(s engine.TickStats) {
			printTick(s, interval)
		}
	}

	eng, err := engine.New(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if !ra.quiet {
		fmt.Printf("--- spindle checkpoint simulation: run %s seed %d ---\n", eng.Options.RunID, eng.Options.Seed)
		fmt.Printf("agents: %d, apc threshold: %v\n", len(eng.Agents), eng.Controller.Threshold)
	}

	res, err := eng.Run(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if ra.jsonOut {
		b, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Println(string(b))
	} else {
		printReport(res)
	}
	return exitCode(res)
}

func validateCmd(args []string) int {
	var configPath string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--config requires a value")
				return 1
			}
			configPath = args[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			return 1
		}
	}
	if configPath == "" {
		usage()
		return 1
	}
	if _, err := engine.LoadConfig(configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Println("config ok")
	return 0
}

// printTick mirrors the engine's telemetry to the console on interval ticks
// and on any tick where something happened.
func printTick(s engine.TickStats, interval int) {
	event := s.Committed || s.MisattachedCount > 0 || s.Arrested
	if s.Tick%interval != 0 && !event {
		return
	}
	line := fmt.Sprintf("T=%03d | MCC: %.2f | Ready: %d/%d", s.Tick, s.MCCConcentration, s.ReadyCount, s.TotalAgents)
	if s.MisattachedCount > 0 {
		line += fmt.Sprintf(" | Misattached: %d", s.MisattachedCount)
	}
	if s.Arrested {
		line += " | ARRESTED"
	}
	line += fmt.Sprintf(" | Anaphase: %v", s.Committed)
	fmt.Println(line)
}

func printReport(res *engine.Result) {
	fmt.Println()
	if res.Safety.Passed {
		fmt.Println("[verifier] safety check passed")
	} else {
		fmt.Printf("[verifier] safety violations found (%d):\n", len(res.Safety.Violations))
		for _, v := range res.Safety.Violations {
			fmt.Printf("  tick %d: %s\n", v.Tick, v.Message)
		}
	}
	if res.Safety.MisattachmentEvents > 0 {
		fmt.Printf("[misattachment] events: %d, affected agents: %d\n", res.Safety.MisattachmentEvents, res.Safety.AffectedAgents)
	}

	switch res.Outcome {
	case engine.OutcomeAnaphaseCompleted:
		fmt.Printf("\n[final] anaphase completed at tick %d\n", res.CommitTick)
	case engine.OutcomeApoptosis:
		fmt.Printf("\n[final] apoptosis: mitosis exceeded its safe duration (tick %d)\n", res.Ticks-1)
	case engine.OutcomeMitoticArrest:
		fmt.Printf("\n[final] mitotic arrest at tick %d: checkpoint still holding\n", res.ArrestTick)
	default:
		fmt.Printf("\n[final] still running after %d ticks\n", res.Ticks)
	}
}

// exitCode maps a run result to the process exit status: 0 for a clean
// anaphase, 2 when the monitor recorded violations or the cell died.
func exitCode(res *engine.Result) int {
	if !res.Safety.Passed || res.Outcome == engine.OutcomeApoptosis {
		return 2
	}
	return 0
}
