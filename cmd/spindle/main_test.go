package main

import (
	"strings"
	"testing"

	"github.com/strandbio/spindle/internal/engine"
	"github.com/strandbio/spindle/internal/sac"
)

func TestParseRunArgs(t *testing.T) {
	cases := []struct {
		name    string
		args    []string
		want    runArgs
		wantErr string
	}{
		{
			"full set",
			[]string{"--config", "sim.yaml", "--seed", "42", "--run-id", "r1", "--logs-root", "logs", "--quiet", "--json"},
			runArgs{configPath: "sim.yaml", seed: 42, runID: "r1", logsRoot: "logs", quiet: true, jsonOut: true},
			"",
		},
		{
			"config only",
			[]string{"--config", "sim.yaml"},
			runArgs{configPath: "sim.yaml"},
			"",
		},
		{
			"missing config",
			[]string{"--seed", "1"},
			runArgs{},
			"--config is required",
		},
		{
			"config without value",
			[]string{"--config"},
			runArgs{},
			"--config requires a value",
		},
		{
			"bad seed",
			[]string{"--config", "sim.yaml", "--seed", "banana"},
			runArgs{},
			"invalid --seed",
		},
		{
			"negative seed",
			[]string{"--config", "sim.yaml", "--seed", "-1"},
			runArgs{},
			"invalid --seed",
		},
		{
			"unknown flag",
			[]string{"--config", "sim.yaml", "--fast"},
			runArgs{},
			"unknown arg: --fast",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseRunArgs(tc.args)
			if tc.wantErr != "" {
				if err == nil {
					t.Fatalf("parseRunArgs(%v)=nil error, want %q", tc.args, tc.wantErr)
				}
				if !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("error %q does not contain %q", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseRunArgs(%v): %v", tc.args, err)
			}
			if got != tc.want {
				t.Fatalf("parseRunArgs(%v)=%+v want %+v", tc.args, got, tc.want)
			}
		})
	}
}

func TestExitCode(t *testing.T) {
	cases := []struct {
		name string
		res  engine.Result
		want int
	}{
		{
			"clean anaphase",
			engine.Result{Outcome: engine.OutcomeAnaphaseCompleted, Safety: sac.Report{Passed: true}},
			0,
		},
		{
			"anaphase with violations",
			engine.Result{Outcome: engine.OutcomeAnaphaseCompleted, Safety: sac.Report{Passed: false}},
			2,
		},
		{
			"apoptosis",
			engine.Result{Outcome: engine.OutcomeApoptosis, Safety: sac.Report{Passed: true}},
			2,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := exitCode(&tc.res); got != tc.want {
				t.Fatalf("exitCode=%d want %d", got, tc.want)
			}
		})
	}
}
