package engine

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/strandbio/spindle/internal/sac"
)

const minimalYAML = `
version: 1
population:
  chromosomes: 4
physics:
  tension_threshold: 0.8
  noise_level: 0.1
  attach_probability: 0.1
  detach_probability: 0.01
bus:
  mcc_production_rate: 1.0
  mcc_degradation_rate: 0.1
  apc_activation_threshold: 10.0
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig_AppliesDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "sim.yaml", minimalYAML))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if got := *cfg.Physics.MisattachProbability; got != 0.02 {
		t.Fatalf("misattach_probability default=%v want 0.02", got)
	}
	if got := *cfg.Physics.MisattachDetachMultiplier; got != 2.0 {
		t.Fatalf("misattach_detach_multiplier default=%v want 2.0", got)
	}
	if got := *cfg.Physics.TensionStabilityWindow; got != 3 {
		t.Fatalf("tension_stability_window default=%d want 3", got)
	}
	if got := *cfg.Physics.WAPLRelaxedThreshold; got != 0.5 {
		t.Fatalf("wapl_relaxed_threshold default=%v want 0.5", got)
	}
	if got := *cfg.Physics.WAPLUnloadProbability; got != 0.005 {
		t.Fatalf("wapl_unload_probability default=%v want 0.005", got)
	}
	if got := *cfg.Physics.CTCFInstability; got != 0.1 {
		t.Fatalf("ctcf_instability default=%v want 0.1", got)
	}
	if got := *cfg.Physics.HyperstabilizationFactor; got != 0.1 {
		t.Fatalf("hyperstabilization_factor default=%v want 0.1", got)
	}
	if got := *cfg.Physics.MerotelicDriftMultiplier; got != 5.0 {
		t.Fatalf("merotelic_drift_multiplier default=%v want 5.0", got)
	}
	if got := *cfg.Bus.MCCInitialConcentration; got != 100.0 {
		t.Fatalf("mcc_initial_concentration default=%v want 100.0", got)
	}
	if got := *cfg.Limits.MaxMitosisTime; got != 200 {
		t.Fatalf("max_mitosis_time default=%d want 200", got)
	}
	if got := *cfg.Limits.ApoptosisThreshold; got != 250 {
		t.Fatalf("apoptosis_threshold default=%d want 250", got)
	}
	if got := *cfg.TraceInterval; got != 10 {
		t.Fatalf("trace_interval default=%d want 10", got)
	}
	if got := cfg.TotalAgents(); got != 8 {
		t.Fatalf("TotalAgents=%d want 8", got)
	}
}

func TestLoadConfig_JSON(t *testing.T) {
	body := `{
  "version": 1,
  "population": {"chromosomes": 2},
  "physics": {
    "tension_threshold": 0.8,
    "noise_level": 0,
    "attach_probability": 1,
    "detach_probability": 0
  },
  "bus": {
    "mcc_production_rate": 1,
    "mcc_degradation_rate": 0.5,
    "apc_activation_threshold": 5
  }
}`
	cfg, err := LoadConfig(writeConfig(t, "sim.json", body))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Pairs() != 2 {
		t.Fatalf("Pairs=%d want 2", cfg.Pairs())
	}
}

func TestLoadConfig_RejectsUnknownKeys(t *testing.T) {
	body := minimalYAML + "\nmitosis_speed: fast\n"
	if _, err := LoadConfig(writeConfig(t, "sim.yaml", body)); err == nil {
		t.Fatalf("expected error for unknown top-level key")
	}
}

func TestLoadConfig_SchemaRejectsWrongTypes(t *testing.T) {
	body := strings.Replace(minimalYAML, "tension_threshold: 0.8", `tension_threshold: "high"`, 1)
	_, err := LoadConfig(writeConfig(t, "sim.yaml", body))
	if err == nil {
		t.Fatalf("expected schema error for string tension_threshold")
	}
	if !strings.Contains(err.Error(), "schema") {
		t.Fatalf("error %q should come from schema validation", err)
	}
}

func TestLoadConfig_ValidationErrorsNameTheKey(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(string) string
		wantKey string
	}{
		{
			"missing tension_threshold",
			func(s string) string { return strings.Replace(s, "  tension_threshold: 0.8\n", "", 1) },
			"physics.tension_threshold",
		},
		{
			"missing attach_probability",
			func(s string) string { return strings.Replace(s, "  attach_probability: 0.1\n", "", 1) },
			"physics.attach_probability",
		},
		{
			"missing production rate",
			func(s string) string { return strings.Replace(s, "  mcc_production_rate: 1.0\n", "", 1) },
			"bus.mcc_production_rate",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, "sim.yaml", tc.mutate(minimalYAML)))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantKey) {
				t.Fatalf("error %q should name %s", err, tc.wantKey)
			}
		})
	}
}

func TestLoadConfig_RejectsOutOfRangeProbability(t *testing.T) {
	body := strings.Replace(minimalYAML, "attach_probability: 0.1", "attach_probability: 1.5", 1)
	if _, err := LoadConfig(writeConfig(t, "sim.yaml", body)); err == nil {
		t.Fatalf("expected error for probability > 1")
	}
}

func TestLoadConfig_RejectsUnpairedKinetochores(t *testing.T) {
	body := strings.Replace(minimalYAML, "chromosomes: 4", "chromosomes: 4\n  kinetochores_per_chromosome: 3", 1)
	_, err := LoadConfig(writeConfig(t, "sim.yaml", body))
	if err == nil {
		t.Fatalf("expected error for kinetochores_per_chromosome != 2")
	}
	if !strings.Contains(err.Error(), "kinetochores_per_chromosome") {
		t.Fatalf("error %q should name the key", err)
	}
}

func TestVariantByPair_PairsAndPatterns(t *testing.T) {
	body := minimalYAML + `
variants:
  faulty_sensor:
    pairs: [0]
  hyperstable:
    match: ["chr{1,3}"]
`
	cfg, err := LoadConfig(writeConfig(t, "sim.yaml", body))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	byPair, err := cfg.VariantByPair()
	if err != nil {
		t.Fatalf("VariantByPair: %v", err)
	}
	want := map[int]sac.Variant{
		0: sac.VariantFaultySensor,
		1: sac.VariantHyperstable,
		3: sac.VariantHyperstable,
	}
	if len(byPair) != len(want) {
		t.Fatalf("assignments=%v want %v", byPair, want)
	}
	for pair, variant := range want {
		if byPair[pair] != variant {
			t.Fatalf("pair %d => %q want %q", pair, byPair[pair], variant)
		}
	}
	if _, assigned := byPair[2]; assigned {
		t.Fatalf("pair 2 should stay unassigned")
	}
}

func TestVariantByPair_WildcardPattern(t *testing.T) {
	body := minimalYAML + `
variants:
  unstable_boundary:
    match: ["chr*"]
`
	cfg, err := LoadConfig(writeConfig(t, "sim.yaml", body))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	byPair, err := cfg.VariantByPair()
	if err != nil {
		t.Fatalf("VariantByPair: %v", err)
	}
	if len(byPair) != cfg.Pairs() {
		t.Fatalf("wildcard matched %d pairs, want %d", len(byPair), cfg.Pairs())
	}
}

func TestLoadConfig_RejectsDoubleAssignment(t *testing.T) {
	body := minimalYAML + `
variants:
  faulty_sensor:
    pairs: [1]
  hyperstable:
    match: ["chr1"]
`
	_, err := LoadConfig(writeConfig(t, "sim.yaml", body))
	if err == nil {
		t.Fatalf("expected error for pair assigned to two variants")
	}
	if !strings.Contains(err.Error(), "pair 1") {
		t.Fatalf("error %q should name the pair", err)
	}
}

func TestLoadConfig_RejectsPairOutOfRange(t *testing.T) {
	body := minimalYAML + `
variants:
  faulty_sensor:
    pairs: [9]
`
	if _, err := LoadConfig(writeConfig(t, "sim.yaml", body)); err == nil {
		t.Fatalf("expected error for out-of-range pair id")
	}
}
