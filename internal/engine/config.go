package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/strandbio/spindle/internal/sac"
)

// PopulationConfig sizes the simulated cell: chromosomes * kinetochores per
// chromosome agents, created in sister pairs.
type PopulationConfig struct {
	Chromosomes               int  `json:"chromosomes" yaml:"chromosomes"`
	KinetochoresPerChromosome *int `json:"kinetochores_per_chromosome,omitempty" yaml:"kinetochores_per_chromosome,omitempty"`
}

type PhysicsConfig struct {
	TensionThreshold          *float64 `json:"tension_threshold,omitempty" yaml:"tension_threshold,omitempty"`
	NoiseLevel                *float64 `json:"noise_level,omitempty" yaml:"noise_level,omitempty"`
	AttachProbability         *float64 `json:"attach_probability,omitempty" yaml:"attach_probability,omitempty"`
	DetachProbability         *float64 `json:"detach_probability,omitempty" yaml:"detach_probability,omitempty"`
	MisattachProbability      *float64 `json:"misattach_probability,omitempty" yaml:"misattach_probability,omitempty"`
	MisattachDetachMultiplier *float64 `json:"misattach_detach_multiplier,omitempty" yaml:"misattach_detach_multiplier,omitempty"`
	TensionStabilityWindow    *int     `json:"tension_stability_window,omitempty" yaml:"tension_stability_window,omitempty"`
	WAPLRelaxedThreshold      *float64 `json:"wapl_relaxed_threshold,omitempty" yaml:"wapl_relaxed_threshold,omitempty"`
	WAPLUnloadProbability     *float64 `json:"wapl_unload_probability,omitempty" yaml:"wapl_unload_probability,omitempty"`
	CTCFInstability           *float64 `json:"ctcf_instability,omitempty" yaml:"ctcf_instability,omitempty"`
	HyperstabilizationFactor  *float64 `json:"hyperstabilization_factor,omitempty" yaml:"hyperstabilization_factor,omitempty"`
	MerotelicDriftMultiplier  *float64 `json:"merotelic_drift_multiplier,omitempty" yaml:"merotelic_drift_multiplier,omitempty"`
}

type BusConfig struct {
	MCCInitialConcentration *float64 `json:"mcc_initial_concentration,omitempty" yaml:"mcc_initial_concentration,omitempty"`
	MCCProductionRate       *float64 `json:"mcc_production_rate,omitempty" yaml:"mcc_production_rate,omitempty"`
	MCCDegradationRate      *float64 `json:"mcc_degradation_rate,omitempty" yaml:"mcc_degradation_rate,omitempty"`
	APCActivationThreshold  *float64 `json:"apc_activation_threshold,omitempty" yaml:"apc_activation_threshold,omitempty"`
}

type LimitsConfig struct {
	MaxMitosisTime     *int `json:"max_mitosis_time,omitempty" yaml:"max_mitosis_time,omitempty"`
	ApoptosisThreshold *int `json:"apoptosis_threshold,omitempty" yaml:"apoptosis_threshold,omitempty"`
}

// VariantAssignment selects sister pairs for one variant, by explicit pair id
// or by glob pattern over pair labels ("chr<pair_id>", doublestar syntax, so
// "chr{1,7}" and "chr1*" both work).
type VariantAssignment struct {
	Pairs []int    `json:"pairs,omitempty" yaml:"pairs,omitempty"`
	Match []string `json:"match,omitempty" yaml:"match,omitempty"`
}

type VariantsConfig struct {
	FaultySensor              VariantAssignment `json:"faulty_sensor,omitempty" yaml:"faulty_sensor,omitempty"`
	UnstableBoundary          VariantAssignment `json:"unstable_boundary,omitempty" yaml:"unstable_boundary,omitempty"`
	Hyperstable               VariantAssignment `json:"hyperstable,omitempty" yaml:"hyperstable,omitempty"`
	ElevatedMisattachmentRisk VariantAssignment `json:"elevated_misattachment_risk,omitempty" yaml:"elevated_misattachment_risk,omitempty"`
}

type Config struct {
	Version    int              `json:"version" yaml:"version"`
	Population PopulationConfig `json:"population" yaml:"population"`
	Physics    PhysicsConfig    `json:"physics" yaml:"physics"`
	Bus        BusConfig        `json:"bus" yaml:"bus"`
	Limits     LimitsConfig     `json:"limits,omitempty" yaml:"limits,omitempty"`

	// TraceInterval is the console trace cadence in ticks.
	TraceInterval *int `json:"trace_interval,omitempty" yaml:"trace_interval,omitempty"`

	Variants VariantsConfig `json:"variants,omitempty" yaml:"variants,omitempty"`
}

// LoadConfig reads, schema-validates, strictly decodes, defaults, and
// validates a run configuration. YAML is the default; .json files are
// accepted too.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	isJSON := strings.ToLower(filepath.Ext(path)) == ".json"
	return ParseConfig(b, isJSON)
}

// ParseConfig decodes configuration bytes. Exposed separately so tests and
// embedded configs avoid the filesystem.
func ParseConfig(b []byte, isJSON bool) (*Config, error) {
	if err := validateAgainstSchema(b, isJSON); err != nil {
		return nil, err
	}
	var cfg Config
	if isJSON {
		if err := decodeJSONStrict(b, &cfg); err != nil {
			return nil, err
		}
	} else {
		if err := decodeYAMLStrict(b, &cfg); err != nil {
			return nil, err
		}
	}
	applyConfigDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeJSONStrict(b []byte, cfg *Config) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("json: multiple top-level values are not allowed")
		}
		return err
	}
	return nil
}

func decodeYAMLStrict(b []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("yaml: multiple documents are not allowed")
		}
		return err
	}
	return nil
}

func applyConfigDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	if cfg.Version == 0 {
		cfg.Version = 1
	}
	if cfg.Population.KinetochoresPerChromosome == nil {
		v := 2
		cfg.Population.KinetochoresPerChromosome = &v
	}
	// Every optional physics parameter has an explicit default so absence is
	// never ambiguous.
	defaultFloat(&cfg.Physics.MisattachProbability, 0.02)
	defaultFloat(&cfg.Physics.MisattachDetachMultiplier, 2.0)
	defaultInt(&cfg.Physics.TensionStabilityWindow, 3)
	defaultFloat(&cfg.Physics.WAPLRelaxedThreshold, 0.5)
	defaultFloat(&cfg.Physics.WAPLUnloadProbability, 0.005)
	defaultFloat(&cfg.Physics.CTCFInstability, 0.1)
	defaultFloat(&cfg.Physics.HyperstabilizationFactor, 0.1)
	defaultFloat(&cfg.Physics.MerotelicDriftMultiplier, 5.0)
	defaultFloat(&cfg.Bus.MCCInitialConcentration, 100.0)
	defaultInt(&cfg.Limits.MaxMitosisTime, 200)
	defaultInt(&cfg.Limits.ApoptosisThreshold, 250)
	defaultInt(&cfg.TraceInterval, 10)
}

func defaultFloat(p **float64, v float64) {
	if *p == nil {
		*p = &v
	}
}

func defaultInt(p **int, v int) {
	if *p == nil {
		*p = &v
	}
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Version != 1 {
		return fmt.Errorf("unsupported config version: %d", cfg.Version)
	}
	if cfg.Population.Chromosomes <= 0 {
		return fmt.Errorf("population.chromosomes must be > 0")
	}
	if *cfg.Population.KinetochoresPerChromosome != 2 {
		return fmt.Errorf("population.kinetochores_per_chromosome must be 2 (sister kinetochores are paired)")
	}
	if cfg.Physics.TensionThreshold == nil {
		return fmt.Errorf("physics.tension_threshold is required")
	}
	if cfg.Physics.NoiseLevel == nil {
		return fmt.Errorf("physics.noise_level is required")
	}
	if *cfg.Physics.NoiseLevel < 0 {
		return fmt.Errorf("physics.noise_level must be >= 0")
	}
	if err := requireProbability("physics.attach_probability", cfg.Physics.AttachProbability); err != nil {
		return err
	}
	if err := requireProbability("physics.detach_probability", cfg.Physics.DetachProbability); err != nil {
		return err
	}
	if err := probabilityRange("physics.misattach_probability", *cfg.Physics.MisattachProbability); err != nil {
		return err
	}
	if err := probabilityRange("physics.wapl_unload_probability", *cfg.Physics.WAPLUnloadProbability); err != nil {
		return err
	}
	if err := probabilityRange("physics.ctcf_instability", *cfg.Physics.CTCFInstability); err != nil {
		return err
	}
	if *cfg.Physics.MisattachDetachMultiplier < 0 {
		return fmt.Errorf("physics.misattach_detach_multiplier must be >= 0")
	}
	if *cfg.Physics.TensionStabilityWindow < 1 {
		return fmt.Errorf("physics.tension_stability_window must be >= 1")
	}
	if *cfg.Physics.WAPLRelaxedThreshold <= 0 {
		return fmt.Errorf("physics.wapl_relaxed_threshold must be > 0")
	}
	if *cfg.Physics.HyperstabilizationFactor < 0 {
		return fmt.Errorf("physics.hyperstabilization_factor must be >= 0")
	}
	if *cfg.Physics.MerotelicDriftMultiplier < 0 {
		return fmt.Errorf("physics.merotelic_drift_multiplier must be >= 0")
	}
	if *cfg.Bus.MCCInitialConcentration < 0 {
		return fmt.Errorf("bus.mcc_initial_concentration must be >= 0")
	}
	if cfg.Bus.MCCProductionRate == nil || *cfg.Bus.MCCProductionRate <= 0 {
		return fmt.Errorf("bus.mcc_production_rate is required and must be > 0")
	}
	if cfg.Bus.MCCDegradationRate == nil || *cfg.Bus.MCCDegradationRate <= 0 || *cfg.Bus.MCCDegradationRate > 1 {
		return fmt.Errorf("bus.mcc_degradation_rate is required and must be in (0, 1]")
	}
	if cfg.Bus.APCActivationThreshold == nil || *cfg.Bus.APCActivationThreshold < 0 {
		return fmt.Errorf("bus.apc_activation_threshold is required and must be >= 0")
	}
	if *cfg.Limits.MaxMitosisTime < 0 {
		return fmt.Errorf("limits.max_mitosis_time must be >= 0")
	}
	if *cfg.Limits.ApoptosisThreshold < 0 {
		return fmt.Errorf("limits.apoptosis_threshold must be >= 0")
	}
	if *cfg.TraceInterval < 1 {
		return fmt.Errorf("trace_interval must be >= 1")
	}
	for _, va := range []struct {
		name string
		a    VariantAssignment
	}{
		{"variants.faulty_sensor", cfg.Variants.FaultySensor},
		{"variants.unstable_boundary", cfg.Variants.UnstableBoundary},
		{"variants.hyperstable", cfg.Variants.Hyperstable},
		{"variants.elevated_misattachment_risk", cfg.Variants.ElevatedMisattachmentRisk},
	} {
		for _, pair := range va.a.Pairs {
			if pair < 0 || pair >= cfg.Population.Chromosomes {
				return fmt.Errorf("%s.pairs: pair id %d out of range [0, %d)", va.name, pair, cfg.Population.Chromosomes)
			}
		}
		for _, pattern := range va.a.Match {
			if !doublestar.ValidatePattern(pattern) {
				return fmt.Errorf("%s.match: invalid pattern %q", va.name, pattern)
			}
		}
	}
	if _, err := cfg.VariantByPair(); err != nil {
		return err
	}
	return nil
}

func requireProbability(key string, p *float64) error {
	if p == nil {
		return fmt.Errorf("%s is required", key)
	}
	return probabilityRange(key, *p)
}

func probabilityRange(key string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s must be in [0, 1], got %v", key, v)
	}
	return nil
}

// TotalAgents returns the population size (always even; agents are paired).
func (c *Config) TotalAgents() int {
	return c.Population.Chromosomes * *c.Population.KinetochoresPerChromosome
}

// Pairs returns the number of sister pairs.
func (c *Config) Pairs() int {
	return c.Population.Chromosomes
}

// PairLabel is the name a pair's variant patterns are matched against.
func PairLabel(pair int) string {
	return fmt.Sprintf("chr%d", pair)
}

// SACPhysics flattens the defaulted physics block into the value type the
// agents consume. Call only on a validated config.
func (c *Config) SACPhysics() sac.Physics {
	return sac.Physics{
		TensionThreshold:          *c.Physics.TensionThreshold,
		NoiseSigma:                *c.Physics.NoiseLevel,
		AttachProbability:         *c.Physics.AttachProbability,
		DetachProbability:         *c.Physics.DetachProbability,
		MisattachProbability:      *c.Physics.MisattachProbability,
		MisattachDetachMultiplier: *c.Physics.MisattachDetachMultiplier,
		TensionStabilityWindow:    *c.Physics.TensionStabilityWindow,
		WAPLRelaxedThreshold:      *c.Physics.WAPLRelaxedThreshold,
		WAPLUnloadProbability:     *c.Physics.WAPLUnloadProbability,
		CTCFInstability:           *c.Physics.CTCFInstability,
		HyperstabilizationFactor:  *c.Physics.HyperstabilizationFactor,
		MerotelicDriftMultiplier:  *c.Physics.MerotelicDriftMultiplier,
	}
}

// VariantByPair resolves the variant assignment for every pair. A pair
// selected by more than one variant is a configuration error.
func (c *Config) VariantByPair() (map[int]sac.Variant, error) {
	out := map[int]sac.Variant{}
	assign := func(variant sac.Variant, name string, a VariantAssignment) error {
		selected := map[int]bool{}
		for _, pair := range a.Pairs {
			selected[pair] = true
		}
		for pair := 0; pair < c.Pairs(); pair++ {
			if selected[pair] {
				continue
			}
			label := PairLabel(pair)
			for _, pattern := range a.Match {
				ok, err := doublestar.Match(pattern, label)
				if err != nil {
					return fmt.Errorf("%s.match: invalid pattern %q", name, pattern)
				}
				if ok {
					selected[pair] = true
					break
				}
			}
		}
		for pair := range selected {
			if prev, dup := out[pair]; dup {
				return fmt.Errorf("pair %d assigned to both %s and %s", pair, prev, variant)
			}
			out[pair] = variant
		}
		return nil
	}
	if err := assign(sac.VariantFaultySensor, "variants.faulty_sensor", c.Variants.FaultySensor); err != nil {
		return nil, err
	}
	if err := assign(sac.VariantUnstableBoundary, "variants.unstable_boundary", c.Variants.UnstableBoundary); err != nil {
		return nil, err
	}
	if err := assign(sac.VariantHyperstable, "variants.hyperstable", c.Variants.Hyperstable); err != nil {
		return nil, err
	}
	if err := assign(sac.VariantElevatedMisattachmentRisk, "variants.elevated_misattachment_risk", c.Variants.ElevatedMisattachmentRisk); err != nil {
		return nil, err
	}
	return out, nil
}

const configSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "required": ["population", "physics", "bus"],
  "properties": {
    "version": {"type": "integer"},
    "population": {
      "type": "object",
      "additionalProperties": false,
      "required": ["chromosomes"],
      "properties": {
        "chromosomes": {"type": "integer", "minimum": 1},
        "kinetochores_per_chromosome": {"type": "integer"}
      }
    },
    "physics": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "tension_threshold": {"type": "number"},
        "noise_level": {"type": "number", "minimum": 0},
        "attach_probability": {"type": "number", "minimum": 0, "maximum": 1},
        "detach_probability": {"type": "number", "minimum": 0, "maximum": 1},
        "misattach_probability": {"type": "number", "minimum": 0, "maximum": 1},
        "misattach_detach_multiplier": {"type": "number", "minimum": 0},
        "tension_stability_window": {"type": "integer", "minimum": 1},
        "wapl_relaxed_threshold": {"type": "number"},
        "wapl_unload_probability": {"type": "number", "minimum": 0, "maximum": 1},
        "ctcf_instability": {"type": "number", "minimum": 0, "maximum": 1},
        "hyperstabilization_factor": {"type": "number", "minimum": 0},
        "merotelic_drift_multiplier": {"type": "number", "minimum": 0}
      }
    },
    "bus": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "mcc_initial_concentration": {"type": "number", "minimum": 0},
        "mcc_production_rate": {"type": "number"},
        "mcc_degradation_rate": {"type": "number"},
        "apc_activation_threshold": {"type": "number", "minimum": 0}
      }
    },
    "limits": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "max_mitosis_time": {"type": "integer", "minimum": 0},
        "apoptosis_threshold": {"type": "integer", "minimum": 0}
      }
    },
    "trace_interval": {"type": "integer", "minimum": 1},
    "variants": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "faulty_sensor": {"$ref": "#/$defs/assignment"},
        "unstable_boundary": {"$ref": "#/$defs/assignment"},
        "hyperstable": {"$ref": "#/$defs/assignment"},
        "elevated_misattachment_risk": {"$ref": "#/$defs/assignment"}
      }
    }
  },
  "$defs": {
    "assignment": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "pairs": {"type": "array", "items": {"type": "integer", "minimum": 0}},
        "match": {"type": "array", "items": {"type": "string", "minLength": 1}}
      }
    }
  }
}`

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("config.schema.json", strings.NewReader(configSchema)); err != nil {
		return nil, err
	}
	return c.Compile("config.schema.json")
})

// validateAgainstSchema checks the raw document shape before strict decoding,
// so structural mistakes report schema paths instead of decoder errors.
func validateAgainstSchema(b []byte, isJSON bool) error {
	schema, err := compiledSchema()
	if err != nil {
		return err
	}
	var doc any
	if isJSON {
		if err := json.Unmarshal(b, &doc); err != nil {
			return err
		}
	} else {
		var raw any
		if err := yaml.Unmarshal(b, &raw); err != nil {
			return err
		}
		// Round-trip through JSON so the validator sees the value kinds it
		// expects (json.Number-free, string-keyed maps).
		jb, err := json.Marshal(raw)
		if err != nil {
			return fmt.Errorf("config is not JSON-representable: %w", err)
		}
		if err := json.Unmarshal(jb, &doc); err != nil {
			return err
		}
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}
	return nil
}
