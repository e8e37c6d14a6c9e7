package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// fileParams is the on-disk shape of a parameter file: identical to
// ProtocolParams except durations are Go duration strings.
type fileParams struct {
	Version               uint32 `yaml:"version"`
	Authority             string `yaml:"authority"`
	FeeBps                uint32 `yaml:"fee_bps"`
	SlashingPenaltyBps    uint32 `yaml:"slashing_penalty_bps"`
	CompensationBps       uint32 `yaml:"compensation_bps"`
	ShortfallThresholdBps uint32 `yaml:"shortfall_threshold_bps"`
	MaxBatchSize          uint32 `yaml:"max_batch_size"`
	MaxSellersPerTimeslot uint32 `yaml:"max_sellers_per_timeslot"`
	DeliveryWindow        string `yaml:"delivery_window"`
	AutoAppealWindow      string `yaml:"auto_appeal_window"`
	ManualAppealWindow    string `yaml:"manual_appeal_window"`
	Paused                bool   `yaml:"paused"`
}

// Load reads a YAML parameter file, validates it against the embedded CUE
// schema, and returns the parsed parameters.
func Load(path string) (ProtocolParams, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ProtocolParams{}, fmt.Errorf("read params file: %w", err)
	}
	return Parse(data)
}

// Parse validates and decodes a YAML parameter document.
func Parse(data []byte) (ProtocolParams, error) {
	// Decode loosely first so the CUE schema sees the document as written.
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return ProtocolParams{}, fmt.Errorf("parse params: %w", err)
	}

	if err := validateSchema(doc); err != nil {
		return ProtocolParams{}, err
	}

	var fp fileParams
	if err := yaml.Unmarshal(data, &fp); err != nil {
		return ProtocolParams{}, fmt.Errorf("parse params: %w", err)
	}

	var err error
	p := ProtocolParams{
		Version:               fp.Version,
		Authority:             fp.Authority,
		FeeBps:                fp.FeeBps,
		SlashingPenaltyBps:    fp.SlashingPenaltyBps,
		CompensationBps:       fp.CompensationBps,
		ShortfallThresholdBps: fp.ShortfallThresholdBps,
		MaxBatchSize:          fp.MaxBatchSize,
		MaxSellersPerTimeslot: fp.MaxSellersPerTimeslot,
		Paused:                fp.Paused,
	}

	if p.DeliveryWindow, err = parseDuration("delivery_window", fp.DeliveryWindow); err != nil {
		return ProtocolParams{}, err
	}
	if p.AutoAppealWindow, err = parseDuration("auto_appeal_window", fp.AutoAppealWindow); err != nil {
		return ProtocolParams{}, err
	}
	if p.ManualAppealWindow, err = parseDuration("manual_appeal_window", fp.ManualAppealWindow); err != nil {
		return ProtocolParams{}, err
	}

	if err := p.Validate(); err != nil {
		return ProtocolParams{}, fmt.Errorf("invalid params: %w", err)
	}
	return p, nil
}

// validateSchema unifies the decoded document with #Params and reports the
// first constraint violation.
func validateSchema(doc map[string]any) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile params schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Params"))
	if err := def.Err(); err != nil {
		return fmt.Errorf("lookup params schema: %w", err)
	}

	unified := def.Unify(ctx.Encode(doc))
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("params schema violation: %w", err)
	}
	return nil
}

func parseDuration(field, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, s, err)
	}
	return d, nil
}
