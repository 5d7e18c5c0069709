// Package tuning loads scoring weights, bands, and signature lists from an
// optional YAML file and hot-reloads them when the file changes.
//
// A reload only affects submissions that start after it; in-flight journeys
// keep the configuration they were assessed with.
package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mbd888/mevguard/internal/protection"
	"github.com/mbd888/mevguard/internal/threat"
)

// File is the on-disk schema. Omitted fields keep their defaults.
type File struct {
	Weights              *threat.Weights `yaml:"weights"`
	Bands                *threat.Bands   `yaml:"bands"`
	GasRatioCap          float64         `yaml:"gas_ratio_cap"`
	ValueThreshold       float64         `yaml:"value_threshold"`
	SameTargetSaturation int             `yaml:"same_target_saturation"`
	SandwichValueFloor   *float64        `yaml:"sandwich_value_floor"`
	Signatures           Signatures      `yaml:"signatures"`
	PopularRouters       []string        `yaml:"popular_routers"`
	Delay                Delay           `yaml:"delay"`
}

// Signatures lists selectors as 0x-hex or canonical function signatures.
// A non-empty list replaces the built-in list.
type Signatures struct {
	Swap      []string `yaml:"swap"`
	Arbitrage []string `yaml:"arbitrage"`
	Flashloan []string `yaml:"flashloan"`
}

// Delay configures the congestion-triggered delay measure.
type Delay struct {
	CongestionAbove float64 `yaml:"congestion_above"`
	Blocks          uint64  `yaml:"blocks"`
}

// Tuning is a resolved, validated configuration.
type Tuning struct {
	Threat      threat.Config
	Selector    protection.Selector
	DelayBlocks uint64
}

// Default returns the built-in tuning.
func Default() *Tuning {
	return &Tuning{
		Threat:      threat.DefaultConfig(),
		Selector:    *protection.NewSelector(),
		DelayBlocks: protection.DefaultDelayBlocks,
	}
}

// Parse decodes YAML and resolves it over the defaults.
func Parse(data []byte) (*Tuning, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse tuning: %w", err)
	}
	return f.Resolve()
}

// ParseFile reads and parses path.
func ParseFile(path string) (*Tuning, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("read tuning %s: %w", path, err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Resolve overlays f on the defaults and validates the result.
func (f File) Resolve() (*Tuning, error) {
	t := Default()
	cfg := &t.Threat

	if f.Weights != nil {
		cfg.Weights = *f.Weights
	}
	if f.Bands != nil {
		cfg.Bands = *f.Bands
	}
	if f.GasRatioCap != 0 {
		cfg.GasRatioCap = f.GasRatioCap
	}
	if f.ValueThreshold != 0 {
		cfg.ValueThreshold = f.ValueThreshold
	}
	if f.SameTargetSaturation != 0 {
		cfg.SameTargetSaturation = f.SameTargetSaturation
	}
	if f.SandwichValueFloor != nil {
		cfg.SandwichValueFloor = *f.SandwichValueFloor
	}
	if len(f.PopularRouters) > 0 {
		cfg.PopularRouters = append([]string(nil), f.PopularRouters...)
	}

	var err error
	if len(f.Signatures.Swap) > 0 {
		if cfg.SwapSelectors, err = threat.NewSelectorSet(f.Signatures.Swap...); err != nil {
			return nil, fmt.Errorf("swap signatures: %w", err)
		}
	}
	if len(f.Signatures.Arbitrage) > 0 {
		if cfg.ArbitrageSelectors, err = threat.NewSelectorSet(f.Signatures.Arbitrage...); err != nil {
			return nil, fmt.Errorf("arbitrage signatures: %w", err)
		}
	}
	if len(f.Signatures.Flashloan) > 0 {
		if t.Selector.FlashloanSelectors, err = threat.NewSelectorSet(f.Signatures.Flashloan...); err != nil {
			return nil, fmt.Errorf("flashloan signatures: %w", err)
		}
	}

	if f.Delay.CongestionAbove < 0 || f.Delay.CongestionAbove > 1 {
		return nil, fmt.Errorf("delay.congestion_above must be within [0,1], got %v", f.Delay.CongestionAbove)
	}
	t.Selector.DelayCongestionAbove = f.Delay.CongestionAbove
	if f.Delay.Blocks != 0 {
		t.DelayBlocks = f.Delay.Blocks
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}
