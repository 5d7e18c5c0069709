// Package threat scores pending transactions for exposure to value-extraction
// bots and classifies them into security levels.
//
// Four weighted factors feed the vulnerability score: gas premium over the
// pool average, known swap or arbitrage selectors in the payload, value
// relative to a threshold, and recent same-target arbitrage activity. Scores
// range from 0.0 (unattractive to bots) to 1.0 (prime target). The level is
// chosen from the protection margin (1 - score), so a high score lands in the
// Vulnerable band.
package threat

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Level is a security classification ordered by increasing protection.
type Level int

const (
	LevelVulnerable Level = iota
	LevelPartiallyProtected
	LevelFullyShielded
	LevelSacredSanctuary
)

// Levels lists every classification in protection order.
var Levels = []Level{
	LevelVulnerable,
	LevelPartiallyProtected,
	LevelFullyShielded,
	LevelSacredSanctuary,
}

var levelNames = map[Level]string{
	LevelVulnerable:         "vulnerable",
	LevelPartiallyProtected: "partially_protected",
	LevelFullyShielded:      "fully_shielded",
	LevelSacredSanctuary:    "sacred_sanctuary",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// Valid reports whether l is one of the four classifications.
func (l Level) Valid() bool {
	_, ok := levelNames[l]
	return ok
}

// ParseLevel parses the string form produced by Level.String.
func ParseLevel(s string) (Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for l, name := range levelNames {
		if name == s {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown security level %q", s)
}

func (l Level) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("unknown security level %d", int(l))
	}
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(b []byte) error {
	parsed, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Factor names used in Assessment.Factors.
const (
	FactorGasPremium = "gas_premium"
	FactorSignature  = "signature"
	FactorValue      = "value"
	FactorSameTarget = "same_target"
)

// Assessment is the immutable result of scoring one transaction.
type Assessment struct {
	TxID       uuid.UUID          `json:"txId"`
	Score      float64            `json:"score"`
	Margin     float64            `json:"margin"`
	Level      Level              `json:"level"`
	Factors    map[string]float64 `json:"factors"`
	Congestion float64            `json:"congestion"`
	Attacks    []AttackType       `json:"attacks,omitempty"`
}

// Weights are the per-factor multipliers of the vulnerability score.
type Weights struct {
	GasPremium float64 `yaml:"gas_premium" json:"gasPremium"`
	Signature  float64 `yaml:"signature" json:"signature"`
	Value      float64 `yaml:"value" json:"value"`
	SameTarget float64 `yaml:"same_target" json:"sameTarget"`
}

// Bands holds the lower margin bound of each level above Vulnerable.
// Vulnerable covers [0, PartiallyProtected); SacredSanctuary covers
// [SacredSanctuary, 1].
type Bands struct {
	PartiallyProtected float64 `yaml:"partially_protected" json:"partiallyProtected"`
	FullyShielded      float64 `yaml:"fully_shielded" json:"fullyShielded"`
	SacredSanctuary    float64 `yaml:"sacred_sanctuary" json:"sacredSanctuary"`
}

// Default scoring constants.
const (
	DefaultGasRatioCap          = 3.0
	DefaultValueThreshold       = 100000.0
	DefaultSameTargetSaturation = 5
	DefaultSandwichValueFloor   = 10000.0
)

// Config tunes the assessor. Zero values are not usable; start from
// DefaultConfig.
type Config struct {
	Weights Weights
	Bands   Bands

	// GasRatioCap is the gas/average ratio at which the gas factor saturates.
	GasRatioCap float64
	// ValueThreshold is the value at which the value factor saturates.
	ValueThreshold float64
	// SameTargetSaturation is the same-target count at which that factor saturates.
	SameTargetSaturation int
	// SandwichValueFloor is the value above which a swap invites sandwiching.
	SandwichValueFloor float64

	SwapSelectors      SelectorSet
	ArbitrageSelectors SelectorSet
	PopularRouters     []string
}

// DefaultConfig returns the built-in weights, bands, and signature sets.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			GasPremium: 0.30,
			Signature:  0.30,
			Value:      0.25,
			SameTarget: 0.15,
		},
		Bands: Bands{
			PartiallyProtected: 0.25,
			FullyShielded:      0.5,
			SacredSanctuary:    0.8,
		},
		GasRatioCap:          DefaultGasRatioCap,
		ValueThreshold:       DefaultValueThreshold,
		SameTargetSaturation: DefaultSameTargetSaturation,
		SandwichValueFloor:   DefaultSandwichValueFloor,
		SwapSelectors:        DefaultSwapSelectors(),
		ArbitrageSelectors:   DefaultArbitrageSelectors(),
		PopularRouters:       DefaultPopularRouters(),
	}
}

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid threat config")

// Validate checks weights, bands, and saturation constants.
func (c Config) Validate() error {
	var errs []error
	w := c.Weights
	if w.GasPremium < 0 || w.Signature < 0 || w.Value < 0 || w.SameTarget < 0 {
		errs = append(errs, errors.New("weights must be non-negative"))
	}
	if w.GasPremium+w.Signature+w.Value+w.SameTarget <= 0 {
		errs = append(errs, errors.New("weights must not all be zero"))
	}
	b := c.Bands
	if !(0 < b.PartiallyProtected && b.PartiallyProtected < b.FullyShielded &&
		b.FullyShielded < b.SacredSanctuary && b.SacredSanctuary <= 1) {
		errs = append(errs, fmt.Errorf("bands must satisfy 0 < %v < %v < %v <= 1",
			b.PartiallyProtected, b.FullyShielded, b.SacredSanctuary))
	}
	if c.GasRatioCap <= 1 {
		errs = append(errs, errors.New("gas ratio cap must be greater than 1"))
	}
	if c.ValueThreshold <= 0 {
		errs = append(errs, errors.New("value threshold must be positive"))
	}
	if c.SameTargetSaturation <= 0 {
		errs = append(errs, errors.New("same-target saturation must be positive"))
	}
	if c.SandwichValueFloor < 0 {
		errs = append(errs, errors.New("sandwich value floor must be non-negative"))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// Classify maps a protection margin onto a level.
func (b Bands) Classify(margin float64) Level {
	switch {
	case margin >= b.SacredSanctuary:
		return LevelSacredSanctuary
	case margin >= b.FullyShielded:
		return LevelFullyShielded
	case margin >= b.PartiallyProtected:
		return LevelPartiallyProtected
	default:
		return LevelVulnerable
	}
}
