package threat

import (
	"math"
	"math/big"

	"github.com/mbd888/mevguard/internal/pool"
	"github.com/mbd888/mevguard/internal/txn"
)

// Assessor scores transactions against a pool snapshot. It holds no mutable
// state; replace it to change configuration.
type Assessor struct {
	cfg        Config
	signatures SelectorSet
}

// NewAssessor validates cfg and builds an assessor.
func NewAssessor(cfg Config) (*Assessor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Assessor{
		cfg:        cfg,
		signatures: Union(cfg.SwapSelectors, cfg.ArbitrageSelectors),
	}, nil
}

// Config returns the configuration the assessor was built with.
func (a *Assessor) Config() Config {
	return a.cfg
}

// Assess computes the vulnerability score and level of tx. A nil snapshot is
// treated as an idle pool. The only failure is an invalid transaction.
func (a *Assessor) Assess(tx *txn.Transaction, snap *pool.Snapshot) (*Assessment, error) {
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	if snap == nil {
		snap = pool.Empty()
	}

	factors := map[string]float64{
		FactorGasPremium: a.gasPremiumFactor(tx.GasPrice, snap.AvgGasPrice),
		FactorSignature:  a.signatureFactor(tx.Payload),
		FactorValue:      a.valueFactor(tx.Value),
		FactorSameTarget: a.sameTargetFactor(snap.RecentFor(tx.To), snap.Congestion),
	}

	w := a.cfg.Weights
	score := factors[FactorGasPremium]*w.GasPremium +
		factors[FactorSignature]*w.Signature +
		factors[FactorValue]*w.Value +
		factors[FactorSameTarget]*w.SameTarget
	score = round3(clamp01(score))
	margin := round3(1 - score)

	return &Assessment{
		TxID:       tx.ID,
		Score:      score,
		Margin:     margin,
		Level:      a.cfg.Bands.Classify(margin),
		Factors:    factors,
		Congestion: snap.Congestion,
		Attacks:    a.DetectAttacks(tx, snap),
	}, nil
}

// gasPremiumFactor is 0 at or below the pool average and 1 at GasRatioCap
// times the average.
func (a *Assessor) gasPremiumFactor(gasPrice, avg *big.Int) float64 {
	if avg == nil || avg.Sign() <= 0 {
		return 0
	}
	r := ratio(gasPrice, avg)
	return clamp01((r - 1) / (a.cfg.GasRatioCap - 1))
}

func (a *Assessor) signatureFactor(payload []byte) float64 {
	if a.signatures.Matches(payload) {
		return 1
	}
	return 0
}

func (a *Assessor) valueFactor(value *big.Int) float64 {
	v, _ := new(big.Float).SetInt(value).Float64()
	return clamp01(v / a.cfg.ValueThreshold)
}

// sameTargetFactor saturates at SameTargetSaturation sightings; congestion
// scales it from half weight (idle pool) to full weight (full pool).
func (a *Assessor) sameTargetFactor(count int, congestion float64) float64 {
	base := clamp01(float64(count) / float64(a.cfg.SameTargetSaturation))
	return base * (1 + clamp01(congestion)) / 2
}

func ratio(num, den *big.Int) float64 {
	r, _ := new(big.Float).Quo(new(big.Float).SetInt(num), new(big.Float).SetInt(den)).Float64()
	return r
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
