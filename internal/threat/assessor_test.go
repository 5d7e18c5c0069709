package threat

import (
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/mevguard/internal/faults"
	"github.com/mbd888/mevguard/internal/pool"
	"github.com/mbd888/mevguard/internal/txn"
)

const (
	uniswapV2 = "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"
	user      = "0x742d35Cc6064C2532C4a2e3cE4285b8b4f267Db8"
	nobody    = "0x0000000000000000000000000000000000000001"
)

var swapPayload = []byte{0x38, 0xed, 0x17, 0x39, 0x00, 0x00, 0x00, 0x64}

func newAssessor(t *testing.T) *Assessor {
	t.Helper()
	a, err := NewAssessor(DefaultConfig())
	require.NoError(t, err)
	return a
}

func snapshot(congestion float64, avg int64, recent map[string]int) *pool.Snapshot {
	return pool.NewSnapshot(congestion, big.NewInt(avg), recent, time.Unix(1_700_000_000, 0))
}

func TestAssessHighRiskSwapIsVulnerable(t *testing.T) {
	a := newAssessor(t)
	tx := txn.New(user, uniswapV2, big.NewInt(100000), big.NewInt(150), swapPayload)

	got, err := a.Assess(tx, snapshot(0, 50, nil))
	require.NoError(t, err)

	assert.Equal(t, 0.85, got.Score)
	assert.Equal(t, 0.15, got.Margin)
	assert.Equal(t, LevelVulnerable, got.Level)
	assert.Equal(t, 1.0, got.Factors[FactorGasPremium])
	assert.Equal(t, 1.0, got.Factors[FactorSignature])
	assert.Equal(t, 1.0, got.Factors[FactorValue])
	assert.Equal(t, 0.0, got.Factors[FactorSameTarget])
	assert.Equal(t, tx.ID, got.TxID)
	assert.Equal(t, []AttackType{AttackSandwich, AttackFrontrunning, AttackFlashloanArbitrage}, got.Attacks)
}

func TestAssessQuietTransferIsSacredSanctuary(t *testing.T) {
	a := newAssessor(t)
	tx := txn.New(user, nobody, big.NewInt(100), big.NewInt(50), []byte{0, 0, 0, 0})

	got, err := a.Assess(tx, snapshot(0.2, 50, nil))
	require.NoError(t, err)

	assert.Equal(t, 0.0, got.Score)
	assert.Equal(t, LevelSacredSanctuary, got.Level)
	assert.Empty(t, got.Attacks)
}

func TestAssessNegativeValueIsInvalid(t *testing.T) {
	a := newAssessor(t)
	tx := txn.New(user, nobody, big.NewInt(-1), big.NewInt(50), nil)

	got, err := a.Assess(tx, snapshot(0, 50, nil))
	assert.Nil(t, got)
	assert.True(t, errors.Is(err, faults.ErrInvalidTransaction))
}

func TestAssessIsDeterministic(t *testing.T) {
	a := newAssessor(t)
	tx := txn.New(user, uniswapV2, big.NewInt(42_000), big.NewInt(80), swapPayload)
	snap := snapshot(0.7, 60, map[string]int{uniswapV2: 3})

	first, err := a.Assess(tx, snap)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		again, err := a.Assess(tx, snap)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestAssessSameTargetScaledByCongestion(t *testing.T) {
	a := newAssessor(t)
	tx := txn.New(user, uniswapV2, big.NewInt(0), big.NewInt(1), nil)

	idle, err := a.Assess(tx, snapshot(0, 1, map[string]int{uniswapV2: 5}))
	require.NoError(t, err)
	busy, err := a.Assess(tx, snapshot(1, 1, map[string]int{uniswapV2: 5}))
	require.NoError(t, err)

	assert.InDelta(t, 0.5, idle.Factors[FactorSameTarget], 1e-9)
	assert.InDelta(t, 1.0, busy.Factors[FactorSameTarget], 1e-9)
	assert.Less(t, idle.Score, busy.Score)
}

func TestAssessNilSnapshotIsIdlePool(t *testing.T) {
	a := newAssessor(t)
	tx := txn.New(user, nobody, big.NewInt(1), big.NewInt(1_000_000), nil)

	got, err := a.Assess(tx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got.Factors[FactorGasPremium], "no average means no premium")
	assert.Equal(t, 0.0, got.Congestion)
}

func TestAssessScoreBoundsAndBands(t *testing.T) {
	a := newAssessor(t)
	payloads := [][]byte{nil, swapPayload, {0xde, 0xad}}
	for _, value := range []int64{0, 1, 9_999, 50_000, 1 << 40} {
		for _, gas := range []int64{0, 1, 50, 75, 1_000} {
			for _, congestion := range []float64{0, 0.5, 1} {
				for _, payload := range payloads {
					tx := txn.New(user, uniswapV2, big.NewInt(value), big.NewInt(gas), payload)
					got, err := a.Assess(tx, snapshot(congestion, 50, map[string]int{uniswapV2: 9}))
					require.NoError(t, err)
					assert.GreaterOrEqual(t, got.Score, 0.0)
					assert.LessOrEqual(t, got.Score, 1.0)
					assert.True(t, got.Level.Valid())
					assert.Equal(t, a.cfg.Bands.Classify(got.Margin), got.Level)
				}
			}
		}
	}
}

func TestBandsClassifyBoundaries(t *testing.T) {
	b := DefaultConfig().Bands
	tests := []struct {
		margin float64
		want   Level
	}{
		{0, LevelVulnerable},
		{0.249, LevelVulnerable},
		{0.25, LevelPartiallyProtected},
		{0.499, LevelPartiallyProtected},
		{0.5, LevelFullyShielded},
		{0.799, LevelFullyShielded},
		{0.8, LevelSacredSanctuary},
		{1, LevelSacredSanctuary},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, b.Classify(tt.margin), "margin %v", tt.margin)
	}
}

func TestClassifyIsMonotonicInScore(t *testing.T) {
	b := DefaultConfig().Bands
	prev := LevelSacredSanctuary
	for i := 0; i <= 1000; i++ {
		level := b.Classify(round3(1 - float64(i)/1000))
		assert.LessOrEqual(t, int(level), int(prev))
		prev = level
	}
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Bands.FullyShielded = 0.9
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.Weights = Weights{}
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.GasRatioCap = 1
	_, err := NewAssessor(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLevelText(t *testing.T) {
	for _, l := range Levels {
		b, err := json.Marshal(l)
		require.NoError(t, err)

		var back Level
		require.NoError(t, json.Unmarshal(b, &back))
		assert.Equal(t, l, back)
	}
	_, err := ParseLevel("doomed")
	assert.Error(t, err)
	assert.Equal(t, `"partially_protected"`, mustJSON(t, LevelPartiallyProtected))
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}
