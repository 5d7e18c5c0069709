package execution

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/mevguard/internal/faults"
	"github.com/mbd888/mevguard/internal/protection"
	"github.com/mbd888/mevguard/internal/txn"
)

func intentFor(t *testing.T, tx *txn.Transaction, measures ...protection.Measure) *protection.SubmissionIntent {
	t.Helper()
	intent, err := protection.NewApplicator("https://relay.test").Apply(protection.NewPlan(measures...), tx)
	require.NoError(t, err)
	return intent
}

func TestSimulatorIncludes(t *testing.T) {
	sim := NewSimulator(WithStartBlock(100))
	tx := txn.New("0xa", "0xb", big.NewInt(1), big.NewInt(1), []byte{1, 2, 3, 4})

	res, err := sim.Execute(context.Background(), tx, intentFor(t, tx, protection.MeasurePrivateRouting))
	require.NoError(t, err)
	assert.Equal(t, uint64(100), res.BlockNumber)
	assert.Equal(t, "private", res.Route)
	assert.Len(t, res.TxHash, 66)

	res, err = sim.Execute(context.Background(), tx, intentFor(t, tx, protection.MeasureDelay))
	require.NoError(t, err)
	assert.Equal(t, uint64(101+protection.DefaultDelayBlocks), res.BlockNumber)
}

func TestSimulatorRevert(t *testing.T) {
	sim := NewSimulator(WithRevert(func(*txn.Transaction, *protection.SubmissionIntent) bool { return true }))
	tx := txn.New("0xa", "0xb", big.NewInt(1), big.NewInt(1), nil)

	_, err := sim.Execute(context.Background(), tx, intentFor(t, tx))
	assert.ErrorIs(t, err, faults.ErrExecutionReverted)
}

func TestSimulatorHonoursDeadline(t *testing.T) {
	sim := NewSimulator(WithLatency(time.Second))
	tx := txn.New("0xa", "0xb", big.NewInt(1), big.NewInt(1), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := sim.Execute(ctx, tx, intentFor(t, tx))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestExecutorFunc(t *testing.T) {
	var called bool
	exec := ExecutorFunc(func(ctx context.Context, tx *txn.Transaction, intent *protection.SubmissionIntent) (*Result, error) {
		called = true
		return &Result{BlockNumber: 7}, nil
	})
	res, err := exec.Execute(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, uint64(7), res.BlockNumber)
}
