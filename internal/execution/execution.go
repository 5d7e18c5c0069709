// Package execution defines the boundary to the collaborator that actually
// submits a protected transaction, plus a simulator for demos and tests.
package execution

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/mbd888/mevguard/internal/faults"
	"github.com/mbd888/mevguard/internal/protection"
	"github.com/mbd888/mevguard/internal/txn"
)

// Result is what the collaborator reports for a transaction that made it
// on chain.
type Result struct {
	TxHash      string `json:"txHash"`
	BlockNumber uint64 `json:"blockNumber"`
	Route       string `json:"route"`
}

// Executor submits a transaction according to its intent and blocks until
// the outcome is known or ctx ends. A revert is reported as an error of kind
// faults.KindExecutionReverted.
type Executor interface {
	Execute(ctx context.Context, tx *txn.Transaction, intent *protection.SubmissionIntent) (*Result, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, tx *txn.Transaction, intent *protection.SubmissionIntent) (*Result, error)

func (f ExecutorFunc) Execute(ctx context.Context, tx *txn.Transaction, intent *protection.SubmissionIntent) (*Result, error) {
	return f(ctx, tx, intent)
}

// RevertPredicate decides whether the simulator reverts a submission.
type RevertPredicate func(tx *txn.Transaction, intent *protection.SubmissionIntent) bool

// Simulator pretends to include transactions after a fixed latency.
// Safe for concurrent use.
type Simulator struct {
	latency  time.Duration
	revertIf RevertPredicate
	block    atomic.Uint64
}

// SimulatorOption configures a Simulator.
type SimulatorOption func(*Simulator)

// WithLatency sets how long each submission takes.
func WithLatency(d time.Duration) SimulatorOption {
	return func(s *Simulator) { s.latency = d }
}

// WithRevert sets the predicate that makes submissions revert.
func WithRevert(p RevertPredicate) SimulatorOption {
	return func(s *Simulator) { s.revertIf = p }
}

// WithStartBlock sets the block number the first inclusion lands in.
func WithStartBlock(n uint64) SimulatorOption {
	return func(s *Simulator) { s.block.Store(n) }
}

// NewSimulator creates a simulator that includes everything immediately
// unless options say otherwise.
func NewSimulator(opts ...SimulatorOption) *Simulator {
	s := &Simulator{}
	s.block.Store(1)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Simulator) Execute(ctx context.Context, tx *txn.Transaction, intent *protection.SubmissionIntent) (*Result, error) {
	if s.latency > 0 {
		timer := time.NewTimer(s.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	if s.revertIf != nil && s.revertIf(tx, intent) {
		return nil, faults.New(faults.KindExecutionReverted, "simulated revert for %s", tx.ID)
	}

	// Delayed intents land the requested number of blocks later.
	block := s.block.Add(1+intent.MinDelayBlocks) - 1
	return &Result{
		TxHash:      crypto.Keccak256Hash(tx.ID[:], tx.Payload).Hex(),
		BlockNumber: block,
		Route:       string(intent.Route),
	}, nil
}
