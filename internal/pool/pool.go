// Package pool models the public transaction pool conditions the threat
// assessor scores against.
//
// A Snapshot is immutable once published. Refreshers (the RPC Observer or an
// external mempool watcher pushing through the API) build a new Snapshot and
// swap it into a Holder; readers never see a partially updated value.
package pool

import (
	"errors"
	"math/big"
	"strings"
	"sync/atomic"
	"time"
)

// ErrInvalidSnapshot is returned by Validate.
var ErrInvalidSnapshot = errors.New("invalid pool snapshot")

// Snapshot is a read-only view of pool conditions at ObservedAt.
type Snapshot struct {
	// Congestion is pool fullness in [0,1].
	Congestion float64 `json:"congestion"`
	// AvgGasPrice is the prevailing gas price, in the same unit as transactions.
	AvgGasPrice *big.Int `json:"avgGasPrice"`
	// RecentSameTarget counts recently seen arbitrage-pattern transactions
	// per target contract (lower-cased address).
	RecentSameTarget map[string]int `json:"recentSameTarget"`
	ObservedAt       time.Time      `json:"observedAt"`
}

// NewSnapshot builds a snapshot, copying its inputs and normalising target keys.
func NewSnapshot(congestion float64, avgGasPrice *big.Int, recent map[string]int, at time.Time) *Snapshot {
	s := &Snapshot{
		Congestion:       congestion,
		RecentSameTarget: make(map[string]int, len(recent)),
		ObservedAt:       at,
	}
	if avgGasPrice != nil {
		s.AvgGasPrice = new(big.Int).Set(avgGasPrice)
	}
	for target, n := range recent {
		s.RecentSameTarget[normalize(target)] += n
	}
	return s
}

// Empty is the snapshot used before any observation: no congestion, no
// average (so gas premium scores zero) and no recent activity.
func Empty() *Snapshot {
	return &Snapshot{RecentSameTarget: map[string]int{}}
}

// RecentFor returns the recent arbitrage-pattern count for target.
func (s *Snapshot) RecentFor(target string) int {
	if s == nil {
		return 0
	}
	return s.RecentSameTarget[normalize(target)]
}

// Validate rejects snapshots pushed with out-of-range values.
func (s *Snapshot) Validate() error {
	switch {
	case s.Congestion < 0 || s.Congestion > 1:
		return errors.Join(ErrInvalidSnapshot, errors.New("congestion must be within [0,1]"))
	case s.AvgGasPrice != nil && s.AvgGasPrice.Sign() < 0:
		return errors.Join(ErrInvalidSnapshot, errors.New("average gas price is negative"))
	}
	for target, n := range s.RecentSameTarget {
		if n < 0 {
			return errors.Join(ErrInvalidSnapshot, errors.New("negative count for "+target))
		}
	}
	return nil
}

// Holder publishes the current snapshot to concurrent readers.
type Holder struct {
	current atomic.Pointer[Snapshot]
}

// NewHolder creates a holder seeded with the empty snapshot.
func NewHolder() *Holder {
	h := &Holder{}
	h.current.Store(Empty())
	return h
}

// Load returns the current snapshot. Callers must not modify it.
func (h *Holder) Load() *Snapshot {
	return h.current.Load()
}

// Store publishes s as the current snapshot.
func (h *Holder) Store(s *Snapshot) {
	if s == nil {
		s = Empty()
	}
	h.current.Store(s)
}

func normalize(target string) string {
	return strings.ToLower(strings.TrimSpace(target))
}
