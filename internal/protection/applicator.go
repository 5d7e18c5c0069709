package protection

import (
	"github.com/google/uuid"

	"github.com/mbd888/mevguard/internal/faults"
	"github.com/mbd888/mevguard/internal/txn"
)

// Route is where the transaction is submitted.
type Route string

const (
	RoutePublic  Route = "public"
	RoutePrivate Route = "private"
)

// Ordering constrains where the transaction may sit within a block.
type Ordering string

const (
	OrderingAny Ordering = "any"
	// OrderingIsolated requires a bundle containing only this transaction,
	// so nothing can be placed directly before or after it.
	OrderingIsolated Ordering = "isolated"
)

// DefaultDelayBlocks is the minimum delay applied by the delay measure.
const DefaultDelayBlocks = 2

// SubmissionIntent tells the execution collaborator how to submit a
// transaction. Each measure owns its own fields.
type SubmissionIntent struct {
	TxID           uuid.UUID `json:"txId"`
	Route          Route     `json:"route"`
	RelayURL       string    `json:"relayUrl,omitempty"`
	MinDelayBlocks uint64    `json:"minDelayBlocks"`
	Ordering       Ordering  `json:"ordering"`
	FlashloanGuard bool      `json:"flashloanGuard"`
	Applied        []Measure `json:"applied"`
}

// Applicator builds submission intents from plans.
type Applicator struct {
	relayURL    string
	delayBlocks uint64
}

// NewApplicator creates an applicator. relayURL is the private relay the
// private routing measure points at.
func NewApplicator(relayURL string) *Applicator {
	return &Applicator{relayURL: relayURL, delayBlocks: DefaultDelayBlocks}
}

// WithDelayBlocks overrides the delay measure's minimum block count.
func (a *Applicator) WithDelayBlocks(n uint64) *Applicator {
	a.delayBlocks = n
	return a
}

// Apply applies plan to tx in fixed measure order. Repeated measures are
// no-ops, so applying the same plan twice yields the same intent.
func (a *Applicator) Apply(plan Plan, tx *txn.Transaction) (*SubmissionIntent, error) {
	for _, m := range plan.Measures {
		if !m.Known() {
			return nil, faults.New(faults.KindUnsupportedMeasure, "measure %q is not supported", m)
		}
	}

	intent := &SubmissionIntent{
		TxID:     tx.ID,
		Route:    RoutePublic,
		Ordering: OrderingAny,
		Applied:  []Measure{},
	}
	ordered := NewPlan(plan.Measures...)
	for _, m := range ordered.Measures {
		switch m {
		case MeasurePrivateRouting:
			intent.Route = RoutePrivate
			intent.RelayURL = a.relayURL
		case MeasureDelay:
			if intent.MinDelayBlocks < a.delayBlocks {
				intent.MinDelayBlocks = a.delayBlocks
			}
		case MeasureOrderingBarrier:
			intent.Ordering = OrderingIsolated
		case MeasureFlashloanShield:
			intent.FlashloanGuard = true
		}
		intent.Applied = append(intent.Applied, m)
	}
	return intent, nil
}
