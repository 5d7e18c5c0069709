// Package txn defines the pending transaction record the guard evaluates.
//
// A Transaction is created once when it enters the pipeline and is never
// modified afterwards. Stages receive it by pointer for efficiency only.
package txn

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"

	"github.com/mbd888/mevguard/internal/faults"
)

// SelectorLen is the length of an EVM function selector.
const SelectorLen = 4

// Transaction is a pending transaction awaiting protection.
type Transaction struct {
	ID       uuid.UUID     `json:"id"`
	From     string        `json:"from"`
	To       string        `json:"to"`
	Value    *big.Int      `json:"value"`
	GasPrice *big.Int      `json:"gasPrice"`
	Payload  hexutil.Bytes `json:"payload,omitempty"`
}

// New mints a transaction with a fresh random identifier. The numeric and
// payload arguments are copied so later changes by the caller are not seen.
func New(from, to string, value, gasPrice *big.Int, payload []byte) *Transaction {
	return &Transaction{
		ID:       uuid.New(),
		From:     from,
		To:       to,
		Value:    copyInt(value),
		GasPrice: copyInt(gasPrice),
		Payload:  append(hexutil.Bytes(nil), payload...),
	}
}

// Validate checks the record invariants: a non-nil identifier and
// non-negative value and gas price.
func (t *Transaction) Validate() error {
	if t == nil {
		return faults.New(faults.KindInvalidTransaction, "transaction is nil")
	}
	if t.ID == uuid.Nil {
		return faults.New(faults.KindInvalidTransaction, "identifier is missing")
	}
	if t.Value == nil {
		return faults.New(faults.KindInvalidTransaction, "value is missing")
	}
	if t.Value.Sign() < 0 {
		return faults.New(faults.KindInvalidTransaction, "value is negative: %s", t.Value)
	}
	if t.GasPrice == nil {
		return faults.New(faults.KindInvalidTransaction, "gas price is missing")
	}
	if t.GasPrice.Sign() < 0 {
		return faults.New(faults.KindInvalidTransaction, "gas price is negative: %s", t.GasPrice)
	}
	return nil
}

// Selector returns the 4-byte function selector prefix of the payload.
// ok is false when the payload is shorter than a selector.
func (t *Transaction) Selector() (sel [SelectorLen]byte, ok bool) {
	if len(t.Payload) < SelectorLen {
		return sel, false
	}
	copy(sel[:], t.Payload[:SelectorLen])
	return sel, true
}

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
