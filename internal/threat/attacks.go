package threat

import (
	"math/big"
	"strings"

	"github.com/mbd888/mevguard/internal/pool"
	"github.com/mbd888/mevguard/internal/txn"
)

// AttackType names an extraction strategy a transaction invites.
type AttackType string

const (
	AttackSandwich           AttackType = "sandwich"
	AttackFrontrunning       AttackType = "frontrunning"
	AttackFlashloanArbitrage AttackType = "flashloan_arbitrage"
	AttackBackrunning        AttackType = "backrunning"
)

// DetectAttacks lists the attack types tx is exposed to, in a fixed order.
// It is informational; the score does not depend on it.
func (a *Assessor) DetectAttacks(tx *txn.Transaction, snap *pool.Snapshot) []AttackType {
	var attacks []AttackType

	floor := new(big.Float).SetFloat64(a.cfg.SandwichValueFloor)
	if new(big.Float).SetInt(tx.Value).Cmp(floor) > 0 && a.cfg.SwapSelectors.Matches(tx.Payload) {
		attacks = append(attacks, AttackSandwich)
	}
	if a.isPopularRouter(tx.To) {
		attacks = append(attacks, AttackFrontrunning)
	}
	if snap != nil && snap.AvgGasPrice != nil && snap.AvgGasPrice.Sign() > 0 && tx.GasPrice.Cmp(snap.AvgGasPrice) > 0 {
		attacks = append(attacks, AttackFlashloanArbitrage)
	}
	if a.cfg.ArbitrageSelectors.Matches(tx.Payload) {
		attacks = append(attacks, AttackBackrunning)
	}
	return attacks
}

func (a *Assessor) isPopularRouter(target string) bool {
	for _, router := range a.cfg.PopularRouters {
		if strings.EqualFold(strings.TrimSpace(router), strings.TrimSpace(target)) {
			return true
		}
	}
	return false
}
