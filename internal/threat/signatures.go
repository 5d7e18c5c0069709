package threat

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Selector is the 4-byte function selector at the head of a call payload.
type Selector [4]byte

// SelectorOf computes the selector of a canonical function signature,
// e.g. "swapExactTokensForTokens(uint256,uint256,address[],address,uint256)".
func SelectorOf(signature string) Selector {
	var s Selector
	copy(s[:], crypto.Keccak256([]byte(signature))[:4])
	return s
}

// ParseSelector accepts either a 0x-prefixed 4-byte hex selector or a
// canonical function signature.
func ParseSelector(entry string) (Selector, error) {
	entry = strings.TrimSpace(entry)
	if strings.Contains(entry, "(") {
		return SelectorOf(strings.ReplaceAll(entry, " ", "")), nil
	}
	raw, err := hexutil.Decode(entry)
	if err != nil {
		return Selector{}, fmt.Errorf("invalid selector %q: %w", entry, err)
	}
	if len(raw) != len(Selector{}) {
		return Selector{}, fmt.Errorf("invalid selector %q: want 4 bytes, got %d", entry, len(raw))
	}
	var s Selector
	copy(s[:], raw)
	return s, nil
}

func (s Selector) String() string {
	return hexutil.Encode(s[:])
}

// SelectorSet maps selectors to a human label (the signature they came from).
type SelectorSet map[Selector]string

// NewSelectorSet builds a set from hex selectors or function signatures.
func NewSelectorSet(entries ...string) (SelectorSet, error) {
	set := make(SelectorSet, len(entries))
	for _, entry := range entries {
		sel, err := ParseSelector(entry)
		if err != nil {
			return nil, err
		}
		set[sel] = strings.TrimSpace(entry)
	}
	return set, nil
}

// Matches reports whether payload starts with a selector in the set.
func (s SelectorSet) Matches(payload []byte) bool {
	if len(payload) < len(Selector{}) {
		return false
	}
	var sel Selector
	copy(sel[:], payload)
	_, ok := s[sel]
	return ok
}

// Union returns a new set holding the selectors of every input set.
func Union(sets ...SelectorSet) SelectorSet {
	out := make(SelectorSet)
	for _, set := range sets {
		for sel, label := range set {
			out[sel] = label
		}
	}
	return out
}

// Hex returns the selectors as sorted hex strings.
func (s SelectorSet) Hex() []string {
	out := make([]string, 0, len(s))
	for sel := range s {
		out = append(out, sel.String())
	}
	sort.Strings(out)
	return out
}

var (
	swapSignatures = []string{
		"swapExactTokensForTokens(uint256,uint256,address[],address,uint256)",
		"swapExactETHForTokens(uint256,address[],address,uint256)",
		"swapExactTokensForETH(uint256,uint256,address[],address,uint256)",
		"swapTokensForExactTokens(uint256,uint256,address[],address,uint256)",
		"swapETHForExactTokens(uint256,address[],address,uint256)",
		"exactInputSingle((address,address,uint24,address,uint256,uint256,uint256,uint160))",
		"exactInput((bytes,address,uint256,uint256,uint256))",
		"multicall(bytes[])",
	}

	arbitrageSignatures = []string{
		"swap(uint256,uint256,address,bytes)",
		"flashLoan(address,address[],uint256[],uint256[],address,bytes,uint16)",
		"flashLoanSimple(address,address,uint256,bytes,uint16)",
		"flashLoan(address,address[],uint256[],bytes)",
	}

	flashloanSignatures = []string{
		"flashLoan(address,address[],uint256[],uint256[],address,bytes,uint16)",
		"flashLoanSimple(address,address,uint256,bytes,uint16)",
		"flashLoan(address,address[],uint256[],bytes)",
		"flash(address,uint256,uint256,bytes)",
	}

	popularRouters = []common.Address{
		common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"), // Uniswap V2 router
		common.HexToAddress("0xE592427A0AEce92De3Edee1F18E0157C05861564"), // Uniswap V3 router
		common.HexToAddress("0x881D40237659C251811CEC9c364ef91dC08D300C"), // MetaMask swap router
	}
)

func mustSet(signatures []string) SelectorSet {
	set, err := NewSelectorSet(signatures...)
	if err != nil {
		panic(err)
	}
	return set
}

// DefaultSwapSelectors returns the DEX swap selectors bots watch for.
func DefaultSwapSelectors() SelectorSet { return mustSet(swapSignatures) }

// DefaultArbitrageSelectors returns pair-swap and flashloan entry points.
func DefaultArbitrageSelectors() SelectorSet { return mustSet(arbitrageSignatures) }

// DefaultFlashloanSelectors returns lending-pool flashloan entry points.
func DefaultFlashloanSelectors() SelectorSet { return mustSet(flashloanSignatures) }

// DefaultPopularRouters returns the router addresses frontrunners monitor.
func DefaultPopularRouters() []string {
	out := make([]string, len(popularRouters))
	for i, addr := range popularRouters {
		out[i] = addr.Hex()
	}
	return out
}
