package domain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NativePseudoAddresses are the sentinel spellings a caller may use for
// the chain's native currency. All of them normalise to WrappedNative.
var NativePseudoAddresses = []string{"native", "0x0", "0x0000000000000000000000000000000000000000"}

// Token describes an ERC20 (or the native currency) known to the
// engine. Comparisons always use Address (lowercase canonical form);
// Checksum is for display only.
type Token struct {
	Address  common.Address
	Decimals uint8
	Symbol   string
	Name     string
	IsNative bool
}

// Lower returns the canonical lowercase hex form used as map/cache keys.
func (t Token) Lower() string {
	return strings.ToLower(t.Address.Hex())
}

// Checksum returns the EIP-55 checksummed display form.
func (t Token) Checksum() string {
	return t.Address.Hex()
}

// IsNativePseudoAddress reports whether addr is one of the sentinel
// spellings for the chain's native currency ("native", "0x0", or the
// zero address), case-insensitively.
func IsNativePseudoAddress(addr string) bool {
	lower := strings.ToLower(strings.TrimSpace(addr))
	for _, candidate := range NativePseudoAddresses {
		if lower == candidate {
			return true
		}
	}
	return common.IsHexAddress(lower) && common.HexToAddress(lower) == (common.Address{})
}

// NormalizeTokenAddress maps the native sentinel spellings onto
// wrappedNative and lowercases everything else, so that routing
// internals always see one canonical address per logical token
// regardless of how the caller spelled "native".
func NormalizeTokenAddress(addr string, wrappedNative common.Address) common.Address {
	if IsNativePseudoAddress(addr) {
		return wrappedNative
	}
	return common.HexToAddress(addr)
}
