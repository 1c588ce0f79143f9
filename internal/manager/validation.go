package manager

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Combine-Capital/assetdb/internal/asset"
)

// Validation constants
const (
	MinDecimals = 0
	MaxDecimals = 255
)

// Ethereum address regex (0x followed by 40 hex characters)
var ethereumAddressRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// ValidateRequiredAssetFields validates that all required fields for an asset are present
func ValidateRequiredAssetFields(a *asset.Asset) error {
	if a == nil {
		return fmt.Errorf("asset cannot be nil")
	}

	if strings.TrimSpace(a.Identifier) == "" {
		return fmt.Errorf("identifier is required")
	}

	if strings.TrimSpace(a.Symbol) == "" {
		return fmt.Errorf("symbol is required")
	}

	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("name is required")
	}

	if !a.Type.IsValid() {
		return fmt.Errorf("asset type is required")
	}

	return nil
}

// ParseContractAddress validates an EVM contract address and returns it.
// Any letter case is accepted.
func ParseContractAddress(contractAddress string) (common.Address, error) {
	contractAddress = strings.TrimSpace(contractAddress)
	if contractAddress == "" {
		return common.Address{}, fmt.Errorf("contract_address is required")
	}
	if !ethereumAddressRegex.MatchString(contractAddress) {
		return common.Address{}, fmt.Errorf("invalid EVM address format: %s (expected 0x followed by 40 hex characters)", contractAddress)
	}
	return common.HexToAddress(contractAddress), nil
}

// ValidateDecimals validates token decimals reported by an external source
func ValidateDecimals(decimals int) error {
	if decimals < MinDecimals || decimals > MaxDecimals {
		return fmt.Errorf("decimals must be between %d and %d, got %d", MinDecimals, MaxDecimals, decimals)
	}
	return nil
}
