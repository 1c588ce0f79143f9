package asset

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const (
	evmChainDirective = "eip155"

	// LegacyEthereumPrefix marks identifiers of the pre-chain-aware format,
	// which were the bare token address behind this prefix.
	LegacyEthereumPrefix = "_ceth_"
)

var collectibleIDPattern = regexp.MustCompile(`^[0-9A-Za-z._-]+$`)

// TokenKey is the set of attributes a chain token identifier is derived from.
type TokenKey struct {
	Chain         ChainID
	Kind          TokenKind
	Address       common.Address
	CollectibleID string
}

// Validate checks that the key can be encoded.
func (k TokenKey) Validate() error {
	if k.Chain == 0 {
		return fmt.Errorf("%w: chain id must be positive", ErrMalformedIdentifier)
	}
	if !k.Kind.IsValid() {
		return fmt.Errorf("%w: unknown token kind %d", ErrMalformedIdentifier, byte(k.Kind))
	}
	if k.CollectibleID == "" {
		return nil
	}
	if k.Kind.IsFungible() {
		return fmt.Errorf("%w: %s tokens cannot carry a collectible id", ErrMalformedIdentifier, k.Kind)
	}
	if !collectibleIDPattern.MatchString(k.CollectibleID) {
		return fmt.Errorf("%w: invalid collectible id %q", ErrMalformedIdentifier, k.CollectibleID)
	}
	return nil
}

// Encode returns the canonical identifier of a chain token:
//
//	eip155:<chain>/<KIND>:<checksummed address>[/<collectible id>]
func Encode(k TokenKey) (string, error) {
	if err := k.Validate(); err != nil {
		return "", err
	}
	id := evmChainDirective + ":" + strconv.FormatUint(uint64(k.Chain), 10) +
		"/" + k.Kind.String() + ":" + k.Address.Hex()
	if k.CollectibleID != "" {
		id += "/" + k.CollectibleID
	}
	return id, nil
}

// MustEncode is Encode for keys known to be well formed. It panics otherwise.
func MustEncode(k TokenKey) string {
	id, err := Encode(k)
	if err != nil {
		panic(err)
	}
	return id
}

// Decode parses a canonical chain token identifier. Only the exact string
// Encode would produce is accepted, so every key has a single identifier.
func Decode(id string) (TokenKey, error) {
	malformed := func(reason string) (TokenKey, error) {
		return TokenKey{}, fmt.Errorf("%w: %q: %s", ErrMalformedIdentifier, id, reason)
	}

	rest, ok := strings.CutPrefix(id, evmChainDirective+":")
	if !ok {
		return malformed("missing " + evmChainDirective + " directive")
	}

	chainPart, rest, ok := strings.Cut(rest, "/")
	if !ok {
		return malformed("missing token kind")
	}
	chain, err := strconv.ParseUint(chainPart, 10, 64)
	if err != nil || strconv.FormatUint(chain, 10) != chainPart {
		return malformed("invalid chain id")
	}

	kindPart, rest, ok := strings.Cut(rest, ":")
	if !ok {
		return malformed("missing address")
	}
	kind, err := ParseTokenKind(kindPart)
	if err != nil {
		return malformed(err.Error())
	}

	addressPart, collectible, hasCollectible := strings.Cut(rest, "/")
	if !strings.HasPrefix(addressPart, "0x") || !common.IsHexAddress(addressPart) {
		return malformed("invalid address")
	}
	address := common.HexToAddress(addressPart)
	if address.Hex() != addressPart {
		return malformed("address is not checksummed")
	}
	if hasCollectible && collectible == "" {
		return malformed("empty collectible id")
	}

	key := TokenKey{
		Chain:         ChainID(chain),
		Kind:          kind,
		Address:       address,
		CollectibleID: collectible,
	}
	if err := key.Validate(); err != nil {
		return TokenKey{}, err
	}
	return key, nil
}

// IsChainTokenIdentifier reports whether id is a canonical chain token identifier.
func IsChainTokenIdentifier(id string) bool {
	_, err := Decode(id)
	return err == nil
}

// TranslateLegacyIdentifier converts a legacy _ceth_ identifier into the
// canonical ERC20 identifier on Ethereum mainnet. Any other string, including
// a legacy identifier carrying an invalid address, is returned unchanged.
func TranslateLegacyIdentifier(id string) string {
	address, ok := strings.CutPrefix(id, LegacyEthereumPrefix)
	if !ok || !common.IsHexAddress(address) {
		return id
	}
	return MustEncode(TokenKey{
		Chain:   ChainEthereum,
		Kind:    ERC20,
		Address: common.HexToAddress(address),
	})
}
