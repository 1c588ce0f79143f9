// Package asset defines the asset data model shared by the store, the
// resolver and the migration engine: generic assets, chain tokens, their
// underlying-token composition, and the canonical identifier codec.
package asset

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Type is the asset category. It is persisted as a single character code,
// matching the codes used by legacy global databases.
type Type byte

const (
	TypeFiat              Type = 'A'
	TypeOwnChain          Type = 'B'
	TypeEVMToken          Type = 'C'
	TypeOmniToken         Type = 'D'
	TypeNeoToken          Type = 'E'
	TypeCounterpartyToken Type = 'F'
	TypeBitsharesToken    Type = 'G'
	TypeArdorToken        Type = 'H'
	TypeNxtToken          Type = 'I'
	TypeUbiqToken         Type = 'J'
	TypeNubitsToken       Type = 'K'
	TypeBurstToken        Type = 'L'
	TypeWavesToken        Type = 'M'
	TypeQtumToken         Type = 'N'
	TypeStellarToken      Type = 'O'
	TypeTronToken         Type = 'P'
	TypeOntologyToken     Type = 'Q'
	TypeVechainToken      Type = 'R'
	TypeBinanceToken      Type = 'S'
	TypeEOSToken          Type = 'T'
	TypeFusionToken       Type = 'U'
	TypeLuniverseToken    Type = 'V'
	TypeOther             Type = 'W'
	TypeAvalancheToken    Type = 'X'
	TypeSolanaToken       Type = 'Y'
	TypeNFT               Type = 'Z'
)

var typeNames = map[Type]string{
	TypeFiat:              "fiat",
	TypeOwnChain:          "own chain",
	TypeEVMToken:          "evm token",
	TypeOmniToken:         "omni token",
	TypeNeoToken:          "neo token",
	TypeCounterpartyToken: "counterparty token",
	TypeBitsharesToken:    "bitshares token",
	TypeArdorToken:        "ardor token",
	TypeNxtToken:          "nxt token",
	TypeUbiqToken:         "ubiq token",
	TypeNubitsToken:       "nubits token",
	TypeBurstToken:        "burst token",
	TypeWavesToken:        "waves token",
	TypeQtumToken:         "qtum token",
	TypeStellarToken:      "stellar token",
	TypeTronToken:         "tron token",
	TypeOntologyToken:     "ontology token",
	TypeVechainToken:      "vechain token",
	TypeBinanceToken:      "binance token",
	TypeEOSToken:          "eos token",
	TypeFusionToken:       "fusion token",
	TypeLuniverseToken:    "luniverse token",
	TypeOther:             "other",
	TypeAvalancheToken:    "avalanche token",
	TypeSolanaToken:       "solana token",
	TypeNFT:               "nft",
}

// ParseType converts a stored single character code into a Type.
func ParseType(code string) (Type, error) {
	if len(code) != 1 {
		return 0, fmt.Errorf("invalid asset type code %q", code)
	}
	t := Type(code[0])
	if _, ok := typeNames[t]; !ok {
		return 0, fmt.Errorf("invalid asset type code %q", code)
	}
	return t, nil
}

// Code returns the database representation of the type.
func (t Type) Code() string {
	return string(rune(t))
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", byte(t))
}

// IsValid reports whether t is a known asset type.
func (t Type) IsValid() bool {
	_, ok := typeNames[t]
	return ok
}

func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.Code()), nil
}

func (t *Type) UnmarshalText(b []byte) error {
	parsed, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ChainID is the EIP-155 chain identifier.
type ChainID uint64

const (
	ChainEthereum  ChainID = 1
	ChainOptimism  ChainID = 10
	ChainBinance   ChainID = 56
	ChainOKEx      ChainID = 66
	ChainXDai      ChainID = 100
	ChainPolygon   ChainID = 137
	ChainFantom    ChainID = 250
	ChainArbitrum  ChainID = 42161
	ChainAvalanche ChainID = 43114
)

var chainNames = map[ChainID]string{
	ChainEthereum:  "ethereum",
	ChainOptimism:  "optimism",
	ChainBinance:   "binance",
	ChainOKEx:      "okex",
	ChainXDai:      "xdai",
	ChainPolygon:   "polygon",
	ChainFantom:    "fantom",
	ChainArbitrum:  "arbitrum",
	ChainAvalanche: "avalanche",
}

func (c ChainID) String() string {
	if name, ok := chainNames[c]; ok {
		return name
	}
	return fmt.Sprintf("chain-%d", uint64(c))
}

// TokenKind distinguishes fungible, non-fungible and multi tokens.
type TokenKind byte

const (
	ERC20   TokenKind = 'A'
	ERC721  TokenKind = 'B'
	ERC1155 TokenKind = 'C'
)

var tokenKindNames = map[TokenKind]string{
	ERC20:   "ERC20",
	ERC721:  "ERC721",
	ERC1155: "ERC1155",
}

// ParseTokenKind parses the identifier form of a token kind ("ERC20", ...).
func ParseTokenKind(s string) (TokenKind, error) {
	for kind, name := range tokenKindNames {
		if name == s {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("invalid token kind %q", s)
}

// TokenKindFromCode parses the single character database form.
func TokenKindFromCode(code string) (TokenKind, error) {
	if len(code) != 1 {
		return 0, fmt.Errorf("invalid token kind code %q", code)
	}
	kind := TokenKind(code[0])
	if !kind.IsValid() {
		return 0, fmt.Errorf("invalid token kind code %q", code)
	}
	return kind, nil
}

func (k TokenKind) String() string {
	if name, ok := tokenKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", byte(k))
}

// Code returns the database representation of the kind.
func (k TokenKind) Code() string {
	return string(rune(k))
}

// IsValid reports whether k is a known token kind.
func (k TokenKind) IsValid() bool {
	_, ok := tokenKindNames[k]
	return ok
}

// IsFungible is true only for ERC20 tokens.
func (k TokenKind) IsFungible() bool {
	return k == ERC20
}

func (k TokenKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *TokenKind) UnmarshalText(b []byte) error {
	parsed, err := ParseTokenKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// UnderlyingToken is one weighted component of a basket token.
type UnderlyingToken struct {
	Identifier string          `json:"identifier"`
	Weight     decimal.Decimal `json:"weight"`
}

// ChainToken holds the chain-scoped part of an asset.
type ChainToken struct {
	Chain         ChainID           `json:"chain"`
	Kind          TokenKind         `json:"kind"`
	Address       common.Address    `json:"address"`
	CollectibleID string            `json:"collectible_id,omitempty"`
	Decimals      *uint8            `json:"decimals,omitempty"` // nil for placeholder tokens
	Protocol      string            `json:"protocol,omitempty"`
	Underlying    []UnderlyingToken `json:"underlying,omitempty"`
}

// Key returns the attributes the token identifier is derived from.
func (t *ChainToken) Key() TokenKey {
	return TokenKey{
		Chain:         t.Chain,
		Kind:          t.Kind,
		Address:       t.Address,
		CollectibleID: t.CollectibleID,
	}
}

// Asset is either a generic asset (Token == nil) or a chain token.
type Asset struct {
	Identifier    string      `json:"identifier"`
	Type          Type        `json:"type"`
	Name          string      `json:"name"`
	Symbol        string      `json:"symbol"`
	Started       *time.Time  `json:"started,omitempty"`
	SwappedFor    string      `json:"swapped_for,omitempty"`
	Forked        string      `json:"forked,omitempty"`
	Coingecko     *string     `json:"coingecko,omitempty"`     // nil: no mapping, "": unsupported
	Cryptocompare *string     `json:"cryptocompare,omitempty"` // nil: no mapping, "": unsupported
	Token         *ChainToken `json:"token,omitempty"`
}

// IsChainToken reports whether the asset carries chain token details.
func (a *Asset) IsChainToken() bool {
	return a != nil && a.Token != nil
}

// Components returns the underlying tokens of a basket, nil otherwise.
func (a *Asset) Components() []UnderlyingToken {
	if a == nil || a.Token == nil {
		return nil
	}
	return a.Token.Underlying
}

// References returns every asset identifier this asset points at.
func (a *Asset) References() []string {
	var refs []string
	if a.SwappedFor != "" {
		refs = append(refs, a.SwappedFor)
	}
	if a.Forked != "" {
		refs = append(refs, a.Forked)
	}
	for _, c := range a.Components() {
		refs = append(refs, c.Identifier)
	}
	return refs
}
