// Package vault decodes yield vault deposit and withdrawal events, as served
// by a vault subgraph, into priced asset movements.
package vault

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/Combine-Capital/assetdb/internal/asset"
)

// EventType distinguishes deposits from withdrawals.
type EventType string

const (
	EventDeposit    EventType = "deposit"
	EventWithdrawal EventType = "withdrawal"
)

// RawToken is a token reference inside a subgraph vault entry.
type RawToken struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
}

// RawVault names the underlying and share tokens of a vault.
type RawVault struct {
	Token      RawToken `json:"token"`
	ShareToken RawToken `json:"shareToken"`
}

// RawEvent is one deposit or withdrawal entry. Numbers arrive as decimal
// strings; the timestamp is in milliseconds. The id has the form
// <account>-<tx hash>-<log index>.
type RawEvent struct {
	ID           string   `json:"id"`
	BlockNumber  string   `json:"blockNumber"`
	Timestamp    string   `json:"timestamp"`
	TokenAmount  string   `json:"tokenAmount"`
	SharesMinted string   `json:"sharesMinted,omitempty"`
	SharesBurnt  string   `json:"sharesBurnt,omitempty"`
	Vault        RawVault `json:"vault"`
}

// RawAccountEvents is the per-account payload of the events query.
type RawAccountEvents struct {
	ID          string     `json:"id"`
	Deposits    []RawEvent `json:"deposits"`
	Withdrawals []RawEvent `json:"withdrawals"`
}

// DecodeAccountEvents reads an events query response and returns the events
// of its first account. A response without accounts yields no events.
func DecodeAccountEvents(r io.Reader) (*RawAccountEvents, error) {
	var payload struct {
		Data *struct {
			Accounts []RawAccountEvents `json:"accounts"`
		} `json:"data"`
		Accounts []RawAccountEvents `json:"accounts"`
	}
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode vault events: %w", err)
	}

	accounts := payload.Accounts
	if payload.Data != nil {
		accounts = payload.Data.Accounts
	}
	if len(accounts) == 0 {
		return &RawAccountEvents{}, nil
	}
	return &accounts[0], nil
}

// Balance is an amount of an asset with its value in USD.
type Balance struct {
	Amount   decimal.Decimal `json:"amount"`
	USDValue decimal.Decimal `json:"usd_value"`
}

// Event is a decoded vault movement from one asset into another.
type Event struct {
	Type        EventType    `json:"event_type"`
	BlockNumber uint64       `json:"block_number"`
	Timestamp   time.Time    `json:"timestamp"`
	FromAsset   *asset.Asset `json:"from_asset"`
	From        Balance      `json:"from_value"`
	ToAsset     *asset.Asset `json:"to_asset"`
	To          Balance      `json:"to_value"`
	TxHash      common.Hash  `json:"tx_hash"`
	LogIndex    uint64       `json:"log_index"`
}

type eventID struct {
	txHash   common.Hash
	logIndex uint64
}

func parseEventID(id string) (eventID, error) {
	parts := strings.Split(id, "-")
	if len(parts) != 3 {
		return eventID{}, fmt.Errorf("event id %q: expected <account>-<tx hash>-<log index>", id)
	}
	if len(parts[1]) != 66 || !strings.HasPrefix(parts[1], "0x") {
		return eventID{}, fmt.Errorf("event id %q: malformed transaction hash", id)
	}
	logIndex, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return eventID{}, fmt.Errorf("event id %q: malformed log index: %w", id, err)
	}
	return eventID{txHash: common.HexToHash(parts[1]), logIndex: logIndex}, nil
}

func parseTimestamp(ms string) (time.Time, error) {
	v, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed timestamp %q: %w", ms, err)
	}
	return time.Unix(v/1000, 0).UTC(), nil
}

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("malformed token amount %q", raw)
	}
	return amount, nil
}

// normalize scales a raw token amount by the token's decimals.
func normalize(amount *big.Int, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(amount, -int32(decimals))
}
