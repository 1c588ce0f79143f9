package vault

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/Combine-Capital/assetdb/internal/asset"
	"github.com/Combine-Capital/assetdb/internal/manager"
	"github.com/Combine-Capital/assetdb/internal/oracle"
)

// TokenResolver looks up the tokens a vault entry names.
type TokenResolver interface {
	GetAsset(ctx context.Context, id string) (*asset.Asset, error)
	ResolveBySymbol(ctx context.Context, symbol string, typ *asset.Type) (*asset.Asset, error)
}

// Result holds the decoded events of one batch and the entries skipped with
// a warning.
type Result struct {
	Deposits    []Event
	Withdrawals []Event
	Warnings    []string
}

// Processor turns raw vault entries into priced events.
type Processor struct {
	resolver  TokenResolver
	prices    oracle.PriceOracle
	chain     asset.ChainID
	priceSpan time.Duration
	logger    zerolog.Logger
}

// NewProcessor creates a processor for vaults deployed on chain.
func NewProcessor(resolver TokenResolver, prices oracle.PriceOracle, chain asset.ChainID, logger zerolog.Logger) *Processor {
	return &Processor{
		resolver:  resolver,
		prices:    prices,
		chain:     chain,
		priceSpan: 24 * time.Hour,
		logger:    logger.With().Str("component", "vault").Logger(),
	}
}

// Process decodes one batch. Entries whose tokens cannot be resolved are
// skipped with a warning, price failures count as a zero price, and malformed
// entries abort the batch.
func (p *Processor) Process(ctx context.Context, events *RawAccountEvents) (*Result, error) {
	result := &Result{}
	batch := oracle.NewBatch(p.prices, p.priceSpan, p.logger)

	for _, raw := range events.Deposits {
		event, warning, err := p.decode(ctx, batch, EventDeposit, raw)
		if err != nil {
			return nil, err
		}
		if warning != "" {
			result.Warnings = append(result.Warnings, warning)
			continue
		}
		result.Deposits = append(result.Deposits, *event)
	}
	for _, raw := range events.Withdrawals {
		event, warning, err := p.decode(ctx, batch, EventWithdrawal, raw)
		if err != nil {
			return nil, err
		}
		if warning != "" {
			result.Warnings = append(result.Warnings, warning)
			continue
		}
		result.Withdrawals = append(result.Withdrawals, *event)
	}

	result.Warnings = append(result.Warnings, batch.Warnings()...)
	p.logger.Info().
		Int("deposits", len(result.Deposits)).
		Int("withdrawals", len(result.Withdrawals)).
		Int("warnings", len(result.Warnings)).
		Msg("Processed vault events")
	return result, nil
}

func (p *Processor) decode(ctx context.Context, batch *oracle.Batch, typ EventType, raw RawEvent) (*Event, string, error) {
	id, err := parseEventID(raw.ID)
	if err != nil {
		return nil, "", err
	}
	timestamp, err := parseTimestamp(raw.Timestamp)
	if err != nil {
		return nil, "", fmt.Errorf("event %s: %w", raw.ID, err)
	}
	block, err := strconv.ParseUint(raw.BlockNumber, 10, 64)
	if err != nil {
		return nil, "", fmt.Errorf("event %s: malformed block number %q", raw.ID, raw.BlockNumber)
	}

	// deposits move underlying into shares, withdrawals the other way
	fromRef, toRef := raw.Vault.Token, raw.Vault.ShareToken
	fromRaw, toRaw := raw.TokenAmount, raw.SharesMinted
	if typ == EventWithdrawal {
		fromRef, toRef = toRef, fromRef
		fromRaw, toRaw = raw.SharesBurnt, raw.TokenAmount
	}
	fromAmount, err := parseAmount(fromRaw)
	if err != nil {
		return nil, "", fmt.Errorf("event %s: %w", raw.ID, err)
	}
	toAmount, err := parseAmount(toRaw)
	if err != nil {
		return nil, "", fmt.Errorf("event %s: %w", raw.ID, err)
	}

	fromAsset, err := p.resolveToken(ctx, fromRef)
	var toAsset *asset.Asset
	if err == nil {
		toAsset, err = p.resolveToken(ctx, toRef)
	}
	if errors.Is(err, errUnresolvable) {
		warning := fmt.Sprintf("Ignoring %s in vault from %s to %s because the token is not recognized: %v",
			typ, fromRef.Symbol, toRef.Symbol, err)
		p.logger.Warn().Str("event_id", raw.ID).Msg(warning)
		return nil, warning, nil
	}
	if err != nil {
		return nil, "", err
	}

	from := Balance{Amount: normalize(fromAmount, *fromAsset.Token.Decimals)}
	from.USDValue = from.Amount.Mul(batch.Price(ctx, fromAsset, timestamp))
	to := Balance{Amount: normalize(toAmount, *toAsset.Token.Decimals)}
	to.USDValue = to.Amount.Mul(batch.Price(ctx, toAsset, timestamp))

	return &Event{
		Type:        typ,
		BlockNumber: block,
		Timestamp:   timestamp,
		FromAsset:   fromAsset,
		From:        from,
		ToAsset:     toAsset,
		To:          to,
		TxHash:      id.txHash,
		LogIndex:    id.logIndex,
	}, "", nil
}

var errUnresolvable = errors.New("unresolvable token")

// resolveToken finds the chain token for a vault token reference: by its
// address when that is a known token, otherwise by its symbol. The token must
// have known decimals to normalize amounts.
func (p *Processor) resolveToken(ctx context.Context, ref RawToken) (*asset.Asset, error) {
	var found *asset.Asset
	if address, err := manager.ParseContractAddress(ref.ID); err == nil {
		id, err := asset.Encode(asset.TokenKey{Chain: p.chain, Kind: asset.ERC20, Address: address})
		if err != nil {
			return nil, err
		}
		a, err := p.resolver.GetAsset(ctx, id)
		switch {
		case err == nil:
			found = a
		case !errors.Is(err, asset.ErrUnknownAsset):
			return nil, err
		}
	}

	if found == nil {
		tokenType := asset.TypeEVMToken
		a, err := p.resolver.ResolveBySymbol(ctx, ref.Symbol, &tokenType)
		switch {
		case err == nil:
			found = a
		case errors.Is(err, asset.ErrAmbiguousOrUnknownAsset), errors.Is(err, manager.ErrInvalidArgument):
			return nil, fmt.Errorf("%w: %s (%s)", errUnresolvable, ref.Symbol, ref.ID)
		default:
			return nil, err
		}
	}

	if found.Token == nil || found.Token.Decimals == nil {
		return nil, fmt.Errorf("%w: %s has no known decimals", errUnresolvable, found.Identifier)
	}
	if found.Token.Chain != p.chain {
		return nil, fmt.Errorf("%w: %s is not on chain %s", errUnresolvable, found.Identifier, p.chain)
	}
	return found, nil
}
