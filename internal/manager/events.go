package manager

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Combine-Capital/assetdb/internal/asset"
)

// EventPublisher records asset lifecycle events as structured log entries.
// Every event carries a fresh event id so downstream log processors can
// de-duplicate. A nil publisher drops events.
type EventPublisher struct {
	logger zerolog.Logger
	source string
}

// NewEventPublisher creates a new EventPublisher instance.
func NewEventPublisher(logger zerolog.Logger) *EventPublisher {
	return &EventPublisher{
		logger: logger.With().Str("component", "events").Logger(),
		source: "assetdb",
	}
}

func (p *EventPublisher) event(level zerolog.Level, name string) *zerolog.Event {
	return p.logger.WithLevel(level).
		Str("event", name).
		Str("event_id", uuid.New().String()).
		Str("source", p.source)
}

// PublishAssetCreated records the creation of an asset.
func (p *EventPublisher) PublishAssetCreated(ctx context.Context, a *asset.Asset) {
	if p == nil {
		return
	}
	e := p.event(zerolog.InfoLevel, "asset_created").
		Str("identifier", a.Identifier).
		Str("type", a.Type.String()).
		Str("symbol", a.Symbol)
	if a.Token != nil {
		e = e.Stringer("chain", a.Token.Chain).Str("protocol", a.Token.Protocol)
	}
	e.Msg("Asset created")
}

// PublishPlaceholderCreated records an address-only token created as a
// missing component of parent.
func (p *EventPublisher) PublishPlaceholderCreated(ctx context.Context, placeholder *asset.Asset, parent string) {
	if p == nil {
		return
	}
	p.event(zerolog.InfoLevel, "placeholder_created").
		Str("identifier", placeholder.Identifier).
		Str("parent", parent).
		Msg("Placeholder token created for underlying component")
}

// PublishMetadataMismatch records a resolution whose caller metadata differs
// from the stored asset. The stored asset is never changed.
func (p *EventPublisher) PublishMetadataMismatch(ctx context.Context, stored *asset.Asset, fields []string) {
	if p == nil {
		return
	}
	p.event(zerolog.WarnLevel, "metadata_mismatch").
		Str("identifier", stored.Identifier).
		Strs("fields", fields).
		Msg("Supplied token metadata differs from the stored asset")
}

// PublishAssetDeleted records the removal of an asset.
func (p *EventPublisher) PublishAssetDeleted(ctx context.Context, id string) {
	if p == nil {
		return
	}
	p.event(zerolog.InfoLevel, "asset_deleted").
		Str("identifier", id).
		Msg("Asset deleted")
}
