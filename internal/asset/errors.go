package asset

import "errors"

var (
	// ErrUnknownAsset is returned when no asset exists for an identifier.
	ErrUnknownAsset = errors.New("unknown asset")

	// ErrDuplicateIdentifier is returned when an identifier is already owned by
	// an asset whose stored attributes conflict with the supplied ones.
	ErrDuplicateIdentifier = errors.New("duplicate identifier")

	// ErrMalformedIdentifier is returned when a string does not follow the
	// canonical identifier grammar.
	ErrMalformedIdentifier = errors.New("malformed identifier")

	// ErrAmbiguousOrUnknownAsset is returned by symbol resolution when zero or
	// more than one asset matches.
	ErrAmbiguousOrUnknownAsset = errors.New("ambiguous or unknown asset")

	// ErrAssetInUse is returned when deleting an asset still referenced by a
	// composition or a swapped_for pointer.
	ErrAssetInUse = errors.New("asset in use")

	// ErrInvalidComposition is returned when basket weights or shape are invalid.
	ErrInvalidComposition = errors.New("invalid composition")
)
