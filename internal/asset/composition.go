package asset

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var maxWeight = decimal.NewFromInt(1)

// ValidateComposition checks the underlying tokens of a basket. Each weight
// must be in (0, 1], a component may appear only once and never be the
// basket itself. Weights are not required to sum to one.
func ValidateComposition(parent string, components []UnderlyingToken) error {
	seen := make(map[string]struct{}, len(components))
	for i, c := range components {
		if c.Identifier == "" {
			return fmt.Errorf("%w: component %d of %s has no identifier", ErrInvalidComposition, i, parent)
		}
		if c.Identifier == parent {
			return fmt.Errorf("%w: %s references itself", ErrInvalidComposition, parent)
		}
		if !c.Weight.IsPositive() || c.Weight.GreaterThan(maxWeight) {
			return fmt.Errorf("%w: weight %s of %s in %s is outside (0, 1]",
				ErrInvalidComposition, c.Weight, c.Identifier, parent)
		}
		if _, dup := seen[c.Identifier]; dup {
			return fmt.Errorf("%w: %s appears twice in %s", ErrInvalidComposition, c.Identifier, parent)
		}
		seen[c.Identifier] = struct{}{}
	}
	return nil
}

// TotalWeight sums the component weights.
func TotalWeight(components []UnderlyingToken) decimal.Decimal {
	total := decimal.Zero
	for _, c := range components {
		total = total.Add(c.Weight)
	}
	return total
}
