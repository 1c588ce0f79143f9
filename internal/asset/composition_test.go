package asset

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func component(id, weight string) UnderlyingToken {
	return UnderlyingToken{Identifier: id, Weight: decimal.RequireFromString(weight)}
}

func TestValidateComposition(t *testing.T) {
	const parent = "eip155:1/ERC20:" + wethAddress

	tests := []struct {
		name       string
		components []UnderlyingToken
		wantErr    bool
	}{
		{
			name: "basket below one",
			components: []UnderlyingToken{
				component("A", "0.5055"),
				component("B", "0.1545"),
				component("C", "0.34"),
			},
		},
		{
			name:       "single full weight",
			components: []UnderlyingToken{component("A", "1")},
		},
		{
			name:       "empty basket",
			components: nil,
		},
		{
			name: "weights are not required to sum to one",
			components: []UnderlyingToken{
				component("A", "0.9"),
				component("B", "0.9"),
			},
		},
		{
			name:       "weight above one",
			components: []UnderlyingToken{component("A", "1.5")},
			wantErr:    true,
		},
		{
			name:       "zero weight",
			components: []UnderlyingToken{component("A", "0")},
			wantErr:    true,
		},
		{
			name:       "negative weight",
			components: []UnderlyingToken{component("A", "-0.1")},
			wantErr:    true,
		},
		{
			name: "duplicate component",
			components: []UnderlyingToken{
				component("A", "0.5"),
				component("A", "0.5"),
			},
			wantErr: true,
		},
		{
			name:       "self reference",
			components: []UnderlyingToken{component(parent, "0.5")},
			wantErr:    true,
		},
		{
			name:       "missing identifier",
			components: []UnderlyingToken{component("", "0.5")},
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateComposition(parent, tt.components)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidComposition)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestTotalWeight(t *testing.T) {
	total := TotalWeight([]UnderlyingToken{
		component("A", "0.5055"),
		component("B", "0.1545"),
		component("C", "0.34"),
	})

	assert.True(t, total.Equal(decimal.NewFromInt(1)), "got %s", total)
}
