package migration

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Combine-Capital/assetdb/internal/asset"
)

type basket struct {
	parent     string
	components []asset.UnderlyingToken
	seen       map[string]struct{}
}

// baskets rebuilds compositions in legacy row order.
type baskets struct {
	order    []*basket
	byParent map[string]*basket
}

func newBaskets() *baskets {
	return &baskets{byParent: make(map[string]*basket)}
}

// add appends a component to its parent basket. It returns false, leaving
// the basket untouched, when the parent already holds that component.
func (b *baskets) add(parent, component string, weight decimal.Decimal) bool {
	bk, ok := b.byParent[parent]
	if !ok {
		bk = &basket{parent: parent, seen: make(map[string]struct{})}
		b.byParent[parent] = bk
		b.order = append(b.order, bk)
	}
	if _, dup := bk.seen[component]; dup {
		return false
	}
	bk.seen[component] = struct{}{}
	bk.components = append(bk.components, asset.UnderlyingToken{Identifier: component, Weight: weight})
	return true
}

func (b *baskets) validate() error {
	for _, bk := range b.order {
		if err := asset.ValidateComposition(bk.parent, bk.components); err != nil {
			return err
		}
	}
	return nil
}

func (b *baskets) len() int {
	n := 0
	for _, bk := range b.order {
		n += len(bk.components)
	}
	return n
}

// insert writes every component into table, with its position inside the
// basket when withPosition is set.
func (b *baskets) insert(ctx context.Context, tx *Tx, table string, withPosition bool) error {
	query := fmt.Sprintf(
		`INSERT INTO %s (parent_identifier, component_identifier, weight) VALUES (?, ?, ?)`, table)
	if withPosition {
		query = fmt.Sprintf(
			`INSERT INTO %s (parent_identifier, component_identifier, weight, position) VALUES (?, ?, ?, ?)`, table)
	}

	var rows [][]interface{}
	for _, bk := range b.order {
		for i, c := range bk.components {
			row := []interface{}{bk.parent, c.Identifier, c.Weight.String()}
			if withPosition {
				row = append(row, i)
			}
			rows = append(rows, row)
		}
	}
	return bulkInsert(ctx, tx, query, rows)
}

func parseWeight(raw, parent, component string) (decimal.Decimal, error) {
	weight, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: weight %q of %s in %s: %v",
			asset.ErrInvalidComposition, raw, component, parent, err)
	}
	return weight, nil
}

func bulkInsert(ctx context.Context, tx *Tx, query string, rows [][]interface{}) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := tx.Preparex(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare %s: %w", firstLine(query), err)
	}
	defer stmt.Close()

	for _, args := range rows {
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("%s: %w", firstLine(query), err)
		}
	}
	return nil
}
