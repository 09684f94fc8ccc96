package catalog

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Reader validates cart lines against live catalog state. It never writes.
type Reader struct {
	items ItemSource
}

// NewReader creates a Reader backed by the given ItemSource.
func NewReader(items ItemSource) *Reader {
	return &Reader{items: items}
}

// Validate checks every requested line against the storefront's catalog and
// returns the lines re-priced with authoritative prices. Lines are checked in
// order and the first failure is returned as a *LineError.
func (r *Reader) Validate(ctx context.Context, storefrontID int64, lines []LineRequest) ([]ValidatedLine, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	ids := make([]int64, 0, len(lines))
	for i, l := range lines {
		if !l.Quantity.IsPositive() {
			return nil, &LineError{Index: i, ItemID: l.ItemID, Err: ErrInvalidQuantity}
		}
		ids = append(ids, l.ItemID)
	}

	fetched, err := r.items.ItemsByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "load items")
	}
	byID := make(map[int64]Item, len(fetched))
	for _, it := range fetched {
		byID[it.ID] = it
	}

	// Lines of the same item share its stock.
	reserved := make(map[int64]decimal.Decimal, len(byID))
	out := make([]ValidatedLine, len(lines))
	for i, l := range lines {
		it, ok := byID[l.ItemID]
		if !ok || !it.Active {
			return nil, &LineError{Index: i, ItemID: l.ItemID, Err: ErrItemNotFound}
		}
		if it.StorefrontID != storefrontID {
			return nil, &LineError{Index: i, ItemID: l.ItemID, Err: ErrItemNotOwned}
		}
		needed := reserved[it.ID].Add(stockNeeded(it, l.Quantity))
		if it.Stock.LessThan(needed) {
			return nil, &LineError{
				Index:  i,
				ItemID: l.ItemID,
				Err:    ErrInsufficientStock,
				Detail: "requested " + needed.String() + ", available " + it.Stock.String(),
			}
		}
		reserved[it.ID] = needed
		if !l.UnitPrice.Equal(it.Price) {
			return nil, &LineError{
				Index:  i,
				ItemID: l.ItemID,
				Err:    ErrPriceMismatch,
				Detail: "expected " + it.Price.StringFixed(2) + ", got " + l.UnitPrice.StringFixed(2),
			}
		}

		out[i] = ValidatedLine{
			ItemID:    it.ID,
			Name:      it.Name,
			Quantity:  l.Quantity,
			UnitPrice: it.Price,
			LineTotal: l.Quantity.Mul(it.Price).Round(2),
			BulkSale:  it.BulkSale,
		}
	}
	return out, nil
}

// stockNeeded expresses the requested quantity in the unit the item's stock
// is kept in.
func stockNeeded(it Item, qty decimal.Decimal) decimal.Decimal {
	if it.BulkSale {
		return qty.Div(BulkUnitFactor)
	}
	return qty
}
