package catalog

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Sentinel errors reported by Reader.Validate. They are always wrapped in a
// *LineError that identifies the offending cart line.
var (
	ErrEmptyCart         = errors.New("cart has no lines")
	ErrInvalidQuantity   = errors.New("quantity must be greater than 0")
	ErrItemNotFound      = errors.New("item not found")
	ErrItemNotOwned      = errors.New("item does not belong to storefront")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrPriceMismatch     = errors.New("unit price does not match catalog price")
)

// BulkUnitFactor converts a bulk-sale cart quantity into the unit stock is
// kept in (grams in the cart, kilograms on the shelf).
var BulkUnitFactor = decimal.NewFromInt(1000)

// Item is the authoritative catalog state of a single item.
type Item struct {
	ID           int64
	StorefrontID int64
	Name         string
	Price        decimal.Decimal
	Stock        decimal.Decimal
	BulkSale     bool
	Active       bool
}

// LineRequest is one cart line as supplied by the caller.
type LineRequest struct {
	ItemID    int64
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
}

// ValidatedLine is a cart line re-priced from the catalog.
type ValidatedLine struct {
	ItemID    int64
	Name      string
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
	BulkSale  bool
}

// LineError reports a failed cart line.
type LineError struct {
	Index  int
	ItemID int64
	Detail string
	Err    error
}

func (e *LineError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("line %d (item %d): %s: %s", e.Index, e.ItemID, e.Err, e.Detail)
	}
	return fmt.Sprintf("line %d (item %d): %s", e.Index, e.ItemID, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// ItemSource loads catalog items. Missing ids are simply absent from the
// result.
type ItemSource interface {
	ItemsByIDs(ctx context.Context, ids []int64) ([]Item, error)
}
