package catalog

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockItemSource struct {
	items []Item
	err   error
	calls int
}

func (m *mockItemSource) ItemsByIDs(_ context.Context, ids []int64) ([]Item, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []Item
	for _, it := range m.items {
		if want[it.ID] {
			out = append(out, it)
		}
	}
	return out, nil
}

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func testItems() []Item {
	return []Item{
		{ID: 1, StorefrontID: 10, Name: "Coffee", Price: d("10.00"), Stock: d("5"), Active: true},
		{ID: 2, StorefrontID: 10, Name: "Cheese", Price: d("0.02"), Stock: d("1.5"), BulkSale: true, Active: true},
		{ID: 3, StorefrontID: 10, Name: "Retired", Price: d("3.00"), Stock: d("100"), Active: false},
		{ID: 4, StorefrontID: 20, Name: "Elsewhere", Price: d("1.00"), Stock: d("100"), Active: true},
	}
}

func TestReader_Validate(t *testing.T) {
	tests := []struct {
		name      string
		lines     []LineRequest
		wantErr   error
		wantIndex int
		wantTotal []decimal.Decimal
	}{
		{
			name:      "valid regular item",
			lines:     []LineRequest{{ItemID: 1, Quantity: d("2"), UnitPrice: d("10.00")}},
			wantTotal: []decimal.Decimal{d("20.00")},
		},
		{
			name:      "stock exactly matches request",
			lines:     []LineRequest{{ItemID: 1, Quantity: d("5"), UnitPrice: d("10")}},
			wantTotal: []decimal.Decimal{d("50.00")},
		},
		{
			name: "bulk item compares grams to kilograms",
			lines: []LineRequest{
				{ItemID: 1, Quantity: d("1"), UnitPrice: d("10.00")},
				{ItemID: 2, Quantity: d("1500"), UnitPrice: d("0.02")},
			},
			wantTotal: []decimal.Decimal{d("10.00"), d("30.00")},
		},
		{
			name: "bulk item over stock",
			lines: []LineRequest{
				{ItemID: 2, Quantity: d("1501"), UnitPrice: d("0.02")},
			},
			wantErr: ErrInsufficientStock,
		},
		{
			name:    "empty cart",
			wantErr: ErrEmptyCart,
		},
		{
			name: "zero quantity",
			lines: []LineRequest{
				{ItemID: 1, Quantity: d("1"), UnitPrice: d("10.00")},
				{ItemID: 1, Quantity: d("0"), UnitPrice: d("10.00")},
			},
			wantErr:   ErrInvalidQuantity,
			wantIndex: 1,
		},
		{
			name:    "unknown item",
			lines:   []LineRequest{{ItemID: 99, Quantity: d("1"), UnitPrice: d("1")}},
			wantErr: ErrItemNotFound,
		},
		{
			name:    "inactive item reported as not found",
			lines:   []LineRequest{{ItemID: 3, Quantity: d("1"), UnitPrice: d("3.00")}},
			wantErr: ErrItemNotFound,
		},
		{
			name: "item from another storefront",
			lines: []LineRequest{
				{ItemID: 1, Quantity: d("1"), UnitPrice: d("10.00")},
				{ItemID: 1, Quantity: d("1"), UnitPrice: d("10.00")},
				{ItemID: 4, Quantity: d("1"), UnitPrice: d("1.00")},
			},
			wantErr:   ErrItemNotOwned,
			wantIndex: 2,
		},
		{
			name:    "regular item over stock",
			lines:   []LineRequest{{ItemID: 1, Quantity: d("6"), UnitPrice: d("10.00")}},
			wantErr: ErrInsufficientStock,
		},
		{
			name: "repeated item shares stock",
			lines: []LineRequest{
				{ItemID: 1, Quantity: d("3"), UnitPrice: d("10.00")},
				{ItemID: 1, Quantity: d("3"), UnitPrice: d("10.00")},
			},
			wantErr:   ErrInsufficientStock,
			wantIndex: 1,
		},
		{
			name: "repeated item within stock",
			lines: []LineRequest{
				{ItemID: 1, Quantity: d("2"), UnitPrice: d("10.00")},
				{ItemID: 1, Quantity: d("3"), UnitPrice: d("10.00")},
			},
			wantTotal: []decimal.Decimal{d("20.00"), d("30.00")},
		},
		{
			name: "repeated bulk item summed in stock unit",
			lines: []LineRequest{
				{ItemID: 2, Quantity: d("1000"), UnitPrice: d("0.02")},
				{ItemID: 1, Quantity: d("1"), UnitPrice: d("10.00")},
				{ItemID: 2, Quantity: d("600"), UnitPrice: d("0.02")},
			},
			wantErr:   ErrInsufficientStock,
			wantIndex: 2,
		},
		{
			name:    "tampered price",
			lines:   []LineRequest{{ItemID: 1, Quantity: d("2"), UnitPrice: d("9.00")}},
			wantErr: ErrPriceMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader(&mockItemSource{items: testItems()})

			got, err := r.Validate(context.Background(), 10, tt.lines)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				var lineErr *LineError
				if errors.As(err, &lineErr) {
					assert.Equal(t, tt.wantIndex, lineErr.Index)
				}
				return
			}

			require.NoError(t, err)
			require.Len(t, got, len(tt.wantTotal))
			for i, want := range tt.wantTotal {
				assert.True(t, want.Equal(got[i].LineTotal),
					"line %d: expected total %s, got %s", i, want, got[i].LineTotal)
			}
		})
	}
}

func TestReader_Validate_UsesCatalogPrice(t *testing.T) {
	src := &mockItemSource{items: testItems()}
	r := NewReader(src)

	got, err := r.Validate(context.Background(), 10, []LineRequest{
		{ItemID: 1, Quantity: d("3"), UnitPrice: d("10")},
	})

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Coffee", got[0].Name)
	assert.Equal(t, "10.00", got[0].UnitPrice.StringFixed(2))
	assert.Equal(t, 1, src.calls, "items must be loaded in one batch")
}

func TestReader_Validate_PriceMismatchDetail(t *testing.T) {
	r := NewReader(&mockItemSource{items: testItems()})

	_, err := r.Validate(context.Background(), 10, []LineRequest{
		{ItemID: 1, Quantity: d("2"), UnitPrice: d("9.00")},
	})

	var lineErr *LineError
	require.ErrorAs(t, err, &lineErr)
	assert.Equal(t, int64(1), lineErr.ItemID)
	assert.Contains(t, lineErr.Error(), "expected 10.00, got 9.00")
}

func TestReader_Validate_SourceError(t *testing.T) {
	r := NewReader(&mockItemSource{err: errors.New("connection reset")})

	_, err := r.Validate(context.Background(), 10, []LineRequest{
		{ItemID: 1, Quantity: d("1"), UnitPrice: d("10")},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "load items")
}
