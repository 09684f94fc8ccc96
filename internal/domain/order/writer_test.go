package order

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/marketplace-orders/internal/domain/catalog"
	"github.com/xenking/marketplace-orders/internal/domain/coupon"
)

const (
	testStorefront = int64(10)
	testBuyer      = int64(42)
	testAddress    = int64(100)
)

// seededStore returns a store with five 10.00 items on the test storefront,
// an address owned by the test buyer and a granted WELCOME10 platform coupon.
func seededStore(limit int64) *memStore {
	s := newMemStore()
	s.fee = d("3.00")
	for id := int64(1); id <= 5; id++ {
		s.items[id] = catalog.Item{
			ID:           id,
			StorefrontID: testStorefront,
			Name:         "Item",
			Price:        d("10.00"),
			Stock:        d("100"),
			Active:       true,
		}
	}
	s.addresses[testAddress] = testBuyer
	s.coupons = append(s.coupons, &coupon.Coupon{
		Ref:        coupon.Ref{Scope: coupon.ScopePlatform, ID: 7},
		Code:       "WELCOME10",
		Kind:       coupon.KindPercentage,
		Value:      d("10"),
		StartsAt:   time.Now().Add(-time.Hour),
		EndsAt:     time.Now().Add(time.Hour),
		UsageLimit: &limit,
		Active:     true,
	})
	s.grants[grantKey{couponID: 7, buyerID: testBuyer}] = true
	return s
}

func pricedCart(t *testing.T, s *memStore, buyerID int64, couponCode string, lines ...CartLine) *Priced {
	t.Helper()
	p := NewPricer(catalog.NewReader(s), coupon.NewResolver(s))
	priced, err := p.Price(context.Background(), PriceRequest{
		StorefrontID: testStorefront,
		BuyerID:      buyerID,
		Lines:        lines,
		CouponCode:   couponCode,
		DeliveryFee:  s.fee,
	})
	require.NoError(t, err)
	return priced
}

func line(itemID int64, qty int64) CartLine {
	return CartLine{ItemID: itemID, Quantity: decimal.NewFromInt(qty), UnitPrice: d("10.00")}
}

func TestWriter_Place(t *testing.T) {
	s := seededStore(100)
	priced := pricedCart(t, s, testBuyer, "WELCOME10", line(1, 2))

	id, err := NewWriter(s).Place(context.Background(), priced, PlaceRequest{
		AddressID:       testAddress,
		AddressNote:     "ring twice",
		PaymentMethodID: 3,
		Note:            "leave at door",
	})
	require.NoError(t, err)

	o, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, "20.00", o.Subtotal.StringFixed(2))
	assert.Equal(t, "2.00", o.Discount.StringFixed(2))
	assert.Equal(t, "21.00", o.Total.StringFixed(2))
	assert.Equal(t, int64(3), o.PaymentMethodID)
	assert.Len(t, o.Lines, 1)
	require.NotNil(t, o.Address)
	assert.Equal(t, "ring twice", o.Address.Note)
	require.NotNil(t, o.Coupon)
	assert.Equal(t, "WELCOME10", o.Coupon.Code)
	require.Len(t, o.History, 1)
	assert.Equal(t, StatusPending, o.History[0].Status)
	assert.Equal(t, InitialNote, o.History[0].Note)
	assert.Equal(t, 1, s.usageCount())
}

func TestWriter_PlaceWithoutCoupon(t *testing.T) {
	s := seededStore(100)
	priced := pricedCart(t, s, testBuyer, "", line(1, 1), line(2, 1))

	id, err := NewWriter(s).Place(context.Background(), priced, PlaceRequest{AddressID: testAddress})
	require.NoError(t, err)

	o, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, o.Coupon)
	assert.Equal(t, "23.00", o.Total.StringFixed(2))
	assert.Zero(t, s.usageCount())
}

func TestWriter_PlaceIsAtomic(t *testing.T) {
	s := seededStore(100)
	s.failLine = 3
	priced := pricedCart(t, s, testBuyer, "WELCOME10",
		line(1, 1), line(2, 1), line(3, 1), line(4, 1), line(5, 1))

	_, err := NewWriter(s).Place(context.Background(), priced, PlaceRequest{AddressID: testAddress})

	require.ErrorIs(t, err, errInjected)
	assert.Contains(t, err.Error(), "insert line 2")
	assert.Zero(t, s.orderCount(), "no order header may survive")
	assert.Zero(t, s.usageCount(), "no coupon usage may survive")
}

func TestWriter_AddressMustBelongToBuyer(t *testing.T) {
	s := seededStore(100)
	s.addresses[200] = 99
	priced := pricedCart(t, s, testBuyer, "WELCOME10", line(1, 1))

	_, err := NewWriter(s).Place(context.Background(), priced, PlaceRequest{AddressID: 200})

	require.ErrorIs(t, err, ErrAddressNotFound)
	assert.Zero(t, s.orderCount())
	assert.Zero(t, s.usageCount())
}

func TestWriter_CouponRaceLost(t *testing.T) {
	s := seededStore(1)
	s.grants[grantKey{couponID: 7, buyerID: 43}] = true

	// Both buyers resolve the coupon before either order is written.
	first := pricedCart(t, s, testBuyer, "WELCOME10", line(1, 1))
	second := pricedCart(t, s, 43, "WELCOME10", line(1, 1))
	s.addresses[101] = 43

	w := NewWriter(s)
	_, err := w.Place(context.Background(), first, PlaceRequest{AddressID: testAddress})
	require.NoError(t, err)

	_, err = w.Place(context.Background(), second, PlaceRequest{AddressID: 101})
	require.ErrorIs(t, err, coupon.ErrRaceLost)
	var cErr *coupon.Error
	require.ErrorAs(t, err, &cErr)
	assert.Equal(t, "WELCOME10", cErr.Code)

	assert.Equal(t, 1, s.orderCount())
	assert.Equal(t, 1, s.usageCount())
}

func TestWriter_NothingToPlace(t *testing.T) {
	_, err := NewWriter(newMemStore()).Place(context.Background(), &Priced{}, PlaceRequest{})
	require.Error(t, err)
}
