package order

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace-orders/internal/domain/catalog"
	"github.com/xenking/marketplace-orders/internal/domain/coupon"
)

var errInjected = errors.New("injected fault")

type grantKey struct {
	couponID int64
	buyerID  int64
}

// memStore is an in-memory marketplace used to exercise the domain end to
// end. Do holds the store lock for the whole transaction, which plays the
// role of the coupon row lock.
type memStore struct {
	mu sync.Mutex

	items     map[int64]catalog.Item
	addresses map[int64]int64
	coupons   []*coupon.Coupon
	grants    map[grantKey]bool
	usages    []Usage
	orders    map[int64]*Order
	nextID    int64
	fee       decimal.Decimal

	// failLine makes the n-th line insert (1-based, counted across the
	// store's lifetime) fail.
	failLine    int
	lineInserts int
}

func newMemStore() *memStore {
	return &memStore{
		items:     make(map[int64]catalog.Item),
		addresses: make(map[int64]int64),
		grants:    make(map[grantKey]bool),
		orders:    make(map[int64]*Order),
	}
}

// catalog.ItemSource

func (s *memStore) ItemsByIDs(_ context.Context, ids []int64) ([]catalog.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []catalog.Item
	for _, id := range ids {
		if it, ok := s.items[id]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}

// coupon.Repository

func (s *memStore) find(scope coupon.Scope, storefrontID int64, code string) (*coupon.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.coupons {
		if c.Scope != scope || !strings.EqualFold(c.Code, code) {
			continue
		}
		if scope == coupon.ScopeStorefront && c.StorefrontID != storefrontID {
			continue
		}
		cp := *c
		cp.Uses = s.countUsages(c.Ref)
		return &cp, nil
	}
	return nil, coupon.ErrNotFound
}

func (s *memStore) FindStorefrontCoupon(_ context.Context, storefrontID int64, code string) (*coupon.Coupon, error) {
	return s.find(coupon.ScopeStorefront, storefrontID, code)
}

func (s *memStore) FindPlatformCoupon(_ context.Context, code string) (*coupon.Coupon, error) {
	return s.find(coupon.ScopePlatform, 0, code)
}

func (s *memStore) HasUsage(_ context.Context, ref coupon.Ref, buyerID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasUsage(ref, buyerID), nil
}

func (s *memStore) IsGranted(_ context.Context, couponID, buyerID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grants[grantKey{couponID: couponID, buyerID: buyerID}], nil
}

func (s *memStore) countUsages(ref coupon.Ref) int64 {
	var n int64
	for _, u := range s.usages {
		if u.Coupon == ref {
			n++
		}
	}
	return n
}

func (s *memStore) hasUsage(ref coupon.Ref, buyerID int64) bool {
	for _, u := range s.usages {
		if u.Coupon == ref && u.BuyerID == buyerID {
			return true
		}
	}
	return false
}

// DeliveryFees

func (s *memStore) Fee(_ context.Context, _, _ int64) (decimal.Decimal, error) {
	return s.fee, nil
}

// UnitOfWork

func (s *memStore) Do(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if tx.order != nil {
		s.orders[tx.order.ID] = tx.order
	}
	s.usages = append(s.usages, tx.usages...)
	return nil
}

type memTx struct {
	s      *memStore
	order  *Order
	usages []Usage
}

func (t *memTx) InsertOrder(_ context.Context, o NewOrder) (int64, error) {
	t.s.nextID++
	order := &Order{
		ID:              t.s.nextID,
		BuyerID:         o.BuyerID,
		StorefrontID:    o.StorefrontID,
		Status:          o.Status,
		PaymentMethodID: o.PaymentMethodID,
		Subtotal:        o.Subtotal,
		Discount:        o.Discount,
		DeliveryFee:     o.DeliveryFee,
		Total:           o.Total,
		Note:            o.Note,
		Active:          true,
		CreatedAt:       time.Now(),
	}
	if o.Coupon != nil {
		order.Coupon = &AppliedCoupon{Ref: o.Coupon.Ref, Code: o.Coupon.Code, Amount: o.Coupon.Amount}
	}
	t.order = order
	return order.ID, nil
}

func (t *memTx) InsertLine(_ context.Context, _ int64, l Line) error {
	t.s.lineInserts++
	if t.s.failLine == t.s.lineInserts {
		return errInjected
	}
	t.order.Lines = append(t.order.Lines, l)
	return nil
}

func (t *memTx) InsertAddress(_ context.Context, _, buyerID int64, a Address) error {
	if owner, ok := t.s.addresses[a.AddressID]; !ok || owner != buyerID {
		return ErrAddressNotFound
	}
	t.order.Address = &a
	return nil
}

func (t *memTx) RedeemCoupon(_ context.Context, u Usage) error {
	var c *coupon.Coupon
	for _, cand := range t.s.coupons {
		if cand.Ref == u.Coupon {
			c = cand
		}
	}
	if c == nil {
		return errors.New("coupon vanished")
	}
	if c.UsageLimit != nil && t.s.countUsages(u.Coupon) >= *c.UsageLimit {
		return coupon.ErrRaceLost
	}
	if t.s.hasUsage(u.Coupon, u.BuyerID) {
		return coupon.ErrRaceLost
	}
	t.usages = append(t.usages, u)
	return nil
}

func (t *memTx) AppendHistory(_ context.Context, _ int64, st Status, note string) error {
	t.order.History = append(t.order.History, HistoryEntry{Status: st, Note: note, CreatedAt: time.Now()})
	return nil
}

// Repository

func (s *memStore) Get(_ context.Context, id int64) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok || o.DeletedAt != nil {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *memStore) ListByBuyer(_ context.Context, buyerID int64) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Order
	for _, o := range s.orders {
		if o.BuyerID == buyerID && o.DeletedAt == nil {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *memStore) UpdateStatus(_ context.Context, id int64, from, to Status, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok || o.DeletedAt != nil {
		return ErrNotFound
	}
	if o.Status != from {
		return ErrStatusChangedConcurrently
	}
	o.Status = to
	o.History = append(o.History, HistoryEntry{Status: to, Note: note, CreatedAt: time.Now()})
	return nil
}

func (s *memStore) SoftDelete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok || o.DeletedAt != nil {
		return ErrNotFound
	}
	if o.Status != StatusPending {
		return ErrStatusChangedConcurrently
	}
	now := time.Now()
	o.DeletedAt = &now
	return nil
}

func (s *memStore) CreateRating(_ context.Context, r Rating) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[r.OrderID]
	if !ok {
		return ErrNotFound
	}
	if o.Rating != nil {
		return ErrAlreadyRated
	}
	o.Rating = &r
	return nil
}

func (s *memStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *memStore) usageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.usages)
}

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}
