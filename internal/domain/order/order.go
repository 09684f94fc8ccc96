package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace-orders/internal/domain/coupon"
)

// Order is a persisted purchase with its dependent records.
type Order struct {
	ID              int64
	BuyerID         int64
	StorefrontID    int64
	Status          Status
	PaymentMethodID int64
	Subtotal        decimal.Decimal
	Discount        decimal.Decimal
	DeliveryFee     decimal.Decimal
	Total           decimal.Decimal
	Note            string
	Coupon          *AppliedCoupon
	Active          bool
	Lines           []Line
	Address         *Address
	History         []HistoryEntry
	Rating          *Rating
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeletedAt       *time.Time
}

// AppliedCoupon records which coupon discounted an order and by how much.
type AppliedCoupon struct {
	Ref    coupon.Ref
	Code   string
	Amount decimal.Decimal
}

// Line is a catalog item frozen at order time.
type Line struct {
	ItemID    int64
	Name      string
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
	Note      string
}

// Address is the snapshot of the delivery address used for an order.
type Address struct {
	AddressID int64
	Line1     string
	City      string
	Note      string
}

// HistoryEntry is one row of the append-only status trail.
type HistoryEntry struct {
	Status    Status
	Note      string
	CreatedAt time.Time
}

// Rating is the buyer's single review of a delivered order.
type Rating struct {
	OrderID   int64
	BuyerID   int64
	Score     int
	Comment   string
	CreatedAt time.Time
}

// Repository defines read and lifecycle persistence for placed orders. Every
// read excludes soft-deleted orders.
type Repository interface {
	// Get loads an order with lines, address, history and rating.
	Get(ctx context.Context, id int64) (*Order, error)
	ListByBuyer(ctx context.Context, buyerID int64) ([]Order, error)
	// UpdateStatus moves the order from one status to another and appends a
	// history row in one transaction. It returns ErrStatusChangedConcurrently
	// when the stored status is no longer from.
	UpdateStatus(ctx context.Context, id int64, from, to Status, note string) error
	// SoftDelete marks a pending order deleted. It returns
	// ErrStatusChangedConcurrently when the order left pending meanwhile.
	SoftDelete(ctx context.Context, id int64) error
	// CreateRating returns ErrAlreadyRated when the order already has one.
	CreateRating(ctx context.Context, r Rating) error
}
