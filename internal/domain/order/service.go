package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/marketplace-orders/internal/domain/catalog"
	"github.com/xenking/marketplace-orders/internal/domain/coupon"
)

const instrumentationName = "github.com/xenking/marketplace-orders/internal/domain/order"

// EventKind names an order notification.
type EventKind string

const (
	EventPlaced        EventKind = "order.placed"
	EventStatusChanged EventKind = "order.status_changed"
	EventDeleted       EventKind = "order.deleted"
)

// Event is handed to the Notifier after a change has been committed.
type Event struct {
	Kind         EventKind
	OrderID      int64
	BuyerID      int64
	StorefrontID int64
	Status       Status
	OccurredAt   time.Time
}

// Notifier is informed of committed order changes. Delivery is best effort:
// a failure is logged and never undoes the change.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// DeliveryFees supplies the delivery fee for a storefront and address.
type DeliveryFees interface {
	Fee(ctx context.Context, storefrontID, addressID int64) (decimal.Decimal, error)
}

// PlaceOrderRequest holds the input for quoting or placing an order.
type PlaceOrderRequest struct {
	StorefrontID    int64
	BuyerID         int64
	Lines           []CartLine
	CouponCode      string
	AddressID       int64
	AddressNote     string
	PaymentMethodID int64
	Note            string
}

// PlaceOrderResult holds the output of a successfully placed order.
type PlaceOrderResult struct {
	OrderID int64
	Status  Status
	Priced  *Priced
}

// Options configures optional Service dependencies.
type Options struct {
	Notifier       Notifier
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Service is the entry point for order placement and lifecycle operations.
type Service struct {
	pricer    *Pricer
	writer    *Writer
	lifecycle *Lifecycle
	orders    Repository
	fees      DeliveryFees
	notifier  Notifier
	now       func() time.Time

	tracer      trace.Tracer
	placed      metric.Int64Counter
	rejected    metric.Int64Counter
	transitions metric.Int64Counter
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	pricer *Pricer,
	writer *Writer,
	lifecycle *Lifecycle,
	orders Repository,
	fees DeliveryFees,
	opts Options,
) (*Service, error) {
	if opts.TracerProvider == nil {
		opts.TracerProvider = tracenoop.NewTracerProvider()
	}
	if opts.MeterProvider == nil {
		opts.MeterProvider = metricnoop.NewMeterProvider()
	}

	s := &Service{
		pricer:    pricer,
		writer:    writer,
		lifecycle: lifecycle,
		orders:    orders,
		fees:      fees,
		notifier:  opts.Notifier,
		now:       time.Now,
		tracer:    opts.TracerProvider.Tracer(instrumentationName),
	}

	meter := opts.MeterProvider.Meter(instrumentationName)
	var err error
	if s.placed, err = meter.Int64Counter("orders.placed",
		metric.WithDescription("Orders committed"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.placed")
	}
	if s.rejected, err = meter.Int64Counter("orders.rejected",
		metric.WithDescription("Placements rejected, by reason"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.rejected")
	}
	if s.transitions, err = meter.Int64Counter("orders.transitions",
		metric.WithDescription("Committed status transitions, by target status"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.transitions")
	}
	return s, nil
}

// Quote prices a cart without writing anything.
func (s *Service) Quote(ctx context.Context, req PlaceOrderRequest) (*Priced, error) {
	ctx, span := s.tracer.Start(ctx, "order.Quote")
	defer span.End()

	priced, err := s.price(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "quote failed")
		return nil, err
	}
	return priced, nil
}

// PlaceOrder prices the cart, writes the order atomically and notifies
// collaborators once the transaction has committed.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	ctx, span := s.tracer.Start(ctx, "order.PlaceOrder", trace.WithAttributes(
		attribute.Int64("storefront.id", req.StorefrontID),
		attribute.Int64("buyer.id", req.BuyerID),
		attribute.Int("lines", len(req.Lines)),
		attribute.Bool("coupon", req.CouponCode != ""),
	))
	defer span.End()

	result, err := s.placeOrder(ctx, req)
	if err != nil {
		reason := rejectReason(err)
		s.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
		return nil, err
	}

	span.SetAttributes(attribute.Int64("order.id", result.OrderID))
	s.placed.Add(ctx, 1)
	return result, nil
}

func (s *Service) placeOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	priced, err := s.price(ctx, req)
	if err != nil {
		return nil, err
	}

	id, err := s.writer.Place(ctx, priced, PlaceRequest{
		AddressID:       req.AddressID,
		AddressNote:     req.AddressNote,
		PaymentMethodID: req.PaymentMethodID,
		Note:            req.Note,
	})
	if err != nil {
		return nil, errors.Wrap(err, "place order")
	}

	lg := zctx.From(ctx)
	lg.Info("Order placed",
		zap.Int64("order_id", id),
		zap.Int64("storefront_id", req.StorefrontID),
		zap.Int64("buyer_id", req.BuyerID),
		zap.Stringer("total", priced.Total),
	)

	s.notify(ctx, Event{
		Kind:         EventPlaced,
		OrderID:      id,
		BuyerID:      req.BuyerID,
		StorefrontID: req.StorefrontID,
		Status:       StatusPending,
	})

	return &PlaceOrderResult{OrderID: id, Status: StatusPending, Priced: priced}, nil
}

func (s *Service) price(ctx context.Context, req PlaceOrderRequest) (*Priced, error) {
	fee, err := s.fees.Fee(ctx, req.StorefrontID, req.AddressID)
	if err != nil {
		return nil, errors.Wrap(err, "delivery fee")
	}
	return s.pricer.Price(ctx, PriceRequest{
		StorefrontID: req.StorefrontID,
		BuyerID:      req.BuyerID,
		Lines:        req.Lines,
		CouponCode:   req.CouponCode,
		DeliveryFee:  fee,
	})
}

// Get returns a single order with its dependent records.
func (s *Service) Get(ctx context.Context, id int64) (*Order, error) {
	return s.orders.Get(ctx, id)
}

// ListByBuyer returns the buyer's orders, newest first.
func (s *Service) ListByBuyer(ctx context.Context, buyerID int64) ([]Order, error) {
	return s.orders.ListByBuyer(ctx, buyerID)
}

// Transition moves an order to the next status.
func (s *Service) Transition(ctx context.Context, id int64, next Status, note string) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.Transition", trace.WithAttributes(
		attribute.Int64("order.id", id),
		attribute.String("order.status", string(next)),
	))
	defer span.End()

	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.lifecycle.Transition(ctx, o, next, note); err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(next))))
	s.notify(ctx, Event{
		Kind:         EventStatusChanged,
		OrderID:      o.ID,
		BuyerID:      o.BuyerID,
		StorefrontID: o.StorefrontID,
		Status:       next,
	})
	return o, nil
}

// Delete soft-deletes a pending order.
func (s *Service) Delete(ctx context.Context, id int64) error {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.lifecycle.Delete(ctx, o); err != nil {
		return err
	}
	s.notify(ctx, Event{
		Kind:         EventDeleted,
		OrderID:      o.ID,
		BuyerID:      o.BuyerID,
		StorefrontID: o.StorefrontID,
		Status:       o.Status,
	})
	return nil
}

// Rate records the buyer's rating of a delivered order.
func (s *Service) Rate(ctx context.Context, id, buyerID int64, score int, comment string) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.lifecycle.Rate(ctx, o, buyerID, score, comment); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Service) notify(ctx context.Context, ev Event) {
	if s.notifier == nil {
		return
	}
	ev.OccurredAt = s.now()
	if err := s.notifier.Notify(context.WithoutCancel(ctx), ev); err != nil {
		zctx.From(ctx).Warn("Order notification failed",
			zap.String("kind", string(ev.Kind)),
			zap.Int64("order_id", ev.OrderID),
			zap.Error(err),
		)
	}
}

// rejectReason maps a placement error to a low-cardinality metric label.
func rejectReason(err error) string {
	var cErr *coupon.Error
	switch {
	case errors.Is(err, coupon.ErrRaceLost):
		return "coupon_race_lost"
	case errors.As(err, &cErr):
		return "coupon"
	case errors.Is(err, ErrNegativeTotal):
		return "negative_total"
	case errors.Is(err, ErrAddressNotFound):
		return "address"
	case isCatalogError(err):
		return "catalog"
	default:
		return "internal"
	}
}

func isCatalogError(err error) bool {
	var lineErr *catalog.LineError
	return errors.As(err, &lineErr) || errors.Is(err, catalog.ErrEmptyCart)
}
