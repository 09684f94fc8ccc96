package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace-orders/internal/domain/coupon"
	"github.com/xenking/marketplace-orders/internal/domain/order"
)

// requestError marks input that could not be decoded.
type requestError struct {
	Err error
}

func (e *requestError) Error() string { return "invalid request: " + e.Err.Error() }

func (e *requestError) Unwrap() error { return e.Err }

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, &requestError{Err: errors.Wrap(err, "read body")}
	}
	return body, nil
}

// decodeDecimal accepts a JSON number or a numeric string.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		raw = s
	case jx.Number:
		v, err := d.Raw()
		if err != nil {
			return decimal.Zero, err
		}
		raw = string(v)
	default:
		return decimal.Zero, errors.New("expected decimal")
	}
	return decimal.NewFromString(raw)
}

func decodeCartLine(d *jx.Decoder) (order.CartLine, error) {
	var l order.CartLine
	err := d.Obj(func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "item_id":
			l.ItemID, err = d.Int64()
		case "quantity":
			l.Quantity, err = decodeDecimal(d)
		case "unit_price":
			l.UnitPrice, err = decodeDecimal(d)
		case "note":
			l.Note, err = d.Str()
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, key)
	})
	return l, err
}

func decodePlaceOrder(body []byte) (order.PlaceOrderRequest, error) {
	var req order.PlaceOrderRequest
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "lines":
			err = d.Arr(func(d *jx.Decoder) error {
				l, err := decodeCartLine(d)
				if err != nil {
					return errors.Wrapf(err, "line %d", len(req.Lines))
				}
				req.Lines = append(req.Lines, l)
				return nil
			})
		case "coupon_code":
			req.CouponCode, err = d.Str()
		case "address_id":
			req.AddressID, err = d.Int64()
		case "address_note":
			req.AddressNote, err = d.Str()
		case "payment_method_id":
			req.PaymentMethodID, err = d.Int64()
		case "note":
			req.Note, err = d.Str()
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, key)
	})
	if err != nil {
		return req, &requestError{Err: err}
	}
	return req, nil
}

type transitionRequest struct {
	Status order.Status
	Note   string
}

func decodeTransition(body []byte) (transitionRequest, error) {
	var req transitionRequest
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "status":
			var s string
			s, err = d.Str()
			req.Status = order.Status(s)
		case "note":
			req.Note, err = d.Str()
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, key)
	})
	if err == nil && !req.Status.Valid() {
		err = errors.Errorf("unknown status %q", req.Status)
	}
	if err != nil {
		return req, &requestError{Err: err}
	}
	return req, nil
}

type ratingRequest struct {
	Score   int
	Comment string
}

func decodeRating(body []byte) (ratingRequest, error) {
	var req ratingRequest
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "score":
			req.Score, err = d.Int()
		case "comment":
			req.Comment, err = d.Str()
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, key)
	})
	if err != nil {
		return req, &requestError{Err: err}
	}
	return req, nil
}

func money(e *jx.Encoder, name string, v decimal.Decimal) {
	e.FieldStart(name)
	e.Str(v.StringFixed(2))
}

func timestamp(e *jx.Encoder, name string, t time.Time) {
	e.FieldStart(name)
	e.Str(t.UTC().Format(time.RFC3339))
}

func encodeLine(e *jx.Encoder, l order.Line) {
	e.ObjStart()
	e.FieldStart("item_id")
	e.Int64(l.ItemID)
	e.FieldStart("name")
	e.Str(l.Name)
	e.FieldStart("quantity")
	e.Str(l.Quantity.String())
	money(e, "unit_price", l.UnitPrice)
	money(e, "line_total", l.LineTotal)
	e.FieldStart("note")
	e.Str(l.Note)
	e.ObjEnd()
}

func encodeCoupon(e *jx.Encoder, ref coupon.Ref, code string, amount decimal.Decimal) {
	e.FieldStart("coupon")
	e.ObjStart()
	e.FieldStart("scope")
	e.Str(string(ref.Scope))
	e.FieldStart("id")
	e.Int64(ref.ID)
	e.FieldStart("code")
	e.Str(code)
	money(e, "amount", amount)
	e.ObjEnd()
}

// pricedFields writes the price breakdown into an open object.
func pricedFields(e *jx.Encoder, p *order.Priced) {
	e.FieldStart("storefront_id")
	e.Int64(p.StorefrontID)
	e.FieldStart("lines")
	e.ArrStart()
	for _, l := range p.Lines {
		encodeLine(e, l)
	}
	e.ArrEnd()
	if p.Coupon != nil {
		encodeCoupon(e, p.Coupon.Ref, p.Coupon.Code, p.Coupon.Amount)
	}
	money(e, "subtotal", p.Subtotal)
	money(e, "discount", p.Discount)
	money(e, "delivery_fee", p.DeliveryFee)
	money(e, "total", p.Total)
}

func encodePriced(p *order.Priced) []byte {
	var e jx.Encoder
	e.ObjStart()
	pricedFields(&e, p)
	e.ObjEnd()
	return e.Bytes()
}

func encodePlaced(res *order.PlaceOrderResult) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(res.OrderID)
	e.FieldStart("status")
	e.Str(string(res.Status))
	pricedFields(&e, res.Priced)
	e.ObjEnd()
	return e.Bytes()
}

func orderFields(e *jx.Encoder, o *order.Order) {
	e.FieldStart("id")
	e.Int64(o.ID)
	e.FieldStart("buyer_id")
	e.Int64(o.BuyerID)
	e.FieldStart("storefront_id")
	e.Int64(o.StorefrontID)
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("payment_method_id")
	e.Int64(o.PaymentMethodID)
	money(e, "subtotal", o.Subtotal)
	money(e, "discount", o.Discount)
	money(e, "delivery_fee", o.DeliveryFee)
	money(e, "total", o.Total)
	e.FieldStart("note")
	e.Str(o.Note)
	if o.Coupon != nil {
		encodeCoupon(e, o.Coupon.Ref, o.Coupon.Code, o.Coupon.Amount)
	}
	e.FieldStart("rateable")
	e.Bool(order.CanBeRated(o))
	timestamp(e, "created_at", o.CreatedAt)
}

func encodeOrder(o *order.Order) []byte {
	var e jx.Encoder
	e.ObjStart()
	orderFields(&e, o)

	e.FieldStart("lines")
	e.ArrStart()
	for _, l := range o.Lines {
		encodeLine(&e, l)
	}
	e.ArrEnd()

	if a := o.Address; a != nil {
		e.FieldStart("address")
		e.ObjStart()
		e.FieldStart("address_id")
		e.Int64(a.AddressID)
		e.FieldStart("line1")
		e.Str(a.Line1)
		e.FieldStart("city")
		e.Str(a.City)
		e.FieldStart("note")
		e.Str(a.Note)
		e.ObjEnd()
	}

	e.FieldStart("history")
	e.ArrStart()
	for _, h := range o.History {
		e.ObjStart()
		e.FieldStart("status")
		e.Str(string(h.Status))
		e.FieldStart("note")
		e.Str(h.Note)
		timestamp(&e, "at", h.CreatedAt)
		e.ObjEnd()
	}
	e.ArrEnd()

	if rt := o.Rating; rt != nil {
		e.FieldStart("rating")
		e.ObjStart()
		e.FieldStart("score")
		e.Int(rt.Score)
		e.FieldStart("comment")
		e.Str(rt.Comment)
		e.ObjEnd()
	}
	e.ObjEnd()
	return e.Bytes()
}

func encodeOrderList(orders []order.Order) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("orders")
	e.ArrStart()
	for i := range orders {
		e.ObjStart()
		orderFields(&e, &orders[i])
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
	return e.Bytes()
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
