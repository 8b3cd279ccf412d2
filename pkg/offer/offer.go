package offer

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return fmt.Sprintf("Side(%d)", int8(s))
	}
}

// Opposite returns the other side of the trade. Invalid sides are returned unchanged.
func (s Side) Opposite() Side {
	switch s {
	case Buy:
		return Sell
	case Sell:
		return Buy
	default:
		return s
	}
}

func (s Side) Valid() bool { return s == Buy || s == Sell }

// ParseSide accepts the wire form only ("BUY" / "SELL").
func ParseSide(s string) (Side, error) {
	switch s {
	case "BUY":
		return Buy, nil
	case "SELL":
		return Sell, nil
	default:
		return 0, fmt.Errorf("unknown side %q", s)
	}
}

// Offer is a peer's intent to buy or sell a fixed quantity at a fixed price.
// Quantity is denominated in the base asset (e.g. BTC), Price in the quote asset (e.g. USD).
type Offer struct {
	Side     Side
	Quantity decimal.Decimal
	Price    decimal.Decimal
}

func New(side Side, quantity, price decimal.Decimal) Offer {
	return Offer{Side: side, Quantity: quantity, Price: price}
}

// NewFromInt is a shorthand used mostly by tests and the CLI examples.
func NewFromInt(side Side, quantity, price int64) Offer {
	return New(side, decimal.NewFromInt(quantity), decimal.NewFromInt(price))
}

// Equal compares by value; 1.50 and 1.5 are the same quantity.
func (o Offer) Equal(other Offer) bool {
	return o.Side == other.Side &&
		o.Quantity.Equal(other.Quantity) &&
		o.Price.Equal(other.Price)
}

// Flip returns the same terms on the opposite side.
func (o Offer) Flip() Offer {
	return Offer{Side: o.Side.Opposite(), Quantity: o.Quantity, Price: o.Price}
}

// Complements reports whether a and b can be settled against each other.
func Complements(a, b Offer) bool {
	return a.Side.Valid() && b.Side.Valid() &&
		a.Side != b.Side &&
		a.Quantity.Equal(b.Quantity) &&
		a.Price.Equal(b.Price)
}

func (o Offer) String() string { return Key(o) }
