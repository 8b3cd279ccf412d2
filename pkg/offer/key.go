package offer

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Discovery key format: offer_<SIDE>_<quantity>_<price>
//
//	offer_BUY_100_8000
//	offer_SELL_0.25_-12.5
//
// Numbers use the canonical fixed-point form of decimal.String, so the
// delimiter never appears inside a field and every value has exactly one key.
const (
	keyPrefix    = "offer"
	keyDelimiter = "_"
	keyFields    = 4
)

// MalformedKeyError is returned by ParseKey for anything that is not a
// key produced by Key.
type MalformedKeyError struct {
	Key    string
	Reason string
}

func (e *MalformedKeyError) Error() string {
	return fmt.Sprintf("malformed offer key %q: %s", e.Key, e.Reason)
}

// Key encodes an offer into its discovery key.
func Key(o Offer) string {
	return strings.Join([]string{
		keyPrefix,
		o.Side.String(),
		o.Quantity.String(),
		o.Price.String(),
	}, keyDelimiter)
}

// ParseKey is the strict inverse of Key.
func ParseKey(key string) (Offer, error) {
	parts := strings.Split(key, keyDelimiter)
	if len(parts) != keyFields {
		return Offer{}, &MalformedKeyError{Key: key, Reason: fmt.Sprintf("expected %d fields, got %d", keyFields, len(parts))}
	}
	if parts[0] != keyPrefix {
		return Offer{}, &MalformedKeyError{Key: key, Reason: "missing offer prefix"}
	}
	side, err := ParseSide(parts[1])
	if err != nil {
		return Offer{}, &MalformedKeyError{Key: key, Reason: err.Error()}
	}
	qty, err := parseCanonical(parts[2])
	if err != nil {
		return Offer{}, &MalformedKeyError{Key: key, Reason: "quantity: " + err.Error()}
	}
	price, err := parseCanonical(parts[3])
	if err != nil {
		return Offer{}, &MalformedKeyError{Key: key, Reason: "price: " + err.Error()}
	}
	return Offer{Side: side, Quantity: qty, Price: price}, nil
}

// parseCanonical rejects anything decimal.String would not have produced
// (exponents, leading '+', padded zeros, trailing fractional zeros, "-0").
func parseCanonical(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Decimal{}, fmt.Errorf("empty number")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if d.String() != s {
		return decimal.Decimal{}, fmt.Errorf("non-canonical number %q (want %q)", s, d.String())
	}
	return d, nil
}
