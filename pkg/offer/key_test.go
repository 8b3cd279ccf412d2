package offer

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKey_Reference(t *testing.T) {
	got, err := ParseKey("offer_BUY_100_8000")
	require.NoError(t, err)
	assert.True(t, got.Equal(NewFromInt(Buy, 100, 8000)), "got %s", got)
}

func TestKey_Format(t *testing.T) {
	tests := []struct {
		name string
		in   Offer
		want string
	}{
		{"integer buy", NewFromInt(Buy, 100, 8000), "offer_BUY_100_8000"},
		{"integer sell", NewFromInt(Sell, 1, 2), "offer_SELL_1_2"},
		{"zero", NewFromInt(Buy, 0, 0), "offer_BUY_0_0"},
		{"fractional", New(Sell, decimal.RequireFromString("0.25"), decimal.RequireFromString("61234.5")), "offer_SELL_0.25_61234.5"},
		{"negative", New(Buy, decimal.RequireFromString("-3.5"), decimal.NewFromInt(-7)), "offer_BUY_-3.5_-7"},
		{"trailing zeros dropped", New(Buy, decimal.RequireFromString("1.500"), decimal.NewFromInt(10)), "offer_BUY_1.5_10"},
		{"large exponent stays fixed point", New(Buy, decimal.New(12, 20), decimal.New(1, -12)), "offer_BUY_1200000000000000000000_0.000000000001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Key(tt.in))
		})
	}
}

func TestParseKey_Malformed(t *testing.T) {
	keys := []string{
		"",
		"offer",
		"offer_BUY_100",
		"offer_BUY_100_8000_1",
		"bid_BUY_100_8000",
		"offer_buy_100_8000",
		"offer_HOLD_100_8000",
		"offer_BUY__8000",
		"offer_BUY_abc_8000",
		"offer_BUY_100_NaN",
		"offer_BUY_1e2_8000",
		"offer_BUY_+100_8000",
		"offer_BUY_0100_8000",
		"offer_BUY_1.50_8000",
		"offer_BUY_-0_8000",
		"offer_BUY_.5_8000",
		"offer_BUY_1,000_8000",
	}
	for _, k := range keys {
		t.Run(k, func(t *testing.T) {
			_, err := ParseKey(k)
			require.Error(t, err)
			var mk *MalformedKeyError
			require.True(t, errors.As(err, &mk), "want *MalformedKeyError, got %T", err)
			assert.Equal(t, k, mk.Key)
		})
	}
}

func randomDecimal(r *rand.Rand) decimal.Decimal {
	switch r.IntN(4) {
	case 0:
		return decimal.Zero
	case 1:
		f := r.NormFloat64() * math.Pow(10, float64(r.IntN(12)-4))
		return decimal.NewFromFloat(f)
	default:
		return decimal.New(r.Int64N(2_000_000_000)-1_000_000_000, -r.Int32N(12))
	}
}

func randomOffer(r *rand.Rand) Offer {
	side := Buy
	if r.IntN(2) == 0 {
		side = Sell
	}
	return New(side, randomDecimal(r), randomDecimal(r))
}

func TestKey_RoundTrip(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 5000; i++ {
		o := randomOffer(r)
		got, err := ParseKey(Key(o))
		require.NoError(t, err, "key %q", Key(o))
		require.True(t, got.Equal(o), "round trip %q: got %s", Key(o), got)
		// the key is canonical, so re-encoding is stable
		require.Equal(t, Key(o), Key(got))
	}
}

func TestKey_Unique(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 4))
	for i := 0; i < 5000; i++ {
		a, b := randomOffer(r), randomOffer(r)
		switch r.IntN(3) {
		case 0:
			b = a.Flip()
		case 1:
			b = New(a.Side, a.Quantity, a.Price.Add(decimal.New(1, -r.Int32N(8))))
		}
		if a.Equal(b) {
			assert.Equal(t, Key(a), Key(b))
			continue
		}
		assert.NotEqual(t, Key(a), Key(b), "%v vs %v", a, b)
	}
}
