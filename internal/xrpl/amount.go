package xrpl

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// NativeCurrency is the currency code of the ledger's base asset.
	// Native amounts carry no issuer.
	NativeCurrency = "XRP"

	// DropsPerXRP is the number of drops in one whole XRP.
	DropsPerXRP = 1_000_000
)

// ErrMixedCurrency is returned when arithmetic is attempted across two
// amounts that do not share the same (currency, issuer) pair.
var ErrMixedCurrency = errors.New("xrpl: mixed currency arithmetic")

// Amount is a ledger amount: either native XRP or a token issued by a
// specific account. Value is expressed in whole units (XRP, not drops) and
// preserves the wire sign; domain records that require magnitudes take the
// absolute value at construction.
type Amount struct {
	Currency string          `json:"currency"`
	Issuer   string          `json:"issuer,omitempty"`
	Value    decimal.Decimal `json:"value"`
}

// NewNativeAmount builds a native amount from a drop count.
func NewNativeAmount(drops int64) Amount {
	return Amount{Currency: NativeCurrency, Value: decimal.New(drops, -6)}
}

// NewIssuedAmount builds an issued-token amount.
func NewIssuedAmount(currency, issuer string, value decimal.Decimal) Amount {
	return Amount{Currency: currency, Issuer: issuer, Value: value}
}

// ParseAmount decodes the wire representation of an amount: either a string
// of drops for the native asset or a {currency, issuer, value} object for
// issued tokens.
func ParseAmount(raw json.RawMessage) (Amount, error) {
	if len(raw) == 0 {
		return Amount{}, errors.New("xrpl: empty amount")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Amount{}, fmt.Errorf("xrpl: decode drops: %w", err)
		}
		return parseDropsString(s)
	}
	var obj struct {
		Currency string `json:"currency"`
		Issuer   string `json:"issuer"`
		Value    string `json:"value"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Amount{}, fmt.Errorf("xrpl: decode issued amount: %w", err)
	}
	value, err := decimal.NewFromString(obj.Value)
	if err != nil {
		return Amount{}, fmt.Errorf("xrpl: issued amount value %q: %w", obj.Value, err)
	}
	return Amount{Currency: obj.Currency, Issuer: obj.Issuer, Value: value}, nil
}

func parseDropsString(s string) (Amount, error) {
	drops, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return Amount{}, fmt.Errorf("xrpl: drops value %q: %w", s, err)
	}
	return NewNativeAmount(drops), nil
}

// ParseDrops converts a drop-count string to a whole-unit decimal.
func ParseDrops(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	drops, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return decimal.Zero, fmt.Errorf("xrpl: drops value %q: %w", s, err)
	}
	return decimal.New(drops, -6), nil
}

// IsNative reports whether the amount is denominated in the base asset.
func (a Amount) IsNative() bool {
	return a.Currency == NativeCurrency && a.Issuer == ""
}

// IsZero reports whether the value is exactly zero.
func (a Amount) IsZero() bool {
	return a.Value.IsZero()
}

// SameAsset reports whether two amounts share (currency, issuer).
func (a Amount) SameAsset(b Amount) bool {
	return a.Currency == b.Currency && a.Issuer == b.Issuer
}

// Equal compares asset and value. Values are compared numerically, so
// trailing zeros and differing exponents do not break equality.
func (a Amount) Equal(b Amount) bool {
	return a.SameAsset(b) && a.Value.Equal(b.Value)
}

// Abs returns the amount with a non-negative value.
func (a Amount) Abs() Amount {
	return Amount{Currency: a.Currency, Issuer: a.Issuer, Value: a.Value.Abs()}
}

// Sub returns a - b. Both amounts must share the same asset.
func (a Amount) Sub(b Amount) (Amount, error) {
	if !a.SameAsset(b) {
		return Amount{}, fmt.Errorf("%w: %s - %s", ErrMixedCurrency, a, b)
	}
	return Amount{Currency: a.Currency, Issuer: a.Issuer, Value: a.Value.Sub(b.Value)}, nil
}

// Add returns a + b. Both amounts must share the same asset.
func (a Amount) Add(b Amount) (Amount, error) {
	if !a.SameAsset(b) {
		return Amount{}, fmt.Errorf("%w: %s + %s", ErrMixedCurrency, a, b)
	}
	return Amount{Currency: a.Currency, Issuer: a.Issuer, Value: a.Value.Add(b.Value)}, nil
}

// Diff returns |current - previous| in the shared asset.
func Diff(previous, current Amount) (Amount, error) {
	d, err := current.Sub(previous)
	if err != nil {
		return Amount{}, err
	}
	return d.Abs(), nil
}

// Zero returns a zero amount in the same asset as a.
func (a Amount) Zero() Amount {
	return Amount{Currency: a.Currency, Issuer: a.Issuer}
}

func (a Amount) String() string {
	if a.IsNative() {
		return a.Value.String() + " " + NativeCurrency
	}
	return fmt.Sprintf("%s %s/%s", a.Value, a.Currency, a.Issuer)
}

// rippleEpoch is 2000-01-01T00:00:00Z, the zero point of ledger timestamps.
var rippleEpoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// RippleTimeToUTC converts ledger-epoch seconds to UTC.
func RippleTimeToUTC(secs int64) time.Time {
	return rippleEpoch.Add(time.Duration(secs) * time.Second)
}

// RippleTime converts a wall-clock time to ledger-epoch seconds.
func RippleTime(t time.Time) int64 {
	return int64(t.UTC().Sub(rippleEpoch) / time.Second)
}
