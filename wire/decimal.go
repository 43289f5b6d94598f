package wire

import (
	"math"
	"math/big"
)

// DecimalState is the tri-state sign/NaN/infinity byte carried ahead of
// the scale and magnitude in a tag-7 decimal body. The reference leaves the exact byte values unspecified; this
// mapping is this driver's own canonical choice.
type DecimalState byte

const (
	DecimalZero     DecimalState = 0
	DecimalPositive DecimalState = 1
	DecimalNegative DecimalState = 2
	DecimalNaN      DecimalState = 3
	DecimalPosInf   DecimalState = 4
	DecimalNegInf   DecimalState = 5
)

// Decimal is the canonical in-memory form of every SQL exact-numeric
// value, regardless of which wire tag (6, 7, 8, or 24) produced it.
type Decimal struct {
	State     DecimalState
	Scale     int32
	Magnitude *big.Int // absolute value; always non-negative, nil treated as zero
}

// DecimalFromInt64 builds a finite, scale-0 decimal from v.
func DecimalFromInt64(v int64) Decimal {
	if v == 0 {
		return Decimal{State: DecimalZero, Magnitude: big.NewInt(0)}
	}
	state := DecimalPositive
	abs := v
	if v < 0 {
		state = DecimalNegative
		abs = -v
	}
	return Decimal{State: state, Magnitude: big.NewInt(abs)}
}

// DecimalFromBigInt builds a finite decimal from a signed magnitude and
// scale.
func DecimalFromBigInt(v *big.Int, scale int32) Decimal {
	if v == nil || v.Sign() == 0 {
		return Decimal{State: DecimalZero, Scale: scale, Magnitude: big.NewInt(0)}
	}
	state := DecimalPositive
	abs := new(big.Int).Abs(v)
	if v.Sign() < 0 {
		state = DecimalNegative
	}
	return Decimal{State: state, Scale: scale, Magnitude: abs}
}

// IsSpecial reports whether d is NaN or an infinity rather than a finite
// magnitude.
func (d Decimal) IsSpecial() bool {
	return d.State == DecimalNaN || d.State == DecimalPosInf || d.State == DecimalNegInf
}

// Signed returns the signed big.Int value (magnitude with sign applied),
// or nil if d is a special (NaN/infinite) value.
func (d Decimal) Signed() *big.Int {
	if d.IsSpecial() {
		return nil
	}
	mag := d.Magnitude
	if mag == nil {
		mag = big.NewInt(0)
	}
	v := new(big.Int).Set(mag)
	if d.State == DecimalNegative {
		v.Neg(v)
	}
	return v
}

// fitsInt32 reports whether d is finite, scale 0, and representable as
// a signed 32-bit integer — the narrowing rule's condition for tag 24.
func (d Decimal) fitsInt32() bool {
	if d.IsSpecial() || d.Scale != 0 {
		return false
	}
	v := d.Signed()
	return v.IsInt64() && v.Int64() >= -(1<<31) && v.Int64() <= (1<<31-1)
}

// fitsInt64 reports whether d is finite, scale 0, and representable as
// a signed 64-bit integer.
func (d Decimal) fitsInt64() bool {
	if d.IsSpecial() || d.Scale != 0 {
		return false
	}
	return d.Signed().IsInt64()
}

// Int64 returns the value as an int64 if d is finite with scale 0 and in
// range; fractional values are truncated toward zero and out-of-range
// values saturate at the signed 64-bit range.
func (d Decimal) Int64() int64 {
	if d.IsSpecial() {
		return 0
	}
	v := d.Signed()
	if d.Scale > 0 {
		div := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(d.Scale)), nil)
		v = new(big.Int).Quo(v, div)
	} else if d.Scale < 0 {
		mul := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(-d.Scale)), nil)
		v = new(big.Int).Mul(v, mul)
	}
	if !v.IsInt64() {
		if v.Sign() < 0 {
			return -1 << 63
		}
		return 1<<63 - 1
	}
	return v.Int64()
}

// Int32 truncates toward zero, saturating at the signed 32-bit range.
func (d Decimal) Int32() int32 {
	v := d.Int64()
	switch {
	case v > (1<<31 - 1):
		return 1<<31 - 1
	case v < -(1 << 31):
		return -(1 << 31)
	default:
		return int32(v) //nolint:gosec // range checked above
	}
}

// Float64 converts to a float64, losing precision for very large
// magnitudes; special states map to their IEEE-754 equivalents.
func (d Decimal) Float64() float64 {
	switch d.State {
	case DecimalNaN:
		return math.NaN()
	case DecimalPosInf:
		return math.Inf(1)
	case DecimalNegInf:
		return math.Inf(-1)
	}
	v := d.Signed()
	f := new(big.Float).SetInt(v)
	if d.Scale != 0 {
		scale := new(big.Float).SetFloat64(math.Pow10(int(d.Scale)))
		f.Quo(f, scale)
	}
	out, _ := f.Float64()
	return out
}

// String renders the canonical textual form used by numeric → string
// projection.
func (d Decimal) String() string {
	switch d.State {
	case DecimalNaN:
		return "NaN"
	case DecimalPosInf:
		return "Infinity"
	case DecimalNegInf:
		return "-Infinity"
	}
	mag := d.Magnitude
	if mag == nil {
		mag = big.NewInt(0)
	}
	digits := mag.String()
	sign := ""
	if d.State == DecimalNegative && mag.Sign() != 0 {
		sign = "-"
	}
	if d.Scale <= 0 {
		zeros := ""
		for range -d.Scale {
			zeros += "0"
		}
		return sign + digits + zeros
	}
	for int32(len(digits)) <= d.Scale {
		digits = "0" + digits
	}
	cut := int32(len(digits)) - d.Scale
	return sign + digits[:cut] + "." + digits[cut:]
}

// Equal compares two decimals by canonical value, treating the two
// equivalent zero representations (positive/negative magnitude of zero)
// as equal.
func (d Decimal) Equal(o Decimal) bool {
	if d.State != o.State {
		if !d.IsSpecial() && !o.IsSpecial() && d.Signed().Sign() == 0 && o.Signed().Sign() == 0 {
			return d.Scale == o.Scale
		}
		return false
	}
	if d.IsSpecial() {
		return true
	}
	return d.Scale == o.Scale && d.Magnitude.Cmp(o.Magnitude) == 0
}
