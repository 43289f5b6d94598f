package wire

import (
	"math/big"
	"time"
)

// StreamableRef is the in-memory shape of a tag-16 cell: a reference to
// a large object living out-of-band from the row stream.
type StreamableRef struct {
	Kind StreamableKind
	Size int64
	ID   int64
}

// Value is a single SQL cell. Exactly
// one accessor is meaningful for a given Tag. The zero Value has Tag 0,
// which is not TagNull; SQL NULL is the Value returned by Null().
type Value struct {
	Tag        Tag
	Int32Val   int32
	Int64Val   int64
	Decimal    Decimal
	Time       time.Time
	Bool       bool
	Str        string
	Bytes      []byte
	Streamable StreamableRef
}

// Null is the NULL cell.
func Null() Value { return Value{Tag: TagNull} }

// Int32 wraps a 32-bit signed integer cell.
func Int32(v int32) Value { return Value{Tag: TagInt, Int32Val: v} }

// Int64 wraps a 64-bit signed integer cell.
func Int64(v int64) Value { return Value{Tag: TagLong, Int64Val: v} }

// DecimalValue wraps an arbitrary-precision decimal cell. Encode will
// narrow it to tag 24 or 8 when it canonically represents an integer.
func DecimalValue(d Decimal) Value { return Value{Tag: TagDecimal, Decimal: d} }

// Timestamp wraps a millisecond-precision timestamp cell. Sub-millisecond
// precision is dropped, matching the reference's existing millisecond
// granularity.
func Timestamp(t time.Time) Value {
	return Value{Tag: TagTimestamp, Time: t.Truncate(time.Millisecond)}
}

// Bool wraps a boolean cell.
func Bool(b bool) Value { return Value{Tag: TagBoolean, Bool: b} }

// String wraps an inline string cell, written as tag 18 per the "prefer
// tag 18 unconditionally on write" policy.
func String(s string) Value { return Value{Tag: TagLongString, Str: s} }

// Bytes wraps an inline binary cell.
func Bytes(b []byte) Value { return Value{Tag: TagBinary, Bytes: b} }

// Streamable wraps a streamable-object handle cell.
func Streamable(ref StreamableRef) Value { return Value{Tag: TagStreamable, Streamable: ref} }

// IsNull reports whether v is the NULL cell.
func (v Value) IsNull() bool { return v.Tag == TagNull }

// AsDecimal returns the canonical decimal representation of any numeric
// or boolean cell, used by the numeric getter family's conversions.
func (v Value) AsDecimal() (Decimal, bool) {
	switch v.Tag {
	case TagInt:
		return DecimalFromInt64(int64(v.Int32Val)), true
	case TagLong:
		return DecimalFromInt64(v.Int64Val), true
	case TagDecimal, TagLegacyDecimal:
		return v.Decimal, true
	case TagBoolean:
		if v.Bool {
			return DecimalFromInt64(1), true
		}
		return DecimalFromInt64(0), true
	case TagTimestamp:
		return DecimalFromInt64(v.Time.UnixMilli()), true
	}
	return Decimal{}, false
}

// Clone deep-copies mutable fields (Bytes, Magnitude) so the returned
// Value shares no backing storage with v.
func (v Value) Clone() Value {
	out := v
	if v.Bytes != nil {
		out.Bytes = append([]byte(nil), v.Bytes...)
	}
	if v.Decimal.Magnitude != nil {
		out.Decimal.Magnitude = new(big.Int).Set(v.Decimal.Magnitude)
	}
	return out
}

// TypeName returns a short human-readable name for v's tag, used in
// TypeMismatchError messages.
func (v Value) TypeName() string {
	switch v.Tag {
	case TagNull:
		return "null"
	case TagInt, TagLong, TagDecimal, TagLegacyDecimal, TagShortString:
		if v.Tag == TagShortString {
			return "string"
		}
		return "numeric"
	case TagTimestamp:
		return "timestamp"
	case TagBoolean:
		return "boolean"
	case TagBinary:
		return "binary"
	case TagStreamable:
		if v.Streamable.Kind == StreamableChar {
			return "char-stream"
		}
		return "binary-stream"
	case TagLongString:
		return "string"
	}
	return "unknown"
}
