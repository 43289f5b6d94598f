// Package wire implements the value codec (C1) and framing transport (C2)
// of the ponysql client/server protocol.
package wire

import (
	"bytes"
	"encoding/binary"
	"io"
	"math/big"
	"time"
	"unicode/utf16"

	"github.com/ponysql/ponysql-go/ponyerr"
)

// EncodeValue writes v's tag byte followed by its type-specific body to
// dst. All multi-byte integers are big-endian.
func EncodeValue(dst io.Writer, v Value) error {
	switch v.Tag {
	case TagNull:
		return writeByte(dst, byte(TagNull))
	case TagInt:
		if err := writeByte(dst, byte(TagInt)); err != nil {
			return err
		}
		return binary.Write(dst, binary.BigEndian, v.Int32Val)
	case TagLong:
		if err := writeByte(dst, byte(TagLong)); err != nil {
			return err
		}
		return binary.Write(dst, binary.BigEndian, v.Int64Val)
	case TagDecimal, TagLegacyDecimal:
		return encodeDecimal(dst, v.Decimal)
	case TagTimestamp:
		if err := writeByte(dst, byte(TagTimestamp)); err != nil {
			return err
		}
		return binary.Write(dst, binary.BigEndian, v.Time.UnixMilli())
	case TagBoolean:
		if err := writeByte(dst, byte(TagBoolean)); err != nil {
			return err
		}
		b := byte(0)
		if v.Bool {
			b = 1
		}
		return writeByte(dst, b)
	case TagBinary:
		if err := writeByte(dst, byte(TagBinary)); err != nil {
			return err
		}
		if err := binary.Write(dst, binary.BigEndian, int64(len(v.Bytes))); err != nil {
			return err
		}
		_, err := dst.Write(v.Bytes)
		return err
	case TagStreamable:
		if err := writeByte(dst, byte(TagStreamable)); err != nil {
			return err
		}
		if err := writeByte(dst, byte(v.Streamable.Kind)); err != nil {
			return err
		}
		if err := binary.Write(dst, binary.BigEndian, v.Streamable.Size); err != nil {
			return err
		}
		return binary.Write(dst, binary.BigEndian, v.Streamable.ID)
	case TagLongString, TagShortString:
		return encodeLongString(dst, v.Str)
	}
	return ponyerr.NewProtocolError("encode: unknown tag %d", v.Tag)
}

// encodeDecimal applies the numeric narrowing rule: a decimal whose
// magnitude fits in int32 with scale 0 is written as tag 24; one that
// fits in int64 with scale 0 as tag 8; otherwise as tag 7.
func encodeDecimal(dst io.Writer, d Decimal) error {
	switch {
	case d.fitsInt32():
		if err := writeByte(dst, byte(TagInt)); err != nil {
			return err
		}
		return binary.Write(dst, binary.BigEndian, int32(d.Signed().Int64()))
	case d.fitsInt64():
		if err := writeByte(dst, byte(TagLong)); err != nil {
			return err
		}
		return binary.Write(dst, binary.BigEndian, d.Signed().Int64())
	default:
		if err := writeByte(dst, byte(TagDecimal)); err != nil {
			return err
		}
		if err := writeByte(dst, byte(d.State)); err != nil {
			return err
		}
		if err := binary.Write(dst, binary.BigEndian, d.Scale); err != nil {
			return err
		}
		mag := d.Magnitude
		if mag == nil {
			mag = big.NewInt(0)
		}
		raw := mag.Bytes()
		if err := binary.Write(dst, binary.BigEndian, int32(len(raw))); err != nil { //nolint:gosec // magnitudes are bounded by reasonable decimal precision
			return err
		}
		_, err := dst.Write(raw)
		return err
	}
}

// encodeLongString writes tag 18: an int32 code-unit count followed by
// that many big-endian UTF-16 code units.
func encodeLongString(dst io.Writer, s string) error {
	if err := writeByte(dst, byte(TagLongString)); err != nil {
		return err
	}
	units := utf16.Encode([]rune(s))
	if err := binary.Write(dst, binary.BigEndian, int32(len(units))); err != nil { //nolint:gosec // string cell sizes are bounded well under 2^31
		return err
	}
	for _, u := range units {
		if err := binary.Write(dst, binary.BigEndian, u); err != nil {
			return err
		}
	}
	return nil
}

// DecodeValue reads one tag byte and dispatches to the matching body
// reader. An unknown tag fails with ProtocolError.
func DecodeValue(src io.Reader) (Value, error) {
	var tagByte [1]byte
	if _, err := io.ReadFull(src, tagByte[:]); err != nil {
		return Value{}, ponyerr.NewTransportError("read tag", err)
	}
	tag := Tag(tagByte[0])

	switch tag {
	case TagNull:
		return Null(), nil

	case TagShortString:
		s, err := decodeShortString(src)
		if err != nil {
			return Value{}, err
		}
		return String(s), nil

	case TagLegacyDecimal:
		return decodeLegacyDecimal(src)

	case TagDecimal:
		return decodeDecimal(src)

	case TagLong:
		var v int64
		if err := binary.Read(src, binary.BigEndian, &v); err != nil {
			return Value{}, ponyerr.NewTransportError("read long", err)
		}
		return Int64(v), nil

	case TagTimestamp:
		var ms int64
		if err := binary.Read(src, binary.BigEndian, &ms); err != nil {
			return Value{}, ponyerr.NewTransportError("read timestamp", err)
		}
		return Timestamp(time.UnixMilli(ms).UTC()), nil

	case TagBoolean:
		var b [1]byte
		if _, err := io.ReadFull(src, b[:]); err != nil {
			return Value{}, ponyerr.NewTransportError("read boolean", err)
		}
		return Bool(b[0] != 0), nil

	case TagBinary:
		var n int64
		if err := binary.Read(src, binary.BigEndian, &n); err != nil {
			return Value{}, ponyerr.NewTransportError("read binary length", err)
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(src, buf); err != nil {
			return Value{}, ponyerr.NewTransportError("read binary body", err)
		}
		return Bytes(buf), nil

	case TagStreamable:
		var kind [1]byte
		if _, err := io.ReadFull(src, kind[:]); err != nil {
			return Value{}, ponyerr.NewTransportError("read streamable kind", err)
		}
		var size, id int64
		if err := binary.Read(src, binary.BigEndian, &size); err != nil {
			return Value{}, ponyerr.NewTransportError("read streamable size", err)
		}
		if err := binary.Read(src, binary.BigEndian, &id); err != nil {
			return Value{}, ponyerr.NewTransportError("read streamable id", err)
		}
		return Streamable(StreamableRef{Kind: StreamableKind(kind[0]), Size: size, ID: id}), nil

	case TagLongString:
		s, err := decodeLongString(src)
		if err != nil {
			return Value{}, err
		}
		return String(s), nil

	case TagInt:
		var v int32
		if err := binary.Read(src, binary.BigEndian, &v); err != nil {
			return Value{}, ponyerr.NewTransportError("read int", err)
		}
		return Int32(v), nil
	}

	return Value{}, ponyerr.NewProtocolError("decode: unknown tag %d", tagByte[0])
}

// decodeShortString reads the legacy tag-3 encoding: a uint16
// length-prefix followed by that many UTF-8 bytes.
func decodeShortString(src io.Reader) (string, error) {
	var n uint16
	if err := binary.Read(src, binary.BigEndian, &n); err != nil {
		return "", ponyerr.NewTransportError("read short string length", err)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(src, buf); err != nil {
		return "", ponyerr.NewTransportError("read short string body", err)
	}
	return string(buf), nil
}

func decodeLongString(src io.Reader) (string, error) {
	var n int32
	if err := binary.Read(src, binary.BigEndian, &n); err != nil {
		return "", ponyerr.NewTransportError("read long string length", err)
	}
	if n < 0 {
		return "", ponyerr.NewProtocolError("negative string length %d", n)
	}
	units := make([]uint16, n)
	for i := range units {
		if err := binary.Read(src, binary.BigEndian, &units[i]); err != nil {
			return "", ponyerr.NewTransportError("read long string code unit", err)
		}
	}
	return string(utf16.Decode(units)), nil
}

// decodeLegacyDecimal reads tag 6: scale, magnitude-length, and
// magnitude bytes interpreted as a signed two's-complement big integer
// (the encoding historically produced by java.math.BigInteger.toByteArray).
func decodeLegacyDecimal(src io.Reader) (Value, error) {
	var scale, length int32
	if err := binary.Read(src, binary.BigEndian, &scale); err != nil {
		return Value{}, ponyerr.NewTransportError("read legacy decimal scale", err)
	}
	if err := binary.Read(src, binary.BigEndian, &length); err != nil {
		return Value{}, ponyerr.NewTransportError("read legacy decimal length", err)
	}
	raw := make([]byte, length)
	if _, err := io.ReadFull(src, raw); err != nil {
		return Value{}, ponyerr.NewTransportError("read legacy decimal magnitude", err)
	}
	v := signedBigIntFromTwosComplement(raw)
	return DecimalValue(DecimalFromBigInt(v, scale)), nil
}

// decodeDecimal reads tag 7: state byte, scale, magnitude-length, and
// an unsigned big-endian magnitude (the sign is carried by state, not
// by the magnitude bytes).
func decodeDecimal(src io.Reader) (Value, error) {
	var state [1]byte
	if _, err := io.ReadFull(src, state[:]); err != nil {
		return Value{}, ponyerr.NewTransportError("read decimal state", err)
	}
	var scale, length int32
	if err := binary.Read(src, binary.BigEndian, &scale); err != nil {
		return Value{}, ponyerr.NewTransportError("read decimal scale", err)
	}
	if err := binary.Read(src, binary.BigEndian, &length); err != nil {
		return Value{}, ponyerr.NewTransportError("read decimal length", err)
	}
	raw := make([]byte, length)
	if _, err := io.ReadFull(src, raw); err != nil {
		return Value{}, ponyerr.NewTransportError("read decimal magnitude", err)
	}
	d := Decimal{State: DecimalState(state[0]), Scale: scale, Magnitude: new(big.Int).SetBytes(raw)}
	return DecimalValue(d), nil
}

func signedBigIntFromTwosComplement(raw []byte) *big.Int {
	if len(raw) == 0 {
		return big.NewInt(0)
	}
	v := new(big.Int).SetBytes(raw)
	if raw[0]&0x80 != 0 {
		// Negative: v currently holds the unsigned bit pattern; subtract
		// 2^(8*len) to recover the signed two's-complement value.
		full := new(big.Int).Lsh(big.NewInt(1), uint(len(raw))*8)
		v.Sub(v, full)
	}
	return v
}

func writeByte(dst io.Writer, b byte) error {
	_, err := dst.Write([]byte{b})
	return err
}

// EncodedSize returns the exact number of bytes EncodeValue would write
// for v, without doing the write.
func EncodedSize(v Value) int {
	var buf bytes.Buffer
	if err := EncodeValue(&buf, v); err != nil {
		return 0
	}
	return buf.Len()
}

// EncodedSizeEstimate returns a cheap (possibly inexact) upper-bound-ish
// size used for row-cache admission decisions, avoiding a full encode
// pass for every cached cell.
func EncodedSizeEstimate(v Value) int {
	switch v.Tag {
	case TagNull, TagBoolean:
		return 2
	case TagInt:
		return 5
	case TagLong, TagTimestamp:
		return 9
	case TagDecimal, TagLegacyDecimal:
		mag := v.Decimal.Magnitude
		n := 0
		if mag != nil {
			n = len(mag.Bytes())
		}
		return 10 + n
	case TagBinary:
		return 9 + len(v.Bytes)
	case TagStreamable:
		return 18
	case TagLongString, TagShortString:
		return 5 + 2*len(v.Str)
	}
	return 0
}
