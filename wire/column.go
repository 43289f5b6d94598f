package wire

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/ponysql/ponysql-go/ponyerr"
)

// InternalType is the coarse storage-kind tag of a column.
type InternalType int32

const (
	InternalString      InternalType = 0
	InternalNumeric     InternalType = 1
	InternalTime        InternalType = 2
	InternalBinary      InternalType = 3
	InternalBoolean     InternalType = 4
	InternalLargeBinary InternalType = 5
	InternalObject      InternalType = 6
)

// ColumnDescription describes one result-set column. It
// round-trips exactly to/from the byte stream: UTF name, int32
// internalType, int32 size, bool notNull, bool unique, int32 uniqueGroup,
// int32 sqlType, int32 scale.
type ColumnDescription struct {
	Name         string
	InternalType InternalType
	Size         int32 // -1 = unbounded
	NotNull      bool
	Unique       bool
	UniqueGroup  int32 // -1 = none
	SQLType      int32
	Scale        int32 // -1 = unspecified
}

// IsLargeObject reports whether the column holds a streamable handle
// rather than an inline value, used by the small-result-inlining
// eligibility check.
func (c ColumnDescription) IsLargeObject() bool {
	return c.InternalType == InternalLargeBinary
}

// WriteTo serialises c in the wire order.
func (c ColumnDescription) WriteTo(dst io.Writer) error {
	if err := writeUTF(dst, c.Name); err != nil {
		return err
	}
	for _, v := range []int32{int32(c.InternalType), c.Size} {
		if err := binary.Write(dst, binary.BigEndian, v); err != nil {
			return err
		}
	}
	for _, b := range []bool{c.NotNull, c.Unique} {
		if err := binary.Write(dst, binary.BigEndian, boolByte(b)); err != nil {
			return err
		}
	}
	for _, v := range []int32{c.UniqueGroup, c.SQLType, c.Scale} {
		if err := binary.Write(dst, binary.BigEndian, v); err != nil {
			return err
		}
	}
	return nil
}

// ReadColumnDescription reads one ColumnDescription from src.
func ReadColumnDescription(src io.Reader) (ColumnDescription, error) {
	var c ColumnDescription
	name, err := readUTF(src)
	if err != nil {
		return c, err
	}
	c.Name = name

	var internalType, size int32
	if err := binary.Read(src, binary.BigEndian, &internalType); err != nil {
		return c, ponyerr.NewTransportError("read column internal type", err)
	}
	if err := binary.Read(src, binary.BigEndian, &size); err != nil {
		return c, ponyerr.NewTransportError("read column size", err)
	}
	c.InternalType = InternalType(internalType)
	c.Size = size

	var notNull, unique byte
	if err := binary.Read(src, binary.BigEndian, &notNull); err != nil {
		return c, ponyerr.NewTransportError("read column not-null flag", err)
	}
	if err := binary.Read(src, binary.BigEndian, &unique); err != nil {
		return c, ponyerr.NewTransportError("read column unique flag", err)
	}
	c.NotNull = notNull != 0
	c.Unique = unique != 0

	if err := binary.Read(src, binary.BigEndian, &c.UniqueGroup); err != nil {
		return c, ponyerr.NewTransportError("read column unique group", err)
	}
	if err := binary.Read(src, binary.BigEndian, &c.SQLType); err != nil {
		return c, ponyerr.NewTransportError("read column sql type", err)
	}
	if err := binary.Read(src, binary.BigEndian, &c.Scale); err != nil {
		return c, ponyerr.NewTransportError("read column scale", err)
	}
	return c, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// writeUTF writes a uint16-length-prefixed UTF-8 string, the "UTF"
// primitive used throughout the wire protocol.
func writeUTF(dst io.Writer, s string) error {
	if len(s) > 0xFFFF {
		return ponyerr.NewProtocolError("UTF string too long: %d bytes", len(s))
	}
	if err := binary.Write(dst, binary.BigEndian, uint16(len(s))); err != nil { //nolint:gosec // length checked above
		return err
	}
	_, err := dst.Write([]byte(s))
	return err
}

// WriteUTF writes one UTF primitive, for callers (e.g. package conn)
// assembling a raw handshake/login frame rather than a decoded value.
func WriteUTF(dst io.Writer, s string) error {
	return writeUTF(dst, s)
}

// DecodeUTFFrom reads one UTF primitive from the front of b and returns
// the decoded string, for callers (e.g. package trigger) that already
// hold a complete frame body rather than a stream.
func DecodeUTFFrom(b []byte) (string, error) {
	return readUTF(bytes.NewReader(b))
}

// ReadUTF reads one UTF primitive from src, for callers streaming a
// response body (e.g. package cursor decoding an EXCEPTION body).
func ReadUTF(src io.Reader) (string, error) {
	return readUTF(src)
}

func readUTF(src io.Reader) (string, error) {
	var n uint16
	if err := binary.Read(src, binary.BigEndian, &n); err != nil {
		return "", ponyerr.NewTransportError("read UTF length", err)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(src, buf); err != nil {
		return "", ponyerr.NewTransportError("read UTF body", err)
	}
	return string(buf), nil
}
