package wire

import (
	"encoding/binary"
	"io"

	"github.com/ponysql/ponysql-go/ponyerr"
)

// Query is SQL text plus an ordered vector of bound parameter values.
type Query struct {
	SQL    string
	Params []Value
}

// WriteTo serialises q as the QUERY command body: UTF text, int32 param
// count, then each encoded value in order.
func (q Query) WriteTo(dst io.Writer) error {
	if err := writeUTF(dst, q.SQL); err != nil {
		return err
	}
	if err := binary.Write(dst, binary.BigEndian, int32(len(q.Params))); err != nil { //nolint:gosec // parameter counts are bounded well under 2^31
		return err
	}
	for _, p := range q.Params {
		if err := EncodeValue(dst, p); err != nil {
			return err
		}
	}
	return nil
}

// ReadQuery reads a Query previously written by WriteTo.
func ReadQuery(src io.Reader) (Query, error) {
	sql, err := readUTF(src)
	if err != nil {
		return Query{}, err
	}
	var n int32
	if err := binary.Read(src, binary.BigEndian, &n); err != nil {
		return Query{}, ponyerr.NewTransportError("read param count", err)
	}
	if n < 0 {
		return Query{}, ponyerr.NewProtocolError("negative param count %d", n)
	}
	params := make([]Value, n)
	for i := range params {
		v, err := DecodeValue(src)
		if err != nil {
			return Query{}, err
		}
		params[i] = v
	}
	return Query{SQL: sql, Params: params}, nil
}

// QueryResponseHeader is the success body of a QUERY command: result id,
// server-measured execution time, total row count, and column list.
type QueryResponseHeader struct {
	ResultID    int32
	QueryTimeMs int32
	RowCount    int32
	Columns     []ColumnDescription
}

// WriteTo serialises h in wire order.
func (h QueryResponseHeader) WriteTo(dst io.Writer) error {
	for _, v := range []int32{h.ResultID, h.QueryTimeMs, h.RowCount, int32(len(h.Columns))} { //nolint:gosec // column counts are bounded well under 2^31
		if err := binary.Write(dst, binary.BigEndian, v); err != nil {
			return err
		}
	}
	for _, c := range h.Columns {
		if err := c.WriteTo(dst); err != nil {
			return err
		}
	}
	return nil
}

// ReadQueryResponseHeader reads a QueryResponseHeader written by WriteTo.
func ReadQueryResponseHeader(src io.Reader) (QueryResponseHeader, error) {
	var h QueryResponseHeader
	var columnCount int32
	fields := []*int32{&h.ResultID, &h.QueryTimeMs, &h.RowCount, &columnCount}
	for _, f := range fields {
		if err := binary.Read(src, binary.BigEndian, f); err != nil {
			return h, ponyerr.NewTransportError("read query response header", err)
		}
	}
	if columnCount < 0 {
		return h, ponyerr.NewProtocolError("negative column count %d", columnCount)
	}
	h.Columns = make([]ColumnDescription, columnCount)
	for i := range h.Columns {
		c, err := ReadColumnDescription(src)
		if err != nil {
			return h, err
		}
		h.Columns[i] = c
	}
	return h, nil
}
