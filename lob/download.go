package lob

import (
	"encoding/binary"
	"io"
	"time"
	"unicode/utf16"

	"github.com/ponysql/ponysql-go/ponyerr"
	"github.com/ponysql/ponysql-go/wire"
)

// Reader is a lazily-paged reader over a downloadable streamable object.
// It borrows its enclosing cursor's result id and must not outlive it.
type Reader struct {
	req      Requester
	resultID int32
	ref      wire.StreamableRef
	timeout  time.Duration

	pos      int64
	page     []byte
	pageBase int64
}

// NewReader creates a Reader for ref, scoped to resultID.
func NewReader(req Requester, resultID int32, ref wire.StreamableRef, timeout time.Duration) *Reader {
	return &Reader{req: req, resultID: resultID, ref: ref, timeout: timeout, pageBase: -1}
}

// Read implements io.Reader over the raw byte content: for a binary
// streamable this is the object's bytes; for a character streamable
// this is the wire's 2-byte-per-code-unit form (use CharReader for the
// decoded rune stream, or ASCIIReader for the low-byte view).
func (r *Reader) Read(p []byte) (int, error) {
	if r.pos >= r.ref.Size {
		return 0, io.EOF
	}
	if r.page == nil || r.pos < r.pageBase || r.pos >= r.pageBase+int64(len(r.page)) {
		if err := r.fetchPage(r.pos); err != nil {
			return 0, err
		}
	}
	off := int(r.pos - r.pageBase)
	n := copy(p, r.page[off:])
	r.pos += int64(n)
	return n, nil
}

func (r *Reader) fetchPage(at int64) error {
	length := int64(wire.StreamChunkSize)
	if remaining := r.ref.Size - at; remaining < length {
		length = remaining
	}

	body := make([]byte, 0, 20)
	body = appendInt32(body, r.resultID)
	body = appendInt64(body, r.ref.ID)
	body = appendInt64(body, at)
	body = appendInt32(body, int32(length)) //nolint:gosec // page lengths are bounded by StreamChunkSize

	resp, err := r.req.Send(wire.CmdStreamableObjectSection, body, r.timeout)
	if err != nil {
		return err
	}
	if len(resp) < 4 {
		return ponyerr.NewProtocolError("streamable section response too short")
	}
	status := wire.Status(readInt32(resp[:4]))
	if status == wire.StatusException {
		return ponyerr.NewProtocolError("streamable section fetch failed")
	}
	r.page = resp[4:]
	r.pageBase = at
	return nil
}

// ASCIIReader adapts r to the low-byte-per-code-unit view of a
// character streamable.
type ASCIIReader struct {
	src *Reader
	buf []byte
}

// NewASCIIReader wraps r for character streamables.
func NewASCIIReader(r *Reader) *ASCIIReader { return &ASCIIReader{src: r} }

func (a *ASCIIReader) Read(p []byte) (int, error) {
	raw := make([]byte, 2*len(p))
	n, err := a.src.Read(raw)
	n -= n % 2 // only consume whole code units
	for i := 0; i < n; i += 2 {
		p[i/2] = raw[i+1] // low byte of a big-endian 16-bit code unit
	}
	return n / 2, err
}

// CharReader decodes a character streamable's wire bytes (2 bytes per
// code unit, big-endian) into UTF-8 text. Decoded bytes that don't fit
// a single Read call are held in an internal carry-over buffer so no
// text is ever dropped.
type CharReader struct {
	src     *Reader
	pending []byte
}

// NewCharReader wraps r for character streamables.
func NewCharReader(r *Reader) *CharReader { return &CharReader{src: r} }

func (c *CharReader) Read(p []byte) (int, error) {
	if len(c.pending) == 0 {
		raw := make([]byte, 2*((len(p)/3)+1))
		n, err := c.src.Read(raw)
		n -= n % 2
		units := make([]uint16, n/2)
		for i := range units {
			units[i] = binary.BigEndian.Uint16(raw[2*i : 2*i+2])
		}
		c.pending = []byte(string(utf16.Decode(units)))
		if len(c.pending) == 0 {
			return 0, err
		}
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}
