package wire

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/ponysql/ponysql-go/ponyerr"
)

// frameBufferSize is the suggested buffer depth in each direction for a
// TCP-backed transport.
const frameBufferSize = 32 * 1024

// Transport is a length-prefixed command-frame channel over a reliable
// ordered byte stream. The rest of the driver depends
// only on this interface, never on which realisation backs it.
type Transport interface {
	// WriteFrame writes one frame: a big-endian uint32 length followed
	// by payload. Exclusive with respect to other writers, and flushed
	// before returning.
	WriteFrame(payload []byte) error
	// ReadFrame blocks until a complete frame is available.
	ReadFrame() ([]byte, error)
	// Close is idempotent; subsequent reads/writes fail with
	// TransportError.
	Close() error
}

// streamTransport implements Transport over any net.Conn — used both
// for the TCP realisation and the in-memory net.Pipe realisation. The
// rest of the core must not depend on which realisation is in use.
type streamTransport struct {
	conn net.Conn
	r    *bufio.Reader

	writeMu sync.Mutex
	w       *bufio.Writer

	closeMu sync.Mutex
	closed  bool
}

// NewTCPTransport wraps an established TCP connection as a Transport.
func NewTCPTransport(conn net.Conn) Transport {
	return &streamTransport{
		conn: conn,
		r:    bufio.NewReaderSize(conn, frameBufferSize),
		w:    bufio.NewWriterSize(conn, frameBufferSize),
	}
}

// NewPipeTransportPair returns two Transports connected by an in-memory
// pipe, for the embedded-server realisation.
func NewPipeTransportPair() (client Transport, server Transport) {
	a, b := net.Pipe()
	return NewTCPTransport(a), NewTCPTransport(b)
}

func (t *streamTransport) WriteFrame(payload []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.isClosed() {
		return ponyerr.NewTransportError("write frame", ponyerr.ConnectionClosed)
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload))) //nolint:gosec // frames are bounded well under 4GiB
	if _, err := t.w.Write(lenBuf[:]); err != nil {
		return ponyerr.NewTransportError("write frame length", err)
	}
	if _, err := t.w.Write(payload); err != nil {
		return ponyerr.NewTransportError("write frame payload", err)
	}
	if err := t.w.Flush(); err != nil {
		return ponyerr.NewTransportError("flush frame", err)
	}
	return nil
}

func (t *streamTransport) ReadFrame() ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(t.r, lenBuf[:]); err != nil {
		return nil, ponyerr.NewTransportError("read frame length", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	payload := make([]byte, n)
	if _, err := io.ReadFull(t.r, payload); err != nil {
		return nil, ponyerr.NewTransportError("read frame payload", err)
	}
	return payload, nil
}

func (t *streamTransport) Close() error {
	t.closeMu.Lock()
	if t.closed {
		t.closeMu.Unlock()
		return nil
	}
	t.closed = true
	t.closeMu.Unlock()

	if err := t.conn.Close(); err != nil {
		return ponyerr.NewTransportError("close", err)
	}
	return nil
}

func (t *streamTransport) isClosed() bool {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()
	return t.closed
}
