// Package conn implements the connection and session layer (C6): the
// login handshake, query submission (including any pending streamable
// uploads referenced by parameters), result/object disposal, and
// trigger subscription. It is the one package that wires together
// wire, dispatch, lob, cursor, and trigger into a usable connection.
package conn

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ponysql/ponysql-go/cursor"
	"github.com/ponysql/ponysql-go/detect"
	"github.com/ponysql/ponysql-go/dispatch"
	"github.com/ponysql/ponysql-go/lob"
	"github.com/ponysql/ponysql-go/ponyerr"
	"github.com/ponysql/ponysql-go/query"
	"github.com/ponysql/ponysql-go/trigger"
	"github.com/ponysql/ponysql-go/wire"
)

// Options configures a Conn beyond what the DSN itself carries.
type Options struct {
	// Timeout bounds each request/response round trip absent a shorter
	// deadline on the Query call's context. Zero means wait
	// indefinitely, matching the reference's effectively-unbounded
	// default.
	Timeout time.Duration

	// RowCache is shared across every cursor opened on the connection.
	// A nil value creates one sized to cursor's own defaults.
	RowCache *cursor.RowCache

	// MaxRows caps the effective row count of every query result
	// opened on this connection. Zero means unbounded.
	MaxRows int32

	// ChattyQueryDetector, if set, is fed every normalized query text
	// submitted on this connection. A crossed threshold is logged, not
	// returned as an error — it is a diagnostic, not a query failure.
	ChattyQueryDetector *detect.Detector
}

// Conn is an authenticated connection to a pony server.
type Conn struct {
	transport wire.Transport
	mux       *dispatch.Multiplexer
	triggers  *trigger.Dispatcher
	cache     *cursor.RowCache

	timeout       time.Duration
	maxRows       int32
	caseSensitive bool

	serverVersion int32

	mu     sync.Mutex
	closed bool

	uploadMu     sync.Mutex
	nextUploadID int64
	pending      map[int64]lob.PendingUpload

	detector *detect.Detector
}

// DialTCP dials dsn.Host:dsn.Port over TCP, runs the login handshake,
// and returns a ready Conn.
func DialTCP(ctx context.Context, dsn DSN, user, password string, opts Options) (*Conn, error) {
	addr := net.JoinHostPort(dsn.Host, strconv.Itoa(dsn.Port))
	var d net.Dialer
	netConn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, ponyerr.NewTransportError("dial "+addr, err)
	}
	return New(wire.NewTCPTransport(netConn), dsn.Schema, user, password, opts)
}

// New runs the login handshake over transport and returns a ready Conn.
// Callers that need an in-process ("embedded") connection construct
// transport via wire.NewPipeTransportPair and drive the server side of
// the pair themselves (see package ponyserver).
func New(transport wire.Transport, schema, user, password string, opts Options) (*Conn, error) {
	if opts.RowCache == nil {
		opts.RowCache = cursor.NewRowCache(0, 0)
	}

	serverVersion, err := handshake(transport)
	if err != nil {
		transport.Close()
		return nil, err
	}
	if err := login(transport, schema, user, password); err != nil {
		transport.Close()
		return nil, err
	}

	c := &Conn{
		transport:     transport,
		triggers:      trigger.NewDispatcher(),
		cache:         opts.RowCache,
		timeout:       opts.Timeout,
		maxRows:       opts.MaxRows,
		serverVersion: serverVersion,
		pending:       make(map[int64]lob.PendingUpload),
		detector:      opts.ChattyQueryDetector,
	}
	c.mux = dispatch.New(transport, c.triggers.HandleEvent)
	c.mux.Start()

	if err := c.configurePostLogin(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// ---------------- handshake / login ----------------

func handshake(t wire.Transport) (serverVersion int32, err error) {
	var req bytes.Buffer
	for _, v := range []int32{wire.HandshakeMagic, wire.DriverMajor, wire.DriverMinor} {
		if err := binary.Write(&req, binary.BigEndian, v); err != nil {
			return 0, err
		}
	}
	if err := t.WriteFrame(req.Bytes()); err != nil {
		return 0, err
	}

	resp, err := t.ReadFrame()
	if err != nil {
		return 0, err
	}
	if len(resp) < 4 {
		return 0, ponyerr.NewProtocolError("handshake ack too short")
	}
	ack := int32(binary.BigEndian.Uint32(resp[:4])) //nolint:gosec // fixed small constant
	if ack != wire.HandshakeACK {
		return 0, ponyerr.NewProtocolError("unexpected handshake ack %d", ack)
	}
	if len(resp) >= 9 && resp[4] == 1 {
		serverVersion = int32(binary.BigEndian.Uint32(resp[5:9])) //nolint:gosec // server-declared version
	}
	return serverVersion, nil
}

func login(t wire.Transport, schema, user, password string) error {
	var req bytes.Buffer
	for _, s := range []string{schema, user, password} {
		if err := wire.WriteUTF(&req, s); err != nil {
			return err
		}
	}
	if err := t.WriteFrame(req.Bytes()); err != nil {
		return err
	}

	resp, err := t.ReadFrame()
	if err != nil {
		return err
	}
	if len(resp) < 4 {
		return ponyerr.NewProtocolError("login response too short")
	}
	switch wire.Status(binary.BigEndian.Uint32(resp[:4])) {
	case wire.StatusUserAuthPassed:
		return nil
	case wire.StatusUserAuthFailed:
		return ponyerr.AuthenticationFailed
	default:
		return ponyerr.NewProtocolError("unexpected login response status")
	}
}

// configurePostLogin issues SHOW CONNECTION_INFO and adopts any
// server-declared flags it recognises. A server that doesn't implement
// the built-in query is tolerated — the connection keeps its defaults.
func (c *Conn) configurePostLogin() error {
	cur, err := c.Query(context.Background(), "SHOW CONNECTION_INFO")
	if err != nil {
		var serverErr *ponyerr.ServerError
		if errors.As(err, &serverErr) {
			return nil
		}
		return err
	}
	defer cur.Close()

	ok, err := cur.Next()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if v, err := cur.GetBoolean("case_insensitive_identifiers"); err == nil {
		c.caseSensitive = !v
	}
	return nil
}

// ---------------- query submission ----------------

// Query uploads any pending streamable parameters, submits sql, and
// returns a cursor over the result. A shorter deadline on ctx takes
// precedence over Options.Timeout.
func (c *Conn) Query(ctx context.Context, sql string, params ...wire.Value) (*cursor.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	timeout := c.effectiveTimeout(ctx)
	if err := c.uploadPendingParams(params, timeout); err != nil {
		return nil, err
	}
	c.recordChattyQuery(sql, params)

	var body bytes.Buffer
	q := wire.Query{SQL: sql, Params: params}
	if err := q.WriteTo(&body); err != nil {
		return nil, err
	}

	resp, err := c.mux.Send(wire.CmdQuery, body.Bytes(), timeout)
	if err != nil {
		return nil, err
	}
	return c.decodeQueryResponse(resp, timeout)
}

func (c *Conn) effectiveTimeout(ctx context.Context) time.Duration {
	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); timeout <= 0 || remaining < timeout {
			timeout = remaining
		}
	}
	return timeout
}

// recordChattyQuery feeds sql's normalized template into the connection's
// chatty-query detector, if one is configured, and logs a one-time alert
// when the same template crosses the detector's threshold (e.g. a loop
// re-issuing the same parameterised SELECT once per iteration). The
// alert line shows the query with its actual parameter values bound in,
// since the normalized template alone hides which particular call is
// the culprit.
func (c *Conn) recordChattyQuery(sql string, params []wire.Value) {
	if c.detector == nil {
		return
	}
	r := c.detector.Record(query.Normalize(sql), time.Now())
	if r.Alert != nil {
		log.Printf("conn: chatty query detected (%d times in quick succession): %s",
			r.Alert.Count, query.Bind(sql, displayParams(params)))
	}
}

func displayParams(params []wire.Value) []string {
	out := make([]string, len(params))
	for i, p := range params {
		out[i] = displayParam(p)
	}
	return out
}

func displayParam(v wire.Value) string {
	switch v.Tag {
	case wire.TagNull:
		return "null"
	case wire.TagStreamable:
		return "<streamable>"
	case wire.TagInt:
		return fmt.Sprint(v.Int32Val)
	case wire.TagLong:
		return fmt.Sprint(v.Int64Val)
	case wire.TagBoolean:
		return fmt.Sprint(v.Bool)
	case wire.TagBinary:
		return fmt.Sprintf("<%d bytes>", len(v.Bytes))
	case wire.TagDecimal, wire.TagLegacyDecimal:
		return v.Decimal.String()
	case wire.TagTimestamp:
		return v.Time.String()
	default:
		return v.Str
	}
}

func (c *Conn) decodeQueryResponse(resp []byte, timeout time.Duration) (*cursor.Cursor, error) {
	r := bytes.NewReader(resp)
	var status int32
	if err := binary.Read(r, binary.BigEndian, &status); err != nil {
		return nil, ponyerr.NewProtocolError("query response truncated")
	}
	switch wire.Status(status) {
	case wire.StatusSuccess:
		header, err := wire.ReadQueryResponseHeader(r)
		if err != nil {
			return nil, err
		}
		return cursor.New(c.mux, c.cache, timeout, header, c.caseSensitive, c.maxRows)
	case wire.StatusException:
		return nil, decodeServerError(r)
	case wire.StatusAuthenticationError:
		return nil, ponyerr.AuthorizationDenied
	default:
		return nil, ponyerr.NewProtocolError("unexpected query response status %d", status)
	}
}

func decodeServerError(r io.Reader) error {
	var vendorCode int32
	if err := binary.Read(r, binary.BigEndian, &vendorCode); err != nil {
		return ponyerr.NewProtocolError("exception body missing vendor code")
	}
	message, err := wire.ReadUTF(r)
	if err != nil {
		return err
	}
	stack, err := wire.ReadUTF(r)
	if err != nil {
		return err
	}
	return &ponyerr.ServerError{VendorCode: vendorCode, Message: message, Stack: stack}
}

// ---------------- streamable uploads ----------------

// NewBinaryUpload registers source (total length totalLength bytes) as
// a pending binary streamable upload and returns the handle to pass as
// a query parameter. The upload itself runs the next time the handle
// is submitted in a Query call; the handle is released from the
// registry immediately afterwards and is not reusable.
func (c *Conn) NewBinaryUpload(source io.Reader, totalLength int64) wire.Value {
	return c.registerUpload(wire.StreamableBinary, source, totalLength)
}

// NewCharUpload is NewBinaryUpload for a 16-bit-code-unit character
// stream.
func (c *Conn) NewCharUpload(source io.Reader, totalLength int64) wire.Value {
	return c.registerUpload(wire.StreamableChar, source, totalLength)
}

func (c *Conn) registerUpload(kind wire.StreamableKind, source io.Reader, totalLength int64) wire.Value {
	c.uploadMu.Lock()
	defer c.uploadMu.Unlock()
	c.nextUploadID++
	p := lob.PendingUpload{ID: c.nextUploadID, Kind: kind, TotalLength: totalLength, Source: source}
	c.pending[p.ID] = p
	return wire.Streamable(p.Ref())
}

// uploadPendingParams uploads every streamable parameter still present
// in the client-side registry. Parameters that reference an
// already-downloaded handle (reused as-is, not a pending upload) are
// left untouched.
func (c *Conn) uploadPendingParams(params []wire.Value, timeout time.Duration) error {
	for _, p := range params {
		if p.Tag != wire.TagStreamable {
			continue
		}
		c.uploadMu.Lock()
		pending, ok := c.pending[p.Streamable.ID]
		if ok {
			delete(c.pending, p.Streamable.ID)
		}
		c.uploadMu.Unlock()
		if !ok {
			continue
		}
		if err := lob.Upload(c.mux, pending, timeout); err != nil {
			return err
		}
	}
	return nil
}

// ---------------- triggers ----------------

// Subscribe registers callback for triggerName; asynchronous server
// events matching triggerName are delivered to it on the connection's
// dedicated trigger dispatch goroutine.
func (c *Conn) Subscribe(triggerName string, callback func(trigger.Event)) uuid.UUID {
	return c.triggers.Subscribe(triggerName, callback)
}

// Unsubscribe removes a previously registered callback.
func (c *Conn) Unsubscribe(handle uuid.UUID) {
	c.triggers.Unsubscribe(handle)
}

// ---------------- lifecycle ----------------

func (c *Conn) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ponyerr.ConnectionClosed
	}
	return nil
}

// Close sends CLOSE best-effort, then tears down the multiplexer and
// transport. Subsequent operations fail with ponyerr.ConnectionClosed.
// Safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	_ = c.mux.Notify(wire.CmdClose, nil)
	c.triggers.Close()
	return c.mux.Close()
}
