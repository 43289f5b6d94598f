package ponyserver

import (
	"bytes"
	"encoding/binary"
	"sync"

	"github.com/ponysql/ponysql-go/wire"
)

// serverVersion is what the stub reports back during the handshake.
const serverVersion int32 = 1

// serverConn is one accepted connection's session state: the open
// result sets it is holding on behalf of the client, and the
// streamable-object bytes uploaded to it but not yet disposed.
type serverConn struct {
	srv       *Server
	transport wire.Transport

	writeMu sync.Mutex

	nextResultID int32
	results      map[int32]execResult
	uploads      map[int64][]byte
}

func newServerConn(srv *Server, transport wire.Transport) *serverConn {
	return &serverConn{
		srv:          srv,
		transport:    transport,
		nextResultID: 1,
		results:      make(map[int32]execResult),
		uploads:      make(map[int64][]byte),
	}
}

// run drives the raw handshake and login frames, then the
// request/response dispatch loop, until CLOSE or a transport error.
func (c *serverConn) run() {
	if err := c.handshake(); err != nil {
		return
	}
	if err := c.login(); err != nil {
		return
	}

	for {
		frame, err := c.transport.ReadFrame()
		if err != nil {
			return
		}
		if len(frame) < 12 {
			continue
		}
		cmd := wire.Command(binary.BigEndian.Uint32(frame[:4]))
		id := readInt64(frame[4:12])
		body := frame[12:]

		if cmd == wire.CmdClose {
			return
		}

		resp := c.handle(cmd, body)
		out := make([]byte, 8, 8+len(resp))
		binary.BigEndian.PutUint64(out, uint64(id)) //nolint:gosec // dispatch ids are non-negative
		out = append(out, resp...)
		if err := c.writeFrame(out); err != nil {
			return
		}
	}
}

func (c *serverConn) handshake() error {
	if _, err := c.transport.ReadFrame(); err != nil {
		return err
	}
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, wire.HandshakeACK)
	buf.WriteByte(1)
	_ = binary.Write(&buf, binary.BigEndian, serverVersion)
	return c.writeFrame(buf.Bytes())
}

func (c *serverConn) login() error {
	frame, err := c.transport.ReadFrame()
	if err != nil {
		return err
	}
	r := bytes.NewReader(frame)
	schema, err := wire.ReadUTF(r)
	if err != nil {
		return err
	}
	user, err := wire.ReadUTF(r)
	if err != nil {
		return err
	}
	password, err := wire.ReadUTF(r)
	if err != nil {
		return err
	}

	status := wire.StatusUserAuthPassed
	if !c.srv.authenticate(schema, user, password) {
		status = wire.StatusUserAuthFailed
	}
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, int32(status))
	return c.writeFrame(buf.Bytes())
}

func (c *serverConn) handle(cmd wire.Command, body []byte) []byte {
	switch cmd {
	case wire.CmdQuery:
		return c.handleQuery(body)
	case wire.CmdResultSection:
		return c.handleResultSection(body)
	case wire.CmdDisposeResult:
		return c.handleDisposeResult(body)
	case wire.CmdPushStreamableObjectPart:
		return c.handlePushPart(body)
	case wire.CmdStreamableObjectSection:
		return c.handleStreamableSection(body)
	case wire.CmdDisposeStreamableObject:
		return c.handleDisposeStreamable(body)
	default:
		return exceptionResponse("unrecognised command")
	}
}

func (c *serverConn) handleQuery(body []byte) []byte {
	q, err := wire.ReadQuery(bytes.NewReader(body))
	if err != nil {
		return exceptionResponse(err.Error())
	}

	result, err := c.srv.execute(q.SQL, c.srv.caseInsensitiveIdentifiers)
	if err != nil {
		return exceptionResponse(err.Error())
	}

	id := c.nextResultID
	c.nextResultID++
	c.results[id] = result

	header := wire.QueryResponseHeader{ResultID: id, RowCount: int32(len(result.rows)), Columns: result.columns} //nolint:gosec // row counts are test-fixture sized
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, int32(wire.StatusSuccess))
	_ = header.WriteTo(&buf)
	return buf.Bytes()
}

func (c *serverConn) handleResultSection(body []byte) []byte {
	if len(body) < 12 {
		return exceptionResponse("malformed RESULT_SECTION request")
	}
	resultID := readInt32(body[0:4])
	start := readInt32(body[4:8])
	count := readInt32(body[8:12])

	result, ok := c.results[resultID]
	if !ok {
		return exceptionResponse("no such result")
	}

	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, int32(wire.StatusSuccess))
	_ = binary.Write(&buf, binary.BigEndian, int32(len(result.columns)))
	for i := start; i < start+count; i++ {
		for _, v := range result.rows[i] {
			_ = wire.EncodeValue(&buf, v)
		}
	}
	return buf.Bytes()
}

func (c *serverConn) handleDisposeResult(body []byte) []byte {
	if len(body) < 4 {
		return exceptionResponse("malformed DISPOSE_RESULT request")
	}
	delete(c.results, readInt32(body[0:4]))
	return appendInt32(nil, int32(wire.StatusSuccess))
}

func (c *serverConn) handlePushPart(body []byte) []byte {
	if len(body) < 21 {
		return exceptionResponse("malformed PUSH_STREAMABLE_OBJECT_PART request")
	}
	id := readInt64(body[1:9])
	chunkLen := readInt32(body[17:21])
	if len(body) < 21+int(chunkLen)+8 {
		return exceptionResponse("truncated PUSH_STREAMABLE_OBJECT_PART chunk")
	}
	chunk := body[21 : 21+chunkLen]
	offset := readInt64(body[21+chunkLen : 21+chunkLen+8])

	c.placeChunk(id, offset, chunk)
	return appendInt32(nil, int32(wire.StatusSuccess))
}

// placeChunk writes chunk into the upload buffer for id at offset,
// growing the buffer as needed. Chunks may arrive out of order over the
// wire (lob splits an object into independently-sent parts); reassembly
// must key off each part's declared offset, not arrival order.
func (c *serverConn) placeChunk(id int64, offset int64, chunk []byte) {
	buf := c.uploads[id]
	end := offset + int64(len(chunk))
	if int64(len(buf)) < end {
		grown := make([]byte, end)
		copy(grown, buf)
		buf = grown
	}
	copy(buf[offset:end], chunk)
	c.uploads[id] = buf
}

func (c *serverConn) handleStreamableSection(body []byte) []byte {
	if len(body) < 24 {
		return exceptionResponse("malformed STREAMABLE_OBJECT_SECTION request")
	}
	id := readInt64(body[4:12])
	at := readInt64(body[12:20])
	length := readInt32(body[20:24])

	data, ok := c.uploads[id]
	if !ok {
		return exceptionResponse("no such streamable object")
	}
	end := at + int64(length)
	if end > int64(len(data)) {
		end = int64(len(data))
	}

	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, int32(wire.StatusSuccess))
	buf.Write(data[at:end])
	return buf.Bytes()
}

func (c *serverConn) handleDisposeStreamable(body []byte) []byte {
	if len(body) < 12 {
		return exceptionResponse("malformed DISPOSE_STREAMABLE_OBJECT request")
	}
	delete(c.uploads, readInt64(body[4:12]))
	return appendInt32(nil, int32(wire.StatusSuccess))
}

// sendAsync writes payload as an async frame (dispatch id
// wire.AsyncDispatchID), best-effort: a connection mid-teardown simply
// drops the event.
func (c *serverConn) sendAsync(payload []byte) {
	out := make([]byte, 8, 8+len(payload))
	asyncID := wire.AsyncDispatchID
	binary.BigEndian.PutUint64(out, uint64(asyncID)) //nolint:gosec // fixed sentinel, not a real counter value
	out = append(out, payload...)
	_ = c.writeFrame(out)
}

func (c *serverConn) writeFrame(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.transport.WriteFrame(frame)
}

func exceptionResponse(message string) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, int32(wire.StatusException))
	_ = binary.Write(&buf, binary.BigEndian, int32(0)) // vendor code
	_ = wire.WriteUTF(&buf, message)
	_ = wire.WriteUTF(&buf, "")
	return buf.Bytes()
}
