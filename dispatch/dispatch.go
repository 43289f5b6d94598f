// Package dispatch implements the dispatch multiplexer (C3): it owns the
// framing transport exclusively after login, correlates concurrent
// request/response pairs by dispatch id, and routes server-initiated
// events onto a separate handler.
//
// The reader loop / correlation table shape is adapted from the
// teacher's relay goroutines (proxy/mysql/conn.go, proxy/postgres/conn.go)
// generalised from "relay both directions" to "one writer mutex, one
// dedicated reader, N parked callers".
package dispatch

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/ponysql/ponysql-go/ponyerr"
	"github.com/ponysql/ponysql-go/wire"
)

// EventHandler is invoked on the reader goroutine for every frame whose
// dispatch id is -1. It must not block
// for long — callers typically hand the payload off to a bounded queue
// (see package trigger).
type EventHandler func(payload []byte)

// Multiplexer is the sole point of serialisation with the server once
// login completes.
type Multiplexer struct {
	transport wire.Transport
	onEvent   EventHandler

	writeMu sync.Mutex
	nextID  int64 // 63-bit monotone counter; protected by writeMu

	mu      sync.Mutex
	cond    *sync.Cond
	pending map[int64]*pendingEntry
	closed  bool
	closeErr error

	started bool
}

type pendingEntry struct {
	payload []byte
	err     error
	done    bool
	timedOut bool
}

// New creates a Multiplexer over transport. The reader loop is not
// started until Start is called — the login handshake in package conn
// speaks raw frames over the same transport before the multiplexer
// takes over.
func New(transport wire.Transport, onEvent EventHandler) *Multiplexer {
	m := &Multiplexer{
		transport: transport,
		onEvent:   onEvent,
		nextID:    1, // id 0 is unused
		pending:   make(map[int64]*pendingEntry),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Start launches the dedicated reader goroutine. Safe to call once.
func (m *Multiplexer) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	go m.readLoop()
}

// Send assigns a fresh dispatch id, serialises `int64 dispatchId` plus
// cmd-specific body into one frame, writes it, and blocks the caller
// until either the matching response arrives or timeout elapses. A zero
// timeout means wait indefinitely, matching the reference's
// effectively-unbounded default.
//
// The wire dispatch-id field is widened from the reference's int32 to
// an int64, avoiding dispatch id collisions on overflow in favour of
// wraparound-free 63-bit ids
// instead of a collision-avoidance step bolted onto a 32-bit counter.
func (m *Multiplexer) Send(cmd wire.Command, body []byte, timeout time.Duration) ([]byte, error) {
	id, err := m.writeRequest(cmd, body)
	if err != nil {
		return nil, err
	}
	return m.wait(id, timeout)
}

// Notify writes a fire-and-forget frame (e.g. CLOSE) that the server
// never replies to. Unlike Send, it does not park a waiter.
func (m *Multiplexer) Notify(cmd wire.Command, body []byte) error {
	_, err := m.writeRequest(cmd, body)
	return err
}

func (m *Multiplexer) writeRequest(cmd wire.Command, body []byte) (int64, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, m.closeErr
	}
	id := m.nextID
	m.nextID++
	m.pending[id] = &pendingEntry{}
	m.mu.Unlock()

	frame := make([]byte, 0, 12+len(body))
	frame = binary.BigEndian.AppendUint32(frame, uint32(cmd)) //nolint:gosec // command codes are small positive constants
	frame = appendInt64(frame, id)
	frame = append(frame, body...)

	if err := m.transport.WriteFrame(frame); err != nil {
		m.mu.Lock()
		delete(m.pending, id)
		m.mu.Unlock()
		return 0, err
	}
	return id, nil
}

func (m *Multiplexer) wait(id int64, timeout time.Duration) ([]byte, error) {
	var timer *time.Timer
	if timeout > 0 {
		timer = time.AfterFunc(timeout, func() {
			m.mu.Lock()
			if e, ok := m.pending[id]; ok && !e.done {
				e.timedOut = true
			}
			m.cond.Broadcast()
			m.mu.Unlock()
		})
		defer timer.Stop()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		e, ok := m.pending[id]
		if !ok {
			// Already claimed/discarded by a racing waiter, or
			// discarded after a timeout.
			return nil, ponyerr.NewProtocolError("dispatch id %d has no pending entry", id)
		}
		if e.done {
			delete(m.pending, id)
			return e.payload, e.err
		}
		if e.timedOut {
			// Leave the entry in the table: the response may still
			// arrive later and must be silently discarded by the
			// reader loop rather than delivered to a waiter that has
			// already given up.
			return nil, ponyerr.Timeout
		}
		if m.closed {
			delete(m.pending, id)
			return nil, m.closeErr
		}
		m.cond.Wait()
	}
}

// readLoop is the single dedicated reader thread.
func (m *Multiplexer) readLoop() {
	for {
		frame, err := m.transport.ReadFrame()
		if err != nil {
			m.failAll(ponyerr.ConnectionClosed)
			return
		}
		if len(frame) < 8 {
			continue // malformed frame; ignore rather than crash the reader
		}
		id := readInt64(frame[:8])
		body := frame[8:]

		if id == wire.AsyncDispatchID {
			if m.onEvent != nil {
				m.onEvent(body)
			}
			continue
		}

		m.mu.Lock()
		if e, ok := m.pending[id]; ok {
			if e.timedOut {
				// Caller already gave up; drop the late response.
				delete(m.pending, id)
			} else {
				e.payload = body
				e.done = true
			}
		}
		m.cond.Broadcast()
		m.mu.Unlock()
	}
}

func (m *Multiplexer) failAll(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.closeErr = err
	for _, e := range m.pending {
		e.err = err
		e.done = true
	}
	m.cond.Broadcast()
}

// Close marks all pending waiters as failed with ConnectionClosed and
// closes the underlying transport.
func (m *Multiplexer) Close() error {
	m.failAll(ponyerr.ConnectionClosed)
	return m.transport.Close()
}

func appendInt64(dst []byte, v int64) []byte {
	return binary.BigEndian.AppendUint64(dst, uint64(v)) //nolint:gosec // dispatch ids are a monotone non-negative counter
}

func readInt64(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b)) //nolint:gosec // inverse of appendInt64
}
