// Package trigger implements the async trigger fan-out reached from C6:
// DATABASE_EVENT payloads handed off by the dispatch multiplexer's event
// handler are parsed, queued, and delivered to subscriber callbacks on a
// dedicated dispatch goroutine, never on the multiplexer's reader
// goroutine.
//
// The Subscribe/Publish shape is adapted from a broker
// (web/web.go, server/server.go: `ch, unsub := broker.Subscribe()`),
// generalised from "one fan-out channel per HTTP/gRPC client" to
// "named-trigger callbacks keyed by a subscription handle."
package trigger

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ponysql/ponysql-go/wire"
)

// Event is a parsed trigger fire, delivered as
// "<triggerName> <source> <fireCount>" on the wire.
type Event struct {
	TriggerName string
	Source      string
	FireCount   int64
}

// Callback receives a fired Event. Panics inside a Callback are caught
// and logged at the dispatch goroutine, never propagated.
type Callback func(Event)

type subscription struct {
	id       uuid.UUID
	trigger  string
	callback Callback
}

// queueDepth bounds the trigger event queue so a stalled callback
// applies backpressure to the producer (the multiplexer's reader
// goroutine) rather than growing memory without limit.
const queueDepth = 256

// Dispatcher owns the trigger dispatch goroutine for one connection. It
// is created lazily on first subscription.
type Dispatcher struct {
	mu   sync.Mutex
	subs map[uuid.UUID]subscription

	queue chan Event
	done  chan struct{}

	startOnce sync.Once
	closeOnce sync.Once
}

// NewDispatcher creates a Dispatcher with no subscribers and no running
// goroutine; the goroutine starts on the first Subscribe call.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subs:  make(map[uuid.UUID]subscription),
		queue: make(chan Event, queueDepth),
		done:  make(chan struct{}),
	}
}

// Subscribe registers callback for triggerName and returns a handle that
// Unsubscribe accepts. Handles are google/uuid values rather than
// sequence numbers, since the reference leaves the handle's shape
// unspecified.
func (d *Dispatcher) Subscribe(triggerName string, cb Callback) uuid.UUID {
	d.startOnce.Do(func() { go d.run() })

	id := uuid.New()
	d.mu.Lock()
	d.subs[id] = subscription{id: id, trigger: triggerName, callback: cb}
	d.mu.Unlock()
	return id
}

// Unsubscribe removes a previously registered callback. Unsubscribing an
// unknown or already-removed handle is a no-op.
func (d *Dispatcher) Unsubscribe(handle uuid.UUID) {
	d.mu.Lock()
	delete(d.subs, handle)
	d.mu.Unlock()
}

// HandleEvent is the dispatch multiplexer's EventHandler for async
// frames. It recognises DATABASE_EVENT and PING leading int32 event
// codes; PING events are silently consumed. Unknown event codes are
// logged and dropped, since the reference does not define any others.
func (d *Dispatcher) HandleEvent(payload []byte) {
	if len(payload) < 4 {
		return
	}
	eventType := wire.EventType(int32FromBytes(payload[:4]))
	switch eventType {
	case wire.EventPing:
		return
	case wire.EventDatabase:
		msg, err := wire.DecodeUTFFrom(payload[4:])
		if err != nil {
			log.Printf("trigger: malformed DATABASE_EVENT payload: %v", err)
			return
		}
		ev, err := parseEvent(msg)
		if err != nil {
			log.Printf("trigger: %v", err)
			return
		}
		d.publish(ev)
	default:
		log.Printf("trigger: ignoring unrecognised async event type %d", eventType)
	}
}

// publish enqueues ev. The caller is the multiplexer's event handler,
// itself invoked from the reader goroutine; while the bounded queue is
// full, publish blocks that goroutine until the dispatch goroutine
// frees a slot (or Close is called), so events are never dropped while
// the dispatcher is open. Racing against Close is handled by selecting on
// done alongside the send rather than checking a closed flag and then
// sending separately — that gap is exactly where a send on a channel
// Close has already closed would panic.
func (d *Dispatcher) publish(ev Event) {
	select {
	case d.queue <- ev:
	case <-d.done:
	}
}

func (d *Dispatcher) run() {
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		case <-d.done:
			return
		}
	}
}

func (d *Dispatcher) deliver(ev Event) {
	d.mu.Lock()
	matching := make([]Callback, 0, len(d.subs))
	for _, s := range d.subs {
		if s.trigger == ev.TriggerName {
			matching = append(matching, s.callback)
		}
	}
	d.mu.Unlock()

	for _, cb := range matching {
		invokeSafely(cb, ev)
	}
}

func invokeSafely(cb Callback, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("trigger: callback for %q panicked: %v", ev.TriggerName, r)
		}
	}()
	cb(ev)
}

// Close stops the dispatch goroutine; after it, HandleEvent delivers no
// events to subscribers. Safe to call more than
// once and safe to race with an in-flight publish: closing done (rather
// than the queue itself) means a publish either lands its send before
// done closes or observes done closed and drops the event, never a send
// on an already-closed channel.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.done)
	})
}

// parseEvent parses the "<triggerName> <source> <fireCount>" wire
// format.
func parseEvent(msg string) (Event, error) {
	fields := strings.Fields(msg)
	if len(fields) != 3 {
		return Event{}, fmt.Errorf("malformed trigger event %q: want 3 fields, got %d", msg, len(fields))
	}
	count, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return Event{}, fmt.Errorf("malformed trigger event %q: fire count: %w", msg, err)
	}
	return Event{TriggerName: fields[0], Source: fields[1], FireCount: count}, nil
}

func int32FromBytes(b []byte) int32 {
	return int32(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]))
}
