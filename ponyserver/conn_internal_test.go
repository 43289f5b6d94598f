package ponyserver

import (
	"bytes"
	"testing"

	"github.com/ponysql/ponysql-go/wire"
)

func pushPartBody(id int64, totalLength int64, chunk []byte, offset int64) []byte {
	body := make([]byte, 0, 1+8+8+4+len(chunk)+8)
	body = append(body, byte(wire.StreamableBinary))
	body = appendInt64(body, id)
	body = appendInt64(body, totalLength)
	body = appendInt32(body, int32(len(chunk)))
	body = append(body, chunk...)
	body = appendInt64(body, offset)
	return body
}

// TestHandlePushPartReassemblesByOffset proves reassembly keys off each
// part's declared offset rather than the order parts are handled in: the
// second half of the object arrives before the first half, yet the
// assembled buffer still matches the original payload byte for byte.
func TestHandlePushPartReassemblesByOffset(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte{0}, 0)
	for i := range 64 {
		payload = append(payload, byte(i))
	}
	half := len(payload) / 2

	c := &serverConn{uploads: make(map[int64][]byte)}
	const id = int64(1)

	// Deliver the second half first.
	resp := c.handlePushPart(pushPartBody(id, int64(len(payload)), payload[half:], int64(half)))
	if readInt32(resp[:4]) != int32(wire.StatusSuccess) {
		t.Fatalf("push part 2: unexpected status %d", readInt32(resp[:4]))
	}

	// Then the first half.
	resp = c.handlePushPart(pushPartBody(id, int64(len(payload)), payload[:half], 0))
	if readInt32(resp[:4]) != int32(wire.StatusSuccess) {
		t.Fatalf("push part 1: unexpected status %d", readInt32(resp[:4]))
	}

	got := c.uploads[id]
	if !bytes.Equal(got, payload) {
		t.Fatalf("reassembled = %v, want %v", got, payload)
	}
}

// TestHandlePushPartOverlappingChunk exercises a chunk that overwrites
// part of a region already placed by an earlier chunk (e.g. a retried
// push covering the same range) — placeChunk must not corrupt bytes
// outside the chunk's own [offset, offset+len) span.
func TestHandlePushPartOverlappingChunk(t *testing.T) {
	t.Parallel()

	c := &serverConn{uploads: make(map[int64][]byte)}
	const id = int64(7)

	c.handlePushPart(pushPartBody(id, 8, []byte{1, 2, 3, 4}, 0))
	c.handlePushPart(pushPartBody(id, 8, []byte{5, 6, 7, 8}, 4))
	// Retry of the first chunk, identical bytes, same offset.
	c.handlePushPart(pushPartBody(id, 8, []byte{1, 2, 3, 4}, 0))

	want := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if got := c.uploads[id]; !bytes.Equal(got, want) {
		t.Fatalf("reassembled = %v, want %v", got, want)
	}
}
