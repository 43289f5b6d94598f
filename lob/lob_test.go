package lob_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ponysql/ponysql-go/lob"
	"github.com/ponysql/ponysql-go/ponyerr"
	"github.com/ponysql/ponysql-go/wire"
)

// fakeRequester records every body it was asked to send and answers
// with a canned success status.
type fakeRequester struct {
	mu     sync.Mutex
	bodies [][]byte
}

func (f *fakeRequester) Send(_ wire.Command, body []byte, _ time.Duration) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte{}, body...)
	f.bodies = append(f.bodies, cp)
	resp := make([]byte, 4)
	binary.BigEndian.PutUint32(resp, uint32(wire.StatusSuccess))
	return resp, nil
}

func TestUploadChunksAtStreamChunkSize(t *testing.T) {
	t.Parallel()

	total := wire.StreamChunkSize*4 + 123
	data := bytes.Repeat([]byte{0x5A}, total)
	req := &fakeRequester{}
	p := lob.PendingUpload{ID: 1, Kind: wire.StreamableBinary, TotalLength: int64(total), Source: bytes.NewReader(data)}

	if err := lob.Upload(req, p, time.Second); err != nil {
		t.Fatalf("upload: %v", err)
	}

	if len(req.bodies) < 4 {
		t.Fatalf("expected at least 4 PUSH_STREAMABLE_OBJECT_PART frames, got %d", len(req.bodies))
	}

	var reassembled []byte
	for _, body := range req.bodies {
		// byte kind, int64 id, int64 totalLength, int32 chunkLen, chunk..., int64 offset
		chunkLen := int32(binary.BigEndian.Uint32(body[17:21]))
		chunk := body[21 : 21+chunkLen]
		reassembled = append(reassembled, chunk...)
	}
	if !bytes.Equal(reassembled, data) {
		t.Fatal("reassembled upload does not match source")
	}
}

func TestUploadPrematureEOFIsIOError(t *testing.T) {
	t.Parallel()

	req := &fakeRequester{}
	p := lob.PendingUpload{
		ID:          2,
		Kind:        wire.StreamableBinary,
		TotalLength: int64(wire.StreamChunkSize) * 2,
		Source:      bytes.NewReader(make([]byte, 10)), // far short of TotalLength
	}

	err := lob.Upload(req, p, time.Second)
	if err == nil {
		t.Fatal("expected error from premature EOF")
	}
	var ioErr *ponyerr.IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("expected *ponyerr.IOError, got %T: %v", err, err)
	}
}

// pagingRequester serves STREAMABLE_OBJECT_SECTION requests against an
// in-memory byte slice, so Reader/ASCIIReader/CharReader can be tested
// without a real server.
type pagingRequester struct {
	data []byte
}

func (p *pagingRequester) Send(cmd wire.Command, body []byte, _ time.Duration) ([]byte, error) {
	if cmd != wire.CmdStreamableObjectSection {
		return nil, errors.New("unexpected command")
	}
	offset := int64(binary.BigEndian.Uint64(body[12:20]))
	length := int64(int32(binary.BigEndian.Uint32(body[20:24])))
	end := offset + length
	if end > int64(len(p.data)) {
		end = int64(len(p.data))
	}
	resp := make([]byte, 4)
	binary.BigEndian.PutUint32(resp, uint32(wire.StatusSuccess))
	return append(resp, p.data[offset:end]...), nil
}

func TestReaderPagesWholeObject(t *testing.T) {
	t.Parallel()

	total := wire.StreamChunkSize*2 + 500
	data := make([]byte, total)
	for i := range data {
		data[i] = byte(i)
	}
	req := &pagingRequester{data: data}
	ref := wire.StreamableRef{Kind: wire.StreamableBinary, Size: int64(total), ID: 9}
	r := lob.NewReader(req, 1, ref, time.Second)

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("read-back does not match source across page boundaries")
	}
}

func TestCharReaderNeverTruncatesMultiByteRunes(t *testing.T) {
	t.Parallel()

	text := "héllo wörld - 日本語 test string long enough to span pages"
	units := make([]byte, 0, len(text)*2)
	for _, r := range textToUTF16(text) {
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, r)
		units = append(units, b...)
	}
	req := &pagingRequester{data: units}
	ref := wire.StreamableRef{Kind: wire.StreamableChar, Size: int64(len(units)), ID: 3}
	r := lob.NewReader(req, 1, ref, time.Second)
	cr := lob.NewCharReader(r)

	// Read in small, awkward chunk sizes to force the leftover path.
	var out bytes.Buffer
	buf := make([]byte, 3)
	for {
		n, err := cr.Read(buf)
		out.Write(buf[:n])
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if n == 0 && err == nil {
			t.Fatal("read returned 0, nil without progress")
		}
	}

	if out.String() != text {
		t.Fatalf("decoded = %q, want %q", out.String(), text)
	}
}

func textToUTF16(s string) []uint16 {
	var out []uint16
	for _, r := range s {
		if r <= 0xFFFF {
			out = append(out, uint16(r))
			continue
		}
		r -= 0x10000
		out = append(out, uint16(0xD800+(r>>10)), uint16(0xDC00+(r&0x3FF)))
	}
	return out
}
