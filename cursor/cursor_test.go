package cursor_test

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/ponysql/ponysql-go/cursor"
	"github.com/ponysql/ponysql-go/wire"
)

// fakeServer answers RESULT_SECTION and DISPOSE_RESULT requests against
// an in-memory table of int32-valued rows, one column named "n", and
// counts how many RESULT_SECTION requests it has served.
type fakeServer struct {
	mu       sync.Mutex
	rows     []int32
	sections int
	disposed bool
}

func (f *fakeServer) Send(cmd wire.Command, body []byte, _ time.Duration) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd {
	case wire.CmdResultSection:
		f.sections++
		start := int32(binary.BigEndian.Uint32(body[4:8]))
		count := int32(binary.BigEndian.Uint32(body[8:12]))

		var buf []byte
		buf = binary.BigEndian.AppendUint32(buf, uint32(wire.StatusSuccess))
		buf = binary.BigEndian.AppendUint32(buf, 1) // column count
		for i := int32(0); i < count; i++ {
			v := wire.Int32(f.rows[start+i])
			if err := wire.EncodeValue(byteBuf{&buf}, v); err != nil {
				return nil, err
			}
		}
		return buf, nil

	case wire.CmdDisposeResult:
		f.disposed = true
		var buf []byte
		buf = binary.BigEndian.AppendUint32(buf, uint32(wire.StatusSuccess))
		return buf, nil
	}
	return nil, nil
}

// byteBuf adapts a *[]byte to io.Writer for EncodeValue.
type byteBuf struct{ b *[]byte }

func (w byteBuf) Write(p []byte) (int, error) {
	*w.b = append(*w.b, p...)
	return len(p), nil
}

func header(resultID, rowCount int32) wire.QueryResponseHeader {
	return wire.QueryResponseHeader{
		ResultID: resultID,
		RowCount: rowCount,
		Columns: []wire.ColumnDescription{
			{Name: "n", InternalType: wire.InternalNumeric},
		},
	}
}

func TestScrollableIterationForwardAndBackward(t *testing.T) {
	t.Parallel()

	rows := make([]int32, 100)
	for i := range rows {
		rows[i] = int32(i + 1)
	}
	srv := &fakeServer{rows: rows}
	cache := cursor.NewRowCache(0, 0)
	cur, err := cursor.New(srv, cache, time.Second, header(1, 100), true, 0)
	if err != nil {
		t.Fatalf("new cursor: %v", err)
	}
	t.Cleanup(func() { _ = cur.Close() })

	if ok, err := cur.Last(); err != nil || !ok {
		t.Fatalf("Last() = %v, %v", ok, err)
	}
	for want := int32(100); want >= 2; want-- {
		if got := cur.GetRow(); got != want {
			t.Fatalf("GetRow() = %d, want %d", got, want)
		}
		ok, err := cur.Previous()
		if err != nil {
			t.Fatalf("Previous: %v", err)
		}
		if want > 2 && !ok {
			t.Fatalf("Previous() returned false before reaching row 1")
		}
	}
	if got := cur.GetRow(); got != 1 {
		t.Fatalf("GetRow() = %d, want 1", got)
	}
	if ok, _ := cur.Previous(); ok {
		t.Fatal("Previous() past the first row should return false")
	}
	if !cur.IsBeforeFirst() {
		t.Fatal("cursor should be beforeFirst")
	}
}

func TestBlockCacheBoundsRequestCount(t *testing.T) {
	t.Parallel()

	rows := make([]int32, 100)
	for i := range rows {
		rows[i] = int32(i + 1)
	}
	srv := &fakeServer{rows: rows}
	cache := cursor.NewRowCache(0, 0)
	cur, err := cursor.New(srv, cache, time.Second, header(1, 100), true, 0)
	if err != nil {
		t.Fatalf("new cursor: %v", err)
	}
	t.Cleanup(func() { _ = cur.Close() })
	if err := cur.SetFetchSize(10); err != nil {
		t.Fatalf("set fetch size: %v", err)
	}

	for {
		ok, err := cur.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			break
		}
		if _, err := cur.GetInt("n"); err != nil {
			t.Fatalf("get int: %v", err)
		}
	}

	srv.mu.Lock()
	sections := srv.sections
	srv.mu.Unlock()
	if sections > 10 {
		t.Fatalf("forward scan of 100 rows at fetchSize 10 issued %d RESULT_SECTION requests, want <= 10", sections)
	}
}

func TestNullPropagation(t *testing.T) {
	t.Parallel()

	cache := cursor.NewRowCache(0, 0)
	h := wire.QueryResponseHeader{
		ResultID: 1,
		RowCount: 1,
		Columns:  []wire.ColumnDescription{{Name: "a", InternalType: wire.InternalNumeric}},
	}
	cur, err := cursor.New(nullServer{}, cache, time.Second, h, true, 0)
	if err != nil {
		t.Fatalf("new cursor: %v", err)
	}
	t.Cleanup(func() { _ = cur.Close() })

	if ok, err := cur.Next(); err != nil || !ok {
		t.Fatalf("next: %v, %v", ok, err)
	}
	n, err := cur.GetInt("a")
	if err != nil {
		t.Fatalf("get int: %v", err)
	}
	if n != 0 || !cur.WasNull() {
		t.Fatalf("GetInt = %d, WasNull = %v, want 0, true", n, cur.WasNull())
	}
	s, err := cur.GetString("a")
	if err != nil {
		t.Fatalf("get string: %v", err)
	}
	if s != "" || !cur.WasNull() {
		t.Fatalf("GetString = %q, WasNull = %v, want \"\", true", s, cur.WasNull())
	}
}

// nullServer always answers RESULT_SECTION with a single NULL row.
type nullServer struct{}

func (nullServer) Send(cmd wire.Command, body []byte, _ time.Duration) ([]byte, error) {
	switch cmd {
	case wire.CmdResultSection:
		var buf []byte
		buf = binary.BigEndian.AppendUint32(buf, uint32(wire.StatusSuccess))
		buf = binary.BigEndian.AppendUint32(buf, 1)
		if err := wire.EncodeValue(byteBuf{&buf}, wire.Null()); err != nil {
			return nil, err
		}
		return buf, nil
	case wire.CmdDisposeResult:
		var buf []byte
		buf = binary.BigEndian.AppendUint32(buf, uint32(wire.StatusSuccess))
		return buf, nil
	}
	return nil, nil
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	rows := make([]int32, 100)
	for i := range rows {
		rows[i] = int32(i)
	}
	srv := &fakeServer{rows: rows}
	cache := cursor.NewRowCache(0, 0)
	cur, err := cursor.New(srv, cache, time.Second, header(1, 100), true, 0)
	if err != nil {
		t.Fatalf("new cursor: %v", err)
	}

	if err := cur.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := cur.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestSmallResultInliningDisposesImmediately(t *testing.T) {
	t.Parallel()

	rows := []int32{1, 2, 3}
	srv := &fakeServer{rows: rows}
	cache := cursor.NewRowCache(0, 0)
	cur, err := cursor.New(srv, cache, time.Second, header(1, 3), true, 0)
	if err != nil {
		t.Fatalf("new cursor: %v", err)
	}

	srv.mu.Lock()
	disposed := srv.disposed
	srv.mu.Unlock()
	if !disposed {
		t.Fatal("a result with 3 rows and no large-object columns should be disposed eagerly (inlined)")
	}

	if ok, err := cur.First(); err != nil || !ok {
		t.Fatalf("first: %v, %v", ok, err)
	}
	n, err := cur.GetInt("n")
	if err != nil || n != 1 {
		t.Fatalf("GetInt = %d, %v, want 1, nil", n, err)
	}

	if err := cur.Close(); err != nil {
		t.Fatalf("close after inlining should be a no-op: %v", err)
	}
}
