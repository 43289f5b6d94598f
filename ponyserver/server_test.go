package ponyserver_test

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/ponysql/ponysql-go/conn"
	"github.com/ponysql/ponysql-go/ponyserver"
	"github.com/ponysql/ponysql-go/trigger"
	"github.com/ponysql/ponysql-go/wire"
)

func dial(t *testing.T, srv *ponyserver.Server) *conn.Conn {
	t.Helper()
	c, err := conn.New(srv.ServeEmbedded(), "PUBLIC", "sa", "", conn.Options{Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("conn.New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSelectScansInsertedRows(t *testing.T) {
	t.Parallel()

	srv := ponyserver.New(ponyserver.Credentials{})
	table := srv.Catalog().CreateTable("widgets",
		wire.ColumnDescription{Name: "id", InternalType: wire.InternalNumeric},
		wire.ColumnDescription{Name: "name", InternalType: wire.InternalString},
	)
	for i, name := range []string{"bolt", "nut", "washer"} {
		if err := table.Insert([]wire.Value{wire.Int32(int32(i + 1)), wire.String(name)}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	c := dial(t, srv)
	cur, err := c.Query(context.Background(), "SELECT id, name FROM widgets")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer cur.Close()

	var got []string
	for {
		ok, err := cur.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			break
		}
		name, err := cur.GetString("name")
		if err != nil {
			t.Fatalf("get string: %v", err)
		}
		got = append(got, name)
	}
	if len(got) != 3 || got[0] != "bolt" || got[1] != "nut" || got[2] != "washer" {
		t.Fatalf("rows = %v, want [bolt nut washer]", got)
	}
}

func TestUnknownTableIsReportedAsServerError(t *testing.T) {
	t.Parallel()

	srv := ponyserver.New(ponyserver.Credentials{})
	c := dial(t, srv)

	if _, err := c.Query(context.Background(), "SELECT * FROM nope"); err == nil {
		t.Fatal("query against an unknown table should fail")
	}
}

func TestStreamableUploadRoundTrips(t *testing.T) {
	t.Parallel()

	srv := ponyserver.New(ponyserver.Credentials{})
	table := srv.Catalog().CreateTable("docs", wire.ColumnDescription{Name: "blob", InternalType: wire.InternalLargeBinary})

	c := dial(t, srv)

	// A payload crossing a chunk boundary, so the reassembled
	// object can only match if every part lands at its declared offset.
	payload := bytes.Repeat([]byte{0xAB}, wire.StreamChunkSize+10)
	handle := c.NewBinaryUpload(bytes.NewReader(payload), int64(len(payload)))

	if err := table.Insert([]wire.Value{handle}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Submitting the handle as a bind parameter is what actually runs
	// the chunked upload against the server-side id referenced by the
	// row just inserted.
	cur, err := c.Query(context.Background(), "SELECT * FROM docs", handle)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	cur.Close()

	cur, err = c.Query(context.Background(), "SELECT * FROM docs")
	if err != nil {
		t.Fatalf("re-query: %v", err)
	}
	defer cur.Close()

	ok, err := cur.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if !ok {
		t.Fatal("expected one row")
	}

	r, err := cur.GetBinaryStream("blob")
	if err != nil {
		t.Fatalf("get binary stream: %v", err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("downloaded %d bytes, want %d bytes matching the upload", len(got), len(payload))
	}
}

func TestPublishDeliversToSubscribers(t *testing.T) {
	t.Parallel()

	srv := ponyserver.New(ponyserver.Credentials{})
	c := dial(t, srv)

	received := make(chan trigger.Event, 1)
	c.Subscribe("orders_changed", func(ev trigger.Event) {
		received <- ev
	})

	// Give the subscription's dispatch goroutine a moment to start, then
	// fire the event from the server side.
	time.Sleep(10 * time.Millisecond)
	srv.Publish("orders_changed", "insert", 1)

	select {
	case ev := <-received:
		if ev.TriggerName != "orders_changed" || ev.FireCount != 1 {
			t.Fatalf("event = %+v, want orders_changed/1", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for trigger event")
	}
}
