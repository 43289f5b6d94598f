package wire_test

import (
	"bytes"
	"sync"
	"testing"

	"github.com/ponysql/ponysql-go/wire"
)

// TestFramingInjectivity verifies that a sequence of frames written to a
// pipe transport is read back as the same sequence, never split or
// merged.
func TestFramingInjectivity(t *testing.T) {
	t.Parallel()

	client, server := wire.NewPipeTransportPair()
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})

	frames := [][]byte{
		[]byte("first"),
		{},
		bytes.Repeat([]byte{0xAB}, 70000), // larger than one TCP segment
		[]byte("last"),
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, f := range frames {
			if err := client.WriteFrame(f); err != nil {
				t.Errorf("write frame: %v", err)
				return
			}
		}
	}()

	for i, want := range frames {
		got, err := server.ReadFrame()
		if err != nil {
			t.Fatalf("read frame %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("frame %d = %v (len %d), want %v (len %d)", i, got, len(got), want, len(want))
		}
	}
	wg.Wait()
}

func TestTransportCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	client, server := wire.NewPipeTransportPair()
	defer func() { _ = server.Close() }()

	if err := client.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	if _, err := client.ReadFrame(); err == nil {
		t.Fatal("expected read after close to fail")
	}
}
