// Package lob implements the large-object channel (C4): chunked upload
// of client-supplied byte sources before a query is submitted, and
// chunked lazy download of streamable handles that come back in rows.
package lob

import (
	"encoding/binary"
	"io"
	"time"

	"github.com/ponysql/ponysql-go/ponyerr"
	"github.com/ponysql/ponysql-go/wire"
)

// Requester is the subset of the dispatch multiplexer the lob package
// needs: send a command body, get back a response body.
type Requester interface {
	Send(cmd wire.Command, body []byte, timeout time.Duration) ([]byte, error)
}

// PendingUpload is a client-local streamable-object handle awaiting
// upload.
// Its id is only meaningful to the client registry until the upload
// completes; the handle is released from that registry immediately
// after a successful query submission and is never reused.
type PendingUpload struct {
	ID          int64
	Kind        wire.StreamableKind
	TotalLength int64
	Source      io.Reader
}

// Ref returns the StreamableRef value to embed as a query parameter
// before the upload has actually run.
func (p PendingUpload) Ref() wire.StreamableRef {
	return wire.StreamableRef{Kind: p.Kind, Size: p.TotalLength, ID: p.ID}
}

// Upload streams p.Source to the server in StreamChunkSize blocks via
// repeated PUSH_STREAMABLE_OBJECT_PART requests.
// A premature end of source is reported as a ponyerr.IOError, aborting
// the enclosing query submission.
func Upload(r Requester, p PendingUpload, timeout time.Duration) error {
	var offset int64
	buf := make([]byte, wire.StreamChunkSize)

	for offset < p.TotalLength {
		want := p.TotalLength - offset
		if want > wire.StreamChunkSize {
			want = wire.StreamChunkSize
		}
		n, err := io.ReadFull(p.Source, buf[:want])
		if err != nil {
			return &ponyerr.IOError{Err: err}
		}

		if err := pushPart(r, p, buf[:n], offset, timeout); err != nil {
			return err
		}
		offset += int64(n)
	}
	return nil
}

func pushPart(r Requester, p PendingUpload, chunk []byte, offset int64, timeout time.Duration) error {
	body := make([]byte, 0, 1+8+8+4+len(chunk)+8)
	body = append(body, byte(p.Kind))
	body = appendInt64(body, p.ID)
	body = appendInt64(body, p.TotalLength)
	body = appendInt32(body, int32(len(chunk))) //nolint:gosec // chunk length is bounded by StreamChunkSize
	body = append(body, chunk...)
	body = appendInt64(body, offset)

	resp, err := r.Send(wire.CmdPushStreamableObjectPart, body, timeout)
	if err != nil {
		return err
	}
	return decodeDisposalStatus(resp)
}

// DisposeStreamableObject issues DISPOSE_STREAMABLE_OBJECT for a
// downloaded object's server-side handle.
func DisposeStreamableObject(r Requester, resultID int32, id int64, timeout time.Duration) error {
	body := make([]byte, 0, 12)
	body = appendInt32(body, resultID)
	body = appendInt64(body, id)
	resp, err := r.Send(wire.CmdDisposeStreamableObject, body, timeout)
	if err != nil {
		return err
	}
	return decodeDisposalStatus(resp)
}

func decodeDisposalStatus(resp []byte) error {
	if len(resp) < 4 {
		return ponyerr.NewProtocolError("disposal response too short")
	}
	status := wire.Status(readInt32(resp[:4]))
	if wire.StatusFailed(status) {
		return ponyerr.NewProtocolError("disposal failed with status %d", status)
	}
	return nil
}

func appendInt64(dst []byte, v int64) []byte {
	return binary.BigEndian.AppendUint64(dst, uint64(v)) //nolint:gosec // ids/offsets are non-negative in practice
}

func appendInt32(dst []byte, v int32) []byte {
	return binary.BigEndian.AppendUint32(dst, uint32(v)) //nolint:gosec // lengths are bounded well under 2^31
}

func readInt32(b []byte) int32 {
	return int32(binary.BigEndian.Uint32(b)) //nolint:gosec // inverse of appendInt32
}
