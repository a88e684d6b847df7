package pool

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	json "github.com/goccy/go-json"
)

// snapshotBuffers recycles the scratch buffers behind EncodeJSON and
// EncodeJSONTo so repeated admin snapshots (queue information, pool
// availability) do not allocate per call.
var snapshotBuffers = sync.Pool{
	New: func() any {
		return bytes.NewBuffer(make([]byte, 0, 2048))
	},
}

// EncodeJSON marshals v through a pooled buffer and returns a copy of the
// encoded bytes, safe to retain after the buffer is recycled.
func EncodeJSON(v any) ([]byte, error) {
	buf := snapshotBuffers.Get().(*bytes.Buffer)
	defer releaseSnapshotBuffer(buf)

	if err := encodeInto(buf, v); err != nil {
		return nil, err
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// EncodeJSONTo marshals v through a pooled buffer and writes the encoded
// bytes to w without an intermediate copy surviving the call.
func EncodeJSONTo(w io.Writer, v any) error {
	buf := snapshotBuffers.Get().(*bytes.Buffer)
	defer releaseSnapshotBuffer(buf)

	if err := encodeInto(buf, v); err != nil {
		return err
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write encoded json: %w", err)
	}
	return nil
}

// encodeInto encodes v into buf with HTML escaping off and the encoder's
// trailing newline trimmed, so snapshot rows embed cleanly in admin
// buffers.
func encodeInto(buf *bytes.Buffer, v any) error {
	buf.Reset()
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("json encode: %w", err)
	}
	if b := buf.Bytes(); len(b) > 0 && b[len(b)-1] == '\n' {
		buf.Truncate(len(b) - 1)
	}
	return nil
}

func releaseSnapshotBuffer(buf *bytes.Buffer) {
	buf.Reset()
	snapshotBuffers.Put(buf)
}
