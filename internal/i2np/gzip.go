package i2np

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

// GzipRouterInfo compresses a RouterInfo's canonical bytes for
// transport inside a DatabaseStore message (§4.5: "For RI: ungzip").
// Standard library compress/gzip is the right tool here: no pack
// example wraps generic DEFLATE/gzip in a third-party library, and the
// original implementation's compression.cc is itself a thin wrapper
// over zlib's gzip mode.
func GzipRouterInfo(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("i2np: gzip router info: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("i2np: gzip router info: %w", err)
	}
	return buf.Bytes(), nil
}

// GunzipRouterInfo decompresses a gzip-wrapped RouterInfo payload.
func GunzipRouterInfo(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("i2np: gunzip router info: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("i2np: gunzip router info: %w", err)
	}
	return out, nil
}
