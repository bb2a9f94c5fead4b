package msgcodec

import (
	"bytes"
	"compress/gzip"
	"io"

	"github.com/LonamiWebs/gomtproto/internal/tl"
)

// GzipThreshold is the body size above which GzipIfSmaller attempts
// compression (§4.4 gzip heuristic).
const GzipThreshold = 512

// GzipIfSmaller gzips body and wraps it in a gzip_packed envelope only
// if bodies larger than GzipThreshold compress to something smaller
// than the original; otherwise it returns body unchanged and ok=false.
func GzipIfSmaller(body []byte) (out []byte, ok bool, err error) {
	if len(body) <= GzipThreshold {
		return body, false, nil
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return nil, false, err
	}
	if err := zw.Close(); err != nil {
		return nil, false, err
	}
	if buf.Len() >= len(body) {
		return body, false, nil
	}
	packed := &tl.GZIPPacked{PackedData: buf.Bytes()}
	return tl.EncodeBoxed(packed), true, nil
}

// Gunzip decompresses a gzip_packed payload's packed_data field back
// to the original boxed object bytes.
func Gunzip(packedData []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(packedData))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
