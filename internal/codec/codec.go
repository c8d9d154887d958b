// Package codec implements the streaming deflate-family compressor and
// decompressor used for every record payload in the container format.
//
// It wraps github.com/klauspost/compress/flate rather than the standard
// library's compress/flate, matching the corpus's preference for the
// klauspost fork when a stream is hot enough to care about allocation and
// throughput (the teacher's own go.mod carries klauspost/compress and
// klauspost/pgzip for exactly this reason).
package codec

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/flate"
)

// ChunkSize is the maximum number of bytes the codec processes per call, so
// neither side ever needs the full payload in memory (§4.3).
const ChunkSize = 16 * 1024 * 1024

// Compressor streams raw bytes in and compressed bytes out, chunk by chunk.
type Compressor struct {
	buf bytes.Buffer
	zw  *flate.Writer
}

// NewCompressor returns a Compressor at the given flate compression level
// (flate.DefaultCompression is a reasonable default for callers that don't
// care).
func NewCompressor(level int) (*Compressor, error) {
	c := &Compressor{}
	zw, err := flate.NewWriter(&c.buf, level)
	if err != nil {
		return nil, err
	}
	c.zw = zw
	return c, nil
}

// Compress feeds chunk (at most ChunkSize bytes) through the deflate
// stream and returns whatever compressed bytes are ready. The flate writer
// buffers internally, so a given call may return no bytes at all.
func (c *Compressor) Compress(chunk []byte) ([]byte, error) {
	if _, err := c.zw.Write(chunk); err != nil {
		return nil, err
	}
	return c.drain(), nil
}

// Finalize flushes and closes the deflate stream, returning the final
// compressed bytes. The Compressor must not be used afterward.
func (c *Compressor) Finalize() ([]byte, error) {
	if err := c.zw.Close(); err != nil {
		return nil, err
	}
	return c.drain(), nil
}

func (c *Compressor) drain() []byte {
	if c.buf.Len() == 0 {
		return nil
	}
	out := make([]byte, c.buf.Len())
	copy(out, c.buf.Bytes())
	c.buf.Reset()
	return out
}

// Decompress reads a deflate stream from r in ChunkSize-sized pulls and
// writes the decompressed bytes to w, until r is exhausted.
func Decompress(w io.Writer, r io.Reader) error {
	zr := flate.NewReader(r)
	defer zr.Close()

	buf := make([]byte, ChunkSize)
	for {
		n, err := zr.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
