package container

import (
	"encoding/binary"
	"io"
	"os"
	"time"

	"golang.org/x/xerrors"

	"github.com/kmcguire3413/dbu/internal/codec"
)

// Writer emits a container: header, then a sequence of records. It never
// buffers an entire payload; it streams it through codec in ChunkSize
// chunks and back-patches payload_size once the true compressed length is
// known, the same remember-offset/seek-back/patch idiom the teacher's own
// squashfs writer uses for its id and xattr tables.
type Writer struct {
	w     io.WriteSeeker
	close func() error
}

// Create opens path for writing and returns a Writer backed by the file.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, xerrors.Errorf("creating container %s: %w", path, err)
	}
	return &Writer{w: f, close: f.Close}, nil
}

// NewWriter wraps an arbitrary io.WriteSeeker (e.g. an in-memory
// writerseeker.WriterSeeker in tests).
func NewWriter(w io.WriteSeeker) *Writer {
	return &Writer{w: w, close: func() error { return nil }}
}

// WriteHeader writes the 8-byte little-endian creation time.
func (wr *Writer) WriteHeader(created time.Time) error {
	return binary.Write(wr.w, binary.LittleEndian, uint64(created.Unix()))
}

// WriteRecord streams src through the compressor and writes one record:
// kind tag, a placeholder payload_size, target_offset, then the compressed
// payload. Once the payload is fully written, it seeks back and patches
// payload_size with the true compressed byte count. Returns the number of
// compressed bytes written.
func (wr *Writer) WriteRecord(kind Kind, targetOffset uint64, src io.Reader) (uint64, error) {
	if err := binary.Write(wr.w, binary.LittleEndian, uint8(kind)); err != nil {
		return 0, xerrors.Errorf("writing kind tag: %w", err)
	}

	sizeFieldOffset, err := wr.w.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, xerrors.Errorf("locating payload_size field: %w", err)
	}
	if err := binary.Write(wr.w, binary.LittleEndian, uint64(0)); err != nil {
		return 0, xerrors.Errorf("writing payload_size placeholder: %w", err)
	}
	if err := binary.Write(wr.w, binary.LittleEndian, targetOffset); err != nil {
		return 0, xerrors.Errorf("writing target_offset: %w", err)
	}

	comp, err := codec.NewCompressor(-1)
	if err != nil {
		return 0, xerrors.Errorf("initializing compressor: %w", err)
	}

	var written uint64
	buf := make([]byte, codec.ChunkSize)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			out, cerr := comp.Compress(buf[:n])
			if cerr != nil {
				return 0, xerrors.Errorf("compressing payload: %w", cerr)
			}
			if len(out) > 0 {
				if _, werr := wr.w.Write(out); werr != nil {
					return 0, xerrors.Errorf("writing payload: %w", werr)
				}
				written += uint64(len(out))
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return 0, xerrors.Errorf("reading source: %w", rerr)
		}
	}

	tail, err := comp.Finalize()
	if err != nil {
		return 0, xerrors.Errorf("finalizing payload: %w", err)
	}
	if len(tail) > 0 {
		if _, werr := wr.w.Write(tail); werr != nil {
			return 0, xerrors.Errorf("writing payload tail: %w", werr)
		}
		written += uint64(len(tail))
	}

	endOffset, err := wr.w.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, xerrors.Errorf("locating end of record: %w", err)
	}

	if _, err := wr.w.Seek(sizeFieldOffset, io.SeekStart); err != nil {
		return 0, xerrors.Errorf("seeking back to patch payload_size: %w", err)
	}
	if err := binary.Write(wr.w, binary.LittleEndian, written); err != nil {
		return 0, xerrors.Errorf("patching payload_size: %w", err)
	}
	if _, err := wr.w.Seek(endOffset, io.SeekStart); err != nil {
		return 0, xerrors.Errorf("seeking back to end of record: %w", err)
	}

	return written, nil
}

// Close releases the underlying file, if any.
func (wr *Writer) Close() error {
	return wr.close()
}
