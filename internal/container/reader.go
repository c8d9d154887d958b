package container

import (
	"encoding/binary"
	"io"
	"os"
	"time"

	"golang.org/x/xerrors"

	"github.com/klauspost/compress/flate"

	"github.com/kmcguire3413/dbu/internal/dbuerr"
)

// Record is a cursor into a container's payload bytes: a byte range
// (file path, file offset, payload size), not a copy (§3 Ownership).
type Record struct {
	Header RecordHeader
	Path   string
	Offset uint64
}

// Open returns a reader over the record's decompressed payload.
func (r Record) Open() (io.ReadCloser, error) {
	f, err := os.Open(r.Path)
	if err != nil {
		return nil, xerrors.Errorf("opening %s for record at %d: %w", r.Path, r.Offset, err)
	}
	if _, err := f.Seek(int64(r.Offset), io.SeekStart); err != nil {
		f.Close()
		return nil, xerrors.Errorf("seeking to record payload: %w", err)
	}
	limited := io.LimitReader(f, int64(r.Header.PayloadSize))
	return &decompressingReader{f: f, src: limited}, nil
}

type decompressingReader struct {
	f   *os.File
	src io.Reader
	zr  io.ReadCloser
}

func (d *decompressingReader) Read(p []byte) (int, error) {
	if d.zr == nil {
		d.zr = flate.NewReader(d.src)
	}
	return d.zr.Read(p)
}

func (d *decompressingReader) Close() error {
	var err error
	if d.zr != nil {
		err = d.zr.Close()
	}
	if cerr := d.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// Reader is the parsed, ordered record index of one container file.
type Reader struct {
	Path      string
	CreatedAt time.Time
	Records   []Record
}

// Open parses path into a Reader. It reads the 8-byte creation time, then
// repeatedly reads a 17-byte record header (EOF on zero bytes read ends the
// loop; fewer than 17 bytes, an unrecognized kind_tag, or a payload_size
// that would read past end of file all yield *dbuerr.BadContainer), seeking
// forward by payload_size to reach the next header.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()

	var fhdr [fileHeaderSize]byte
	if _, err := io.ReadFull(f, fhdr[:]); err != nil {
		return nil, &dbuerr.BadContainer{Path: path, Reason: "truncated 8-byte container header"}
	}
	created := time.Unix(int64(binary.LittleEndian.Uint64(fhdr[:])), 0)

	var records []Record
	for {
		var rhdr [headerSize]byte
		n, err := io.ReadFull(f, rhdr[:])
		if err == io.EOF && n == 0 {
			break
		}
		if err != nil {
			return nil, &dbuerr.BadContainer{Path: path, Reason: "truncated record header"}
		}

		kind := Kind(rhdr[0])
		if !kind.Valid() {
			return nil, &dbuerr.BadContainer{Path: path, Reason: "unrecognized kind_tag"}
		}
		payloadSize := binary.LittleEndian.Uint64(rhdr[1:9])
		targetOffset := binary.LittleEndian.Uint64(rhdr[9:17])

		payloadOffset, err := f.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, err
		}
		if payloadOffset+int64(payloadSize) > size {
			return nil, &dbuerr.BadContainer{Path: path, Reason: "payload_size extends past end of file"}
		}

		records = append(records, Record{
			Header: RecordHeader{Kind: kind, PayloadSize: payloadSize, TargetOffset: targetOffset},
			Path:   path,
			Offset: uint64(payloadOffset),
		})

		if _, err := f.Seek(int64(payloadSize), io.SeekCurrent); err != nil {
			return nil, err
		}
	}

	return &Reader{Path: path, CreatedAt: created, Records: records}, nil
}
