// Package tfevents reads and writes TensorFlow event files: a sequence of
// TFRecord frames, each carrying one serialized Event protobuf.
//
// Frame layout (little endian):
//
//	uint64 length | uint32 masked crc32c(length) | data | uint32 masked crc32c(data)
package tfevents

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/crc32"
)

const (
	headerSize = 12
	footerSize = 4
	maskDelta  = 0xa282ead8
)

var (
	// ErrIncomplete means the frame at the offset extends past the end of
	// the file. The writer may still be appending it.
	ErrIncomplete = errors.New("tfevents: incomplete record")
	// ErrLengthChecksum means the length header is corrupt; frames after it
	// cannot be located.
	ErrLengthChecksum = errors.New("tfevents: length checksum mismatch")
	// ErrDataChecksum means the payload is corrupt. The frame boundary is
	// still known, so reading can continue with the next record.
	ErrDataChecksum = errors.New("tfevents: data checksum mismatch")
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func maskedCRC(b []byte) uint32 {
	crc := crc32.Checksum(b, castagnoli)
	return ((crc >> 15) | (crc << 17)) + maskDelta
}

// ReadRecord reads the frame starting at off in r, which holds size bytes.
// It returns the payload and the offset of the next frame. On
// ErrDataChecksum the returned next offset is valid and the payload is nil.
func ReadRecord(r io.ReaderAt, size, off int64) ([]byte, int64, error) {
	if off+headerSize > size {
		return nil, off, ErrIncomplete
	}
	var hdr [headerSize]byte
	if _, err := r.ReadAt(hdr[:], off); err != nil {
		return nil, off, fmt.Errorf("reading record header at %d: %w", off, err)
	}
	if binary.LittleEndian.Uint32(hdr[8:]) != maskedCRC(hdr[:8]) {
		return nil, off, ErrLengthChecksum
	}
	n := binary.LittleEndian.Uint64(hdr[:8])
	if n > uint64(size) || off+headerSize+int64(n)+footerSize > size {
		return nil, off, ErrIncomplete
	}

	buf := make([]byte, int(n)+footerSize)
	if _, err := r.ReadAt(buf, off+headerSize); err != nil {
		return nil, off, fmt.Errorf("reading record body at %d: %w", off, err)
	}
	next := off + headerSize + int64(n) + footerSize
	data := buf[:n]
	if binary.LittleEndian.Uint32(buf[n:]) != maskedCRC(data) {
		return nil, next, ErrDataChecksum
	}
	return data, next, nil
}

// Writer appends framed records to an io.Writer.
type Writer struct {
	w io.Writer
}

// NewWriter returns a Writer that frames records onto w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteRecord writes one framed record.
func (w *Writer) WriteRecord(data []byte) error {
	_, err := w.w.Write(EncodeRecord(data))
	return err
}

// WriteEvent serializes e and writes it as one record.
func (w *Writer) WriteEvent(e *Event) error {
	return w.WriteRecord(e.Marshal())
}

// EncodeRecord returns the framed bytes for data.
func EncodeRecord(data []byte) []byte {
	out := make([]byte, headerSize, headerSize+len(data)+footerSize)
	binary.LittleEndian.PutUint64(out[:8], uint64(len(data)))
	binary.LittleEndian.PutUint32(out[8:], maskedCRC(out[:8]))
	out = append(out, data...)
	return binary.LittleEndian.AppendUint32(out, maskedCRC(data))
}
