package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Status frame layout. Status frames are variable length:
// sync, kind, payload length, payload. There is no checksum; the decoder
// must tolerate truncation and garbage between frames.
const (
	StatusSync       = 0x5A
	statusHeaderSize = 3

	// maxStatusPayload bounds the length byte so a corrupted length cannot
	// stall the reader waiting for bytes that will never arrive.
	maxStatusPayload = 64
)

// StatusKind identifies a firmware status report.
type StatusKind byte

const (
	StatusIdle     StatusKind = 0x10
	StatusBusy     StatusKind = 0x11
	StatusPosition StatusKind = 0x12
	StatusError    StatusKind = 0x13
	StatusAck      StatusKind = 0x14
)

// String returns the report mnemonic.
func (k StatusKind) String() string {
	switch k {
	case StatusIdle:
		return "idle"
	case StatusBusy:
		return "busy"
	case StatusPosition:
		return "position"
	case StatusError:
		return "error"
	case StatusAck:
		return "ack"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(k))
	}
}

// StatusRecord is one decoded firmware status report.
type StatusRecord struct {
	Kind StatusKind
	X, Y int32  // Position
	Code byte   // Error
	Seq  uint16 // Ack
}

// Text returns the human-readable form of the record.
func (r StatusRecord) Text() string {
	switch r.Kind {
	case StatusPosition:
		return fmt.Sprintf("position x=%d y=%d", r.X, r.Y)
	case StatusError:
		return fmt.Sprintf("device error 0x%02x", r.Code)
	case StatusAck:
		return fmt.Sprintf("ack seq=%d", r.Seq)
	default:
		return r.Kind.String()
	}
}

// ErrIncomplete reports that the input ends mid-frame; the caller should
// buffer the remaining bytes and retry once more arrive.
var ErrIncomplete = errors.New("incomplete status frame")

// DecodeError reports a malformed status frame. It has no connection-state
// impact; the offending bytes are skipped.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string { return "decode: " + e.Reason }

// DecodeStatus scans b for the next status frame. It returns the decoded
// record and the number of bytes consumed. Bytes preceding the sync marker
// are treated as line noise and counted as consumed. A truncated frame
// yields ErrIncomplete with consumed covering only the noise, so the caller
// keeps the partial frame buffered.
func DecodeStatus(b []byte) (StatusRecord, int, error) {
	start := 0
	for start < len(b) && b[start] != StatusSync {
		start++
	}
	if start == len(b) {
		// nothing but noise; discard it all
		return StatusRecord{}, start, ErrIncomplete
	}
	if len(b)-start < statusHeaderSize {
		return StatusRecord{}, start, ErrIncomplete
	}

	kind := StatusKind(b[start+1])
	length := int(b[start+2])
	if length > maxStatusPayload {
		// corrupt length; skip the sync byte and rescan
		return StatusRecord{}, start + 1, &DecodeError{Reason: fmt.Sprintf("payload length %d exceeds %d", length, maxStatusPayload)}
	}
	if len(b)-start < statusHeaderSize+length {
		return StatusRecord{}, start, ErrIncomplete
	}

	payload := b[start+statusHeaderSize : start+statusHeaderSize+length]
	consumed := start + statusHeaderSize + length

	rec := StatusRecord{Kind: kind}
	switch kind {
	case StatusIdle, StatusBusy:
		if length != 0 {
			return StatusRecord{}, consumed, &DecodeError{Reason: fmt.Sprintf("%s frame carries %d unexpected payload bytes", kind, length)}
		}
	case StatusPosition:
		if length != 6 {
			return StatusRecord{}, consumed, &DecodeError{Reason: fmt.Sprintf("position frame payload must be 6 bytes, got %d", length)}
		}
		rec.X = getInt24(payload[0:3])
		rec.Y = getInt24(payload[3:6])
	case StatusError:
		if length != 1 {
			return StatusRecord{}, consumed, &DecodeError{Reason: fmt.Sprintf("error frame payload must be 1 byte, got %d", length)}
		}
		rec.Code = payload[0]
	case StatusAck:
		if length != 2 {
			return StatusRecord{}, consumed, &DecodeError{Reason: fmt.Sprintf("ack frame payload must be 2 bytes, got %d", length)}
		}
		rec.Seq = binary.LittleEndian.Uint16(payload)
	default:
		return StatusRecord{}, consumed, &DecodeError{Reason: fmt.Sprintf("unknown status kind 0x%02x", byte(kind))}
	}

	return rec, consumed, nil
}

// StatusReader yields complete status records from a byte stream, buffering
// partial frames between reads.
type StatusReader struct {
	r   io.Reader
	buf []byte
}

// NewStatusReader wraps r for frame-at-a-time reading.
func NewStatusReader(r io.Reader) *StatusReader {
	return &StatusReader{r: r}
}

// Next returns the next decodable status record. Malformed frames are
// returned as *DecodeError with the stream position already advanced, so
// the caller may log and call Next again. Read errors from the underlying
// stream are returned as-is.
func (sr *StatusReader) Next() (StatusRecord, error) {
	for {
		rec, n, err := DecodeStatus(sr.buf)
		sr.buf = sr.buf[n:]
		if err == nil {
			return rec, nil
		}
		var derr *DecodeError
		if errors.As(err, &derr) {
			return StatusRecord{}, err
		}

		// incomplete: pull more bytes
		chunk := make([]byte, 256)
		n, rerr := sr.r.Read(chunk)
		if n > 0 {
			sr.buf = append(sr.buf, chunk[:n]...)
			continue
		}
		if rerr != nil {
			return StatusRecord{}, rerr
		}
		// a zero-byte read with no error is a stalled source; surface it
		// rather than spinning
		return StatusRecord{}, io.ErrNoProgress
	}
}
