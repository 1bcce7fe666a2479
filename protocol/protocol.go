// Package protocol implements the length-prefixed frame protocol for lucid-rpc.
//
// It solves TCP's sticky packet problem by prefixing every envelope with a fixed
// 4-byte length. The receiver reads the length first, then reads exactly that
// many bytes.
//
// Frame format:
//
//	0          4
//	┌──────────┬──────────────────────┐
//	│  length  │     payload ...      │
//	│  uint32  │    length bytes      │
//	└──────────┴──────────────────────┘
//
// The length is big-endian (network byte order) and counts payload bytes only.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

const (
	// HeaderSize is the size of the length prefix.
	HeaderSize = 4
	// DefaultMaxFrameSize bounds the memory a single inbound frame can claim.
	DefaultMaxFrameSize uint32 = 16 << 20
)

var (
	// ErrConnectionClosed is returned by ReadFrame when the stream ends cleanly
	// before a new length header, and by WriteFrame when the peer is gone.
	ErrConnectionClosed = errors.New("protocol: connection closed")
	// ErrIO wraps any other failure of the underlying stream.
	ErrIO = errors.New("protocol: i/o error")
)

// FramingError reports a malformed frame boundary: a truncated header or
// payload, a zero length, or a length above the configured maximum.
type FramingError struct {
	Reason string
	Err    error
}

func (e *FramingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: framing error: %s: %v", e.Reason, e.Err)
	}
	return "protocol: framing error: " + e.Reason
}

func (e *FramingError) Unwrap() error {
	return e.Err
}

// IsFramingError reports whether err is (or wraps) a *FramingError.
func IsFramingError(err error) bool {
	var fe *FramingError
	return errors.As(err, &fe)
}

// Framer reads and writes frames with an upper bound on the payload size.
// The zero value has no bound; use NewFramer for the default one.
type Framer struct {
	MaxFrameSize uint32 // 0 = unbounded
}

// NewFramer returns a Framer bounded by DefaultMaxFrameSize.
func NewFramer() *Framer {
	return &Framer{MaxFrameSize: DefaultMaxFrameSize}
}

var defaultFramer = NewFramer()

// WriteFrame writes payload using the default Framer.
func WriteFrame(w io.Writer, payload []byte) error {
	return defaultFramer.WriteFrame(w, payload)
}

// ReadFrame reads one payload using the default Framer.
func ReadFrame(r io.Reader) ([]byte, error) {
	return defaultFramer.ReadFrame(r)
}

// WriteFrame writes the length prefix and payload as a single buffer.
// The caller must hold a write lock if multiple goroutines share the same writer,
// otherwise frames from different requests will interleave and corrupt the stream.
func (f *Framer) WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) == 0 {
		return &FramingError{Reason: "empty payload"}
	}
	if uint64(len(payload)) > uint64(^uint32(0)) || (f.MaxFrameSize > 0 && uint32(len(payload)) > f.MaxFrameSize) {
		return &FramingError{Reason: fmt.Sprintf("payload of %d bytes exceeds limit", len(payload))}
	}

	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[:HeaderSize], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)

	// net.Conn writes are all-or-error, but an arbitrary io.Writer may return a
	// short count without an error; keep going until the frame is out.
	for len(buf) > 0 {
		n, err := w.Write(buf)
		buf = buf[n:]
		if err != nil {
			return classifyWriteError(err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %v", ErrIO, io.ErrShortWrite)
		}
	}
	return nil
}

// ReadFrame blocks until one complete frame has been read and returns its payload.
// A clean end of stream before the header is ErrConnectionClosed; a stream that
// ends anywhere inside a frame is a *FramingError.
func (f *Framer) ReadFrame(r io.Reader) ([]byte, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		switch {
		case errors.Is(err, io.EOF), isClosedConn(err):
			return nil, ErrConnectionClosed
		case errors.Is(err, io.ErrUnexpectedEOF):
			return nil, &FramingError{Reason: "truncated length header", Err: err}
		default:
			return nil, fmt.Errorf("%w: %v", ErrIO, err)
		}
	}

	length := binary.BigEndian.Uint32(header[:])
	if length == 0 {
		return nil, &FramingError{Reason: "zero-length frame"}
	}
	if f.MaxFrameSize > 0 && length > f.MaxFrameSize {
		return nil, &FramingError{Reason: fmt.Sprintf("frame of %d bytes exceeds limit of %d", length, f.MaxFrameSize)}
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || isClosedConn(err) {
			return nil, &FramingError{Reason: fmt.Sprintf("truncated payload, want %d bytes", length), Err: err}
		}
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return payload, nil
}

func classifyWriteError(err error) error {
	if isClosedConn(err) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	return fmt.Errorf("%w: %v", ErrIO, err)
}

func isClosedConn(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
