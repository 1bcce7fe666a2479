package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"
)

func TestWriteReadFrame(t *testing.T) {
	payloads := [][]byte{
		[]byte("x"),
		[]byte(`{"id":1,"method":"add","params":[2,3]}`),
		bytes.Repeat([]byte{0xAB}, 70000),
	}

	var buf bytes.Buffer
	for _, p := range payloads {
		if err := WriteFrame(&buf, p); err != nil {
			t.Fatalf("WriteFrame failed: %v", err)
		}
	}

	for i, want := range payloads {
		got, err := ReadFrame(&buf)
		if err != nil {
			t.Fatalf("ReadFrame %d failed: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("frame %d mismatch: got %d bytes, want %d bytes", i, len(got), len(want))
		}
	}

	if _, err := ReadFrame(&buf); !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("expect ErrConnectionClosed at end of stream, got %v", err)
	}
}

func TestWriteFrameHeader(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte("hello world")); err != nil {
		t.Fatal(err)
	}
	raw := buf.Bytes()
	if len(raw) != HeaderSize+11 {
		t.Fatalf("expect %d bytes on the wire, got %d", HeaderSize+11, len(raw))
	}
	if n := binary.BigEndian.Uint32(raw[:HeaderSize]); n != 11 {
		t.Fatalf("expect big-endian length 11, got %d", n)
	}
}

func TestReadFrameOverPipe(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	payload := bytes.Repeat([]byte("abc"), 1000)
	errCh := make(chan error, 1)
	go func() {
		errCh <- WriteFrame(client, payload)
	}()

	got, err := ReadFrame(server)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("payload mismatch over net.Pipe")
	}
	if err := <-errCh; err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
}

func TestReadFrameTruncated(t *testing.T) {
	cases := []struct {
		name string
		raw  []byte
	}{
		{"partial header", []byte{0x00, 0x00}},
		{"partial payload", []byte{0x00, 0x00, 0x00, 0x05, 'a', 'b'}},
		{"header only", []byte{0x00, 0x00, 0x00, 0x05}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ReadFrame(bytes.NewReader(tc.raw))
			if !IsFramingError(err) {
				t.Fatalf("expect FramingError, got %v", err)
			}
			if errors.Is(err, ErrConnectionClosed) {
				t.Fatal("a truncated frame must not look like a clean close")
			}
		})
	}
}

func TestReadFrameZeroLength(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{0, 0, 0, 0}))
	if !IsFramingError(err) {
		t.Fatalf("expect FramingError for zero-length frame, got %v", err)
	}
}

func TestReadFrameTooLarge(t *testing.T) {
	f := &Framer{MaxFrameSize: 8}

	// Header claims 4 GiB - 1; the reader must fail before allocating it.
	raw := []byte{0xFF, 0xFF, 0xFF, 0xFF, 'x'}
	_, err := f.ReadFrame(bytes.NewReader(raw))
	if !IsFramingError(err) {
		t.Fatalf("expect FramingError for oversized frame, got %v", err)
	}

	if err := f.WriteFrame(io.Discard, make([]byte, 9)); !IsFramingError(err) {
		t.Fatalf("expect FramingError writing oversized frame, got %v", err)
	}
	if err := f.WriteFrame(io.Discard, make([]byte, 8)); err != nil {
		t.Fatalf("frame at the limit should be accepted: %v", err)
	}
}

func TestWriteFrameEmpty(t *testing.T) {
	if err := WriteFrame(io.Discard, nil); !IsFramingError(err) {
		t.Fatalf("expect FramingError for empty payload, got %v", err)
	}
}

// shortWriter accepts at most n bytes per call without reporting an error.
type shortWriter struct {
	buf bytes.Buffer
	n   int
}

func (w *shortWriter) Write(p []byte) (int, error) {
	if len(p) > w.n {
		p = p[:w.n]
	}
	return w.buf.Write(p)
}

func TestWriteFrameRetriesShortWrites(t *testing.T) {
	w := &shortWriter{n: 3}
	payload := []byte("a payload longer than three bytes")
	if err := WriteFrame(w, payload); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	got, err := ReadFrame(&w.buf)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestWriteFrameClosedConn(t *testing.T) {
	client, server := net.Pipe()
	server.Close()
	err := WriteFrame(client, []byte("late"))
	if !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("expect ErrConnectionClosed, got %v", err)
	}
	client.Close()
}

func TestReadFrameClosedConn(t *testing.T) {
	client, server := net.Pipe()
	client.Close()
	_, err := ReadFrame(server)
	if !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("expect ErrConnectionClosed, got %v", err)
	}
	server.Close()
}
