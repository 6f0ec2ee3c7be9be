// Package wyoming implements the length-prefixed JSON+binary framing used
// to talk to mic, snd, wake and event peers, plus a durable reconnecting
// client peer built on top of it.
package wyoming

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// maxHeaderLine bounds how much a reader will buffer looking for the
// newline that terminates a header, so a peer that never sends one cannot
// grow memory without bound.
const maxHeaderLine = 64 * 1024

// Frame is one Wyoming protocol message: a type, an optional JSON data
// object, and an optional raw binary payload (audio bytes, typically).
type Frame struct {
	Type    string
	Data    map[string]any
	Payload []byte
}

// Synthetic frame types emitted by a Peer for its own lifecycle; these
// never appear on the wire, only on a Peer's Events() channel.
const (
	TypeConnected    = "_connected"
	TypeDisconnected = "_disconnected"
)

type header struct {
	Type          string `json:"type"`
	DataLength    *int   `json:"data_length,omitempty"`
	PayloadLength *int   `json:"payload_length,omitempty"`
}

// Encode writes f to w in wire order: header line, data bytes, payload
// bytes. The two length fields are always computed from f, never trusted
// from a caller-populated header.
func Encode(w io.Writer, f Frame) error {
	var dataBytes []byte
	var err error
	if f.Data != nil {
		dataBytes, err = json.Marshal(f.Data)
		if err != nil {
			return fmt.Errorf("wyoming: marshal data: %w", err)
		}
	}

	h := header{Type: f.Type}
	if len(dataBytes) > 0 {
		n := len(dataBytes)
		h.DataLength = &n
	}
	if len(f.Payload) > 0 {
		n := len(f.Payload)
		h.PayloadLength = &n
	}

	headerBytes, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("wyoming: marshal header: %w", err)
	}

	if _, err := w.Write(headerBytes); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if len(dataBytes) > 0 {
		if _, err := w.Write(dataBytes); err != nil {
			return fmt.Errorf("%w: %v", ErrTransport, err)
		}
	}
	if len(f.Payload) > 0 {
		if _, err := w.Write(f.Payload); err != nil {
			return fmt.Errorf("%w: %v", ErrTransport, err)
		}
	}
	return nil
}

// Decode reads exactly one Frame from r: a newline-terminated header line,
// then exactly data_length bytes parsed as JSON and merged into Data, then
// exactly payload_length raw bytes.
func Decode(r *bufio.Reader) (Frame, error) {
	line, err := readHeaderLine(r)
	if err != nil {
		return Frame{}, err
	}

	var h header
	if err := json.Unmarshal(line, &h); err != nil {
		return Frame{}, fmt.Errorf("%w: header json: %v", ErrFraming, err)
	}
	if h.Type == "" {
		return Frame{}, fmt.Errorf("%w: missing type", ErrFraming)
	}

	f := Frame{Type: h.Type}

	if h.DataLength != nil && *h.DataLength > 0 {
		buf := make([]byte, *h.DataLength)
		if _, err := io.ReadFull(r, buf); err != nil {
			return Frame{}, fmt.Errorf("%w: short data read: %v", ErrFraming, err)
		}
		var data map[string]any
		if err := json.Unmarshal(buf, &data); err != nil {
			return Frame{}, fmt.Errorf("%w: data json: %v", ErrFraming, err)
		}
		f.Data = data
	}

	if h.PayloadLength != nil && *h.PayloadLength > 0 {
		buf := make([]byte, *h.PayloadLength)
		if _, err := io.ReadFull(r, buf); err != nil {
			return Frame{}, fmt.Errorf("%w: short payload read: %v", ErrFraming, err)
		}
		f.Payload = buf
	}

	return f, nil
}

func readHeaderLine(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadSlice('\n')
	if err == bufio.ErrBufferFull {
		return nil, fmt.Errorf("%w: header line exceeds %d bytes", ErrFraming, maxHeaderLine)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrFraming, err)
	}
	if len(line) > maxHeaderLine {
		return nil, fmt.Errorf("%w: header line exceeds %d bytes", ErrFraming, maxHeaderLine)
	}
	// Trim the trailing newline; ReadSlice's buffer is only valid until the
	// next read, so copy it out.
	out := make([]byte, len(line)-1)
	copy(out, line[:len(line)-1])
	return out, nil
}
