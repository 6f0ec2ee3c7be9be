package wyoming

import (
	"bufio"
	"io"
)

// Conn pairs a raw duplex byte stream with the buffering Decode needs. It
// is satisfied equally by a net.Conn and by a subprocess's combined
// stdin/stdout pipes (see Peer's dial functions).
type Conn struct {
	rw     io.ReadWriteCloser
	reader *bufio.Reader
}

// NewConn wraps rw for framed reads and writes.
func NewConn(rw io.ReadWriteCloser) *Conn {
	return &Conn{rw: rw, reader: bufio.NewReaderSize(rw, maxHeaderLine)}
}

// WriteFrame encodes and writes f.
func (c *Conn) WriteFrame(f Frame) error {
	return Encode(c.rw, f)
}

// ReadFrame decodes the next frame.
func (c *Conn) ReadFrame() (Frame, error) {
	return Decode(c.reader)
}

// Close releases the underlying stream.
func (c *Conn) Close() error {
	return c.rw.Close()
}
