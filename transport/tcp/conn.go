package tcp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// DefaultMaxMessageSize is the longest line accepted from a peer.
	DefaultMaxMessageSize = 64 * 1024
)

// ErrMessageTooLarge is returned by ReadMessage for a line over the limit.
var ErrMessageTooLarge = errors.New("message exceeds maximum size")

// Conn frames a net.Conn as newline-delimited messages.
type Conn struct {
	nc      net.Conn
	scanner *bufio.Scanner
	max     int
}

// NewConn wraps nc. maxMessageSize <= 0 selects DefaultMaxMessageSize.
func NewConn(nc net.Conn, maxMessageSize int) *Conn {
	if maxMessageSize <= 0 {
		maxMessageSize = DefaultMaxMessageSize
	}
	// +1 leaves room for a trailing '\r'.
	limit := maxMessageSize + 1
	sc := bufio.NewScanner(nc)
	sc.Buffer(make([]byte, 0, min(4096, limit)), limit)
	return &Conn{nc: nc, scanner: sc, max: maxMessageSize}
}

// Dial connects to a relay at addr.
func Dial(ctx context.Context, addr string) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewConn(nc, 0), nil
}

// ReadMessage returns the next non-blank line without its terminator. It
// returns io.EOF when the peer closes the connection.
func (c *Conn) ReadMessage() ([]byte, error) {
	for c.scanner.Scan() {
		line := bytes.TrimSuffix(c.scanner.Bytes(), []byte{'\r'})
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if len(line) > c.max {
			return nil, fmt.Errorf("%w (%d bytes)", ErrMessageTooLarge, c.max)
		}
		out := make([]byte, len(line))
		copy(out, line)
		return out, nil
	}
	if err := c.scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, fmt.Errorf("%w (%d bytes)", ErrMessageTooLarge, c.max)
		}
		return nil, err
	}
	return nil, io.EOF
}

// WriteMessage writes data followed by '\n' as a single write.
func (c *Conn) WriteMessage(data []byte) error {
	buf := make([]byte, len(data)+1)
	copy(buf, data)
	buf[len(data)] = '\n'

	if err := c.nc.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	_, err := c.nc.Write(buf)
	return err
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	err := c.nc.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string {
	return c.nc.RemoteAddr().String()
}
