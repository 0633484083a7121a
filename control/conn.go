// Package control implements the control channel: a reliable byte stream
// carrying one fixed-size packet per Send/Receive call.
package control

import (
	"encoding"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/fjl/dgramftp/wire"
)

// ErrChannelClosed is returned when the stream fails or the peer disconnects.
var ErrChannelClosed = errors.New("control channel closed")

// Conn is a control channel on top of a stream connection.
// It is not safe for concurrent use.
type Conn struct {
	conn net.Conn
	log  log.Logger
	buf  []byte
}

// NewConn wraps a stream connection.
func NewConn(c net.Conn) *Conn {
	return &Conn{
		conn: c,
		log:  log.New("peer", c.RemoteAddr()),
		buf:  make([]byte, wire.StatusResponseSize),
	}
}

// Send encodes p and writes it to the stream.
func (c *Conn) Send(p encoding.BinaryMarshaler) error {
	data, err := p.MarshalBinary()
	if err != nil {
		return err
	}
	// net.Conn.Write returns an error unless all bytes were written.
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("%w: %w", ErrChannelClosed, err)
	}
	c.log.Trace("Control send", "type", fmt.Sprintf("%T", p), "data", hexutil.Bytes(data))
	return nil
}

// Receive reads exactly p.EncodedSize() bytes and decodes them into p.
func (c *Conn) Receive(p wire.Packet) error {
	size := p.EncodedSize()
	if cap(c.buf) < size {
		c.buf = make([]byte, size)
	}
	buf := c.buf[:size]
	if _, err := io.ReadFull(c.conn, buf); err != nil {
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return fmt.Errorf("%w: %w", ErrChannelClosed, err)
	}
	c.log.Trace("Control receive", "type", fmt.Sprintf("%T", p), "data", hexutil.Bytes(buf))
	return p.UnmarshalBinary(buf)
}

// LocalAddr returns the local stream address.
func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the peer's stream address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}
