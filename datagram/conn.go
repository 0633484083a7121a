// Package datagram implements the data channel: unicast exchange of fixed-size
// packets between two known endpoints over a lossy datagram transport.
package datagram

import (
	"encoding"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/fjl/dgramftp/wire"
)

// ErrTransport wraps failures of the underlying socket.
var ErrTransport = errors.New("datagram transport error")

// maxPacketSize bounds received datagrams. Anything larger than the largest
// packet is malformed anyway.
const maxPacketSize = 2048

// Conn is a data channel. The underlying connection must be connected to the peer,
// i.e. reads return only datagrams sent by the peer and writes go to the peer.
// This is true for a *net.UDPConn created by net.DialUDP and for sharedsocket.PeerConn.
//
// Conn is not safe for concurrent use.
type Conn struct {
	conn    net.Conn
	log     log.Logger
	timeout time.Duration
	buf     []byte
}

// NewConn wraps a connected datagram socket.
func NewConn(c net.Conn) *Conn {
	return &Conn{
		conn: c,
		log:  log.New("peer", c.RemoteAddr()),
		buf:  make([]byte, maxPacketSize),
	}
}

// SetReadTimeout configures how long Receive waits for a datagram.
// Zero means Receive blocks until a datagram arrives.
func (c *Conn) SetReadTimeout(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("negative read timeout %v", d)
	}
	c.timeout = d
	return nil
}

// Send encodes p and transmits it as one datagram.
func (c *Conn) Send(p encoding.BinaryMarshaler) error {
	data, err := p.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	c.log.Trace("Datagram send", "type", fmt.Sprintf("%T", p), "data", hexutil.Bytes(data))
	return nil
}

// Receive waits for one datagram and decodes it into p. It returns false and no error
// when the read timeout expires before a datagram arrives. A datagram that does not
// decode as p yields wire.ErrMalformedPacket.
func (c *Conn) Receive(p wire.Packet) (bool, error) {
	var deadline time.Time
	if c.timeout > 0 {
		deadline = time.Now().Add(c.timeout)
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return false, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	n, err := c.conn.Read(c.buf)
	if errors.Is(err, os.ErrDeadlineExceeded) {
		c.log.Trace("Datagram receive timeout", "timeout", c.timeout)
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	data := c.buf[:n]
	c.log.Trace("Datagram receive", "type", fmt.Sprintf("%T", p), "data", hexutil.Bytes(data))
	if err := p.UnmarshalBinary(data); err != nil {
		return false, err
	}
	return true, nil
}

// LocalAddr returns the local address of the socket.
func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close closes the underlying socket.
func (c *Conn) Close() error {
	return c.conn.Close()
}
