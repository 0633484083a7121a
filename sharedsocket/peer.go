package sharedsocket

import (
	"net"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

const peerQueueLen = 64

// PeerConn is a net.Conn for the packets exchanged with a single remote address
// through the shared socket.
type PeerConn struct {
	conn   *Conn
	remote netip.AddrPort
	addr   *net.UDPAddr
	in     chan []byte

	closeOnce sync.Once
	closed    chan struct{}

	mu           sync.Mutex
	readDeadline time.Time
}

func newPeerConn(c *Conn, remote netip.AddrPort) *PeerConn {
	return &PeerConn{
		conn:   c,
		remote: remote,
		addr:   net.UDPAddrFromAddrPort(remote),
		in:     make(chan []byte, peerQueueLen),
		closed: make(chan struct{}),
	}
}

// HandlePacket accepts packets sent by the peer. When the receive queue is full,
// the packet is dropped.
func (pc *PeerConn) HandlePacket(packet []byte, addr *net.UDPAddr) bool {
	src := addr.AddrPort()
	if src.Addr().Unmap() != pc.remote.Addr() || src.Port() != pc.remote.Port() {
		return false
	}
	p := make([]byte, len(packet))
	copy(p, packet)
	select {
	case pc.in <- p:
	case <-pc.closed:
	default:
		log.Trace("Peer receive queue full, dropping packet", "addr", pc.addr, "size", len(p))
	}
	return true
}

// Read reads the next packet from the peer. If b is too small to hold the packet,
// the remaining bytes are discarded.
//
// The read deadline is sampled when Read starts. Changing it while a Read is
// blocked does not affect that Read.
func (pc *PeerConn) Read(b []byte) (int, error) {
	pc.mu.Lock()
	deadline := pc.readDeadline
	pc.mu.Unlock()

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		d := time.Until(deadline)
		if d <= 0 {
			return 0, os.ErrDeadlineExceeded
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case p := <-pc.in:
		return copy(b, p), nil
	case <-pc.closed:
		return 0, net.ErrClosed
	case <-timeout:
		return 0, os.ErrDeadlineExceeded
	}
}

// Write sends b to the peer.
func (pc *PeerConn) Write(b []byte) (int, error) {
	select {
	case <-pc.closed:
		return 0, net.ErrClosed
	default:
	}
	return pc.conn.WriteToUDP(b, pc.addr)
}

// Close removes the connection from the shared socket. The socket itself stays open.
func (pc *PeerConn) Close() error {
	pc.markClosed()
	pc.conn.removePeer(pc)
	return nil
}

func (pc *PeerConn) markClosed() {
	pc.closeOnce.Do(func() { close(pc.closed) })
}

// LocalAddr returns the address of the shared socket.
func (pc *PeerConn) LocalAddr() net.Addr {
	return pc.conn.LocalAddr()
}

// RemoteAddr returns the peer address.
func (pc *PeerConn) RemoteAddr() net.Addr {
	return pc.addr
}

// SetDeadline sets the read deadline.
func (pc *PeerConn) SetDeadline(t time.Time) error {
	return pc.SetReadDeadline(t)
}

// SetReadDeadline sets the deadline for future Read calls.
// A zero value for t means Read will not time out.
func (pc *PeerConn) SetReadDeadline(t time.Time) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.readDeadline = t
	return nil
}

// SetWriteDeadline does nothing. Writes go directly to the shared socket.
func (pc *PeerConn) SetWriteDeadline(t time.Time) error {
	return nil
}
