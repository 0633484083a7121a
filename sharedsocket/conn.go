package sharedsocket

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// handler is a packet handler. It returns true when it accepted the packet.
type handler interface {
	HandlePacket(packet []byte, addr *net.UDPAddr) bool
}

type UDPConn interface {
	net.PacketConn
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)
	WriteToUDP(b []byte, addr *net.UDPAddr) (n int, err error)
}

var errPeerExists = errors.New("peer already has a connection")

// Conn is a UDP listener that allows many sessions to share the same port.
//
// Sessions obtain a PeerConn for their remote address using the Dial method. The
// PeerConn behaves like a connected UDP socket: it receives only packets sent by its
// peer. Incoming packets are offered to the peer connections in the order they were
// created. Packets accepted by no peer are dropped.
type Conn struct {
	conn UDPConn

	wg       sync.WaitGroup
	mutex    sync.Mutex // protects peers, closed and writes to the handler list
	closed   bool
	handlers atomic.Pointer[handlerList]
	peers    map[netip.AddrPort]*PeerConn
}

// NewConn creates a new connection.
func NewConn(p UDPConn) *Conn {
	c := &Conn{
		conn:  p,
		peers: make(map[netip.AddrPort]*PeerConn),
	}
	c.handlers.Store(new(handlerList))
	c.wg.Add(1)
	go c.readLoop()
	return c
}

// Listen creates a UDP listener and wraps it with a Conn.
func Listen(network, address string) (*Conn, error) {
	pc, err := net.ListenPacket(network, address)
	if err != nil {
		return nil, err
	}
	udpc, ok := pc.(UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("ListenPacket returned a non-UDP connection (type %T)", pc)
	}
	return NewConn(udpc), nil
}

// Close terminates the connection.
// This also closes the underlying connection and all peer connections.
func (c *Conn) Close() error {
	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return nil
	}
	c.closed = true
	peers := c.peers
	c.peers = make(map[netip.AddrPort]*PeerConn)
	c.mutex.Unlock()

	for _, pc := range peers {
		pc.markClosed()
	}
	err := c.conn.Close()
	c.wg.Wait()
	return err
}

// WriteToUDP writes a packet with payload b to addr. This is a direct write
// to the underlying connection.
func (c *Conn) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) {
	return c.conn.WriteToUDP(b, addr)
}

// LocalAddr returns the local network address of the socket, if known.
func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// addHandler appends h to the handler list. The caller must hold c.mutex.
func (c *Conn) addHandler(h handler) {
	c.handlers.Store(c.handlers.Load().append(h))
}

// removeHandler removes h from the handler list. The caller must hold c.mutex.
func (c *Conn) removeHandler(h handler) {
	c.handlers.Store(c.handlers.Load().remove(h))
}

// Dial creates the connection for packets exchanged with remote. There can be
// at most one open PeerConn per remote address. The PeerConn is removed when closed.
func (c *Conn) Dial(remote netip.AddrPort) (*PeerConn, error) {
	remote = netip.AddrPortFrom(remote.Addr().Unmap(), remote.Port())

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return nil, net.ErrClosed
	}
	if c.peers[remote] != nil {
		return nil, errPeerExists
	}
	pc := newPeerConn(c, remote)
	c.peers[remote] = pc
	c.addHandler(pc)
	return pc, nil
}

func (c *Conn) removePeer(pc *PeerConn) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.peers[pc.remote] == pc {
		delete(c.peers, pc.remote)
	}
	c.removeHandler(pc)
}

func (c *Conn) readLoop() {
	defer c.wg.Done()

	var (
		buf = make([]byte, 2048)
	)
recv:
	for {
		n, addr, err := c.conn.ReadFromUDP(buf)
		if errors.Is(err, net.ErrClosed) {
			return
		} else if err != nil {
			// Nothing can be done about the errors here. To avoid
			// a busy loop, it's best to sleep for little bit before continuing.
			log.Debug("Shared socket read error", "err", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}
		packet := buf[:n]

		l := c.handlers.Load()
		for _, h := range l.hs {
			if h.HandlePacket(packet, addr) {
				continue recv
			}
		}
		log.Trace("Dropping packet from unknown peer", "addr", addr, "size", n)
	}
}

// handlerList keeps the list of packet handlers.
// This is implemented as a copy-on-write structure because the handlers
// are read on every packet but change only when sessions come and go.
type handlerList struct {
	hs []handler
}

func (l *handlerList) append(h handler) *handlerList {
	newlist := make([]handler, 0, len(l.hs)+1)
	newlist = append(newlist, l.hs...)
	newlist = append(newlist, h)
	return &handlerList{newlist}
}

func (l *handlerList) remove(h handler) *handlerList {
	for i := range l.hs {
		if l.hs[i] == h {
			return l.removeIndex(i)
		}
	}
	return l
}

func (l *handlerList) removeIndex(i int) *handlerList {
	newlist := make([]handler, 0, len(l.hs)-1)
	newlist = append(newlist, l.hs[:i]...)
	newlist = append(newlist, l.hs[i+1:]...)
	return &handlerList{newlist}
}
