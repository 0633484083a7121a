// Package host sets up the server side of the network stack: a stream listener for
// control channels and a shared datagram socket for data channels, both bound to
// the same address.
package host

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"syscall"

	ethlog "github.com/ethereum/go-ethereum/log"
	"github.com/fjl/dgramftp/sharedsocket"
)

// DefaultListenAddr is the address used when Config.ListenAddr is empty.
const DefaultListenAddr = "0.0.0.0:22222"

// How often Listen retries when the datagram port picked for an ephemeral
// listener is already in use.
const ephemeralPortAttempts = 10

// Config is the configuration of Host.
type Config struct {
	ListenAddr string
}

var ConfigForTesting = Config{
	ListenAddr: "127.0.0.1:0",
}

func (cfg Config) withDefaults() Config {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	return cfg
}

// Host manages the server networking stack.
type Host struct {
	Listener net.Listener
	Socket   *sharedsocket.Conn
}

// Listen creates the TCP listener on the configured address, and a UDP socket on
// the same address and port.
func Listen(cfg Config) (*Host, error) {
	cfg = cfg.withDefaults()
	_, port, err := net.SplitHostPort(cfg.ListenAddr)
	if err != nil {
		return nil, err
	}
	ephemeral := port == "0" || port == ""

	for attempt := 1; ; attempt++ {
		h, err := listen(cfg.ListenAddr)
		if err == nil {
			ethlog.Debug("Host listening", "addr", h.Addr())
			return h, nil
		}
		if !ephemeral || !errors.Is(err, syscall.EADDRINUSE) || attempt == ephemeralPortAttempts {
			return nil, err
		}
		ethlog.Debug("Datagram port in use, retrying", "err", err)
	}
}

func listen(addr string) (*Host, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	// The datagram socket uses the actual address, which has the port filled in
	// when an ephemeral port was requested.
	conn, err := sharedsocket.Listen("udp", l.Addr().String())
	if err != nil {
		l.Close()
		return nil, fmt.Errorf("can't open datagram socket: %w", err)
	}
	return &Host{Listener: l, Socket: conn}, nil
}

// Addr returns the listening address.
func (h *Host) Addr() net.Addr {
	return h.Listener.Addr()
}

// Accept waits for the next control connection.
func (h *Host) Accept() (net.Conn, error) {
	return h.Listener.Accept()
}

// DataConn returns the data channel endpoint for the peer of a control
// connection. It receives datagrams sent from the peer's control channel address.
func (h *Host) DataConn(control net.Conn) (*sharedsocket.PeerConn, error) {
	remote, err := addrPort(control.RemoteAddr())
	if err != nil {
		return nil, err
	}
	return h.Socket.Dial(remote)
}

func addrPort(addr net.Addr) (netip.AddrPort, error) {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.AddrPort(), nil
	case *net.UDPAddr:
		return a.AddrPort(), nil
	default:
		return netip.ParseAddrPort(addr.String())
	}
}

// Close terminates the stack.
func (h *Host) Close() error {
	err := h.Listener.Close()
	if serr := h.Socket.Close(); err == nil {
		err = serr
	}
	return err
}
