package fileserver

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/fjl/dgramftp/host"
)

// Server is the file transfer server. It runs one session per accepted control
// connection. Sessions share nothing except the root directory.
type Server struct {
	cfg  *Config
	host *host.Host
	root *rootDir

	wg     sync.WaitGroup
	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
}

// NewServer creates a server on the given host. The root directory is created
// if it doesn't exist.
func NewServer(host *host.Host, cfg Config) (*Server, error) {
	cfg = cfg.withDefaults()
	root, err := openRoot(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("can't open root directory: %w", err)
	}
	srv := &Server{
		cfg:   &cfg,
		host:  host,
		root:  root,
		conns: make(map[net.Conn]struct{}),
	}
	return srv, nil
}

// Serve accepts connections until the server is closed.
func (s *Server) Serve() error {
	log.Info("File server started", "addr", s.host.Addr(), "root", s.cfg.Root)
	for {
		conn, err := s.host.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if !s.track(conn) {
			conn.Close()
			return nil
		}
		go s.handleConn(conn)
	}
}

// Close stops the server. It closes the listener, the datagram socket and all
// session connections, then waits for sessions to end.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errServerClosed
	}
	s.closed = true
	err := s.host.Close()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// track registers a session connection.
func (s *Server) track(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer conn.Close()

	logger := log.New("peer", conn.RemoteAddr())
	pc, err := s.host.DataConn(conn)
	if err != nil {
		logger.Warn("Can't open data channel", "err", err)
		return
	}
	defer pc.Close()

	logger.Debug("Session started")
	err = newServerSession(s, conn, pc, logger).run()
	logger.Debug("Session ended", "err", err)
}
