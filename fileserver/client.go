package fileserver

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/log"
	"github.com/fjl/dgramftp/control"
	"github.com/fjl/dgramftp/datagram"
	"github.com/fjl/dgramftp/transfer"
	"github.com/fjl/dgramftp/wire"
)

// DefaultServerAddr is the address clients connect to by default.
const DefaultServerAddr = "localhost:22222"

// Client is a connection to a file server. Operations run sequentially, each one
// completes before the next can start. Client is not safe for concurrent use.
type Client struct {
	cfg  *Config
	conn net.Conn
	ctrl *control.Conn
	data *datagram.Conn
	log  log.Logger
}

// Dial connects to a server. The data channel socket is bound to the local address
// of the control connection, so the server can match datagrams to the session.
func Dial(addr string, cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	laddr := conn.LocalAddr().(*net.TCPAddr)
	raddr := conn.RemoteAddr().(*net.TCPAddr)
	udp, err := net.DialUDP("udp", &net.UDPAddr{IP: laddr.IP, Port: laddr.Port, Zone: laddr.Zone}, &net.UDPAddr{IP: raddr.IP, Port: raddr.Port, Zone: raddr.Zone})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("can't open data channel: %w", err)
	}
	c := &Client{
		cfg:  &cfg,
		conn: conn,
		ctrl: control.NewConn(conn),
		data: datagram.NewConn(udp),
		log:  log.New("server", raddr),
	}
	c.log.Debug("Connected", "laddr", laddr)
	return c, nil
}

// Close closes the connection without notifying the server.
func (c *Client) Close() error {
	err := c.conn.Close()
	if derr := c.data.Close(); err == nil {
		err = derr
	}
	return err
}

// Exit ends the session and closes the connection.
func (c *Client) Exit() error {
	err := c.ctrl.Send(wire.CommandExit)
	if cerr := c.Close(); err == nil {
		err = cerr
	}
	return err
}

// Put uploads a local file. The file is stored on the server under its base name.
// Validation failures are reported before anything is sent to the server.
func (c *Client) Put(localPath string) (transfer.Stats, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return transfer.Stats{}, fmt.Errorf("%w: %w", ErrFileNotFound, err)
	}
	if !info.Mode().IsRegular() {
		return transfer.Stats{}, fmt.Errorf("%w: %s is not a regular file", ErrFileNotFound, localPath)
	}
	fd := &wire.FileDescriptor{Size: uint64(info.Size()), Name: filepath.Base(localPath)}
	if err := fd.Validate(); err != nil {
		return transfer.Stats{}, fmt.Errorf("%w: %w", ErrInvalidName, err)
	}

	if err := c.request(wire.CommandPut, fd); err != nil {
		return transfer.Stats{}, err
	}
	f, err := os.Open(localPath)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrFileNotFound, err)
		return transfer.Stats{}, c.cancel("Could not open file", err)
	}
	defer f.Close()
	if err := c.ctrl.Send(wire.OK()); err != nil {
		return transfer.Stats{}, err
	}

	progress := newProgressLogger(c.cfg, c.log, fd.Name, info.Size())
	stats, err := transfer.Send(c.data, f, c.cfg.transferOptions(c.log, progress.report)...)
	progress.finish(stats, err)
	return stats, err
}

// Get downloads a file from the server. When localPath is empty, the file is
// written to the current directory under the remote name. Get returns the
// absolute path of the local file.
func (c *Client) Get(remoteName, localPath string) (string, transfer.Stats, error) {
	fd := &wire.FileDescriptor{Name: remoteName}
	if remoteName == "" {
		return "", transfer.Stats{}, ErrInvalidName
	}
	if err := fd.Validate(); err != nil {
		return "", transfer.Stats{}, fmt.Errorf("%w: %w", ErrInvalidName, err)
	}

	if err := c.request(wire.CommandGet, fd); err != nil {
		return "", transfer.Stats{}, err
	}
	dest, err := resolveLocalPath(remoteName, localPath)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrFileCreateFailed, err)
		return "", transfer.Stats{}, c.cancel("Could not create file", err)
	}
	f, err := os.Create(dest)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrFileCreateFailed, err)
		return dest, transfer.Stats{}, c.cancel("Could not create file", err)
	}
	if err := c.ctrl.Send(wire.OK()); err != nil {
		f.Close()
		os.Remove(dest)
		return dest, transfer.Stats{}, err
	}

	progress := newProgressLogger(c.cfg, c.log, remoteName, 0)
	stats, err := transfer.Receive(c.data, f, c.cfg.transferOptions(c.log, progress.report)...)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	progress.finish(stats, err)
	return dest, stats, err
}

// request sends a command and its file descriptor, then waits for the server's answer.
func (c *Client) request(cmd wire.Command, fd *wire.FileDescriptor) error {
	if err := c.ctrl.Send(cmd); err != nil {
		return err
	}
	if err := c.ctrl.Send(fd); err != nil {
		return err
	}
	var resp wire.StatusResponse
	if err := c.ctrl.Receive(&resp); err != nil {
		return err
	}
	if resp.Status != wire.StatusOK {
		return &StatusError{Message: resp.Message}
	}
	return nil
}

// cancel tells the server that a request it accepted failed locally. When the
// control channel is broken, the send error is returned along with err.
func (c *Client) cancel(msg string, err error) error {
	if serr := c.ctrl.Send(wire.Error(msg)); serr != nil {
		return errors.Join(err, serr)
	}
	return err
}

func resolveLocalPath(remoteName, localPath string) (string, error) {
	if localPath == "" {
		if !fs.ValidPath(remoteName) {
			return "", fmt.Errorf("%w %q", ErrInvalidName, remoteName)
		}
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		localPath = filepath.Join(wd, filepath.FromSlash(remoteName))
	}
	return filepath.Abs(localPath)
}

// isFatal reports whether err ends the session.
func isFatal(err error) bool {
	return errors.Is(err, control.ErrChannelClosed)
}
