package fileserver

import (
	"errors"
	"net"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/fjl/dgramftp/control"
	"github.com/fjl/dgramftp/datagram"
	"github.com/fjl/dgramftp/transfer"
	"github.com/fjl/dgramftp/wire"
)

// serverSession serves the commands of one client.
type serverSession struct {
	srv  *Server
	ctrl *control.Conn
	data *datagram.Conn
	log  log.Logger
}

func newServerSession(srv *Server, conn net.Conn, dataConn net.Conn, logger log.Logger) *serverSession {
	return &serverSession{
		srv:  srv,
		ctrl: control.NewConn(conn),
		data: datagram.NewConn(dataConn),
		log:  logger,
	}
}

// run processes commands until the client exits or the control channel fails.
// Errors returned by the handlers are control channel errors.
func (ss *serverSession) run() error {
	for {
		var cmd wire.Command
		err := ss.ctrl.Receive(&cmd)
		if errors.Is(err, wire.ErrMalformedPacket) {
			ss.log.Warn("Ignoring unknown command", "err", err)
			continue
		} else if err != nil {
			return err
		}

		ss.log.Debug("Received command", "cmd", cmd)
		switch cmd {
		case wire.CommandExit:
			ss.log.Info("Client closed the session")
			return nil
		case wire.CommandPut:
			err = ss.handlePut()
		case wire.CommandGet:
			err = ss.handleGet()
		}
		if err != nil {
			return err
		}
	}
}

// receiveDescriptor reads the FileDescriptor following a command. A malformed
// descriptor is answered with an Error status.
func (ss *serverSession) receiveDescriptor() (*wire.FileDescriptor, bool, error) {
	var fd wire.FileDescriptor
	err := ss.ctrl.Receive(&fd)
	if errors.Is(err, wire.ErrMalformedPacket) {
		ss.log.Warn("Invalid file descriptor", "err", err)
		return nil, false, ss.ctrl.Send(wire.Error("Invalid file descriptor"))
	}
	return &fd, err == nil, err
}

// receiveReady reads the client's readiness status.
func (ss *serverSession) receiveReady() (bool, error) {
	var ready wire.StatusResponse
	err := ss.ctrl.Receive(&ready)
	switch {
	case errors.Is(err, wire.ErrMalformedPacket):
		ss.log.Warn("Invalid readiness status", "err", err)
		return false, nil
	case err != nil:
		return false, err
	case ready.Status != wire.StatusOK:
		ss.log.Info("Client canceled transfer", "reason", ready.Message)
		return false, nil
	}
	return true, nil
}

func (ss *serverSession) reject(op string, name string, err error) error {
	ss.log.Warn("Rejected "+op, "file", name, "err", err)
	return ss.ctrl.Send(wire.Error(statusMessage(err)))
}

func (ss *serverSession) handlePut() error {
	fd, ok, err := ss.receiveDescriptor()
	if !ok {
		return err
	}
	f, path, err := ss.srv.root.create(fd.Name)
	if err != nil {
		return ss.reject("put", fd.Name, err)
	}
	discard := func() {
		f.Close()
		if err := ss.srv.root.remove(path); err != nil {
			ss.log.Warn("Can't remove incomplete file", "path", path, "err", err)
		}
	}

	if err := ss.ctrl.Send(wire.OK()); err != nil {
		discard()
		return err
	}
	ready, err := ss.receiveReady()
	if !ready {
		discard()
		return err
	}

	ss.log.Debug("Receiving file", "file", fd.Name, "size", common.StorageSize(fd.Size))
	stats, err := transfer.Receive(ss.data, f, ss.srv.cfg.transferOptions(ss.log, nil)...)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		ss.log.Warn("Upload failed", "file", fd.Name, "chunks", stats.Chunks, "err", err)
		discard()
		return nil
	}
	ss.log.Info("Upload complete", "file", fd.Name, "size", common.StorageSize(stats.Bytes), "chunks", stats.Chunks)
	return nil
}

func (ss *serverSession) handleGet() error {
	fd, ok, err := ss.receiveDescriptor()
	if !ok {
		return err
	}
	f, size, err := ss.srv.root.open(fd.Name)
	if err != nil {
		return ss.reject("get", fd.Name, err)
	}
	defer f.Close()

	if err := ss.ctrl.Send(wire.OK()); err != nil {
		return err
	}
	if ready, err := ss.receiveReady(); !ready {
		return err
	}

	ss.log.Debug("Sending file", "file", fd.Name, "size", common.StorageSize(size))
	stats, err := transfer.Send(ss.data, f, ss.srv.cfg.transferOptions(ss.log, nil)...)
	if err != nil {
		ss.log.Warn("Download failed", "file", fd.Name, "chunks", stats.Chunks, "err", err)
		return nil
	}
	ss.log.Info("Download complete", "file", fd.Name, "size", common.StorageSize(stats.Bytes), "chunks", stats.Chunks, "retransmits", stats.Retransmits)
	return nil
}

var _ transfer.Channel = (*datagram.Conn)(nil)
