// Package transfer moves file content over a data channel as a sequence of
// fixed-size chunks.
//
// The sender transmits one chunk at a time and waits for a reply before moving
// on. A chunk that is not answered within the ack timeout is transmitted again,
// up to a fixed number of attempts, after which the whole transfer is aborted.
// The receiver writes chunks in arrival order and acknowledges each one.
//
// By default any reply counts as the acknowledgement of the chunk just sent. The
// protocol has no reordering or duplicate detection: a lost acknowledgement leads to
// the chunk being written twice. WithAckVerification enables index checking on the
// sending side.
package transfer

import (
	"bufio"
	"encoding"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fjl/dgramftp/wire"
)

// Channel is the datagram channel used for a transfer.
// It is implemented by *datagram.Conn.
type Channel interface {
	Send(p encoding.BinaryMarshaler) error
	Receive(p wire.Packet) (bool, error)
	SetReadTimeout(d time.Duration) error
}

// Stats describes a finished or aborted transfer.
type Stats struct {
	Chunks      uint64 // chunks acknowledged (sender) or written (receiver)
	Bytes       int64  // payload bytes in those chunks
	Retransmits int
}

// Send transmits the content of r. It returns when the last chunk has been
// acknowledged, or with an *AbortError when a chunk could not be delivered.
func Send(ch Channel, r io.Reader, opts ...Option) (Stats, error) {
	var (
		cfg   = newConfig(opts)
		src   = bufio.NewReaderSize(r, 4*wire.ChunkDataSize)
		chunk = new(wire.Chunk)
		stats Stats
	)
	if err := ch.SetReadTimeout(cfg.ackTimeout); err != nil {
		return stats, err
	}
	for index := uint64(0); ; index++ {
		if err := readChunk(src, chunk, index); err != nil {
			return stats, err
		}
		retransmits, err := deliver(ch, chunk, &cfg)
		stats.Retransmits += retransmits
		if err != nil {
			cfg.log.Debug("Transfer aborted", "chunks", stats.Chunks, "err", err)
			return stats, err
		}
		stats.Chunks++
		stats.Bytes += int64(chunk.Size)
		if cfg.progress != nil {
			cfg.progress(stats.Bytes)
		}
		if chunk.Last {
			cfg.log.Debug("Transfer sent", "chunks", stats.Chunks, "size", common.StorageSize(stats.Bytes), "retransmits", stats.Retransmits)
			return stats, nil
		}
	}
}

// readChunk fills c with the next window of r.
func readChunk(r *bufio.Reader, c *wire.Chunk, index uint64) error {
	n, err := io.ReadFull(r, c.Data[:])
	switch {
	case err == io.EOF || err == io.ErrUnexpectedEOF:
		c.Last = true
	case err != nil:
		return fmt.Errorf("read error: %w", err)
	default:
		// Full window. Look ahead so that the last chunk of content whose size
		// is a multiple of the chunk size carries the last flag.
		_, err := r.Peek(1)
		if err != nil && err != io.EOF {
			return fmt.Errorf("read error: %w", err)
		}
		c.Last = err == io.EOF
	}
	c.Index = index
	c.Size = n
	for i := n; i < len(c.Data); i++ {
		c.Data[i] = 0
	}
	return nil
}

// deliver transmits c until a reply arrives or the attempts are exhausted.
func deliver(ch Channel, c *wire.Chunk, cfg *config) (retransmits int, err error) {
	for attempt := 1; ; attempt++ {
		if err := ch.Send(c); err != nil {
			return attempt - 1, err
		}
		acked, err := awaitAck(ch, c.Index, cfg)
		if err != nil {
			return attempt - 1, err
		}
		if acked {
			return attempt - 1, nil
		}
		if attempt >= cfg.maxAttempts {
			return attempt - 1, &AbortError{Index: c.Index, Attempts: attempt}
		}
		cfg.log.Debug("Retransmitting chunk", "index", c.Index, "attempt", attempt+1)
	}
}

func awaitAck(ch Channel, index uint64, cfg *config) (bool, error) {
	var ack wire.ChunkAck
	ok, err := ch.Receive(&ack)
	switch {
	case errors.Is(err, wire.ErrMalformedPacket):
		cfg.log.Debug("Ignoring malformed chunk ack", "index", index, "err", err)
		return false, nil
	case err != nil:
		return false, err
	case !ok:
		return false, nil
	}
	if cfg.verifyAcks && (ack.Index != index || ack.Status != wire.StatusOK) {
		cfg.log.Debug("Unexpected chunk ack", "want", index, "index", ack.Index, "status", ack.Status)
		return false, nil
	}
	return true, nil
}

// Receive writes incoming chunks to w and acknowledges them. It returns after
// the last chunk has been written and acknowledged.
func Receive(ch Channel, w io.Writer, opts ...Option) (Stats, error) {
	var (
		cfg   = newConfig(opts)
		chunk = new(wire.Chunk)
		stats Stats
	)
	if err := ch.SetReadTimeout(cfg.idleTimeout); err != nil {
		return stats, err
	}
	for {
		ok, err := ch.Receive(chunk)
		switch {
		case errors.Is(err, wire.ErrMalformedPacket):
			cfg.log.Debug("Ignoring malformed chunk", "err", err)
			continue
		case err != nil:
			return stats, err
		case !ok:
			return stats, ErrIdleTimeout
		}

		if _, err := w.Write(chunk.Payload()); err != nil {
			return stats, fmt.Errorf("write error: %w", err)
		}
		stats.Chunks++
		stats.Bytes += int64(chunk.Size)
		if cfg.progress != nil {
			cfg.progress(stats.Bytes)
		}
		if err := ch.Send(&wire.ChunkAck{Status: wire.StatusOK, Index: chunk.Index}); err != nil {
			return stats, err
		}
		if chunk.Last {
			cfg.log.Debug("Transfer received", "chunks", stats.Chunks, "size", common.StorageSize(stats.Bytes))
			return stats, nil
		}
	}
}
