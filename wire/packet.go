// Package wire implements the fixed-size binary packets exchanged by the
// file transfer client and server.
//
// Every packet encodes to exactly EncodedSize() bytes. There is no length
// prefix and no type tag: both peers must know which packet comes next.
// All integers are little-endian.
package wire

import (
	"encoding"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Field limits.
const (
	MaxNameSize    = 40
	MaxMessageSize = 150
	ChunkDataSize  = 1024
)

// Encoded packet sizes.
const (
	CommandSize        = 1
	FileDescriptorSize = 8 + MaxNameSize
	StatusResponseSize = 1 + MaxMessageSize
	ChunkSize          = 8 + 1 + 8 + ChunkDataSize
	ChunkAckSize       = 1 + 8
)

var (
	ErrMalformedPacket = errors.New("malformed packet")
	ErrNameTooLong     = fmt.Errorf("name exceeds %d bytes", MaxNameSize)
	ErrMessageTooLong  = fmt.Errorf("message exceeds %d bytes", MaxMessageSize)
	ErrInvalidString   = errors.New("string contains NUL byte or invalid UTF-8")
)

// Packet is implemented by all pointer types in this package.
type Packet interface {
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
	EncodedSize() int
}

// Command is the operation requested by the client.
type Command uint8

const (
	CommandExit Command = iota
	CommandGet
	CommandPut
)

func (c Command) String() string {
	switch c {
	case CommandExit:
		return "exit"
	case CommandGet:
		return "get"
	case CommandPut:
		return "put"
	default:
		return fmt.Sprintf("Command(%d)", uint8(c))
	}
}

func (c Command) EncodedSize() int { return CommandSize }

func (c Command) MarshalBinary() ([]byte, error) {
	if c > CommandPut {
		return nil, fmt.Errorf("invalid command %d", uint8(c))
	}
	return []byte{byte(c)}, nil
}

func (c *Command) UnmarshalBinary(b []byte) error {
	if err := checkSize(b, CommandSize); err != nil {
		return err
	}
	if Command(b[0]) > CommandPut {
		return malformed("unknown command %d", b[0])
	}
	*c = Command(b[0])
	return nil
}

// Status is the outcome carried by StatusResponse and ChunkAck.
type Status uint8

const (
	StatusOK Status = iota
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

func decodeStatus(b byte) (Status, error) {
	if Status(b) > StatusError {
		return 0, malformed("unknown status %d", b)
	}
	return Status(b), nil
}

// FileDescriptor identifies the file of a put or get operation.
type FileDescriptor struct {
	Size uint64
	Name string
}

func (fd *FileDescriptor) EncodedSize() int { return FileDescriptorSize }

// Validate reports whether fd can be encoded.
func (fd *FileDescriptor) Validate() error {
	if len(fd.Name) > MaxNameSize {
		return ErrNameTooLong
	}
	return checkString(fd.Name)
}

func (fd *FileDescriptor) MarshalBinary() ([]byte, error) {
	if err := fd.Validate(); err != nil {
		return nil, err
	}
	b := make([]byte, FileDescriptorSize)
	binary.LittleEndian.PutUint64(b[0:8], fd.Size)
	copy(b[8:], fd.Name)
	return b, nil
}

func (fd *FileDescriptor) UnmarshalBinary(b []byte) error {
	if err := checkSize(b, FileDescriptorSize); err != nil {
		return err
	}
	name, err := decodeString(b[8:])
	if err != nil {
		return err
	}
	fd.Size = binary.LittleEndian.Uint64(b[0:8])
	fd.Name = name
	return nil
}

// StatusResponse acknowledges or rejects the preceding control message.
type StatusResponse struct {
	Status  Status
	Message string
}

// OK returns a success response.
func OK() *StatusResponse {
	return &StatusResponse{Status: StatusOK}
}

// Error returns an error response carrying msg. NUL bytes are removed, invalid UTF-8
// is replaced, and messages longer than MaxMessageSize are truncated.
func Error(msg string) *StatusResponse {
	msg = strings.ReplaceAll(msg, "\x00", "")
	msg = strings.ToValidUTF8(msg, "\uFFFD")
	return &StatusResponse{Status: StatusError, Message: Truncate(msg, MaxMessageSize)}
}

func (r *StatusResponse) EncodedSize() int { return StatusResponseSize }

func (r *StatusResponse) MarshalBinary() ([]byte, error) {
	if r.Status > StatusError {
		return nil, fmt.Errorf("invalid status %d", uint8(r.Status))
	}
	if len(r.Message) > MaxMessageSize {
		return nil, ErrMessageTooLong
	}
	if err := checkString(r.Message); err != nil {
		return nil, err
	}
	b := make([]byte, StatusResponseSize)
	b[0] = byte(r.Status)
	copy(b[1:], r.Message)
	return b, nil
}

func (r *StatusResponse) UnmarshalBinary(b []byte) error {
	if err := checkSize(b, StatusResponseSize); err != nil {
		return err
	}
	status, err := decodeStatus(b[0])
	if err != nil {
		return err
	}
	msg, err := decodeString(b[1:])
	if err != nil {
		return err
	}
	r.Status, r.Message = status, msg
	return nil
}

// Chunk is one slice of file content. Only the first Size bytes of Data
// are payload.
type Chunk struct {
	Index uint64
	Last  bool
	Size  int
	Data  [ChunkDataSize]byte
}

// Payload returns the valid part of c.Data.
func (c *Chunk) Payload() []byte {
	return c.Data[:c.Size]
}

func (c *Chunk) EncodedSize() int { return ChunkSize }

func (c *Chunk) MarshalBinary() ([]byte, error) {
	if c.Size < 0 || c.Size > ChunkDataSize {
		return nil, fmt.Errorf("invalid chunk data size %d", c.Size)
	}
	b := make([]byte, ChunkSize)
	binary.LittleEndian.PutUint64(b[0:8], c.Index)
	if c.Last {
		b[8] = 1
	}
	binary.LittleEndian.PutUint64(b[9:17], uint64(c.Size))
	copy(b[17:], c.Data[:])
	return b, nil
}

func (c *Chunk) UnmarshalBinary(b []byte) error {
	if err := checkSize(b, ChunkSize); err != nil {
		return err
	}
	if b[8] > 1 {
		return malformed("invalid last flag %d", b[8])
	}
	size := binary.LittleEndian.Uint64(b[9:17])
	if size > ChunkDataSize {
		return malformed("chunk data size %d out of range", size)
	}
	c.Index = binary.LittleEndian.Uint64(b[0:8])
	c.Last = b[8] == 1
	c.Size = int(size)
	copy(c.Data[:], b[17:])
	return nil
}

// ChunkAck acknowledges the chunk with the same index.
type ChunkAck struct {
	Status Status
	Index  uint64
}

func (a *ChunkAck) EncodedSize() int { return ChunkAckSize }

func (a *ChunkAck) MarshalBinary() ([]byte, error) {
	if a.Status > StatusError {
		return nil, fmt.Errorf("invalid status %d", uint8(a.Status))
	}
	b := make([]byte, ChunkAckSize)
	b[0] = byte(a.Status)
	binary.LittleEndian.PutUint64(b[1:], a.Index)
	return b, nil
}

func (a *ChunkAck) UnmarshalBinary(b []byte) error {
	if err := checkSize(b, ChunkAckSize); err != nil {
		return err
	}
	status, err := decodeStatus(b[0])
	if err != nil {
		return err
	}
	a.Status = status
	a.Index = binary.LittleEndian.Uint64(b[1:])
	return nil
}

// Truncate shortens s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func checkSize(b []byte, size int) error {
	if len(b) != size {
		return malformed("got %d bytes, want %d", len(b), size)
	}
	return nil
}

func checkString(s string) error {
	if strings.IndexByte(s, 0) >= 0 || !utf8.ValidString(s) {
		return ErrInvalidString
	}
	return nil
}

// decodeString reads a zero-padded fixed-width string field.
func decodeString(b []byte) (string, error) {
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	s := string(b[:end])
	if err := checkString(s); err != nil {
		return "", malformed("bad string field: %v", err)
	}
	return s, nil
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedPacket, fmt.Sprintf(format, args...))
}
