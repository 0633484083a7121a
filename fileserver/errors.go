package fileserver

import (
	"errors"
)

var (
	ErrFileNotFound     = errors.New("file not found")
	ErrFileCreateFailed = errors.New("could not create file")
	ErrInvalidArguments = errors.New("invalid arguments")
	ErrInvalidName      = errors.New("invalid file name")

	// ErrRejected matches any *StatusError.
	ErrRejected = errors.New("rejected by peer")

	errServerClosed = errors.New("server closed")
)

// StatusError is returned when the peer answered with an Error status.
type StatusError struct {
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return ErrRejected.Error()
	}
	return "server error: " + e.Message
}

func (e *StatusError) Is(target error) bool {
	return target == ErrRejected
}

// statusMessage returns the message sent to the peer for a local failure.
func statusMessage(err error) string {
	switch {
	case errors.Is(err, ErrInvalidName):
		return "Invalid file name"
	case errors.Is(err, ErrFileNotFound):
		return "File not found"
	case errors.Is(err, ErrFileCreateFailed):
		return "Could not create file"
	default:
		return err.Error()
	}
}
