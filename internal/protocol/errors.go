package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrConnection      = errors.New("connection error")

	ErrClosed          = errors.New("protocol: connection closed")
	ErrMissingCommand  = errors.New("protocol: no command parameter")
	ErrNotConnected    = errors.New("protocol: not connected")
	ErrTransferActive  = errors.New("protocol: binary transfer already in progress")
	ErrPayloadTooLarge = errors.New("protocol: payload too large")
	ErrSuperseded      = errors.New("protocol: reply handler superseded by a newer command")
)

// unknownReason is reported when a failed reply carries no reason.
const unknownReason = "Unknown Error"

// CommandError is a reply whose status is not StatusOK.
type CommandError struct {
	Command string
	Status  int
	Reason  string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s", e.Command, e.Reason)
}

// ConnectionError reports a transport failure. errors.Is(err,
// ErrConnection) holds for every ConnectionError.
type ConnectionError struct {
	Op   string
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	msg := "connection error"
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Addr != "" {
		msg += " " + e.Addr
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConnectionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConnection}
	}
	return []error{ErrConnection, e.Err}
}

// IsConnectionError reports whether err came from a transport failure.
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrConnection)
}
