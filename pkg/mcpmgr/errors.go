package mcpmgr

import (
	"errors"
	"fmt"
)

var (
	// ErrSpawn reports that a provider process could not be started.
	ErrSpawn = errors.New("mcpmgr: spawn failed")
	// ErrHandshake reports a failed initialize exchange.
	ErrHandshake = errors.New("mcpmgr: handshake failed")
	// ErrProcessExited reports that the provider exited before the connection
	// was established.
	ErrProcessExited = errors.New("mcpmgr: provider process exited")
	// ErrRequestTimeout reports that a request did not complete within its bound.
	ErrRequestTimeout = errors.New("mcpmgr: request timed out")
	// ErrNotConnected is returned for operations on a server ID with no live
	// connection.
	ErrNotConnected = errors.New("mcpmgr: server not connected")
	// ErrInvalidArguments is returned when a tool call is rejected before it is
	// sent.
	ErrInvalidArguments = errors.New("mcpmgr: invalid tool arguments")
	// ErrDisconnected reports that DisconnectAll ran while a connect or
	// Initialize was still in flight.
	ErrDisconnected = errors.New("mcpmgr: disconnected while connecting")
)

// RemoteError wraps an error reported by a provider in reply to a request.
type RemoteError struct {
	ServerID string
	Method   string
	Tool     string
	Err      error
}

func (e *RemoteError) Error() string {
	if e.Tool != "" {
		return fmt.Sprintf("mcpmgr: %s %s %q: %v", e.ServerID, e.Method, e.Tool, e.Err)
	}
	return fmt.Sprintf("mcpmgr: %s %s: %v", e.ServerID, e.Method, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }
