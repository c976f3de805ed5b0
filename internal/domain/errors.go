package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDiscoveryExhausted = errors.New("discovery exhausted")
	ErrRelayConnect       = errors.New("relay connect failed")
	ErrRegistrationFailed = errors.New("room registration failed")
	ErrLookupFailed       = errors.New("room lookup failed")
	ErrRoomNotFound       = errors.New("room not found")
	ErrNegotiationFailed  = errors.New("negotiation failed")
	ErrConnectivityLost   = errors.New("connectivity lost")
	ErrHostUnreachable    = errors.New("connection to host failed, they may be offline or behind a firewall")
	ErrNotInRoom          = errors.New("sender is not a member of the room")
	ErrBackpressure       = errors.New("backpressure")
	ErrClosed             = errors.New("closed")
)

// SessionError attaches the operation and the remote peer to a failure.
type SessionError struct {
	Op   string
	Peer MemberID
	Err  error
}

func NewSessionError(op string, peer MemberID, err error) *SessionError {
	return &SessionError{Op: op, Peer: peer, Err: err}
}

func (e *SessionError) Error() string {
	if e.Peer != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Peer, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}
