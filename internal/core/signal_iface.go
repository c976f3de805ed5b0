package core

import "github.com/dkeye/Beam/internal/domain"

// SignalChannel is the participant side of a relay connection.
// Incoming is closed when the connection ends.
type SignalChannel interface {
	Send(domain.Message) error
	Incoming() <-chan domain.Message
	Close() error
}
