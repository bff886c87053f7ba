// Package chain defines the boundary to the blockchain the ingester reads from.
//
// The scheduler never interprets what a reader returns. It only needs to open a
// connection, ask for the current head and fetch one block at a time.
package chain

import (
	"context"
	"errors"

	"github.com/vietddude/blockingest/internal/core/domain"
)

var (
	// ErrConnection is returned when a connection to the endpoint cannot be opened.
	ErrConnection = errors.New("chain connection failed")

	// ErrNotFound is returned when the requested block does not exist (yet).
	ErrNotFound = errors.New("block not found")

	// ErrTransient wraps failures worth retrying: drops, timeouts, rate limits.
	ErrTransient = errors.New("transient chain error")

	// ErrFatal wraps failures that will not go away on retry.
	ErrFatal = errors.New("fatal chain error")
)

// Reader opens connections to a chain endpoint.
type Reader interface {
	Connect(ctx context.Context) (Conn, error)
}

// Conn is a live connection. It is owned by exactly one worker at a time.
type Conn interface {
	// HeadBlock returns the current chain head.
	HeadBlock(ctx context.Context) (uint64, error)

	// Fetch reads the payload of a block for the given subnets.
	Fetch(ctx context.Context, block uint64, lite bool, netuids []uint16) (*domain.Payload, error)

	// Close releases the connection.
	Close() error
}

// ReaderFunc adapts a function to the Reader interface.
type ReaderFunc func(ctx context.Context) (Conn, error)

// Connect implements Reader.
func (f ReaderFunc) Connect(ctx context.Context) (Conn, error) {
	return f(ctx)
}
