// Package worklink defines the transport-agnostic contract between the
// coordinator and one worker: a FIFO, ordered, duplex channel of tagged
// messages. Concrete transports live in subpackages (local, grpcx).
package worklink

import (
	"context"
	"errors"

	"github.com/cuemby/ensemble/pkg/tags"
)

// ErrClosed is returned by Send/Recv once the link has been closed.
var ErrClosed = errors.New("worklink: link closed")

// Message is one unit exchanged over a Link.
type Message struct {
	Tag     tags.Tag
	Payload interface{}
}

// Link is a bidirectional, ordered, reliable channel to one worker. A
// concrete transport guarantees that messages sent from one endpoint arrive
// at the other in send order; it makes no ordering promise across distinct
// Links.
type Link interface {
	// WorkerID returns the id of the worker on the other end of this link.
	WorkerID() int

	// Send enqueues msg for delivery. It does not block indefinitely.
	Send(ctx context.Context, msg Message) error

	// MailFlag reports, without blocking, whether at least one message is
	// available to Recv.
	MailFlag() bool

	// Recv returns the next message, blocking until one is available or ctx
	// is cancelled.
	Recv(ctx context.Context) (Message, error)

	// Close releases the link's resources. Send/Recv return ErrClosed
	// afterward.
	Close() error
}
