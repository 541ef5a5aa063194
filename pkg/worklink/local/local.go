// Package local implements the in-process worker-link transport: a pair of
// buffered Go channels connecting the coordinator goroutine to a worker
// goroutine in the same process. This is the "local" comms mode, and the
// transport exercised by this module's tests.
package local

import (
	"context"
	"sync"

	"github.com/cuemby/ensemble/pkg/worklink"
)

// Pair holds both ends of one in-process link.
type Pair struct {
	Manager *Link
	Worker  *Link
}

// NewPair creates a connected pair of links for worker id w.
func NewPair(w int, buffer int) *Pair {
	toWorker := make(chan worklink.Message, buffer)
	toManager := make(chan worklink.Message, buffer)
	closed := make(chan struct{})
	var once sync.Once

	closeFn := func() { once.Do(func() { close(closed) }) }

	return &Pair{
		Manager: &Link{workerID: w, send: toWorker, recv: toManager, closed: closed, closeFn: closeFn},
		Worker:  &Link{workerID: w, send: toManager, recv: toWorker, closed: closed, closeFn: closeFn},
	}
}

// Link is one endpoint of an in-process worker link.
type Link struct {
	workerID int
	send     chan worklink.Message
	recv     chan worklink.Message
	closed   chan struct{}
	closeFn  func()
}

var _ worklink.Link = (*Link)(nil)

// WorkerID implements worklink.Link.
func (l *Link) WorkerID() int { return l.workerID }

// Send implements worklink.Link.
func (l *Link) Send(ctx context.Context, msg worklink.Message) error {
	select {
	case <-l.closed:
		return worklink.ErrClosed
	default:
	}
	select {
	case l.send <- msg:
		return nil
	case <-l.closed:
		return worklink.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MailFlag implements worklink.Link.
func (l *Link) MailFlag() bool {
	return len(l.recv) > 0
}

// Recv implements worklink.Link.
func (l *Link) Recv(ctx context.Context) (worklink.Message, error) {
	select {
	case msg, ok := <-l.recv:
		if !ok {
			return worklink.Message{}, worklink.ErrClosed
		}
		return msg, nil
	case <-l.closed:
		return worklink.Message{}, worklink.ErrClosed
	case <-ctx.Done():
		return worklink.Message{}, ctx.Err()
	}
}

// Close implements worklink.Link. Either endpoint may close the pair.
func (l *Link) Close() error {
	l.closeFn()
	return nil
}
