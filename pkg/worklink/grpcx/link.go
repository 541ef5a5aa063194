package grpcx

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/cuemby/ensemble/pkg/worklink"
)

// rawStream is the subset of grpc.ServerStream / grpc.ClientStream that
// Link needs. Both satisfy it without any generated stub type.
type rawStream interface {
	SendMsg(m interface{}) error
	RecvMsg(m interface{}) error
}

// Link implements worklink.Link over one gRPC bidi stream.
type Link struct {
	workerID int
	stream   rawStream

	recvCh chan worklink.Message
	errCh  chan error
	closed chan struct{}
	once   sync.Once
	sendMu sync.Mutex
}

var _ worklink.Link = (*Link)(nil)

func newLink(workerID int, stream rawStream) *Link {
	l := &Link{
		workerID: workerID,
		stream:   stream,
		recvCh:   make(chan worklink.Message, 8),
		errCh:    make(chan error, 1),
		closed:   make(chan struct{}),
	}
	go l.recvLoop()
	return l
}

func (l *Link) recvLoop() {
	for {
		b := new(wrapperspb.BytesValue)
		if err := l.stream.RecvMsg(b); err != nil {
			select {
			case l.errCh <- err:
			default:
			}
			return
		}
		msg, err := decode(b)
		if err != nil {
			select {
			case l.errCh <- err:
			default:
			}
			return
		}
		select {
		case l.recvCh <- msg:
		case <-l.closed:
			return
		}
	}
}

// WorkerID implements worklink.Link.
func (l *Link) WorkerID() int { return l.workerID }

// Send implements worklink.Link.
func (l *Link) Send(ctx context.Context, msg worklink.Message) error {
	select {
	case <-l.closed:
		return worklink.ErrClosed
	default:
	}

	b, err := encode(msg)
	if err != nil {
		return err
	}

	l.sendMu.Lock()
	defer l.sendMu.Unlock()
	if err := l.stream.SendMsg(b); err != nil {
		return fmt.Errorf("grpcx: send to worker %d: %w", l.workerID, err)
	}
	return nil
}

// MailFlag implements worklink.Link.
func (l *Link) MailFlag() bool {
	return len(l.recvCh) > 0
}

// Recv implements worklink.Link.
func (l *Link) Recv(ctx context.Context) (worklink.Message, error) {
	select {
	case msg, ok := <-l.recvCh:
		if !ok {
			return worklink.Message{}, worklink.ErrClosed
		}
		return msg, nil
	case err := <-l.errCh:
		return worklink.Message{}, fmt.Errorf("grpcx: stream error for worker %d: %w", l.workerID, err)
	case <-l.closed:
		return worklink.Message{}, worklink.ErrClosed
	case <-ctx.Done():
		return worklink.Message{}, ctx.Err()
	}
}

// Close implements worklink.Link.
func (l *Link) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}
