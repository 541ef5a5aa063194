package grpcx

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/cuemby/ensemble/pkg/worklink"
)

const (
	serviceName  = "ensemble.worklink.v1.WorkLink"
	channelRoute = "/" + serviceName + "/Channel"
)

// WorkLinkServer is the service interface the hand-written ServiceDesc
// binds to. grpc.Server.RegisterService type-asserts its handler against
// this interface, so it stands in for what a protoc-generated
// WorkLinkServer interface would declare.
type WorkLinkServer interface {
	Channel(stream grpc.ServerStream) error
}

// ServiceDesc describes the WorkLink service to grpc.Server.RegisterService.
// It is written by hand against the raw streaming contract because no
// protoc-generated stub package exists in this module (see DESIGN.md).
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*WorkLinkServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Channel",
			Handler:       channelHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "ensemble/worklink.proto",
}

func channelHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(WorkLinkServer).Channel(stream)
}

// Server accepts one bidi stream per worker and hands each off as a
// worklink.Link once the worker's registration frame has arrived.
type Server struct {
	mu      sync.Mutex
	workers map[int]*Link
	accept  chan *Link
}

var _ WorkLinkServer = (*Server)(nil)

// NewServer creates an unregistered Server. Call Register to attach it to a
// *grpc.Server and Accept to retrieve each worker's Link as it connects.
func NewServer() *Server {
	return &Server{
		workers: make(map[int]*Link),
		accept:  make(chan *Link, 16),
	}
}

// Register attaches the WorkLink service to gs.
func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&ServiceDesc, s)
}

// Channel implements WorkLinkServer. The first frame on the stream must
// carry the connecting worker's id as an int payload; every frame after
// that is handed to the worker's Link.
func (s *Server) Channel(stream grpc.ServerStream) error {
	first := new(wrapperspb.BytesValue)
	if err := stream.RecvMsg(first); err != nil {
		return fmt.Errorf("grpcx: registration recv: %w", err)
	}
	msg, err := decode(first)
	if err != nil {
		return err
	}
	id, ok := msg.Payload.(int)
	if !ok {
		return fmt.Errorf("grpcx: first frame must register a worker id, got %T", msg.Payload)
	}

	link := newLink(id, stream)
	s.mu.Lock()
	s.workers[id] = link
	s.mu.Unlock()

	select {
	case s.accept <- link:
	default:
	}

	<-link.closed
	return nil
}

// Accept blocks until a worker has registered, or ctx is cancelled.
func (s *Server) Accept(ctx context.Context) (worklink.Link, error) {
	select {
	case link := <-s.accept:
		return link, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Link returns the registered Link for worker id, if any.
func (s *Server) Link(id int) (worklink.Link, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.workers[id]
	return l, ok
}
