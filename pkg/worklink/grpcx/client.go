package grpcx

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cuemby/ensemble/pkg/worklink"
)

var channelStreamDesc = &grpc.StreamDesc{
	StreamName:    "Channel",
	ServerStreams: true,
	ClientStreams: true,
}

// Dial connects to a worklink gRPC server at target, registers workerID on
// the new stream, and returns the resulting Link. The link's Close only
// stops the link itself; it closes neither the stream nor the returned
// *grpc.ClientConn, whose lifetime belongs to the caller.
func Dial(ctx context.Context, target string, workerID int, opts ...grpc.DialOption) (worklink.Link, *grpc.ClientConn, error) {
	dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)

	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("grpcx: dial %s: %w", target, err)
	}

	stream, err := conn.NewStream(ctx, channelStreamDesc, channelRoute)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("grpcx: open stream to %s: %w", target, err)
	}

	link := newLink(workerID, stream)

	reg, err := encode(worklink.Message{Payload: workerID})
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	if err := stream.SendMsg(reg); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("grpcx: register worker %d: %w", workerID, err)
	}

	return link, conn, nil
}
