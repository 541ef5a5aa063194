// Package grpcx implements the out-of-process worklink transport: a
// bidirectional gRPC stream carrying gob-encoded worklink.Message envelopes
// inside wrapperspb.BytesValue. No protoc-generated stub package was
// available for this service, so the ServiceDesc below is hand-written
// against the raw grpc.ServerStream/grpc.ClientStream contract rather than
// fabricated generated code (see DESIGN.md).
package grpcx

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/cuemby/ensemble/pkg/alloc"
	"github.com/cuemby/ensemble/pkg/coordinator"
	"github.com/cuemby/ensemble/pkg/tags"
	"github.com/cuemby/ensemble/pkg/worklink"
)

func init() {
	gob.Register(&alloc.WorkOrder{})
	gob.Register(coordinator.Result{})
	gob.Register(tags.Tag(0))
	gob.Register(map[string]interface{}{})
	gob.Register([]float64{})
	gob.Register([][]float64{})
	gob.Register([]int{})
	gob.Register(0)
}

// envelope is the gob-encoded value carried by each BytesValue frame. It
// mirrors worklink.Message field-for-field; Message itself is not gob'd
// directly so decode can stay agnostic of the worklink package's exported
// surface changing shape.
type envelope struct {
	Tag     tags.Tag
	Payload interface{}
}

func encode(msg worklink.Message) (*wrapperspb.BytesValue, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(envelope{Tag: msg.Tag, Payload: msg.Payload}); err != nil {
		return nil, fmt.Errorf("grpcx: encode message: %w", err)
	}
	return &wrapperspb.BytesValue{Value: buf.Bytes()}, nil
}

func decode(b *wrapperspb.BytesValue) (worklink.Message, error) {
	var env envelope
	if err := gob.NewDecoder(bytes.NewReader(b.GetValue())).Decode(&env); err != nil {
		return worklink.Message{}, fmt.Errorf("grpcx: decode message: %w", err)
	}
	return worklink.Message{Tag: env.Tag, Payload: env.Payload}, nil
}
