package grpcfrontend

import (
	"context"

	"google.golang.org/grpc"

	"github.com/nkazachenko/grps-core-go/pkg/engine"
	"github.com/nkazachenko/grps-core-go/pkg/message"
	"github.com/nkazachenko/grps-core-go/pkg/rcontext"
)

// inferServer adapts an *engine.Engine to InferServiceServer, the gRPC
// mirror of httpfrontend.Server.
type inferServer struct {
	eng *engine.Engine
}

// NewServer builds a *grpc.Server with the InferService registered and
// the gob codec forced, so no client of this service needs protobuf
// generated code either.
func NewServer(eng *engine.Engine, opts ...grpc.ServerOption) *grpc.Server {
	allOpts := append([]grpc.ServerOption{grpc.ForceServerCodec(gobCodec{})}, opts...)
	gs := grpc.NewServer(allOpts...)
	RegisterInferServiceServer(gs, &inferServer{eng: eng})
	return gs
}

func (s *inferServer) Infer(ctx context.Context, req *InferRequest) (*InferResponse, error) {
	in := req.Message
	out := &message.Message{}
	rc := rcontext.New(&in)
	if err := s.eng.Infer(&in, out, rc, req.ModelName); err != nil {
		return &InferResponse{Error: err.Error()}, nil
	}
	return &InferResponse{Message: *out}, nil
}

// InferStream runs the request once and forwards the single result down
// the stream; the engine has no multi-chunk inferer today, so streaming
// here means "use the streaming transport", not "emit many chunks" -
// rcontext's StreamSink is still exercised via grpcStreamSink for models
// that do call StreamingRespond during Process.
func (s *inferServer) InferStream(req *InferRequest, stream InferService_InferStreamServer) error {
	in := req.Message
	out := &message.Message{}
	rc := rcontext.NewStreaming(&in, grpcStreamSink{stream: stream})
	if err := s.eng.Infer(&in, out, rc, req.ModelName); err != nil {
		return stream.Send(&InferResponse{Error: err.Error()})
	}
	if out.Kind() != message.KindEmpty {
		return stream.Send(&InferResponse{Message: *out})
	}
	return nil
}

// grpcStreamSink adapts an InferService_InferStreamServer into
// rcontext.StreamSink.
type grpcStreamSink struct {
	stream InferService_InferStreamServer
}

func (g grpcStreamSink) WriteMessage(m *message.Message) error {
	return g.stream.Send(&InferResponse{Message: *m})
}

func (g grpcStreamSink) WriteBytes(b []byte) error {
	return g.stream.Send(&InferResponse{Message: message.Message{BinData: b}})
}

func (g grpcStreamSink) Close() error { return nil }

func (g grpcStreamSink) IsCancelled() bool {
	return g.stream.Context().Err() != nil
}
