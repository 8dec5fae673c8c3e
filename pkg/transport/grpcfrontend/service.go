package grpcfrontend

import (
	"context"

	"google.golang.org/grpc"

	"github.com/nkazachenko/grps-core-go/pkg/message"
)

// InferRequest is the unary/streaming request payload: the model_name
// routing key (empty runs the configured pipeline) plus the generic
// message.
type InferRequest struct {
	ModelName string
	Message   message.Message
}

// InferResponse is the response payload. Error carries the engine's
// error text rather than a gRPC status so both transports report
// failures identically; callers that want a gRPC status can check Error
// themselves.
type InferResponse struct {
	Message message.Message
	Error   string
}

// InferServiceServer is the service this package registers.
type InferServiceServer interface {
	Infer(ctx context.Context, req *InferRequest) (*InferResponse, error)
	InferStream(req *InferRequest, stream InferService_InferStreamServer) error
}

// InferService_InferStreamServer is the server-side handle for the
// streaming method, named the way protoc would have generated it.
type InferService_InferStreamServer interface {
	Send(*InferResponse) error
	grpc.ServerStream
}

type inferServiceInferStreamServer struct {
	grpc.ServerStream
}

func (x *inferServiceInferStreamServer) Send(m *InferResponse) error {
	return x.ServerStream.SendMsg(m)
}

func _InferService_Infer_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(InferRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(InferServiceServer).Infer(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/grps.v1.InferService/Infer"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(InferServiceServer).Infer(ctx, req.(*InferRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _InferService_InferStream_Handler(srv any, stream grpc.ServerStream) error {
	m := new(InferRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(InferServiceServer).InferStream(m, &inferServiceInferStreamServer{ServerStream: stream})
}

// ServiceDesc is the hand-written replacement for protoc-gen-go-grpc's
// generated _ServiceDesc: same shape (ServiceName, Methods, Streams), but
// authored directly against grpc.ServiceDesc's fields.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "grps.v1.InferService",
	HandlerType: (*InferServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Infer", Handler: _InferService_Infer_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "InferStream", Handler: _InferService_InferStream_Handler, ServerStreams: true},
	},
	Metadata: "grpcfrontend/service.go",
}

// RegisterInferServiceServer wires srv into s using ServiceDesc, the
// hand-rolled equivalent of a generated RegisterXxxServer function.
func RegisterInferServiceServer(s *grpc.Server, srv InferServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}
