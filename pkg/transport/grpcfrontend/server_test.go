package grpcfrontend

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/nkazachenko/grps-core-go/pkg/config"
	"github.com/nkazachenko/grps-core-go/pkg/engine"
	"github.com/nkazachenko/grps-core-go/pkg/message"
)

func echoModelConfig() config.ModelConfig {
	return config.ModelConfig{
		Name:          "echo",
		Version:       "1",
		Device:        "cpu",
		InfererType:   "builtinA",
		InfererName:   "echo",
		ConverterType: "builtinA",
		ConverterName: "generic",
		Batching:      config.BatchingConfig{Type: "none"},
	}
}

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	serverCfg := config.DefaultServerConfig()
	inferCfg := &config.InferenceConfig{Models: []config.ModelConfig{echoModelConfig()}}
	e, err := engine.Bootstrap(serverCfg, inferCfg, engine.Options{})
	if err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	t.Cleanup(e.Stop)
	return e
}

func startTestServer(t *testing.T, eng *engine.Engine) *grpc.ClientConn {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}

	gs := NewServer(eng)
	go gs.Serve(lis)
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient(lis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(gobCodec{})),
	)
	if err != nil {
		t.Fatalf("grpc.NewClient() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func tensorReq(modelName string, v int64) *InferRequest {
	return &InferRequest{
		ModelName: modelName,
		Message: message.Message{GTensors: []message.Tensor{
			{Name: "x", Shape: []int64{1}, DType: message.DTypeInt64, FlatInt64: []int64{v}},
		}},
	}
}

func TestInferUnary(t *testing.T) {
	eng := newTestEngine(t)
	conn := startTestServer(t, eng)

	resp := new(InferResponse)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Invoke(ctx, "/grps.v1.InferService/Infer", tensorReq("echo-1", 9), resp); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if resp.Error != "" {
		t.Fatalf("resp.Error = %q, want empty", resp.Error)
	}
	if len(resp.Message.GTensors) != 1 || resp.Message.GTensors[0].FlatInt64[0] != 9 {
		t.Fatalf("resp.Message = %+v, want echoed [9]", resp.Message)
	}
}

func TestInferUnaryUnknownModelReturnsErrorField(t *testing.T) {
	eng := newTestEngine(t)
	conn := startTestServer(t, eng)

	resp := new(InferResponse)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Invoke(ctx, "/grps.v1.InferService/Infer", tensorReq("does-not-exist", 1), resp); err != nil {
		t.Fatalf("Invoke() transport error = %v", err)
	}
	if resp.Error == "" {
		t.Fatal("expected resp.Error to be set for an unknown model")
	}
}

func TestInferStream(t *testing.T) {
	eng := newTestEngine(t)
	conn := startTestServer(t, eng)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	desc := &grpc.StreamDesc{StreamName: "InferStream", ServerStreams: true}
	stream, err := conn.NewStream(ctx, desc, "/grps.v1.InferService/InferStream")
	if err != nil {
		t.Fatalf("NewStream() error = %v", err)
	}

	if err := stream.SendMsg(tensorReq("echo-1", 5)); err != nil {
		t.Fatalf("SendMsg() error = %v", err)
	}
	if err := stream.CloseSend(); err != nil {
		t.Fatalf("CloseSend() error = %v", err)
	}

	resp := new(InferResponse)
	if err := stream.RecvMsg(resp); err != nil {
		t.Fatalf("RecvMsg() error = %v", err)
	}
	if len(resp.Message.GTensors) != 1 || resp.Message.GTensors[0].FlatInt64[0] != 5 {
		t.Fatalf("resp.Message = %+v, want echoed [5]", resp.Message)
	}
}
