// Package grpcfrontend implements the second RPC front end named by §6's
// interface.framework: "http+rpcA" selector: a small InferService
// (unary Infer, server-streaming InferStream) built directly on
// google.golang.org/grpc, the way the teacher talks to Qdrant with raw
// grpc.ClientConn rather than a generated service client.
//
// No protoc run backs this package. Instead of hand-writing structs that
// satisfy proto.Message (itself a non-trivial undertaking without the
// generator), the wire messages travel through a custom grpc codec that
// gob-encodes the same GenericMessage-shaped Go structs the HTTP front
// end uses, registered against a hand-written grpc.ServiceDesc.
package grpcfrontend

import (
	"bytes"
	"encoding/gob"

	"google.golang.org/grpc/encoding"
)

const codecName = "grps-gob"

// gobCodec implements encoding.Codec over gob, the stand-in for protobuf
// wire encoding in this hand-rolled service.
type gobCodec struct{}

func (gobCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (gobCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(gobCodec{})
}
