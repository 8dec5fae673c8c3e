package inferer

import "github.com/nkazachenko/grps-core-go/pkg/message"

// Echo is the built-in pass-through inferer used by the spec's
// conformance scenarios: it copies every input tensor to the output
// unchanged. It backs the `echo/1` model used in the generic-tensor
// round-trip property and the end-to-end HTTP scenarios.
type Echo struct {
	Base
}

// NewEcho constructs an Echo inferer prototype.
func NewEcho() *Echo {
	e := &Echo{}
	e.Name = "echo"
	return e
}

func (e *Echo) Clone() Inferer {
	return &Echo{Base: Base{Name: e.Name, Path: e.Path, Device: e.Device, Args: e.Args}}
}

// Infer returns a deep copy of in so callers never observe aliasing
// between a request's input and output tensors.
func (e *Echo) Infer(in []message.Tensor) ([]message.Tensor, error) {
	out := make([]message.Tensor, len(in))
	for i := range in {
		out[i] = *in[i].Clone()
	}
	return out, nil
}

// BatchInfer is identical to Infer: echoing a batched tensor back is the
// same operation regardless of how many requests were merged into it.
func (e *Echo) BatchInfer(in []message.Tensor) ([]message.Tensor, error) {
	return e.Infer(in)
}

// InferMessage bridges a tensor-carrying message straight through, the
// no-converter-mode entry point a model with converter_type "none" uses.
func (e *Echo) InferMessage(in *message.Message) (*message.Message, error) {
	if in.Kind() != message.KindTensors {
		return nil, &InfererError{Msg: "echo inferer: no-converter mode requires a tensor-carrying message"}
	}
	out, err := e.Infer(in.GTensors)
	if err != nil {
		return nil, err
	}
	return &message.Message{GTensors: out}, nil
}

func (e *Echo) BatchInferMessage(in []*message.Message) ([]*message.Message, error) {
	out := make([]*message.Message, len(in))
	for i, m := range in {
		r, err := e.InferMessage(m)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

func init() {
	Register("echo", NewEcho())
}
