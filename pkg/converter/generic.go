package converter

import (
	"fmt"

	"github.com/nkazachenko/grps-core-go/pkg/message"
)

// Generic is the built-in converter for the wire-format path described in
// §6: it moves a message's tensor list in and out of Tensor form without
// touching any framework-native tensor type, which is exactly what the
// canonical `ndarray`/`gtensors` HTTP surface and the no-op `echo` model
// need. It requires that every tensor in a message is consistently named
// (all named or all positional).
type Generic struct {
	Base
}

// NewGeneric constructs a Generic converter ready for the registry.
func NewGeneric() *Generic {
	g := &Generic{}
	g.Name = "generic"
	return g
}

func (g *Generic) Clone() Converter {
	return &Generic{Base: Base{Name: g.Name, Path: g.Path, Args: g.Args}}
}

// PreProcess extracts the tensor list carried by msg. A message that is
// not in tensor form is a shape error: the generic converter only speaks
// tensors.
func (g *Generic) PreProcess(msg *message.Message, ctx ContextHandle) ([]message.Tensor, error) {
	if msg.Kind() != message.KindTensors {
		return nil, &ConverterError{Msg: "generic converter: message does not carry a tensor list"}
	}
	if _, err := message.NamedConsistency(msg.GTensors); err != nil {
		return nil, &ConverterError{Msg: err.Error()}
	}
	return msg.GTensors, nil
}

// PostProcess wraps tensors back into a message.
func (g *Generic) PostProcess(tensors []message.Tensor, ctx ContextHandle) (*message.Message, error) {
	return &message.Message{GTensors: tensors}, nil
}

// BatchPreProcess extracts each message's tensor list, verifies every
// request carries the same number of tensors, then concatenates
// corresponding tensors across requests on axis 0. Per-request leading
// dimensions are stashed on each context's user-scratch slot so
// BatchPostProcess can split the result back apart in the same order.
func (g *Generic) BatchPreProcess(msgs []*message.Message, ctxs []ContextHandle) ([]message.Tensor, error) {
	if len(msgs) != len(ctxs) {
		return nil, &ConverterError{Msg: "generic converter: message count does not match context count"}
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	perRequest := make([][]message.Tensor, len(msgs))
	width := -1
	for i, m := range msgs {
		tensors, err := g.PreProcess(m, ctxs[i])
		if err != nil {
			ctxs[i].SetError(err.Error())
			continue
		}
		if width == -1 {
			width = len(tensors)
		} else if len(tensors) != width {
			err := &ConverterError{Msg: "generic converter: requests in one batch carry differing tensor counts"}
			ctxs[i].SetError(err.Error())
			continue
		}
		perRequest[i] = tensors
	}

	if AllErr(ctxs) {
		return nil, nil
	}
	if width <= 0 {
		return nil, &ConverterError{Msg: "generic converter: no request in the batch produced a tensor list"}
	}

	batched := make([]message.Tensor, width)
	for col := 0; col < width; col++ {
		group := make([]message.Tensor, 0, len(perRequest))
		sizeIdx := make([]int, 0, len(perRequest))
		for i, tensors := range perRequest {
			if tensors == nil {
				continue // this request already errored above
			}
			group = append(group, tensors[col])
			sizeIdx = append(sizeIdx, i)
		}
		concat, sizes, err := message.ConcatTensors(group)
		if err != nil {
			return nil, &ConverterError{Msg: fmt.Sprintf("generic converter: batch column %d: %v", col, err)}
		}
		batched[col] = concat

		if col == 0 {
			for j, i := range sizeIdx {
				ctxs[i].SetUserData(sizes[j], nil)
			}
		}
	}

	return batched, nil
}

// BatchPostProcess splits the batched inferer output back into one message
// per request using the leading-dimension sizes BatchPreProcess recorded.
func (g *Generic) BatchPostProcess(tensors []message.Tensor, ctxs []ContextHandle) ([]*message.Message, error) {
	if len(tensors) == 0 {
		return make([]*message.Message, len(ctxs)), nil
	}

	out := make([]*message.Message, len(ctxs))
	splitByColumn := make([][]message.Tensor, len(tensors))

	for col, t := range tensors {
		sizes := make([]int64, 0, len(ctxs))
		order := make([]int, 0, len(ctxs))
		for i, c := range ctxs {
			if c.HasError() {
				continue
			}
			v, err := c.GetUserData()
			if err != nil {
				return nil, &ConverterError{Msg: "generic converter: missing batch size recorded by BatchPreProcess"}
			}
			sizes = append(sizes, v.(int64))
			order = append(order, i)
		}
		split, err := message.SplitTensor(t, sizes)
		if err != nil {
			return nil, &ConverterError{Msg: fmt.Sprintf("generic converter: batch column %d split: %v", col, err)}
		}
		splitByColumn[col] = make([]message.Tensor, len(ctxs))
		for j, i := range order {
			splitByColumn[col][i] = split[j]
		}
	}

	for i, c := range ctxs {
		if c.HasError() {
			continue
		}
		row := make([]message.Tensor, len(tensors))
		for col := range tensors {
			row[col] = splitByColumn[col][i]
		}
		out[i] = &message.Message{GTensors: row}
	}
	return out, nil
}

func init() {
	Register("generic", NewGeneric())
	Register("ndarray", NewGeneric())
}
