package httpfrontend

import (
	"fmt"

	"github.com/nkazachenko/grps-core-go/pkg/message"
)

// parseNDArray implements the {ndarray: scalar|nested-array} request shape
// from §6, grounded on grps_handler.cc's ParseNDArray: a bare number
// becomes a single-element float32 tensor of shape [1]; a nested JSON array
// becomes a float32 tensor whose shape is the inferred rectangular
// nesting and whose flat payload is the array's elements in row-major
// order.
func parseNDArray(raw any) (*message.Tensor, error) {
	if f, ok := raw.(float64); ok {
		return &message.Tensor{
			DType:       message.DTypeFloat32,
			Shape:       []int64{1},
			FlatFloat32: []float32{float32(f)},
		}, nil
	}

	arr, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("httpfrontend: ndarray must be a number or an array")
	}

	shape, err := ndarrayShape(arr)
	if err != nil {
		return nil, err
	}

	flat := make([]float32, 0, product(shape))
	if err := flattenNDArray(arr, &flat); err != nil {
		return nil, err
	}

	return &message.Tensor{
		DType:       message.DTypeFloat32,
		Shape:       shape,
		FlatFloat32: flat,
	}, nil
}

// ndarrayShape infers the rectangular shape of a nested JSON array,
// rejecting ragged nesting.
func ndarrayShape(arr []any) ([]int64, error) {
	shape := []int64{int64(len(arr))}
	if len(arr) == 0 {
		return shape, nil
	}
	first, isNested := arr[0].([]any)
	if !isNested {
		return shape, nil
	}
	inner, err := ndarrayShape(first)
	if err != nil {
		return nil, err
	}
	for i, v := range arr {
		sub, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("httpfrontend: ndarray: element %d is not nested like its siblings", i)
		}
		subShape, err := ndarrayShape(sub)
		if err != nil {
			return nil, err
		}
		if !shapesEqual(subShape, inner) {
			return nil, fmt.Errorf("httpfrontend: ndarray: element %d has a ragged shape", i)
		}
	}
	return append(shape, inner...), nil
}

func flattenNDArray(arr []any, out *[]float32) error {
	for _, v := range arr {
		switch vv := v.(type) {
		case []any:
			if err := flattenNDArray(vv, out); err != nil {
				return err
			}
		case float64:
			*out = append(*out, float32(vv))
		default:
			return fmt.Errorf("httpfrontend: ndarray: non-numeric leaf element %v", v)
		}
	}
	return nil
}

func shapesEqual(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func product(shape []int64) int64 {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}

// tensorToNDArray renders a single tensor back into the {ndarray: …}
// response shape requested via return-ndarray=true, the inverse of
// parseNDArray over a float32 tensor.
func tensorToNDArray(t *message.Tensor) (any, error) {
	if t.DType != message.DTypeFloat32 {
		return nil, fmt.Errorf("httpfrontend: return-ndarray only supports float32 tensors, got %s", t.DType)
	}
	flat := make([]float64, len(t.FlatFloat32))
	for i, v := range t.FlatFloat32 {
		flat[i] = float64(v)
	}
	return nestNDArray(flat, t.Shape), nil
}

func nestNDArray(flat []float64, shape []int64) any {
	if len(shape) <= 1 {
		out := make([]any, len(flat))
		for i, v := range flat {
			out[i] = v
		}
		return out
	}
	stride := int64(1)
	for _, d := range shape[1:] {
		stride *= d
	}
	out := make([]any, shape[0])
	for i := range out {
		out[i] = nestNDArray(flat[int64(i)*stride:int64(i+1)*stride], shape[1:])
	}
	return out
}
