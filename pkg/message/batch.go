package message

import "fmt"

// ConcatTensors merges one tensor per request into a single batch tensor by
// concatenating along axis 0, after verifying that every input shares the
// same name, dtype and shape tail. It returns the per-request leading
// dimension sizes so SplitTensor can later split the result back apart.
func ConcatTensors(tensors []Tensor) (Tensor, []int64, error) {
	if len(tensors) == 0 {
		return Tensor{}, nil, fmt.Errorf("message: cannot concat an empty tensor list")
	}

	first := tensors[0]
	sizes := make([]int64, len(tensors))
	total := int64(0)

	for i, t := range tensors {
		if t.Name != first.Name {
			return Tensor{}, nil, fmt.Errorf("message: batch tensor name mismatch: %q vs %q", t.Name, first.Name)
		}
		if t.DType != first.DType {
			return Tensor{}, nil, fmt.Errorf("message: batch tensor dtype mismatch: %s vs %s", t.DType, first.DType)
		}
		if !shapeTailEqual(t.ShapeTail(), first.ShapeTail()) {
			return Tensor{}, nil, fmt.Errorf("message: batch tensor shape tail mismatch for %q", t.Name)
		}
		lead := int64(0)
		if len(t.Shape) > 0 {
			lead = t.Shape[0]
		}
		sizes[i] = lead
		total += lead
	}

	out := Tensor{Name: first.Name, DType: first.DType}
	out.Shape = append([]int64{total}, first.ShapeTail()...)

	switch first.DType {
	case DTypeFloat32:
		for _, t := range tensors {
			out.FlatFloat32 = append(out.FlatFloat32, t.FlatFloat32...)
		}
	case DTypeFloat64:
		for _, t := range tensors {
			out.FlatFloat64 = append(out.FlatFloat64, t.FlatFloat64...)
		}
	case DTypeInt32:
		for _, t := range tensors {
			out.FlatInt32 = append(out.FlatInt32, t.FlatInt32...)
		}
	case DTypeInt64:
		for _, t := range tensors {
			out.FlatInt64 = append(out.FlatInt64, t.FlatInt64...)
		}
	case DTypeBool:
		for _, t := range tensors {
			out.FlatBool = append(out.FlatBool, t.FlatBool...)
		}
	case DTypeString:
		for _, t := range tensors {
			out.FlatString = append(out.FlatString, t.FlatString...)
		}
	case DTypeBytes:
		for _, t := range tensors {
			out.FlatBytes = append(out.FlatBytes, t.FlatBytes...)
		}
	default:
		return Tensor{}, nil, fmt.Errorf("message: unsupported dtype for batching: %s", first.DType)
	}

	return out, sizes, nil
}

// SplitTensor reverses ConcatTensors: it slices a batched tensor back into
// one tensor per request using the leading-dimension sizes recorded at
// concat time. Each returned tensor's shape tail matches the input.
func SplitTensor(batched Tensor, sizes []int64) ([]Tensor, error) {
	tail := batched.ShapeTail()
	elemsPerRow := int64(1)
	for _, d := range tail {
		elemsPerRow *= d
	}

	out := make([]Tensor, len(sizes))
	elemOffset := int64(0)
	for i, rows := range sizes {
		n := rows * elemsPerRow
		t := Tensor{Name: batched.Name, DType: batched.DType}
		t.Shape = append([]int64{rows}, tail...)

		switch batched.DType {
		case DTypeFloat32:
			t.FlatFloat32 = sliceFloat32(batched.FlatFloat32, elemOffset, n)
		case DTypeFloat64:
			t.FlatFloat64 = sliceFloat64(batched.FlatFloat64, elemOffset, n)
		case DTypeInt32:
			t.FlatInt32 = sliceInt32(batched.FlatInt32, elemOffset, n)
		case DTypeInt64:
			t.FlatInt64 = sliceInt64(batched.FlatInt64, elemOffset, n)
		case DTypeBool:
			t.FlatBool = sliceBool(batched.FlatBool, elemOffset, n)
		case DTypeString:
			t.FlatString = sliceString(batched.FlatString, elemOffset, n)
		case DTypeBytes:
			t.FlatBytes = sliceBytes(batched.FlatBytes, elemOffset, n)
		default:
			return nil, fmt.Errorf("message: unsupported dtype for split: %s", batched.DType)
		}

		out[i] = t
		elemOffset += n
	}
	return out, nil
}

func shapeTailEqual(a, b []int64) bool {
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

func sliceFloat32(v []float32, off, n int64) []float32 {
	if off+n > int64(len(v)) {
		return nil
	}
	out := make([]float32, n)
	copy(out, v[off:off+n])
	return out
}

func sliceFloat64(v []float64, off, n int64) []float64 {
	if off+n > int64(len(v)) {
		return nil
	}
	out := make([]float64, n)
	copy(out, v[off:off+n])
	return out
}

func sliceInt32(v []int32, off, n int64) []int32 {
	if off+n > int64(len(v)) {
		return nil
	}
	out := make([]int32, n)
	copy(out, v[off:off+n])
	return out
}

func sliceInt64(v []int64, off, n int64) []int64 {
	if off+n > int64(len(v)) {
		return nil
	}
	out := make([]int64, n)
	copy(out, v[off:off+n])
	return out
}

func sliceBool(v []bool, off, n int64) []bool {
	if off+n > int64(len(v)) {
		return nil
	}
	out := make([]bool, n)
	copy(out, v[off:off+n])
	return out
}

func sliceString(v []string, off, n int64) []string {
	if off+n > int64(len(v)) {
		return nil
	}
	out := make([]string, n)
	copy(out, v[off:off+n])
	return out
}

func sliceBytes(v [][]byte, off, n int64) [][]byte {
	if off+n > int64(len(v)) {
		return nil
	}
	out := make([][]byte, n)
	copy(out, v[off:off+n])
	return out
}
