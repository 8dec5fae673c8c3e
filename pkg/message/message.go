// Package message defines the wire payload that flows between transports,
// converters and inferers: a tagged union of string, raw bytes, a list of
// generic tensors, or a generic map, plus the generic tensor representation
// itself (shape + dtype + one typed flat payload).
package message

import "fmt"

// DType enumerates the supported tensor element types.
type DType int

const (
	DTypeInvalid DType = iota
	DTypeFloat32
	DTypeFloat64
	DTypeInt32
	DTypeInt64
	DTypeBool
	DTypeString
	DTypeBytes
)

// String renders the dtype the way it appears over the wire.
func (d DType) String() string {
	switch d {
	case DTypeFloat32:
		return "float32"
	case DTypeFloat64:
		return "float64"
	case DTypeInt32:
		return "int32"
	case DTypeInt64:
		return "int64"
	case DTypeBool:
		return "bool"
	case DTypeString:
		return "string"
	case DTypeBytes:
		return "bytes"
	default:
		return "invalid"
	}
}

// Tensor is the wire representation of a multi-dimensional numeric array:
// an explicit name, an ordered shape, a dtype, and exactly one typed flat
// payload consistent with that dtype.
type Tensor struct {
	Name  string
	Shape []int64
	DType DType

	FlatFloat32 []float32
	FlatFloat64 []float64
	FlatInt32   []int32
	FlatInt64   []int64
	FlatBool    []bool
	FlatString  []string
	FlatBytes   [][]byte
}

// NumElements returns the product of the shape, or 0 for a rank-0 tensor
// with no declared shape.
func (t *Tensor) NumElements() int64 {
	if len(t.Shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Len returns the number of elements actually stored in the tensor's flat
// payload, regardless of dtype.
func (t *Tensor) Len() int {
	switch t.DType {
	case DTypeFloat32:
		return len(t.FlatFloat32)
	case DTypeFloat64:
		return len(t.FlatFloat64)
	case DTypeInt32:
		return len(t.FlatInt32)
	case DTypeInt64:
		return len(t.FlatInt64)
	case DTypeBool:
		return len(t.FlatBool)
	case DTypeString:
		return len(t.FlatString)
	case DTypeBytes:
		return len(t.FlatBytes)
	default:
		return 0
	}
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	c := &Tensor{Name: t.Name, DType: t.DType}
	c.Shape = append([]int64(nil), t.Shape...)
	c.FlatFloat32 = append([]float32(nil), t.FlatFloat32...)
	c.FlatFloat64 = append([]float64(nil), t.FlatFloat64...)
	c.FlatInt32 = append([]int32(nil), t.FlatInt32...)
	c.FlatInt64 = append([]int64(nil), t.FlatInt64...)
	c.FlatBool = append([]bool(nil), t.FlatBool...)
	c.FlatString = append([]string(nil), t.FlatString...)
	c.FlatBytes = append([][]byte(nil), t.FlatBytes...)
	return c
}

// ShapeTail returns the shape without its leading (batch) dimension, used
// to verify that a set of tensors are batch-compatible.
func (t *Tensor) ShapeTail() []int64 {
	if len(t.Shape) == 0 {
		return nil
	}
	return t.Shape[1:]
}

// Message is the tagged-union wire payload. Exactly one of the fields below
// is meaningful for a given message, selected by Kind.
type Message struct {
	StrData    string
	BinData    []byte
	GTensors   []Tensor
	GMap       map[string]*Message
}

// Kind identifies which variant of the tagged union is populated.
type Kind int

const (
	KindEmpty Kind = iota
	KindStr
	KindBin
	KindTensors
	KindMap
)

// Kind inspects the message and reports which variant is populated. When
// more than one field happens to be set, StrData takes precedence, then
// BinData, then GTensors, then GMap -- mirroring field declaration order in
// the original wire message.
func (m *Message) Kind() Kind {
	if m == nil {
		return KindEmpty
	}
	if m.StrData != "" {
		return KindStr
	}
	if len(m.BinData) > 0 {
		return KindBin
	}
	if len(m.GTensors) > 0 {
		return KindTensors
	}
	if len(m.GMap) > 0 {
		return KindMap
	}
	return KindEmpty
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := &Message{StrData: m.StrData}
	c.BinData = append([]byte(nil), m.BinData...)
	if m.GTensors != nil {
		c.GTensors = make([]Tensor, len(m.GTensors))
		for i := range m.GTensors {
			c.GTensors[i] = *m.GTensors[i].Clone()
		}
	}
	if m.GMap != nil {
		c.GMap = make(map[string]*Message, len(m.GMap))
		for k, v := range m.GMap {
			c.GMap[k] = v.Clone()
		}
	}
	return c
}

// Clear resets the message to its zero value in place, the way a
// pipeline stage clears its output before post-processing writes into it.
func (m *Message) Clear() {
	if m == nil {
		return
	}
	m.StrData = ""
	m.BinData = nil
	m.GTensors = nil
	m.GMap = nil
}

// NamedConsistency reports whether every tensor in the list has a non-empty
// name (named mode) or every tensor has an empty name (positional mode).
// Mixed naming is an error per the converter contract.
func NamedConsistency(tensors []Tensor) (named bool, err error) {
	if len(tensors) == 0 {
		return false, nil
	}
	named = tensors[0].Name != ""
	for _, t := range tensors[1:] {
		if (t.Name != "") != named {
			return false, fmt.Errorf("message: tensors must be all-named or all-positional, got mixed naming")
		}
	}
	return named, nil
}
