// Package httpfrontend implements the canonical HTTP surface described in
// §6: POST /grps/v1/infer/predict plus the health, metadata, and monitor
// UI endpoints, all dispatching into a *engine.Engine.
package httpfrontend

import (
	"encoding/base64"
	"fmt"

	"github.com/nkazachenko/grps-core-go/pkg/message"
)

// wireMessage is the canonical JSON shape a request/response body takes:
// exactly one of the tagged-union fields populated, mirroring
// message.Message's Kind() precedence (str_data, then bin_data, then
// gtensors, then gmap).
type wireMessage struct {
	StrData  string                  `json:"str_data,omitempty"`
	BinData  []byte                  `json:"bin_data,omitempty"`
	GTensors []wireTensor            `json:"gtensors,omitempty"`
	GMap     map[string]*wireMessage `json:"gmap,omitempty"`
}

// wireTensor is the JSON rendering of message.Tensor: shape and dtype are
// explicit, and the flat payload always travels under "data" regardless
// of element type (float64 has enough precision to round-trip float32,
// int32, and int64; bool and string decode straight off the JSON kind).
type wireTensor struct {
	Name  string   `json:"name,omitempty"`
	Shape []int64  `json:"shape"`
	DType string   `json:"dtype"`
	Data  []any    `json:"data"`
}

// hasCanonicalFields reports whether body looks like a canonical message
// rather than an {ndarray: …} or {bin_data: …} request, per §6's
// three-shapes rule: {str_data|gtensors|gmap} wins if present at all.
func hasCanonicalFields(raw map[string]any) bool {
	_, hasStr := raw["str_data"]
	_, hasTensors := raw["gtensors"]
	_, hasMap := raw["gmap"]
	return hasStr || hasTensors || hasMap
}

func toWireMessage(m *message.Message) *wireMessage {
	if m == nil {
		return &wireMessage{}
	}
	w := &wireMessage{StrData: m.StrData, BinData: m.BinData}
	if len(m.GTensors) > 0 {
		w.GTensors = make([]wireTensor, len(m.GTensors))
		for i := range m.GTensors {
			w.GTensors[i] = toWireTensor(&m.GTensors[i])
		}
	}
	if len(m.GMap) > 0 {
		w.GMap = make(map[string]*wireMessage, len(m.GMap))
		for k, v := range m.GMap {
			w.GMap[k] = toWireMessage(v)
		}
	}
	return w
}

func toWireTensor(t *message.Tensor) wireTensor {
	w := wireTensor{Name: t.Name, Shape: t.Shape, DType: t.DType.String()}
	switch t.DType {
	case message.DTypeFloat32:
		w.Data = make([]any, len(t.FlatFloat32))
		for i, v := range t.FlatFloat32 {
			w.Data[i] = v
		}
	case message.DTypeFloat64:
		w.Data = make([]any, len(t.FlatFloat64))
		for i, v := range t.FlatFloat64 {
			w.Data[i] = v
		}
	case message.DTypeInt32:
		w.Data = make([]any, len(t.FlatInt32))
		for i, v := range t.FlatInt32 {
			w.Data[i] = v
		}
	case message.DTypeInt64:
		w.Data = make([]any, len(t.FlatInt64))
		for i, v := range t.FlatInt64 {
			w.Data[i] = v
		}
	case message.DTypeBool:
		w.Data = make([]any, len(t.FlatBool))
		for i, v := range t.FlatBool {
			w.Data[i] = v
		}
	case message.DTypeString:
		w.Data = make([]any, len(t.FlatString))
		for i, v := range t.FlatString {
			w.Data[i] = v
		}
	case message.DTypeBytes:
		w.Data = make([]any, len(t.FlatBytes))
		for i, v := range t.FlatBytes {
			w.Data[i] = base64.StdEncoding.EncodeToString(v)
		}
	}
	return w
}

func fromWireMessage(w *wireMessage) (*message.Message, error) {
	if w == nil {
		return &message.Message{}, nil
	}
	m := &message.Message{StrData: w.StrData, BinData: w.BinData}
	if len(w.GTensors) > 0 {
		m.GTensors = make([]message.Tensor, len(w.GTensors))
		for i := range w.GTensors {
			t, err := fromWireTensor(&w.GTensors[i])
			if err != nil {
				return nil, err
			}
			m.GTensors[i] = *t
		}
	}
	if len(w.GMap) > 0 {
		m.GMap = make(map[string]*message.Message, len(w.GMap))
		for k, v := range w.GMap {
			sub, err := fromWireMessage(v)
			if err != nil {
				return nil, err
			}
			m.GMap[k] = sub
		}
	}
	return m, nil
}

func fromWireTensor(w *wireTensor) (*message.Tensor, error) {
	t := &message.Tensor{Name: w.Name, Shape: append([]int64(nil), w.Shape...)}
	switch w.DType {
	case "float32", "":
		t.DType = message.DTypeFloat32
		t.FlatFloat32 = make([]float32, len(w.Data))
		for i, v := range w.Data {
			f, ok := v.(float64)
			if !ok {
				return nil, fmt.Errorf("httpfrontend: tensor %q: data[%d] is not a number", w.Name, i)
			}
			t.FlatFloat32[i] = float32(f)
		}
	case "float64":
		t.DType = message.DTypeFloat64
		t.FlatFloat64 = make([]float64, len(w.Data))
		for i, v := range w.Data {
			f, ok := v.(float64)
			if !ok {
				return nil, fmt.Errorf("httpfrontend: tensor %q: data[%d] is not a number", w.Name, i)
			}
			t.FlatFloat64[i] = f
		}
	case "int32":
		t.DType = message.DTypeInt32
		t.FlatInt32 = make([]int32, len(w.Data))
		for i, v := range w.Data {
			f, ok := v.(float64)
			if !ok {
				return nil, fmt.Errorf("httpfrontend: tensor %q: data[%d] is not a number", w.Name, i)
			}
			t.FlatInt32[i] = int32(f)
		}
	case "int64":
		t.DType = message.DTypeInt64
		t.FlatInt64 = make([]int64, len(w.Data))
		for i, v := range w.Data {
			f, ok := v.(float64)
			if !ok {
				return nil, fmt.Errorf("httpfrontend: tensor %q: data[%d] is not a number", w.Name, i)
			}
			t.FlatInt64[i] = int64(f)
		}
	case "bool":
		t.DType = message.DTypeBool
		t.FlatBool = make([]bool, len(w.Data))
		for i, v := range w.Data {
			b, ok := v.(bool)
			if !ok {
				return nil, fmt.Errorf("httpfrontend: tensor %q: data[%d] is not a bool", w.Name, i)
			}
			t.FlatBool[i] = b
		}
	case "string":
		t.DType = message.DTypeString
		t.FlatString = make([]string, len(w.Data))
		for i, v := range w.Data {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("httpfrontend: tensor %q: data[%d] is not a string", w.Name, i)
			}
			t.FlatString[i] = s
		}
	case "bytes":
		t.DType = message.DTypeBytes
		t.FlatBytes = make([][]byte, len(w.Data))
		for i, v := range w.Data {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("httpfrontend: tensor %q: data[%d] is not a base64 string", w.Name, i)
			}
			b, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return nil, fmt.Errorf("httpfrontend: tensor %q: data[%d]: %w", w.Name, i, err)
			}
			t.FlatBytes[i] = b
		}
	default:
		return nil, fmt.Errorf("httpfrontend: tensor %q: unsupported dtype %q", w.Name, w.DType)
	}
	return t, nil
}
