// Package inferer implements the model-loading and tensor-inference
// capability set, in both single-request and batched form, plus a
// "no-converter" message-in/message-out mode for models that bridge to
// tensors internally.
package inferer

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/nkazachenko/grps-core-go/pkg/message"
)

// NotImplementedError mirrors converter.NotImplementedError: a capability
// an inferer does not support.
type NotImplementedError struct {
	Inferer string
	Method  string
}

func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("inferer: %s does not implement %s", e.Inferer, e.Method)
}

// InfererError wraps a per-request failure inside an inferer.
type InfererError struct {
	Msg string
}

func (e *InfererError) Error() string { return e.Msg }

// ResourceExhaustedError is the subclass surfaced to metrics
// (*gpu_oom_count) and returned to the client as 500.
type ResourceExhaustedError struct {
	Msg string
}

func (e *ResourceExhaustedError) Error() string { return e.Msg }

// deviceForm validates the device strings the source accepts: cpu, cuda,
// gpu, cuda:N, gpu:N, or original.
var deviceForm = regexp.MustCompile(`^(cpu|original|(cuda|gpu)(:\d+)?)$`)

// ValidDevice reports whether device matches one of the accepted forms.
func ValidDevice(device string) bool {
	return deviceForm.MatchString(device)
}

// Inferer is polymorphic over Init, Load, Infer(tensors), BatchInfer(tensors),
// Infer(message) / BatchInfer(message) (the no-converter entry points) and
// Clone.
type Inferer interface {
	// Init validates device and stores path/args; called before Load.
	Init(path, device string, args map[string]string) error

	// Load deserializes the model file and discovers its input/output
	// binding names and types.
	Load() error

	Clone() Inferer

	Infer(in []message.Tensor) ([]message.Tensor, error)
	BatchInfer(in []message.Tensor) ([]message.Tensor, error)

	// InferMessage / BatchInferMessage are the no-converter mode entry
	// points: the inferer bridges to tensors internally.
	InferMessage(in *message.Message) (*message.Message, error)
	BatchInferMessage(in []*message.Message) ([]*message.Message, error)
}

// Base implements Inferer with every capability failing NotImplemented
// except Init/Load, which record the model's path/device/args; concrete
// inferers embed Base.
type Base struct {
	Name   string
	Path   string
	Device string
	Args   map[string]string
}

func (b *Base) Init(path, device string, args map[string]string) error {
	if !ValidDevice(device) {
		return &InfererError{Msg: fmt.Sprintf("inferer: invalid device form %q", device)}
	}
	b.Path = path
	b.Device = device
	b.Args = args
	return nil
}

func (b *Base) Load() error { return nil }

func (b *Base) Infer([]message.Tensor) ([]message.Tensor, error) {
	return nil, &NotImplementedError{Inferer: b.Name, Method: "Infer"}
}

func (b *Base) BatchInfer([]message.Tensor) ([]message.Tensor, error) {
	return nil, &NotImplementedError{Inferer: b.Name, Method: "BatchInfer"}
}

func (b *Base) InferMessage(*message.Message) (*message.Message, error) {
	return nil, &NotImplementedError{Inferer: b.Name, Method: "InferMessage"}
}

func (b *Base) BatchInferMessage([]*message.Message) ([]*message.Message, error) {
	return nil, &NotImplementedError{Inferer: b.Name, Method: "BatchInferMessage"}
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Inferer{}
)

// Register binds name to a prototype inferer, replacing any prior binding.
func Register(name string, proto Inferer) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = proto
}

// Get returns a fresh clone of the inferer registered under name.
func Get(name string) (Inferer, error) {
	registryMu.RLock()
	proto, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, &InfererError{Msg: fmt.Sprintf("inferer: no inferer registered under %q", name)}
	}
	return proto.Clone(), nil
}
