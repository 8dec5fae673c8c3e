// Package converter implements the pre/post transforms between wire
// messages and tensors, in both single-request and batched form, plus the
// name-keyed registry built-ins and customized converters are obtained
// from.
package converter

import (
	"fmt"
	"sync"

	"github.com/nkazachenko/grps-core-go/pkg/message"
)

// NotImplementedError is returned by a capability a converter does not
// support, matching the source's default-fails-with-NotImplemented
// contract for the four process methods.
type NotImplementedError struct {
	Converter string
	Method    string
}

func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("converter: %s does not implement %s", e.Converter, e.Method)
}

// ConverterError wraps a per-request failure inside a converter (an
// unsupported dtype, a malformed tensor list, and so on).
type ConverterError struct {
	Msg string
}

func (e *ConverterError) Error() string { return e.Msg }

// ContextHandle is the narrow slice of *rcontext.Context a converter needs:
// enough to short-circuit on a prior error and to stash per-request batch
// sizes for a symmetric post-process split. Declared here instead of
// imported because rcontext imports this package, so importing rcontext
// back would form a cycle.
type ContextHandle interface {
	HasError() bool
	SetError(msg string)
	SetUserData(v any, dtor func(any))
	GetUserData() (any, error)
}

// Converter is polymorphic over the capability set PreProcess, PostProcess,
// BatchPreProcess, BatchPostProcess, Clone and Init.
type Converter interface {
	// Init stores the converter's model-relative path and free-form args;
	// called once per Model at bootstrap, before first use.
	Init(path string, args map[string]string) error

	// Clone returns a fresh instance so mutable per-instance state never
	// aliases across Models that share a converter name.
	Clone() Converter

	PreProcess(msg *message.Message, ctx ContextHandle) ([]message.Tensor, error)
	PostProcess(tensors []message.Tensor, ctx ContextHandle) (*message.Message, error)
	BatchPreProcess(msgs []*message.Message, ctxs []ContextHandle) ([]message.Tensor, error)
	BatchPostProcess(tensors []message.Tensor, ctxs []ContextHandle) ([]*message.Message, error)
}

// Base implements Converter with every process method failing
// NotImplemented and a working Init; concrete converters embed Base and
// override whichever methods they support.
type Base struct {
	Name string
	Path string
	Args map[string]string
}

func (b *Base) Init(path string, args map[string]string) error {
	b.Path = path
	b.Args = args
	return nil
}

func (b *Base) PreProcess(*message.Message, ContextHandle) ([]message.Tensor, error) {
	return nil, &NotImplementedError{Converter: b.Name, Method: "PreProcess"}
}

func (b *Base) PostProcess([]message.Tensor, ContextHandle) (*message.Message, error) {
	return nil, &NotImplementedError{Converter: b.Name, Method: "PostProcess"}
}

func (b *Base) BatchPreProcess([]*message.Message, []ContextHandle) ([]message.Tensor, error) {
	return nil, &NotImplementedError{Converter: b.Name, Method: "BatchPreProcess"}
}

func (b *Base) BatchPostProcess([]message.Tensor, []ContextHandle) ([]*message.Message, error) {
	return nil, &NotImplementedError{Converter: b.Name, Method: "BatchPostProcess"}
}

// batchSizeKey names the per-request leading-dimension scratch value. It is
// not referenced: Generic stores each request's leading dimension directly
// as the context's single user-scratch value, with no key.
const batchSizeKey = "converter.batch_size"

// registry is the global converter-name → prototype map. Register replaces
// any prior binding for the same name; Get always hands back a fresh Clone
// so no two callers ever share one converter's mutable state, which is a
// strict superset of "the second caller gets a clone".
var (
	registryMu sync.RWMutex
	registry   = map[string]Converter{}
)

// Register binds name to a prototype converter. A later Register call for
// the same name replaces the earlier binding.
func Register(name string, proto Converter) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = proto
}

// Get returns a fresh clone of the converter registered under name.
func Get(name string) (Converter, error) {
	registryMu.RLock()
	proto, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, &ConverterError{Msg: fmt.Sprintf("converter: no converter registered under %q", name)}
	}
	return proto.Clone(), nil
}

// AllErr reports whether every context already carries an error, the
// signal the batcher and the built-in batch process methods use to
// short-circuit a stage without doing further work on a doomed batch.
func AllErr(ctxs []ContextHandle) bool {
	if len(ctxs) == 0 {
		return false
	}
	for _, c := range ctxs {
		if !c.HasError() {
			return false
		}
	}
	return true
}
