package inferer

import (
	"sync"
	"sync/atomic"

	"github.com/nkazachenko/grps-core-go/pkg/message"
)

// streamContext is one of Streamed's N independent engine contexts: its
// own mutex and its own clone of the wrapped inferer, standing in for the
// source's per-context host/device bindings.
type streamContext struct {
	mu    sync.Mutex
	inner Inferer
}

// Streamed wraps another inferer into N independent "streams" the way the
// source's TensorRT-style inferer clones its engine into N contexts:
// concurrent Infer calls round-robin over the N contexts via an atomic
// counter, then take that context's own mutex, so two requests never
// drive the same underlying context concurrently while requests against
// different contexts run in parallel.
type Streamed struct {
	Base
	streams []*streamContext
	next    atomic.Uint64
}

// NewStreamed builds a Streamed inferer with n independent contexts, each
// holding its own clone of proto.
func NewStreamed(name string, proto Inferer, n int) *Streamed {
	if n < 1 {
		n = 1
	}
	s := &Streamed{streams: make([]*streamContext, n)}
	s.Name = name
	for i := range s.streams {
		s.streams[i] = &streamContext{inner: proto.Clone()}
	}
	return s
}

func (s *Streamed) Clone() Inferer {
	if len(s.streams) == 0 {
		return &Streamed{Base: s.Base}
	}
	return NewStreamed(s.Name, s.streams[0].inner, len(s.streams))
}

func (s *Streamed) Init(path, device string, args map[string]string) error {
	if err := s.Base.Init(path, device, args); err != nil {
		return err
	}
	for _, sc := range s.streams {
		if err := sc.inner.Init(path, device, args); err != nil {
			return err
		}
	}
	return nil
}

func (s *Streamed) Load() error {
	for _, sc := range s.streams {
		if err := sc.inner.Load(); err != nil {
			return err
		}
	}
	return nil
}

// pick round-robins over the N contexts via an atomic increment counter.
func (s *Streamed) pick() *streamContext {
	idx := s.next.Add(1) % uint64(len(s.streams))
	return s.streams[idx]
}

func (s *Streamed) Infer(in []message.Tensor) ([]message.Tensor, error) {
	sc := s.pick()
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.inner.Infer(in)
}

func (s *Streamed) BatchInfer(in []message.Tensor) ([]message.Tensor, error) {
	sc := s.pick()
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.inner.BatchInfer(in)
}

func (s *Streamed) InferMessage(in *message.Message) (*message.Message, error) {
	sc := s.pick()
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.inner.InferMessage(in)
}

func (s *Streamed) BatchInferMessage(in []*message.Message) ([]*message.Message, error) {
	sc := s.pick()
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.inner.BatchInferMessage(in)
}
