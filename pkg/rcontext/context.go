// Package rcontext implements the per-request execution context: the
// life-cycle object that binds one in-flight request to its response slot,
// its optional streaming writer, its error state, a type-erased user-scratch
// slot, and the single-use completion signal a batcher uses to unblock the
// submitter that is waiting on it.
package rcontext

import (
	"fmt"
	"sync"

	"github.com/nkazachenko/grps-core-go/pkg/converter"
	"github.com/nkazachenko/grps-core-go/pkg/inferer"
	"github.com/nkazachenko/grps-core-go/pkg/message"
)

// ContextStateError is returned for misuse of the context's contract, such
// as reading an unset user-scratch slot.
type ContextStateError struct {
	Msg string
}

func (e *ContextStateError) Error() string { return e.Msg }

// StreamSink is the narrow capability a transport adapter implements to
// receive streaming output from the context: write a message, write raw
// bytes (for customized chunked HTTP responses), close, and report whether
// the underlying transport has been cancelled by the client.
type StreamSink interface {
	WriteMessage(m *message.Message) error
	WriteBytes(b []byte) error
	Close() error
	IsCancelled() bool
}

// Context is the per-request coordination object described by the engine:
// created by the transport adapter on arrival, destroyed after the response
// is fully delivered.
type Context struct {
	request *message.Message

	streamMu   sync.Mutex
	stream     StreamSink
	streamDone bool

	errMu  sync.Mutex
	hasErr bool
	errMsg string

	scratchMu   sync.Mutex
	scratch     any
	scratchSet  bool
	scratchDtor func(any)

	completeOnce sync.Once
	completeCh   chan struct{}

	conv converter.Converter
	inf  inferer.Inferer

	httpDoneGuard func()
}

// New creates a unary (non-streaming) context for req.
func New(req *message.Message) *Context {
	return &Context{
		request:    req,
		completeCh: make(chan struct{}),
	}
}

// NewStreaming creates a context whose StreamingRespond calls are forwarded
// to sink.
func NewStreaming(req *message.Message, sink StreamSink) *Context {
	c := New(req)
	c.stream = sink
	return c
}

// Request returns the pointer to the request message the context was
// created with.
func (c *Context) Request() *message.Message { return c.request }

// SetConverter / Converter and SetInferer / Inferer record the stage
// components chosen for this request before the stage runs, so batcher
// worker closures and streaming post-process helpers can reach them.
func (c *Context) SetConverter(conv converter.Converter) { c.conv = conv }
func (c *Context) Converter() converter.Converter        { return c.conv }
func (c *Context) SetInferer(inf inferer.Inferer)        { c.inf = inf }
func (c *Context) Inferer() inferer.Inferer              { return c.inf }

// SetUserData stores v in the context's single type-erased scratch slot.
// Last write wins. dtor, if non-nil, runs when the context is released via
// Release, mirroring the source's "destructor runs when the context is
// destroyed" contract.
func (c *Context) SetUserData(v any, dtor func(any)) {
	c.scratchMu.Lock()
	defer c.scratchMu.Unlock()
	c.scratch = v
	c.scratchSet = true
	c.scratchDtor = dtor
}

// GetUserData returns the scratch value, or a ContextStateError if nothing
// has been set.
func (c *Context) GetUserData() (any, error) {
	c.scratchMu.Lock()
	defer c.scratchMu.Unlock()
	if !c.scratchSet {
		return nil, &ContextStateError{Msg: "rcontext: user data not set"}
	}
	return c.scratch, nil
}

// Release runs the user-scratch destructor, if one was registered. The
// transport adapter calls this once the response has been fully delivered.
func (c *Context) Release() {
	c.scratchMu.Lock()
	v, set, dtor := c.scratch, c.scratchSet, c.scratchDtor
	c.scratch = nil
	c.scratchSet = false
	c.scratchDtor = nil
	c.scratchMu.Unlock()
	if set && dtor != nil {
		dtor(v)
	}
}

// IsStreaming reports whether a streaming writer was attached at
// construction.
func (c *Context) IsStreaming() bool {
	return c.stream != nil
}

// StreamingRespond serializes msg to the attached stream. It is a no-op if
// the stream has already been marked final. When final is true, the stream
// is marked ended and the completion signal, if one is registered, fires.
func (c *Context) StreamingRespond(m *message.Message, final bool) error {
	c.streamMu.Lock()
	defer c.streamMu.Unlock()

	if c.streamDone {
		return nil
	}
	if c.stream == nil {
		return &ContextStateError{Msg: "rcontext: StreamingRespond called on a non-streaming context"}
	}

	if err := c.stream.WriteMessage(m); err != nil {
		return err
	}

	if final {
		c.streamDone = true
		c.notifyComplete()
	}
	return nil
}

// StreamingRespondWithPostProcess runs the context's converter's
// PostProcess over tensors to build a message, then delegates to
// StreamingRespond.
func (c *Context) StreamingRespondWithPostProcess(tensors []message.Tensor, final bool) error {
	if c.conv == nil {
		return &ContextStateError{Msg: "rcontext: StreamingRespondWithPostProcess requires a converter"}
	}
	out, err := c.conv.PostProcess(tensors, c)
	if err != nil {
		return err
	}
	return c.StreamingRespond(out, final)
}

// CustomizedHttpStreamingRespond writes raw bytes to the attached stream.
// On the first call it tears down the HTTP "done guard" placeholder (set
// via SetHTTPDoneGuard) so the transport switches the response into
// progressive/chunked mode.
func (c *Context) CustomizedHttpStreamingRespond(b []byte, final bool) error {
	c.streamMu.Lock()
	defer c.streamMu.Unlock()

	if c.streamDone {
		return nil
	}
	if c.stream == nil {
		return &ContextStateError{Msg: "rcontext: CustomizedHttpStreamingRespond called on a non-streaming context"}
	}

	if c.httpDoneGuard != nil {
		c.httpDoneGuard()
		c.httpDoneGuard = nil
	}

	if err := c.stream.WriteBytes(b); err != nil {
		return err
	}

	if final {
		c.streamDone = true
		c.notifyComplete()
	}
	return nil
}

// SetHTTPDoneGuard registers the teardown closure CustomizedHttpStreamingRespond
// runs on its first call.
func (c *Context) SetHTTPDoneGuard(guard func()) {
	c.streamMu.Lock()
	defer c.streamMu.Unlock()
	c.httpDoneGuard = guard
}

// SetError marks the context's error state. Sticky: once true, HasError
// never returns to false for this context.
func (c *Context) SetError(msg string) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	c.hasErr = true
	c.errMsg = msg
}

// HasError reports whether SetError has been called.
func (c *Context) HasError() bool {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.hasErr
}

// ErrorMsg returns the message passed to SetError, byte for byte. Empty if
// no error has been set.
func (c *Context) ErrorMsg() string {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.errMsg
}

// IsDisconnected consults the attached stream's cancellation probe. A
// unary (non-streaming) context always reports false: it has no transport
// handle to probe.
func (c *Context) IsDisconnected() bool {
	c.streamMu.Lock()
	sink := c.stream
	c.streamMu.Unlock()
	if sink == nil {
		return false
	}
	return sink.IsCancelled()
}

// Done returns the channel the completion signal closes exactly once,
// either via NotifyComplete or via a final StreamingRespond/
// CustomizedHttpStreamingRespond call.
func (c *Context) Done() <-chan struct{} {
	return c.completeCh
}

// NotifyComplete fires the one-shot completion signal. Safe to call more
// than once; only the first call has effect. This is the hook the batcher
// calls for every context in a dispatched batch, whether the batch
// succeeded or failed.
func (c *Context) NotifyComplete() {
	c.notifyComplete()
}

func (c *Context) notifyComplete() {
	c.completeOnce.Do(func() {
		close(c.completeCh)
	})
}

// String renders a short diagnostic summary, useful in log lines.
func (c *Context) String() string {
	return fmt.Sprintf("rcontext{streaming=%v hasErr=%v}", c.IsStreaming(), c.HasError())
}
