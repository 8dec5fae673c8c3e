// Package batcher implements the dynamic batcher: a bounded-wait request
// coalescer with its own dedicated dispatch loop, trading a small amount
// of latency for large-batch throughput while guaranteeing that no
// request's result is returned before its own work has actually completed.
package batcher

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nkazachenko/grps-core-go/pkg/converter"
	"github.com/nkazachenko/grps-core-go/pkg/inferer"
	"github.com/nkazachenko/grps-core-go/pkg/message"
	"github.com/nkazachenko/grps-core-go/pkg/rcontext"
	"github.com/nkazachenko/grps-core-go/pkg/telemetry"
)

// BatcherError wraps a per-request failure originating in the batcher
// itself (shutdown, a converter/inferer error surfaced during a batch).
type BatcherError struct {
	Msg string
}

func (e *BatcherError) Error() string { return e.Msg }

// task is the unit enqueued to a batcher: a reference to the submitted
// input, a slot the dispatcher writes the result or error into, and the
// request context the completion signal lives on.
type task struct {
	in     *message.Message
	result *message.Message
	err    error
	ctx    *rcontext.Context
}

// Dynamic is the dynamic batcher described in §4.5: a FIFO queue of tasks,
// a dedicated dispatcher goroutine, and a handoff to a shared worker pool
// for the actual batched converter/inferer call.
type Dynamic struct {
	Name         string
	MaxBatchSize int
	BatchTimeout time.Duration

	// Converter is optional: a nil Converter means the batcher runs in
	// no-converter mode and calls Inferer.BatchInferMessage directly.
	Converter converter.Converter
	Inferer   inferer.Inferer

	pool *WorkerPool

	submitCh chan *task
	stopCh   chan struct{}
	stopped  chan struct{}
	running  atomic.Bool

	onBatch func(size int)

	// Tracer is an optional span source for the dispatched-batch span;
	// nil disables it, matching stage.Node's same convention.
	Tracer *telemetry.Provider
}

// New builds a Dynamic batcher. pool is the process-wide worker pool the
// dispatcher hands batches to; onBatch, if non-nil, is called once per
// dispatched batch with its size, for metrics.
func New(name string, maxBatchSize int, batchTimeout time.Duration, conv converter.Converter, inf inferer.Inferer, pool *WorkerPool, onBatch func(size int)) *Dynamic {
	if maxBatchSize < 1 {
		maxBatchSize = 1
	}
	return &Dynamic{
		Name:         name,
		MaxBatchSize: maxBatchSize,
		BatchTimeout: batchTimeout,
		Converter:    conv,
		Inferer:      inf,
		pool:         pool,
		submitCh:     make(chan *task, maxBatchSize*4),
		stopCh:       make(chan struct{}),
		stopped:      make(chan struct{}),
		onBatch:      onBatch,
	}
}

// Start spawns the dedicated dispatcher goroutine. Call once.
func (b *Dynamic) Start() {
	b.running.Store(true)
	go b.dispatchLoop()
}

// Stop marks the batcher not-running, wakes the dispatcher, and waits for
// it to drain any pending tasks (each released with a shutdown error) and
// exit. After Stop returns, no submitter is left parked.
func (b *Dynamic) Stop() {
	if !b.running.CompareAndSwap(true, false) {
		return
	}
	close(b.stopCh)
	<-b.stopped
}

// Submit enqueues a task built from in and ctx, then blocks until the
// batcher has delivered a result or error and fired ctx's completion
// signal. It is the Go rendering of the source's Submit(req, respSlot,
// ctx): returning the value in place of writing through a response-slot
// output parameter.
func (b *Dynamic) Submit(in *message.Message, ctx *rcontext.Context) (*message.Message, error) {
	if !b.running.Load() {
		return nil, &BatcherError{Msg: fmt.Sprintf("batcher %s: not running", b.Name)}
	}

	t := &task{in: in, ctx: ctx}
	select {
	case b.submitCh <- t:
	case <-b.stopCh:
		return nil, &BatcherError{Msg: fmt.Sprintf("batcher %s: stopping", b.Name)}
	}

	<-ctx.Done()
	if t.err != nil {
		return nil, t.err
	}
	return t.result, nil
}

// dispatchLoop is the batcher's single dedicated loop.
func (b *Dynamic) dispatchLoop() {
	defer close(b.stopped)

	var batch []*task
	for {
		if len(batch) == 0 {
			select {
			case t := <-b.submitCh:
				batch = append(batch, t)
			case <-b.stopCh:
				b.drainAndFail(nil)
				return
			}
		}

		batch = b.drainNonBlocking(batch)

		if len(batch) < b.MaxBatchSize && b.BatchTimeout > 0 {
			var stopping bool
			batch, stopping = b.fillUntilDeadline(batch, time.Now().Add(b.BatchTimeout))
			if stopping {
				b.drainAndFail(batch)
				return
			}
		}
		// BatchTimeout == 0 dispatches immediately with whatever's
		// present, per the pinned Open Question semantics.

		if len(batch) > 0 {
			dispatch := batch
			batch = nil
			b.pool.Submit(func() { b.processBatch(dispatch) })
		}

		select {
		case <-b.stopCh:
			b.drainAndFail(nil)
			return
		default:
		}
	}
}

// drainNonBlocking pulls as many already-queued tasks as available, up to
// MaxBatchSize, without waiting.
func (b *Dynamic) drainNonBlocking(batch []*task) []*task {
	for len(batch) < b.MaxBatchSize {
		select {
		case t := <-b.submitCh:
			batch = append(batch, t)
		default:
			return batch
		}
	}
	return batch
}

// fillUntilDeadline waits for more tasks until the batch fills or deadline
// passes, whichever comes first. It reports whether it returned because
// the batcher is stopping.
func (b *Dynamic) fillUntilDeadline(batch []*task, deadline time.Time) ([]*task, bool) {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	for len(batch) < b.MaxBatchSize {
		select {
		case t := <-b.submitCh:
			batch = append(batch, t)
		case <-timer.C:
			return batch, false
		case <-b.stopCh:
			return batch, true
		}
	}
	return batch, false
}

// drainAndFail releases pending, plus anything still buffered in
// submitCh, with a shutdown error.
func (b *Dynamic) drainAndFail(pending []*task) {
	b.failAll(pending, fmt.Sprintf("batcher %s: stopped", b.Name))
	for {
		select {
		case t := <-b.submitCh:
			b.failAll([]*task{t}, fmt.Sprintf("batcher %s: stopped", b.Name))
		default:
			return
		}
	}
}

func (b *Dynamic) failAll(tasks []*task, msg string) {
	for _, t := range tasks {
		t.ctx.SetError(msg)
		t.err = &BatcherError{Msg: msg}
		t.ctx.NotifyComplete()
	}
}

// processBatch is the closure the dispatcher hands to the worker pool: it
// collects inputs/contexts, runs the converter/inferer chain (or the
// no-converter message path), and fires every context's completion signal
// exactly once, whether the batch succeeded or failed.
func (b *Dynamic) processBatch(tasks []*task) {
	defer func() {
		if r := recover(); r != nil {
			b.failAll(tasks, fmt.Sprintf("batcher %s: panic: %v", b.Name, r))
		}
	}()

	if b.onBatch != nil {
		b.onBatch(len(tasks))
	}

	if b.Tracer != nil {
		_, span := b.Tracer.StartBatch(context.Background(), b.Name, len(tasks))
		defer span.End()
	}

	msgsIn := make([]*message.Message, len(tasks))
	ctxs := make([]converter.ContextHandle, len(tasks))
	for i, t := range tasks {
		msgsIn[i] = t.in
		ctxs[i] = t.ctx
	}

	if b.Converter == nil {
		outs, err := b.Inferer.BatchInferMessage(msgsIn)
		if err != nil {
			b.failAll(tasks, err.Error())
			return
		}
		for i, t := range tasks {
			t.result = outs[i]
			t.ctx.NotifyComplete()
		}
		return
	}

	tensorsIn, err := b.Converter.BatchPreProcess(msgsIn, ctxs)
	if err != nil {
		b.failAll(tasks, err.Error())
		return
	}
	if converter.AllErr(ctxs) {
		b.notifyFromCtxErrors(tasks)
		return
	}

	tensorsOut, err := b.Inferer.BatchInfer(tensorsIn)
	if err != nil {
		b.failAll(tasks, err.Error())
		return
	}
	if converter.AllErr(ctxs) {
		b.notifyFromCtxErrors(tasks)
		return
	}

	msgsOut, err := b.Converter.BatchPostProcess(tensorsOut, ctxs)
	if err != nil {
		b.failAll(tasks, err.Error())
		return
	}

	for i, t := range tasks {
		if t.ctx.HasError() {
			t.err = &BatcherError{Msg: t.ctx.ErrorMsg()}
		} else {
			t.result = msgsOut[i]
		}
		t.ctx.NotifyComplete()
	}
}

// notifyFromCtxErrors fires every context's completion signal, recording
// each one's own error message on the corresponding task. Used when every
// context in the batch is already errored and the remaining stages are
// skipped.
func (b *Dynamic) notifyFromCtxErrors(tasks []*task) {
	for _, t := range tasks {
		if t.ctx.HasError() {
			t.err = &BatcherError{Msg: t.ctx.ErrorMsg()}
		}
		t.ctx.NotifyComplete()
	}
}
