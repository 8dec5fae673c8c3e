package batcher

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nkazachenko/grps-core-go/pkg/converter"
	"github.com/nkazachenko/grps-core-go/pkg/inferer"
	"github.com/nkazachenko/grps-core-go/pkg/message"
	"github.com/nkazachenko/grps-core-go/pkg/rcontext"
	"github.com/nkazachenko/grps-core-go/pkg/telemetry"
)

// recordingInferer counts how many distinct BatchInfer calls it receives
// and how large each was, so tests can assert on batch boundaries.
type recordingInferer struct {
	inferer.Base
	mu    sync.Mutex
	sizes []int
}

func (r *recordingInferer) Clone() inferer.Inferer { return r }

func (r *recordingInferer) BatchInfer(in []message.Tensor) ([]message.Tensor, error) {
	r.mu.Lock()
	r.sizes = append(r.sizes, len(in))
	r.mu.Unlock()
	return in, nil
}

func newEchoBatcher(t *testing.T, name string, maxBatch int, timeout time.Duration) (*Dynamic, *recordingInferer) {
	t.Helper()
	conv := converter.NewGeneric()
	inf := &recordingInferer{}
	pool := NewWorkerPool(4)
	t.Cleanup(pool.Close)
	b := New(name, maxBatch, timeout, conv, inf, pool, nil)
	b.Start()
	t.Cleanup(b.Stop)
	return b, inf
}

func tensorMsg(v int64) *message.Message {
	return &message.Message{GTensors: []message.Tensor{{Name: "x", Shape: []int64{1}, DType: message.DTypeInt64, FlatInt64: []int64{v}}}}
}

func TestSubmitEveryCallerReturnsExactlyOnce(t *testing.T) {
	b, _ := newEchoBatcher(t, "echo", 8, 5*time.Millisecond)

	const n = 50
	var wg sync.WaitGroup
	var returned int64
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			ctx := rcontext.New(tensorMsg(int64(v)))
			out, err := b.Submit(tensorMsg(int64(v)), ctx)
			if err != nil {
				t.Errorf("Submit() error = %v", err)
				return
			}
			if out.GTensors[0].FlatInt64[0] != int64(v) {
				t.Errorf("Submit() result = %v, want %d", out.GTensors[0].FlatInt64, v)
			}
			atomic.AddInt64(&returned, 1)
		}(i)
	}
	wg.Wait()

	if returned != n {
		t.Fatalf("returned = %d, want %d", returned, n)
	}
}

// TestProcessBatchEmitsSpanWhenTracerAttached proves a dispatched batch
// actually exercises StartBatch rather than only unit-testing it in
// isolation.
func TestProcessBatchEmitsSpanWhenTracerAttached(t *testing.T) {
	cfg := telemetry.DefaultConfig()
	cfg.Enabled = true
	cfg.Exporter = "stdout"
	tracer, err := telemetry.Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("telemetry.Init() error = %v", err)
	}
	defer func() { _ = tracer.Shutdown(context.Background()) }()

	b, _ := newEchoBatcher(t, "echo-traced", 8, 5*time.Millisecond)
	b.Tracer = tracer

	ctx := rcontext.New(tensorMsg(7))
	out, err := b.Submit(tensorMsg(7), ctx)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if out.GTensors[0].FlatInt64[0] != 7 {
		t.Fatalf("Submit() result = %v, want [7]", out.GTensors[0].FlatInt64)
	}
}

func TestStopReleasesParkedSubmitters(t *testing.T) {
	conv := converter.NewGeneric()
	inf := &recordingInferer{}
	pool := NewWorkerPool(2)
	defer pool.Close()
	// A long timeout so Submit calls stay parked until Stop.
	b := New("slow", 100, time.Hour, conv, inf, pool, nil)
	b.Start()

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx := rcontext.New(tensorMsg(int64(i)))
			_, err := b.Submit(tensorMsg(int64(i)), ctx)
			errs[i] = err
		}(i)
	}

	time.Sleep(20 * time.Millisecond) // let them park
	b.Stop()
	wg.Wait()

	for i, err := range errs {
		if err == nil {
			t.Errorf("submitter %d: want shutdown error, got nil", i)
		}
	}
}

func TestMaxBatchSizeOneNeverWaitsForTimeout(t *testing.T) {
	b, inf := newEchoBatcher(t, "single", 1, time.Hour)

	ctx := rcontext.New(tensorMsg(1))
	start := time.Now()
	if _, err := b.Submit(tensorMsg(1), ctx); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Fatalf("Submit() with max_batch_size=1 took %v, want near-immediate", elapsed)
	}

	inf.mu.Lock()
	defer inf.mu.Unlock()
	for _, sz := range inf.sizes {
		if sz > 1 {
			t.Fatalf("observed a batch of size %d with max_batch_size=1", sz)
		}
	}
}

func TestZeroTimeoutDispatchesImmediately(t *testing.T) {
	b, _ := newEchoBatcher(t, "notimeout", 16, 0)

	ctx := rcontext.New(tensorMsg(7))
	start := time.Now()
	out, err := b.Submit(tensorMsg(7), ctx)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Fatalf("Submit() with batch_timeout=0 took %v, want immediate dispatch", elapsed)
	}
	if out.GTensors[0].FlatInt64[0] != 7 {
		t.Fatalf("Submit() result = %v, want [7]", out.GTensors[0].FlatInt64)
	}
}

func TestNoConverterModeUsesBatchInferMessage(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Close()
	b := New("echo-msg", 8, 5*time.Millisecond, nil, inferer.NewEcho(), pool, nil)
	b.Start()
	defer b.Stop()

	ctx := rcontext.New(&message.Message{StrData: "unused"})
	in := &message.Message{GTensors: []message.Tensor{{Name: "x", DType: message.DTypeInt64, FlatInt64: []int64{3}}}}
	out, err := b.Submit(in, ctx)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if out.GTensors[0].FlatInt64[0] != 3 {
		t.Fatalf("Submit() result = %v, want [3]", out.GTensors[0].FlatInt64)
	}
}

// failingConverter always fails BatchPreProcess, to exercise the error
// path where every context must still be notified exactly once.
type failingConverter struct {
	converter.Base
}

func (f *failingConverter) Clone() converter.Converter { return f }

func (f *failingConverter) BatchPreProcess(msgs []*message.Message, ctxs []converter.ContextHandle) ([]message.Tensor, error) {
	return nil, &converter.ConverterError{Msg: "synthetic failure"}
}

func TestBatchPreProcessFailureNotifiesEveryContext(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Close()
	b := New("failing", 4, 5*time.Millisecond, &failingConverter{}, inferer.NewEcho(), pool, nil)
	b.Start()
	defer b.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := rcontext.New(tensorMsg(1))
			_, err := b.Submit(tensorMsg(1), ctx)
			if err == nil {
				t.Errorf("Submit() with failing converter: want error, got nil")
			}
		}()
	}
	wg.Wait()
}
