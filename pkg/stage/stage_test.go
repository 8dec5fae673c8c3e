package stage

import (
	"context"
	"testing"
	"time"

	"github.com/nkazachenko/grps-core-go/pkg/batcher"
	"github.com/nkazachenko/grps-core-go/pkg/converter"
	"github.com/nkazachenko/grps-core-go/pkg/inferer"
	"github.com/nkazachenko/grps-core-go/pkg/message"
	"github.com/nkazachenko/grps-core-go/pkg/model"
	"github.com/nkazachenko/grps-core-go/pkg/rcontext"
	"github.com/nkazachenko/grps-core-go/pkg/telemetry"
)

func tensorMsg(v int64) *message.Message {
	return &message.Message{GTensors: []message.Tensor{{Name: "x", Shape: []int64{1}, DType: message.DTypeInt64, FlatInt64: []int64{v}}}}
}

func TestProcessInfererOnlyNoConverterNoBatcher(t *testing.T) {
	m := &model.Model{Name: "echo", Version: "1", Inferer: inferer.NewEcho()}
	n := New("echo-stage", m)

	in := tensorMsg(5)
	out := &message.Message{}
	ctx := rcontext.New(in)

	if err := n.Process(in, out, ctx); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if out.GTensors[0].FlatInt64[0] != 5 {
		t.Fatalf("Process() out = %v, want [5]", out.GTensors[0].FlatInt64)
	}
}

func TestProcessWithConverterChain(t *testing.T) {
	m := &model.Model{Name: "echo", Version: "1", Converter: converter.NewGeneric(), Inferer: inferer.NewEcho()}
	n := New("echo-stage", m)

	in := tensorMsg(9)
	out := &message.Message{}
	ctx := rcontext.New(in)

	if err := n.Process(in, out, ctx); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if out.GTensors[0].FlatInt64[0] != 9 {
		t.Fatalf("Process() out = %v, want [9]", out.GTensors[0].FlatInt64)
	}
}

func TestProcessShortCircuitsOnPriorError(t *testing.T) {
	m := &model.Model{Name: "echo", Version: "1", Inferer: inferer.NewEcho()}
	n := New("echo-stage", m)

	in := tensorMsg(1)
	out := &message.Message{}
	ctx := rcontext.New(in)
	ctx.SetError("already broken")

	if err := n.Process(in, out, ctx); err == nil {
		t.Fatalf("Process() with pre-existing ctx error: want error, got nil")
	}
}

func TestProcessRoutesThroughBatcherWhenAttached(t *testing.T) {
	pool := batcher.NewWorkerPool(2)
	defer pool.Close()
	b := batcher.New("echo-batcher", 4, 5*time.Millisecond, converter.NewGeneric(), inferer.NewEcho(), pool, nil)
	b.Start()
	defer b.Stop()

	m := &model.Model{Name: "echo", Version: "1", Converter: converter.NewGeneric(), Inferer: inferer.NewEcho(), Batcher: b}
	n := New("echo-stage", m)

	in := tensorMsg(3)
	out := &message.Message{}
	ctx := rcontext.New(in)

	if err := n.Process(in, out, ctx); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if out.GTensors[0].FlatInt64[0] != 3 {
		t.Fatalf("Process() out = %v, want [3]", out.GTensors[0].FlatInt64)
	}
}

// TestProcessEmitsSpansWhenTracerAttached proves a request routed through
// a converter+inferer chain actually exercises the stage's span helpers
// rather than only unit-testing them in isolation.
func TestProcessEmitsSpansWhenTracerAttached(t *testing.T) {
	cfg := telemetry.DefaultConfig()
	cfg.Enabled = true
	cfg.Exporter = "stdout"
	tracer, err := telemetry.Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("telemetry.Init() error = %v", err)
	}
	defer func() { _ = tracer.Shutdown(context.Background()) }()

	m := &model.Model{Name: "echo", Version: "1", Converter: converter.NewGeneric(), Inferer: inferer.NewEcho()}
	n := New("echo-stage", m)
	n.Tracer = tracer

	in := tensorMsg(4)
	out := &message.Message{}
	ctx := rcontext.New(in)

	if err := n.Process(in, out, ctx); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if out.GTensors[0].FlatInt64[0] != 4 {
		t.Fatalf("Process() out = %v, want [4]", out.GTensors[0].FlatInt64)
	}
}
