package pipeline

import (
	"testing"

	"github.com/nkazachenko/grps-core-go/pkg/converter"
	"github.com/nkazachenko/grps-core-go/pkg/inferer"
	"github.com/nkazachenko/grps-core-go/pkg/message"
	"github.com/nkazachenko/grps-core-go/pkg/model"
	"github.com/nkazachenko/grps-core-go/pkg/rcontext"
	"github.com/nkazachenko/grps-core-go/pkg/stage"
)

func tensorMsg(v int64) *message.Message {
	return &message.Message{GTensors: []message.Tensor{{Name: "x", Shape: []int64{1}, DType: message.DTypeInt64, FlatInt64: []int64{v}}}}
}

func echoStage(name string) *stage.Node {
	m := &model.Model{Name: name, Version: "1", Converter: converter.NewGeneric(), Inferer: inferer.NewEcho()}
	return stage.New(name, m)
}

func TestNewRejectsEmptyPipeline(t *testing.T) {
	if _, err := New("empty", nil); err == nil {
		t.Fatalf("New() with no stages: want error, got nil")
	}
}

func TestSequentialProcessChainsStageOutputToNextInput(t *testing.T) {
	p, err := New("chain", []*stage.Node{echoStage("a"), echoStage("b"), echoStage("c")})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	in := tensorMsg(11)
	out := &message.Message{}
	ctx := rcontext.New(in)

	if err := p.Process(in, out, ctx); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if out.GTensors[0].FlatInt64[0] != 11 {
		t.Fatalf("Process() out = %v, want [11]", out.GTensors[0].FlatInt64)
	}
}

func TestSequentialProcessShortCircuitsOnStageError(t *testing.T) {
	m := &model.Model{Name: "broken", Version: "1", Inferer: &failingInferer{}}
	broken := stage.New("broken", m)
	after := echoStage("after")

	p, err := New("chain", []*stage.Node{broken, after})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	in := tensorMsg(1)
	out := &message.Message{}
	ctx := rcontext.New(in)

	if err := p.Process(in, out, ctx); err == nil {
		t.Fatalf("Process() with a failing stage: want error, got nil")
	}
	if !ctx.HasError() {
		t.Fatalf("Process() with a failing stage: ctx.HasError() = false")
	}
}

type failingInferer struct {
	inferer.Base
}

func (f *failingInferer) Clone() inferer.Inferer { return f }

func (f *failingInferer) InferMessage(in *message.Message) (*message.Message, error) {
	return nil, &inferer.InfererError{Msg: "synthetic failure"}
}
