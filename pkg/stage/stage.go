// Package stage implements the stage node: one model invocation step in a
// pipeline, routing a request through a batcher when one is attached, or
// running converter+inferer inline otherwise, per §4.6.
package stage

import (
	"context"
	"time"

	"github.com/nkazachenko/grps-core-go/pkg/message"
	"github.com/nkazachenko/grps-core-go/pkg/metrics"
	"github.com/nkazachenko/grps-core-go/pkg/model"
	"github.com/nkazachenko/grps-core-go/pkg/rcontext"
	"github.com/nkazachenko/grps-core-go/pkg/telemetry"
	"go.opentelemetry.io/otel/trace"
)

// StageError wraps a failure raised by the stage node itself, as opposed to
// one surfaced through ctx's sticky error flag.
type StageError struct {
	Msg string
}

func (e *StageError) Error() string { return e.Msg }

// Node holds references to one Model's {converter?, inferer, batcher?} plus
// the stage's own name (which may differ from the model's name in a DAG
// with repeated model references), and drives Process per §4.6's routing
// rule.
type Node struct {
	StageName string
	Model     *model.Model

	// Agg and Prom are optional metrics sinks; either may be nil (e.g. in
	// tests), in which case the corresponding recording is skipped.
	Agg  *metrics.Aggregator
	Prom *metrics.Prom

	// Tracer is an optional span source; nil disables tracing entirely
	// (Process runs exactly as it did before tracing existed).
	Tracer *telemetry.Provider
}

// New builds a stage node for model m, named stageName for latency
// recording and logging.
func New(stageName string, m *model.Model) *Node {
	return &Node{StageName: stageName, Model: m}
}

// Process runs in as the stage's input and writes the stage's output into
// the message out points to, observing ctx's sticky error state. It
// implements the three-way routing rule from §4.6:
//   - a batcher attached: submit and return, the batcher owns the
//     converter/inferer chain;
//   - a converter attached: PreProcess → Infer → PostProcess, clearing out
//     before post-process, short-circuiting at any step where
//     ctx.HasError();
//   - neither: call the inferer's message-in/message-out path directly.
func (n *Node) Process(in *message.Message, out *message.Message, ctx *rcontext.Context) error {
	if ctx.HasError() {
		return &StageError{Msg: ctx.ErrorMsg()}
	}

	ctx.SetConverter(n.Model.Converter)
	ctx.SetInferer(n.Model.Inferer)

	goCtx := context.Background()
	var span trace.Span
	if n.Tracer != nil {
		goCtx, span = n.Tracer.StartRequest(goCtx, n.StageName)
		defer span.End()
	}

	if n.Model.Batcher != nil {
		result, err := n.Model.Batcher.Submit(in, ctx)
		if err != nil {
			ctx.SetError(err.Error())
			n.recordErr(span, err)
			return err
		}
		out.Clear()
		*out = *result
		return nil
	}

	if n.Model.Converter != nil {
		return n.processWithConverter(goCtx, span, in, out, ctx)
	}

	return n.processInfererOnly(goCtx, span, in, out, ctx)
}

func (n *Node) processWithConverter(goCtx context.Context, reqSpan trace.Span, in *message.Message, out *message.Message, ctx *rcontext.Context) error {
	var preSpan trace.Span
	if n.Tracer != nil {
		_, preSpan = n.Tracer.StartPreProcess(goCtx, n.Model.Name)
	}
	t0 := time.Now()
	tensors, err := n.Model.Converter.PreProcess(in, ctx)
	d0 := time.Since(t0)
	n.recordStage("preprocess", d0)
	if preSpan != nil {
		telemetry.RecordResult(preSpan, n.Model.Name, d0)
		preSpan.End()
	}
	if err != nil {
		ctx.SetError(err.Error())
		n.recordErr(reqSpan, err)
		return err
	}
	if ctx.HasError() {
		return &StageError{Msg: ctx.ErrorMsg()}
	}

	var inferSpan trace.Span
	if n.Tracer != nil {
		_, inferSpan = n.Tracer.StartInfer(goCtx, n.Model.Name, len(tensors))
	}
	t1 := time.Now()
	outTensors, err := n.Model.Inferer.Infer(tensors)
	d1 := time.Since(t1)
	n.recordStage("infer", d1)
	if inferSpan != nil {
		telemetry.RecordResult(inferSpan, n.Model.Name, d1)
		inferSpan.End()
	}
	if err != nil {
		ctx.SetError(err.Error())
		n.recordErr(reqSpan, err)
		return err
	}
	if ctx.HasError() {
		return &StageError{Msg: ctx.ErrorMsg()}
	}

	out.Clear()
	var postSpan trace.Span
	if n.Tracer != nil {
		_, postSpan = n.Tracer.StartPostProcess(goCtx, n.Model.Name)
	}
	t2 := time.Now()
	result, err := n.Model.Converter.PostProcess(outTensors, ctx)
	d2 := time.Since(t2)
	n.recordStage("postprocess", d2)
	if postSpan != nil {
		telemetry.RecordResult(postSpan, n.Model.Name, d2)
		postSpan.End()
	}
	if err != nil {
		ctx.SetError(err.Error())
		n.recordErr(reqSpan, err)
		return err
	}
	*out = *result
	return nil
}

func (n *Node) processInfererOnly(goCtx context.Context, reqSpan trace.Span, in *message.Message, out *message.Message, ctx *rcontext.Context) error {
	var inferSpan trace.Span
	if n.Tracer != nil {
		_, inferSpan = n.Tracer.StartInfer(goCtx, n.Model.Name, 1)
	}
	t0 := time.Now()
	result, err := n.Model.Inferer.InferMessage(in)
	d0 := time.Since(t0)
	n.recordStage("infer", d0)
	if inferSpan != nil {
		telemetry.RecordResult(inferSpan, n.Model.Name, d0)
		inferSpan.End()
	}
	if err != nil {
		ctx.SetError(err.Error())
		n.recordErr(reqSpan, err)
		return err
	}
	out.Clear()
	*out = *result
	return nil
}

func (n *Node) recordStage(phase string, d time.Duration) {
	seriesName := n.StageName + "." + phase + ".latency_ms"
	ms := float64(d.Microseconds()) / 1000.0
	if n.Agg != nil {
		n.Agg.Record(seriesName, ms, metrics.KindCDF)
	}
	if n.Prom != nil {
		n.Prom.RecordStage(n.Model.Name, phase, d)
	}
}

func (n *Node) recordErr(span trace.Span, err error) {
	if span != nil {
		telemetry.RecordError(span, err)
	}
}
