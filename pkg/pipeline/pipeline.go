// Package pipeline implements the sequential pipeline executor: an
// ordered list of stage nodes, each fed the previous stage's output, per
// §4.6. The design reserves room for a future DAG executor (spec.md §3),
// but only the linear case is implemented here.
package pipeline

import (
	"github.com/nkazachenko/grps-core-go/pkg/message"
	"github.com/nkazachenko/grps-core-go/pkg/rcontext"
	"github.com/nkazachenko/grps-core-go/pkg/stage"
)

// PipelineError is raised for a malformed or empty pipeline definition.
type PipelineError struct {
	Msg string
}

func (e *PipelineError) Error() string { return e.Msg }

// Sequential is the linear pipeline executor: stage i's output becomes
// stage i+1's input, in-place aliasing allowed (each stage clears out
// itself where needed, per §4.6).
type Sequential struct {
	Name   string
	Stages []*stage.Node
}

// New builds a sequential pipeline from an ordered list of stage nodes.
func New(name string, stages []*stage.Node) (*Sequential, error) {
	if len(stages) == 0 {
		return nil, &PipelineError{Msg: "pipeline: " + name + " has no stages"}
	}
	return &Sequential{Name: name, Stages: stages}, nil
}

// Process drives in through every stage in order, writing the pipeline's
// final output into out. Stage i>0 receives stage i-1's output as its own
// input. Any stage error, or any ctx.HasError() set by an earlier stage,
// short-circuits the remaining chain.
func (p *Sequential) Process(in *message.Message, out *message.Message, ctx *rcontext.Context) error {
	cur := in
	for i, s := range p.Stages {
		if ctx.HasError() {
			return &PipelineError{Msg: "pipeline: " + p.Name + ": short-circuited before stage " + s.StageName}
		}

		stageOut := out
		if i < len(p.Stages)-1 {
			stageOut = &message.Message{}
		}

		if err := s.Process(cur, stageOut, ctx); err != nil {
			return err
		}
		cur = stageOut
	}
	return nil
}
