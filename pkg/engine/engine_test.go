package engine

import (
	"testing"

	"github.com/nkazachenko/grps-core-go/pkg/config"
	"github.com/nkazachenko/grps-core-go/pkg/message"
	"github.com/nkazachenko/grps-core-go/pkg/rcontext"
)

func baseServerConfig() *config.ServerConfig {
	return config.DefaultServerConfig()
}

func echoModelConfig() config.ModelConfig {
	return config.ModelConfig{
		Name:          "echo",
		Version:       "1",
		Device:        "cpu",
		InfererType:   "builtinA",
		InfererName:   "echo",
		ConverterType: "builtinA",
		ConverterName: "generic",
		Batching:      config.BatchingConfig{Type: "none"},
	}
}

func tensorMsg(v int64) *message.Message {
	return &message.Message{GTensors: []message.Tensor{{Name: "x", Shape: []int64{1}, DType: message.DTypeInt64, FlatInt64: []int64{v}}}}
}

func TestBootstrapSingleModelNoPipeline(t *testing.T) {
	serverCfg := baseServerConfig()
	inferCfg := &config.InferenceConfig{Models: []config.ModelConfig{echoModelConfig()}}

	e, err := Bootstrap(serverCfg, inferCfg, Options{})
	if err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	defer e.Stop()

	if _, ok := e.Nodes["echo-1"]; !ok {
		t.Fatal("expected a node keyed \"echo-1\"")
	}

	in := tensorMsg(7)
	out := &message.Message{}
	ctx := rcontext.New(in)
	if err := e.Infer(in, out, ctx, "echo-1"); err != nil {
		t.Fatalf("Infer() error = %v", err)
	}
	if out.GTensors[0].FlatInt64[0] != 7 {
		t.Fatalf("Infer() out = %v, want [7]", out.GTensors[0].FlatInt64)
	}
}

func TestBootstrapBuildsSequentialPipeline(t *testing.T) {
	serverCfg := baseServerConfig()
	inferCfg := &config.InferenceConfig{
		Models: []config.ModelConfig{echoModelConfig()},
		DAG: config.DAGConfig{
			Type: "sequential",
			Name: "single-stage",
			Nodes: []config.DAGNodeConfig{
				{Name: "predict", Type: "model", Model: "echo-1"},
			},
		},
	}

	e, err := Bootstrap(serverCfg, inferCfg, Options{})
	if err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	defer e.Stop()

	if e.Pipeline == nil {
		t.Fatal("expected a non-nil Pipeline")
	}

	in := tensorMsg(3)
	out := &message.Message{}
	ctx := rcontext.New(in)
	if err := e.Infer(in, out, ctx, ""); err != nil {
		t.Fatalf("Infer() error = %v", err)
	}
	if out.GTensors[0].FlatInt64[0] != 3 {
		t.Fatalf("Infer() out = %v, want [3]", out.GTensors[0].FlatInt64)
	}
}

func TestBootstrapRejectsUnknownDAGModelReference(t *testing.T) {
	serverCfg := baseServerConfig()
	inferCfg := &config.InferenceConfig{
		Models: []config.ModelConfig{echoModelConfig()},
		DAG: config.DAGConfig{
			Type:  "sequential",
			Nodes: []config.DAGNodeConfig{{Name: "predict", Model: "missing-1"}},
		},
	}

	if _, err := Bootstrap(serverCfg, inferCfg, Options{}); err == nil {
		t.Fatal("expected Bootstrap to reject a dag node referencing an unknown model")
	}
}

func TestBootstrapRejectsInvalidServerConfig(t *testing.T) {
	serverCfg := baseServerConfig()
	serverCfg.Interface.Framework = "not-a-real-framework"
	inferCfg := &config.InferenceConfig{Models: []config.ModelConfig{echoModelConfig()}}

	if _, err := Bootstrap(serverCfg, inferCfg, Options{}); err == nil {
		t.Fatal("expected Bootstrap to reject an invalid server config")
	}
}

func TestInferUnknownModelNameIsError(t *testing.T) {
	serverCfg := baseServerConfig()
	inferCfg := &config.InferenceConfig{Models: []config.ModelConfig{echoModelConfig()}}

	e, err := Bootstrap(serverCfg, inferCfg, Options{})
	if err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	defer e.Stop()

	in := tensorMsg(1)
	out := &message.Message{}
	ctx := rcontext.New(in)
	if err := e.Infer(in, out, ctx, "does-not-exist"); err == nil {
		t.Fatal("expected Infer() to error on an unknown model_name")
	}
}

func TestOnlineOfflineLifecycle(t *testing.T) {
	serverCfg := baseServerConfig()
	inferCfg := &config.InferenceConfig{Models: []config.ModelConfig{echoModelConfig()}}

	e, err := Bootstrap(serverCfg, inferCfg, Options{})
	if err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	defer e.Stop()

	if e.IsOnline() {
		t.Fatal("expected engine to start offline")
	}
	e.Online()
	if !e.IsOnline() {
		t.Fatal("expected IsOnline() true after Online()")
	}
	e.Offline()
	if e.IsOnline() {
		t.Fatal("expected IsOnline() false after Offline()")
	}
}
