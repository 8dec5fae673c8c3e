// Package engine implements the bootstrapper described in §4.7: it reads
// the server and inference configuration documents, resolves every
// model's inferer/converter/batcher, builds the pipeline named by the
// dag section, and exposes a single Infer entry point the transport
// front ends call. It also owns the process-wide lifecycle state the
// transports' health endpoints read: PID/VERSION files, the
// online/offline switch, and the metrics/tracing/logging sinks every
// stage writes through.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/nkazachenko/grps-core-go/pkg/batcher"
	"github.com/nkazachenko/grps-core-go/pkg/cache"
	"github.com/nkazachenko/grps-core-go/pkg/config"
	"github.com/nkazachenko/grps-core-go/pkg/converter"
	"github.com/nkazachenko/grps-core-go/pkg/inferer"
	"github.com/nkazachenko/grps-core-go/pkg/memmgr"
	"github.com/nkazachenko/grps-core-go/pkg/message"
	"github.com/nkazachenko/grps-core-go/pkg/metrics"
	"github.com/nkazachenko/grps-core-go/pkg/model"
	"github.com/nkazachenko/grps-core-go/pkg/pipeline"
	"github.com/nkazachenko/grps-core-go/pkg/rcontext"
	"github.com/nkazachenko/grps-core-go/pkg/stage"
	"github.com/nkazachenko/grps-core-go/pkg/telemetry"
)

// Version is the build version written to ./VERSION at startup and
// served from /grps/v1/metadata/server. Overridden at link time in a
// real build; a plain default keeps the package usable standalone.
var Version = "0.1.0-dev"

// PID/VERSION file names, from original_source/src/main.cc.
const (
	pidFileName     = "PID"
	versionFileName = "VERSION"
)

// Engine is the bootstrapped runtime: every model's node, the pipeline
// built from the dag section, and the ambient sinks (metrics, tracing,
// cache, memory manager) every stage reaches through.
type Engine struct {
	ServerCfg *config.ServerConfig
	InferCfg  *config.InferenceConfig

	Models   map[string]*model.Model
	Nodes    map[string]*stage.Node
	Pipeline *pipeline.Sequential

	Agg    *metrics.Aggregator
	Prom   *metrics.Prom
	Cache  cache.Cache
	MemMgr memmgr.MemMgr
	Tracer *telemetry.Provider
	Log    *slog.Logger

	pool   *batcher.WorkerPool
	online atomic.Bool

	stopCtx    context.Context
	stopCancel context.CancelFunc
}

// Options carries the ambient sinks the caller (normally the CLI's serve
// command) has already constructed, so Bootstrap stays a pure function
// of config plus pre-built infrastructure rather than reaching into
// globals.
type Options struct {
	Log    *slog.Logger
	Cache  cache.Cache
	Tracer *telemetry.Provider

	// OnModelReady, if set, is called once per model immediately after its
	// inferer/converter have been Init'd and Load'd, in inference-document
	// order. Lets a CLI warmup command report load progress per model
	// without Bootstrap itself depending on a progress-bar library.
	OnModelReady func(key string)
}

// Bootstrap implements §4.7 steps 1-4: validates both documents, resolves
// every model, starts its batcher if declared, and builds the pipeline.
// Failure at any step aborts with a precise EngineConfigError naming the
// offending key, matching the teacher's accumulate-then-report style.
func Bootstrap(serverCfg *config.ServerConfig, inferCfg *config.InferenceConfig, opts Options) (*Engine, error) {
	if err := config.ValidateServer(serverCfg); err != nil {
		return nil, err
	}
	if err := config.ValidateInference(inferCfg); err != nil {
		return nil, err
	}

	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	mm, err := memmgr.New(serverCfg.GPU.MemManagerType, serverCfg.GPU.Devices)
	if err != nil {
		return nil, &config.EngineConfigError{Msg: err.Error()}
	}

	e := &Engine{
		ServerCfg: serverCfg,
		InferCfg:  inferCfg,
		Models:    make(map[string]*model.Model, len(inferCfg.Models)),
		Nodes:     make(map[string]*stage.Node, len(inferCfg.Models)),
		Agg:       metrics.New(log),
		Prom:      metrics.NewProm(),
		Cache:     opts.Cache,
		MemMgr:    mm,
		Tracer:    opts.Tracer,
		Log:       log,
		pool:      batcher.NewWorkerPool(serverCfg.MaxConcurrency),
	}
	e.stopCtx, e.stopCancel = context.WithCancel(context.Background())

	for _, mc := range inferCfg.Models {
		node, err := e.buildModel(mc)
		if err != nil {
			return nil, err
		}
		e.Nodes[mc.Key()] = node
		if opts.OnModelReady != nil {
			opts.OnModelReady(mc.Key())
		}
	}

	if err := e.buildPipeline(); err != nil {
		return nil, err
	}

	return e, nil
}

// buildModel implements §4.7 step 2-3 for one model entry: resolve
// inferer/converter by name (both builtin and customized types are
// registry-backed in this implementation, see DESIGN.md), Init+Load
// them, and start a dynamic batcher if batching.type is "dynamic".
func (e *Engine) buildModel(mc config.ModelConfig) (*stage.Node, error) {
	key := mc.Key()

	inf, err := inferer.Get(mc.InfererName)
	if err != nil {
		return nil, &config.EngineConfigError{Msg: fmt.Sprintf("models[%s].inferer_name: %v", key, err)}
	}
	if err := inf.Init(mc.InfererPath, mc.Device, mc.InfererArgs); err != nil {
		return nil, &config.EngineConfigError{Msg: fmt.Sprintf("models[%s]: inferer Init failed: %v", key, err)}
	}
	if err := inf.Load(); err != nil {
		return nil, &config.EngineConfigError{Msg: fmt.Sprintf("models[%s]: inferer Load failed: %v", key, err)}
	}

	var conv converter.Converter
	if mc.ConverterType != "none" && mc.ConverterType != "" {
		conv, err = converter.Get(mc.ConverterName)
		if err != nil {
			return nil, &config.EngineConfigError{Msg: fmt.Sprintf("models[%s].converter_name: %v", key, err)}
		}
		if err := conv.Init(mc.ConverterPath, mc.ConverterArgs); err != nil {
			return nil, &config.EngineConfigError{Msg: fmt.Sprintf("models[%s]: converter Init failed: %v", key, err)}
		}
	}

	m := &model.Model{Name: mc.Name, Version: mc.Version, Converter: conv, Inferer: inf}

	if mc.Batching.Type == "dynamic" {
		timeout := time.Duration(mc.Batching.BatchTimeoutUs) * time.Microsecond
		dyn := batcher.New(key, mc.Batching.MaxBatchSize, timeout, conv, inf, e.pool,
			func(size int) { e.Prom.RecordBatch(key, size) })
		dyn.Tracer = e.Tracer
		dyn.Start()
		m.Batcher = dyn
	}

	e.Models[key] = m
	node := stage.New(key, m)
	node.Agg = e.Agg
	node.Prom = e.Prom
	node.Tracer = e.Tracer
	return node, nil
}

// buildPipeline implements §4.7 step 4: "type: sequential" chains the
// dag's nodes in order; "type: graph" parses (per §6) but is rejected
// here since a DAG executor is out of this core's scope.
func (e *Engine) buildPipeline() error {
	dag := e.InferCfg.DAG
	if len(dag.Nodes) == 0 {
		return nil
	}
	if dag.Type == "graph" {
		return &config.EngineConfigError{Msg: "dag.type: \"graph\" is accepted syntactically but has no executor in this build"}
	}

	stages := make([]*stage.Node, 0, len(dag.Nodes))
	for _, n := range dag.Nodes {
		node, ok := e.Nodes[n.Model]
		if !ok {
			return &config.EngineConfigError{Msg: fmt.Sprintf("dag.nodes[%s]: references unknown model %q", n.Name, n.Model)}
		}
		stages = append(stages, node)
	}

	p, err := pipeline.New(dag.Name, stages)
	if err != nil {
		return &config.EngineConfigError{Msg: err.Error()}
	}
	e.Pipeline = p
	return nil
}

// Infer implements §4.7 step 5: an empty modelName runs the configured
// pipeline end to end; a non-empty modelName bypasses the pipeline and
// runs that single model's node directly.
func (e *Engine) Infer(in *message.Message, out *message.Message, ctx *rcontext.Context, modelName string) error {
	if modelName != "" {
		node, ok := e.Nodes[modelName]
		if !ok {
			return &config.EngineConfigError{Msg: fmt.Sprintf("infer: unknown model %q", modelName)}
		}
		return node.Process(in, out, ctx)
	}
	if e.Pipeline == nil {
		return &config.EngineConfigError{Msg: "infer: no pipeline configured and no model_name given"}
	}
	return e.Pipeline.Process(in, out, ctx)
}

// Start brings up the engine's background loops (metrics aggregation,
// the metrics log dump, and periodic GPU memory GC) and writes the
// PID/VERSION files, per the persisted-state requirement in §6. Call
// once, after Bootstrap succeeds and before accepting traffic.
func (e *Engine) Start() error {
	if err := e.writePID(); err != nil {
		return err
	}
	if err := e.writeVersion(); err != nil {
		return err
	}

	go e.Agg.Run(e.stopCtx)
	go e.Agg.DumpLoop(e.stopCtx, e.Log, time.Minute)

	if e.ServerCfg.GPU.MemGCEnable {
		interval := time.Duration(e.ServerCfg.GPU.MemGCInterval) * time.Second
		if interval <= 0 {
			interval = time.Minute
		}
		go e.memGCLoop(interval)
	}

	return nil
}

func (e *Engine) memGCLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCtx.Done():
			return
		case <-ticker.C:
			e.MemMgr.MemGC()
		}
	}
}

// Stop tears down every batcher's dispatcher, the worker pool, and the
// background loops started by Start. Call at most once.
func (e *Engine) Stop() {
	e.stopCancel()
	for _, m := range e.Models {
		if m.Batcher != nil {
			m.Batcher.Stop()
		}
	}
	e.pool.Close()
	if e.Cache != nil {
		_ = e.Cache.Close()
	}
}

// Online flips the health state the ready endpoint reads to true, per
// grps_handler.cc's health lifecycle.
func (e *Engine) Online() { e.online.Store(true) }

// Offline flips the health state back to false.
func (e *Engine) Offline() { e.online.Store(false) }

// IsOnline reports the current health state.
func (e *Engine) IsOnline() bool { return e.online.Load() }

func (e *Engine) writePID() error {
	return os.WriteFile(pidFileName, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func (e *Engine) writeVersion() error {
	return os.WriteFile(versionFileName, []byte(Version), 0o644)
}
