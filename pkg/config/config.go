// Package config loads, validates, and environment-interpolates the two
// declarative configuration documents described in §6: the server
// document (interface/transport/resource settings) and the inference
// document (model and pipeline definitions).
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// ServerConfig is the server document: interface selection, resource
// limits, GPU memory-manager selection, and logging.
type ServerConfig struct {
	Interface      InterfaceConfig `mapstructure:"interface"`
	MaxConnections int             `mapstructure:"max_connections"`
	MaxConcurrency int             `mapstructure:"max_concurrency"`
	GPU            GPUConfig       `mapstructure:"gpu"`
	Log            LogConfig       `mapstructure:"log"`
}

// InterfaceConfig selects the transport framework and binds it.
type InterfaceConfig struct {
	Framework             string                 `mapstructure:"framework"`
	Host                  string                 `mapstructure:"host"`
	Port                  string                 `mapstructure:"port"`
	CustomizedPredictHTTP CustomizedPredictConfig `mapstructure:"customized_predict_http"`
}

// CustomizedPredictConfig describes an optional user-overridable predict
// endpoint and how its streaming flag is read.
type CustomizedPredictConfig struct {
	Path            string              `mapstructure:"path"`
	CustomizedBody  bool                `mapstructure:"customized_body"`
	StreamingCtrl   StreamingCtrlConfig `mapstructure:"streaming_ctrl"`
}

// StreamingCtrlConfig names where the streaming flag lives on a
// customized-predict request.
type StreamingCtrlConfig struct {
	CtrlMode       string `mapstructure:"ctrl_mode"`
	CtrlKey        string `mapstructure:"ctrl_key"`
	ResContentType string `mapstructure:"res_content_type"`
}

// GPUConfig selects the GPU memory-manager backend and its limits.
type GPUConfig struct {
	MemManagerType string `mapstructure:"mem_manager_type"`
	MemLimitMiB    int    `mapstructure:"mem_limit_mib"`
	MemGCEnable    bool   `mapstructure:"mem_gc_enable"`
	MemGCInterval  int    `mapstructure:"mem_gc_interval"`
	Devices        []int  `mapstructure:"devices"`
}

// LogConfig names the log directory and rotation backup count.
type LogConfig struct {
	LogDir         string `mapstructure:"log_dir"`
	LogBackupCount int    `mapstructure:"log_backup_count"`
}

// InferenceConfig is the inference document: model definitions and the
// pipeline DAG.
type InferenceConfig struct {
	Models []ModelConfig `mapstructure:"models"`
	DAG    DAGConfig     `mapstructure:"dag"`
}

// ModelConfig declares one model entry per §6.
type ModelConfig struct {
	Name           string            `mapstructure:"name"`
	Version        string            `mapstructure:"version"`
	Device         string            `mapstructure:"device"`
	InfererType    string            `mapstructure:"inferer_type"`
	InfererName    string            `mapstructure:"inferer_name"`
	InfererPath    string            `mapstructure:"inferer_path"`
	InfererArgs    map[string]string `mapstructure:"inferer_args"`
	ConverterType  string            `mapstructure:"converter_type"`
	ConverterName  string            `mapstructure:"converter_name"`
	ConverterPath  string            `mapstructure:"converter_path"`
	ConverterArgs  map[string]string `mapstructure:"converter_args"`
	Batching       BatchingConfig    `mapstructure:"batching"`
}

// Key returns the model's "name-version" registry identity.
func (m ModelConfig) Key() string {
	return fmt.Sprintf("%s-%s", m.Name, m.Version)
}

// BatchingConfig names the batching strategy for a model. Type "none"
// (the default) means the stage node runs the converter/inferer chain
// inline with no dispatcher.
type BatchingConfig struct {
	Type           string `mapstructure:"type"`
	MaxBatchSize   int    `mapstructure:"max_batch_size"`
	BatchTimeoutUs int    `mapstructure:"batch_timeout_us"`
}

// DAGConfig describes the pipeline graph. Only "sequential" is executed;
// "graph" parses but is rejected at bootstrap, reserved for a future DAG
// executor per spec.md §3.
type DAGConfig struct {
	Type  string        `mapstructure:"type"`
	Name  string        `mapstructure:"name"`
	Nodes []DAGNodeConfig `mapstructure:"nodes"`
}

// DAGNodeConfig names one pipeline step and the model it invokes.
type DAGNodeConfig struct {
	Name  string `mapstructure:"name"`
	Type  string `mapstructure:"type"`
	Model string `mapstructure:"model"`
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Interface: InterfaceConfig{
			Framework: "http",
			Host:      "0.0.0.0",
			Port:      "8080",
			CustomizedPredictHTTP: CustomizedPredictConfig{
				StreamingCtrl: StreamingCtrlConfig{
					CtrlMode:       "query_param",
					CtrlKey:        "streaming",
					ResContentType: "application/octet-stream",
				},
			},
		},
		MaxConnections: 1000,
		MaxConcurrency: 8,
		GPU: GPUConfig{
			MemManagerType: "none",
		},
		Log: LogConfig{
			LogDir:         "./logs",
			LogBackupCount: 7,
		},
	}
}

// LoadServer reads the server document from v and returns a validated
// ServerConfig.
func LoadServer(v *viper.Viper) (*ServerConfig, error) {
	cfg := DefaultServerConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse server config: %w", err)
	}
	interpolateServerConfig(cfg)
	if err := ValidateServer(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadServerFromFile reads the server document at path.
func LoadServerFromFile(path string) (*ServerConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read server config file %s: %w", path, err)
	}
	return LoadServer(v)
}

// LoadInference reads the inference document from v and returns a
// validated InferenceConfig.
func LoadInference(v *viper.Viper) (*InferenceConfig, error) {
	cfg := &InferenceConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse inference config: %w", err)
	}
	interpolateInferenceConfig(cfg)
	if err := ValidateInference(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadInferenceFromFile reads the inference document at path.
func LoadInferenceFromFile(path string) (*InferenceConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read inference config file %s: %w", path, err)
	}
	return LoadInference(v)
}

var validFrameworks = map[string]bool{"http": true, "http+rpcA": true, "http+rpcB": true}
var validMemManagers = map[string]bool{"none": true, "backendA": true, "backendB": true}
var hostPattern = regexp.MustCompile(`^(\d{1,3}\.){3}\d{1,3}$`)

// ValidateServer accumulates every validation failure in cfg and returns
// them joined into a single EngineConfigError, or nil if cfg is well
// formed. Ported from the teacher's accumulate-errors-then-join pattern.
func ValidateServer(cfg *ServerConfig) error {
	var errs []string

	if !validFrameworks[cfg.Interface.Framework] {
		errs = append(errs, fmt.Sprintf("interface.framework: unsupported framework %q (supported: http, http+rpcA, http+rpcB)", cfg.Interface.Framework))
	}
	if !hostPattern.MatchString(cfg.Interface.Host) {
		errs = append(errs, fmt.Sprintf("interface.host: %q is not a dotted IPv4 address", cfg.Interface.Host))
	}
	ports := strings.Split(cfg.Interface.Port, ",")
	wantPorts := 1
	if cfg.Interface.Framework != "http" {
		wantPorts = 2
	}
	if len(ports) != wantPorts {
		errs = append(errs, fmt.Sprintf("interface.port: framework %q requires %d port(s), got %q", cfg.Interface.Framework, wantPorts, cfg.Interface.Port))
	}

	if p := cfg.Interface.CustomizedPredictHTTP.Path; p != "" {
		if !customizedPathPattern.MatchString(p) {
			errs = append(errs, fmt.Sprintf("interface.customized_predict_http.path: %q does not match ^/[A-Za-z0-9_\\-/]+$", p))
		}
		if builtinPaths[p] {
			errs = append(errs, fmt.Sprintf("interface.customized_predict_http.path: %q collides with a built-in path", p))
		}
	}
	validCtrlModes := map[string]bool{"query_param": true, "header_param": true, "body_param": true}
	if mode := cfg.Interface.CustomizedPredictHTTP.StreamingCtrl.CtrlMode; mode != "" && !validCtrlModes[mode] {
		errs = append(errs, fmt.Sprintf("interface.customized_predict_http.streaming_ctrl.ctrl_mode: unsupported mode %q", mode))
	}

	if cfg.MaxConnections < 0 {
		errs = append(errs, "max_connections: must be non-negative")
	}
	if cfg.MaxConcurrency < 1 {
		errs = append(errs, "max_concurrency: must be at least 1")
	}

	if !validMemManagers[cfg.GPU.MemManagerType] {
		errs = append(errs, fmt.Sprintf("gpu.mem_manager_type: unsupported type %q (supported: none, backendA, backendB)", cfg.GPU.MemManagerType))
	}
	if cfg.GPU.MemLimitMiB < 0 {
		errs = append(errs, "gpu.mem_limit_mib: must be non-negative")
	}
	if cfg.GPU.MemGCInterval < 0 {
		errs = append(errs, "gpu.mem_gc_interval: must be non-negative")
	}

	if cfg.Log.LogBackupCount < 1 {
		errs = append(errs, "log.log_backup_count: must be at least 1")
	}

	if len(errs) > 0 {
		return &EngineConfigError{Msg: fmt.Sprintf("server configuration errors:\n  - %s", strings.Join(errs, "\n  - "))}
	}
	return nil
}

var customizedPathPattern = regexp.MustCompile(`^/[A-Za-z0-9_\-/]+$`)

var builtinPaths = map[string]bool{
	"/grps/v1/infer/predict":         true,
	"/grps/v1/health/online":         true,
	"/grps/v1/health/offline":        true,
	"/grps/v1/health/live":           true,
	"/grps/v1/health/ready":          true,
	"/grps/v1/metadata/server":       true,
	"/grps/v1/metadata/model":        true,
	"/grps/v1/monitor/metrics":       true,
	"/grps/v1/monitor/series":        true,
}

var validInfererTypes = map[string]bool{"builtinA": true, "builtinB": true, "builtinC": true, "customized": true}
var validConverterTypes = map[string]bool{"builtinA": true, "builtinB": true, "builtinC": true, "customized": true, "none": true}
var validBatchingTypes = map[string]bool{"none": true, "dynamic": true}
var validDAGTypes = map[string]bool{"sequential": true, "graph": true}

// ValidateInference accumulates every validation failure in cfg, catching
// duplicate model keys, then returns them joined, or nil.
func ValidateInference(cfg *InferenceConfig) error {
	var errs []string

	seen := map[string]bool{}
	for _, m := range cfg.Models {
		key := m.Key()
		if seen[key] {
			errs = append(errs, fmt.Sprintf("models: duplicate model key %q", key))
		}
		seen[key] = true

		if !validInfererTypes[m.InfererType] {
			errs = append(errs, fmt.Sprintf("models[%s].inferer_type: unsupported type %q", key, m.InfererType))
		}
		if m.ConverterType != "" && !validConverterTypes[m.ConverterType] {
			errs = append(errs, fmt.Sprintf("models[%s].converter_type: unsupported type %q", key, m.ConverterType))
		}
		batchType := m.Batching.Type
		if batchType == "" {
			batchType = "none"
		}
		if !validBatchingTypes[batchType] {
			errs = append(errs, fmt.Sprintf("models[%s].batching.type: unsupported type %q", key, batchType))
		}
		if batchType == "dynamic" && m.Batching.MaxBatchSize < 1 {
			errs = append(errs, fmt.Sprintf("models[%s].batching.max_batch_size: must be at least 1", key))
		}
	}

	if cfg.DAG.Type != "" && !validDAGTypes[cfg.DAG.Type] {
		errs = append(errs, fmt.Sprintf("dag.type: unsupported type %q (supported: sequential, graph)", cfg.DAG.Type))
	}
	for _, n := range cfg.DAG.Nodes {
		if !seen[n.Model] {
			errs = append(errs, fmt.Sprintf("dag.nodes[%s]: references unknown model %q", n.Name, n.Model))
		}
	}

	if len(errs) > 0 {
		return &EngineConfigError{Msg: fmt.Sprintf("inference configuration errors:\n  - %s", strings.Join(errs, "\n  - "))}
	}
	return nil
}

// EngineConfigError is fatal at bootstrap, naming the offending key(s).
type EngineConfigError struct {
	Msg string
}

func (e *EngineConfigError) Error() string { return e.Msg }

// envVarPattern matches ${VAR} or ${VAR:-default} syntax.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// InterpolateEnv replaces ${VAR} and ${VAR:-default} patterns in s with
// the corresponding environment variable value, falling back to the
// default (or leaving the pattern untouched if neither is present).
func InterpolateEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		if defaultVal != "" {
			return defaultVal
		}
		return match
	})
}

func interpolateServerConfig(cfg *ServerConfig) {
	cfg.Interface.Host = InterpolateEnv(cfg.Interface.Host)
	cfg.Interface.Port = InterpolateEnv(cfg.Interface.Port)
	cfg.Interface.CustomizedPredictHTTP.Path = InterpolateEnv(cfg.Interface.CustomizedPredictHTTP.Path)
	cfg.Log.LogDir = InterpolateEnv(cfg.Log.LogDir)
}

func interpolateInferenceConfig(cfg *InferenceConfig) {
	for i := range cfg.Models {
		cfg.Models[i].Device = InterpolateEnv(cfg.Models[i].Device)
		cfg.Models[i].InfererPath = InterpolateEnv(cfg.Models[i].InfererPath)
		cfg.Models[i].ConverterPath = InterpolateEnv(cfg.Models[i].ConverterPath)
		for k, v := range cfg.Models[i].InfererArgs {
			cfg.Models[i].InfererArgs[k] = InterpolateEnv(v)
		}
		for k, v := range cfg.Models[i].ConverterArgs {
			cfg.Models[i].ConverterArgs[k] = InterpolateEnv(v)
		}
	}
}

// GenerateServerTemplate returns a YAML starter for the server document.
func GenerateServerTemplate() string {
	return `# grps-core-go server configuration
interface:
  framework: http          # http, http+rpcA, http+rpcB
  host: 0.0.0.0
  port: "8080"
  customized_predict_http:
    path: ""                # e.g. /my/predict
    customized_body: false
    streaming_ctrl:
      ctrl_mode: query_param  # query_param, header_param, body_param
      ctrl_key: streaming
      res_content_type: application/octet-stream

max_connections: 1000
max_concurrency: 8

gpu:
  mem_manager_type: none   # none, backendA, backendB
  mem_limit_mib: 0
  mem_gc_enable: false
  mem_gc_interval: 60
  devices: []

log:
  log_dir: ./logs
  log_backup_count: 7
`
}

// GenerateInferenceTemplate returns a YAML starter for the inference
// document.
func GenerateInferenceTemplate() string {
	return `# grps-core-go inference configuration
models:
  - name: echo
    version: "1"
    device: cpu
    inferer_type: builtinA
    inferer_name: echo
    inferer_path: ""
    inferer_args: {}
    converter_type: builtinA
    converter_name: generic
    converter_path: ""
    converter_args: {}
    batching:
      type: none             # none, dynamic
      max_batch_size: 8
      batch_timeout_us: 5000

dag:
  type: sequential
  name: default
  nodes:
    - name: echo-stage
      type: model
      model: echo-1
`
}
