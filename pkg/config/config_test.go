package config

import (
	"os"
	"strings"
	"testing"
)

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()

	if cfg.Interface.Framework != "http" {
		t.Errorf("expected default framework http, got %s", cfg.Interface.Framework)
	}
	if cfg.Interface.Host != "0.0.0.0" {
		t.Errorf("expected default host 0.0.0.0, got %s", cfg.Interface.Host)
	}
	if cfg.MaxConcurrency != 8 {
		t.Errorf("expected default max_concurrency 8, got %d", cfg.MaxConcurrency)
	}
	if cfg.GPU.MemManagerType != "none" {
		t.Errorf("expected default mem_manager_type none, got %s", cfg.GPU.MemManagerType)
	}
	if cfg.Log.LogBackupCount != 7 {
		t.Errorf("expected default log_backup_count 7, got %d", cfg.Log.LogBackupCount)
	}
}

func TestValidateServer_ValidConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	if err := ValidateServer(cfg); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestValidateServer_InvalidFramework(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Interface.Framework = "http+rpcZ"
	err := ValidateServer(cfg)
	if err == nil {
		t.Fatal("expected error for invalid framework")
	}
	if !strings.Contains(err.Error(), "interface.framework") {
		t.Errorf("expected error to mention interface.framework, got %v", err)
	}
}

func TestValidateServer_BadHost(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Interface.Host = "not-an-ip"
	err := ValidateServer(cfg)
	if err == nil {
		t.Fatal("expected error for bad host")
	}
}

func TestValidateServer_DualFrameworkRequiresTwoPorts(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Interface.Framework = "http+rpcA"
	cfg.Interface.Port = "8080"
	err := ValidateServer(cfg)
	if err == nil {
		t.Fatal("expected error: http+rpcA requires two ports")
	}

	cfg.Interface.Port = "8080,9090"
	if err := ValidateServer(cfg); err != nil {
		t.Errorf("two ports for http+rpcA should validate: %v", err)
	}
}

func TestValidateServer_CustomizedPathCollidesWithBuiltin(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Interface.CustomizedPredictHTTP.Path = "/grps/v1/infer/predict"
	err := ValidateServer(cfg)
	if err == nil {
		t.Fatal("expected error: path collides with a built-in path")
	}
}

func TestValidateServer_AccumulatesMultipleErrors(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Interface.Framework = "bogus"
	cfg.MaxConcurrency = 0
	cfg.Log.LogBackupCount = 0
	err := ValidateServer(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"interface.framework", "max_concurrency", "log.log_backup_count"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected accumulated error to mention %q, got %v", want, err)
		}
	}
}

func TestValidateInference_DuplicateModelKeyIsFatal(t *testing.T) {
	cfg := &InferenceConfig{
		Models: []ModelConfig{
			{Name: "echo", Version: "1", InfererType: "builtinA"},
			{Name: "echo", Version: "1", InfererType: "builtinA"},
		},
	}
	err := ValidateInference(cfg)
	if err == nil {
		t.Fatal("expected error for duplicate model key")
	}
	if !strings.Contains(err.Error(), "duplicate model key") {
		t.Errorf("expected duplicate-key message, got %v", err)
	}
}

func TestValidateInference_UnknownDAGModelReference(t *testing.T) {
	cfg := &InferenceConfig{
		Models: []ModelConfig{{Name: "echo", Version: "1", InfererType: "builtinA"}},
		DAG: DAGConfig{
			Type: "sequential",
			Nodes: []DAGNodeConfig{
				{Name: "stage-1", Model: "missing-1"},
			},
		},
	}
	err := ValidateInference(cfg)
	if err == nil {
		t.Fatal("expected error for unknown dag model reference")
	}
}

func TestValidateInference_DynamicBatchingRequiresMaxBatchSize(t *testing.T) {
	cfg := &InferenceConfig{
		Models: []ModelConfig{
			{Name: "echo", Version: "1", InfererType: "builtinA", Batching: BatchingConfig{Type: "dynamic"}},
		},
	}
	err := ValidateInference(cfg)
	if err == nil {
		t.Fatal("expected error: dynamic batching with max_batch_size 0")
	}
}

func TestInterpolateEnv(t *testing.T) {
	os.Setenv("GRPS_TEST_VAR", "resolved")
	defer os.Unsetenv("GRPS_TEST_VAR")

	if got := InterpolateEnv("${GRPS_TEST_VAR}"); got != "resolved" {
		t.Errorf("InterpolateEnv() = %q, want %q", got, "resolved")
	}
	if got := InterpolateEnv("${GRPS_MISSING_VAR:-fallback}"); got != "fallback" {
		t.Errorf("InterpolateEnv() = %q, want %q", got, "fallback")
	}
	if got := InterpolateEnv("plain string"); got != "plain string" {
		t.Errorf("InterpolateEnv() = %q, want unchanged", got)
	}
}

func TestGenerateTemplatesAreNonEmpty(t *testing.T) {
	if GenerateServerTemplate() == "" {
		t.Error("GenerateServerTemplate() returned empty string")
	}
	if GenerateInferenceTemplate() == "" {
		t.Error("GenerateInferenceTemplate() returned empty string")
	}
}
