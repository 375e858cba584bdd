package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sgeq/pkg/codec"
	"sgeq/pkg/task"
)

func writeParams(t *testing.T, spec task.Spec) (params, result string) {
	t.Helper()
	dir := t.TempDir()
	b, err := codec.CBOR().Marshal(spec)
	if err != nil {
		t.Fatalf("encode params: %v", err)
	}
	params = filepath.Join(dir, "params.cbor")
	if err := os.WriteFile(params, b, 0o644); err != nil {
		t.Fatalf("write params: %v", err)
	}
	return params, filepath.Join(dir, "result.cbor")
}

func runExec(t *testing.T, spec task.Spec) (string, error) {
	t.Helper()
	params, result := writeParams(t, spec)
	oldParams, oldResult := execFlags.params, execFlags.result
	execFlags.params, execFlags.result = params, result
	defer func() { execFlags.params, execFlags.result = oldParams, oldResult }()
	return result, execCmd.RunE(execCmd, nil)
}

func TestExecUnregisteredTask(t *testing.T) {
	result, err := runExec(t, task.Spec{Name: "no-such-task"})
	if err == nil || !strings.Contains(err.Error(), "unknown task") {
		t.Fatalf("expected unknown-task error, got %v", err)
	}
	if _, statErr := os.Stat(result); !os.IsNotExist(statErr) {
		t.Fatalf("result artifact must not be written on failure: %v", statErr)
	}
}

func TestExecMissingDep(t *testing.T) {
	result, err := runExec(t, task.Spec{Name: "echo", Deps: []string{"echo", "not-registered"}})
	if err == nil || !strings.Contains(err.Error(), "not registered") {
		t.Fatalf("expected missing-dep error, got %v", err)
	}
	if _, statErr := os.Stat(result); !os.IsNotExist(statErr) {
		t.Fatalf("result artifact must not be written on failure: %v", statErr)
	}
}

func TestExecWritesResult(t *testing.T) {
	result, err := runExec(t, task.Spec{
		Name: "echo",
		Args: map[string]any{"input": "hello"},
		Deps: []string{"echo"},
	})
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	b, err := os.ReadFile(result)
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	var res task.Result
	if err := codec.CBOR().Unmarshal(b, &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.Value != "hello" {
		t.Fatalf("result value = %v, want hello", res.Value)
	}
}
