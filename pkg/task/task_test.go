package task

import (
	"context"
	"os"
	"strings"
	"testing"

	"sgeq/pkg/workspace"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("", func(context.Context, map[string]any) (any, error) { return nil, nil }); err == nil {
		t.Fatalf("expected error for empty name")
	}
	if err := r.Register("echo", nil); err == nil {
		t.Fatalf("expected error for nil handler")
	}
	if err := r.Register("echo", func(_ context.Context, args map[string]any) (any, error) {
		return args["msg"], nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	h, ok := r.Lookup("echo")
	if !ok {
		t.Fatalf("lookup failed")
	}
	v, err := h(context.Background(), map[string]any{"msg": "hi"})
	if err != nil || v != "hi" {
		t.Fatalf("handler: v=%v err=%v", v, err)
	}
	if _, ok := r.Lookup("missing"); ok {
		t.Fatalf("unexpected handler for missing name")
	}
	if names := r.Names(); len(names) != 1 || names[0] != "echo" {
		t.Fatalf("names: %v", names)
	}
}

func TestPayloadWrite(t *testing.T) {
	ws, err := workspace.Create(t.TempDir())
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	p := Payload{
		Spec:   Spec{Name: "echo", Args: map[string]any{"msg": "hi"}, Deps: []string{"echo"}},
		Env:    "science",
		Runner: "/opt/bin/sgeq",
	}
	if err := p.Write(ws); err != nil {
		t.Fatalf("write: %v", err)
	}

	spec, err := ReadSpec(ws.ParamsFile())
	if err != nil {
		t.Fatalf("read spec: %v", err)
	}
	if spec.Name != "echo" || len(spec.Deps) != 1 {
		t.Fatalf("spec roundtrip mismatch: %+v", spec)
	}

	job, err := os.ReadFile(ws.JobScript())
	if err != nil {
		t.Fatalf("read job script: %v", err)
	}
	for _, want := range []string{"conda activate science", "OMP_NUM_THREADS=1", ws.ExecScript()} {
		if !strings.Contains(string(job), want) {
			t.Fatalf("job script missing %q:\n%s", want, job)
		}
	}

	ex, err := os.ReadFile(ws.ExecScript())
	if err != nil {
		t.Fatalf("read exec script: %v", err)
	}
	for _, want := range []string{"/opt/bin/sgeq exec", ws.ParamsFile(), ws.ResultFile()} {
		if !strings.Contains(string(ex), want) {
			t.Fatalf("exec script missing %q:\n%s", want, ex)
		}
	}
}

func TestPayloadCustomBootstrap(t *testing.T) {
	ws, err := workspace.Create(t.TempDir())
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	p := Payload{
		Spec:      Spec{Name: "noop"},
		Env:       "base",
		Runner:    "sgeq",
		Bootstrap: "module load {{.Env}}",
	}
	if err := p.Write(ws); err != nil {
		t.Fatalf("write: %v", err)
	}
	job, err := os.ReadFile(ws.JobScript())
	if err != nil {
		t.Fatalf("read job script: %v", err)
	}
	if !strings.Contains(string(job), "module load base") {
		t.Fatalf("custom bootstrap not rendered:\n%s", job)
	}
	if strings.Contains(string(job), "conda activate") {
		t.Fatalf("default bootstrap leaked into custom one:\n%s", job)
	}
}
