package workspace

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCreateUnique(t *testing.T) {
	base := t.TempDir()
	a, err := Create(base)
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	b, err := Create(base)
	if err != nil {
		t.Fatalf("create b: %v", err)
	}
	if a.Dir == b.Dir {
		t.Fatalf("workspaces collided: %s", a.Dir)
	}
	for _, ws := range []*Workspace{a, b} {
		fi, err := os.Stat(ws.Dir)
		if err != nil || !fi.IsDir() {
			t.Fatalf("workspace dir missing: %v", err)
		}
	}
}

func TestArtifactPathsUnderDir(t *testing.T) {
	ws, err := Create(t.TempDir())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	paths := []string{
		ws.ParamsFile(), ws.ResultFile(), ws.ExecScript(),
		ws.JobScript(), ws.StdoutFile(), ws.StderrFile(),
	}
	for _, p := range paths {
		if filepath.Dir(p) != ws.Dir {
			t.Fatalf("artifact %s not under workspace %s", p, ws.Dir)
		}
	}
}

func TestCleanupIdempotent(t *testing.T) {
	old := cleanupRetryDelay
	cleanupRetryDelay = time.Millisecond
	defer func() { cleanupRetryDelay = old }()

	ws, err := Create(t.TempDir())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ws.Cleanup(false)
	if _, err := os.Stat(ws.Dir); !os.IsNotExist(err) {
		t.Fatalf("expected dir removed, stat err=%v", err)
	}
	// second call must be a no-op
	ws.Cleanup(false)
}

func TestCleanupKeep(t *testing.T) {
	ws, err := Create(t.TempDir())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ws.Cleanup(true)
	if _, err := os.Stat(ws.Dir); err != nil {
		t.Fatalf("expected dir kept: %v", err)
	}
}
