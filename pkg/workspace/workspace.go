// Package workspace manages the per-job scratch directory holding all
// artifacts for one job's attempts.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Artifact file names inside a workspace. The remote executor and the
// submitting side agree on these, so they are fixed.
const (
	ParamsFileName = "params.cbor"
	ResultFileName = "result.cbor"
	ExecScriptName = "exec.sh"
	JobScriptName  = "job.sh"
	StdoutFileName = "stdout.txt"
	StderrFileName = "stderr.txt"
)

// cleanupRetryDelay is the pause before the single removal retry.
var cleanupRetryDelay = 5 * time.Second

// Workspace is a worker-private scratch directory. It is created eagerly and
// removed at most once; removal failure is logged, never escalated.
type Workspace struct {
	Dir string
	ID  string

	removed bool
}

// Create allocates a fresh unique directory under baseDir.
func Create(baseDir string) (*Workspace, error) {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	dir := filepath.Join(baseDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace %s: %w", dir, err)
	}
	return &Workspace{Dir: dir, ID: id}, nil
}

func (w *Workspace) ParamsFile() string { return filepath.Join(w.Dir, ParamsFileName) }
func (w *Workspace) ResultFile() string { return filepath.Join(w.Dir, ResultFileName) }
func (w *Workspace) ExecScript() string { return filepath.Join(w.Dir, ExecScriptName) }
func (w *Workspace) JobScript() string  { return filepath.Join(w.Dir, JobScriptName) }
func (w *Workspace) StdoutFile() string { return filepath.Join(w.Dir, StdoutFileName) }
func (w *Workspace) StderrFile() string { return filepath.Join(w.Dir, StderrFileName) }

// Cleanup removes the directory tree. Idempotent: a second call, or any call
// with keep set, is a no-op. A failed removal is retried once after a short
// delay and then logged as a warning.
func (w *Workspace) Cleanup(keep bool) {
	if keep || w.removed {
		return
	}
	w.removed = true
	if err := os.RemoveAll(w.Dir); err != nil {
		time.Sleep(cleanupRetryDelay)
		if err := os.RemoveAll(w.Dir); err != nil {
			zap.L().Warn("could not remove scratch dir",
				zap.String("dir", w.Dir), zap.Error(err))
			return
		}
	}
	zap.L().Debug("scratch dir removed", zap.String("dir", w.Dir))
}
