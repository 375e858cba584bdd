// Package scheduler wraps the SGE command-line tools (qsub, qstat, qacct)
// behind typed submit and status operations.
package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"sgeq/pkg/resource"
)

// QueueState is a job's liveness as reported by the queue listing.
type QueueState int

const (
	// QueueUnknown: the job has no line in the listing, or the listing
	// command itself failed. Transient, never fatal.
	QueueUnknown QueueState = iota
	QueueRunning
	QueueFailed
)

func (s QueueState) String() string {
	switch s {
	case QueueRunning:
		return "running"
	case QueueFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// AcctState is a finished job's outcome as reported by accounting.
type AcctState int

const (
	AcctUnknown AcctState = iota
	AcctSuccess
	AcctFailed
)

func (s AcctState) String() string {
	switch s {
	case AcctSuccess:
		return "success"
	case AcctFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SubmissionError reports a failed or unparsable submit. Submission failures
// are never retried: a rejected submission does not fix itself.
type SubmissionError struct {
	Stderr string
	Err    error
}

func (e *SubmissionError) Error() string {
	msg := "job submission failed"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += " (stderr: " + s + ")"
	}
	return msg
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// Runner executes one scheduler command and returns its captured output.
// Tests substitute a fake; production uses os/exec.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf
	err := cmd.Run()
	return out.Bytes(), errBuf.Bytes(), err
}

const (
	submitCmd = "qsub"
	statusCmd = "qstat"
	acctCmd   = "qacct"
)

var jobIDRe = regexp.MustCompile(`Your job ([0-9]+)`)

// Client issues scheduler commands and parses their textual output.
type Client struct {
	run Runner
}

// New returns a Client after verifying all three scheduler commands are on
// PATH, so a missing installation fails at startup rather than mid-run.
func New() (*Client, error) {
	for _, name := range []string{submitCmd, statusCmd, acctCmd} {
		if _, err := exec.LookPath(name); err != nil {
			return nil, fmt.Errorf("scheduler command not found: %s: %w", name, err)
		}
	}
	return &Client{run: execRunner{}}, nil
}

// NewWithRunner returns a Client using a custom command runner.
func NewWithRunner(r Runner) *Client { return &Client{run: r} }

// Submit submits the script with flags derived from req, redirecting job
// stdout/stderr to the given paths, and returns the scheduler job id parsed
// from the submit output.
func (c *Client) Submit(ctx context.Context, req resource.Request, script, stdoutPath, stderrPath string) (string, error) {
	gpu := "0"
	if req.GPU {
		gpu = "1"
	}
	args := []string{
		"-cwd",
		"-pe", req.ParallelEnv, strconv.Itoa(req.Threads),
		"-l", "h_vmem=" + req.Memory,
		"-l", "h_rt=" + req.Time,
		"-l", "gpu=" + gpu,
		"-o", stdoutPath,
		"-e", stderrPath,
		script,
	}
	zap.L().Debug("submitting job", zap.Strings("args", args))
	out, errOut, err := c.run.Run(ctx, submitCmd, args...)
	if err != nil {
		return "", &SubmissionError{Stderr: string(errOut), Err: err}
	}
	m := jobIDRe.FindSubmatch(out)
	if m == nil {
		return "", &SubmissionError{
			Stderr: string(errOut),
			Err:    fmt.Errorf("no job id in submit output %q", strings.TrimSpace(string(out))),
		}
	}
	id := string(m[1])
	zap.L().Debug("job submitted", zap.String("job", id))
	return id, nil
}

// CheckStatus scans the queue listing for jobID. Codes r, qw and t map to
// running; Eqw and d to failed. Any other recognized code is treated as
// running: mislabeling a live job as dead would waste an attempt, whereas a
// dead job is caught by accounting shortly after.
func (c *Client) CheckStatus(ctx context.Context, jobID string) QueueState {
	out, _, err := c.run.Run(ctx, statusCmd)
	if err != nil {
		zap.L().Debug("qstat failed", zap.Error(err))
		return QueueUnknown
	}
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 || fields[0] != jobID {
			continue
		}
		switch fields[4] {
		case "r", "qw", "t":
			return QueueRunning
		case "Eqw", "d":
			return QueueFailed
		default:
			return QueueRunning
		}
	}
	return QueueUnknown
}

// CheckAccounting queries accounting for jobID and maps its exit_status
// field. A missing record or failed query is unknown, not fatal: accounting
// lags job completion.
func (c *Client) CheckAccounting(ctx context.Context, jobID string) AcctState {
	out, _, err := c.run.Run(ctx, acctCmd, "-j", jobID)
	if err != nil {
		zap.L().Debug("qacct failed", zap.String("job", jobID), zap.Error(err))
		return AcctUnknown
	}
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] != "exit_status" {
			continue
		}
		if fields[1] == "0" {
			return AcctSuccess
		}
		return AcctFailed
	}
	return AcctUnknown
}
