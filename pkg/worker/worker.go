// Package worker drives one job through its whole lifecycle: write the task
// payload, submit it, poll the scheduler until it resolves, read the result,
// and retry failed attempts inside the same workspace.
package worker

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"sgeq/pkg/codec"
	"sgeq/pkg/resource"
	"sgeq/pkg/scheduler"
	"sgeq/pkg/task"
	"sgeq/pkg/workspace"
)

// Backoff controls the status-poll loop. The delay grows multiplicatively
// per iteration up to Cap; UnknownPause is the extra wait inserted when the
// queue listing has no line for the job yet.
type Backoff struct {
	Initial      time.Duration
	Factor       float64
	Cap          time.Duration
	UnknownPause time.Duration
}

// DefaultBackoff returns the stock poll pacing: 2s start, x1.2 growth,
// 60s ceiling, 5s unknown pause.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:      2 * time.Second,
		Factor:       1.2,
		Cap:          60 * time.Second,
		UnknownPause: 5 * time.Second,
	}
}

// Options configures a Worker.
type Options struct {
	// MaxAttempts bounds submit-and-poll cycles; defaults to 3.
	MaxAttempts int
	// Keep leaves the workspace in place after the run.
	Keep bool
	// Env is the environment identifier substituted into the generated
	// submission script's bootstrap preamble.
	Env string
	// Runner is the executor binary path on the remote side.
	Runner string
	// Bootstrap optionally overrides the default activation preamble.
	Bootstrap string
	// Escalate, when set, derives the resource request for each attempt.
	Escalate resource.Escalator
	Backoff  Backoff
}

// Outcome is the terminal result of one Worker run.
type Outcome struct {
	Value    any // decoded result artifact; nil unless Err is nil
	Err      error
	JobID    string // last scheduler job id, if any attempt was submitted
	Attempts int
}

// JobFailedError reports a job that exhausted its retry budget, with the
// captured job logs attached.
type JobFailedError struct {
	JobID    string
	Attempts int
	Stdout   string
	Stderr   string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %s failed after %d attempts", e.JobID, e.Attempts)
}

// ResultError reports a missing or undecodable result artifact after the
// scheduler declared success. Not retried: a corrupt result after a clean
// exit points at the environment, not at a transient scheduler condition.
type ResultError struct {
	Path string
	Err  error
}

func (e *ResultError) Error() string {
	return fmt.Sprintf("result artifact %s unusable: %v", e.Path, e.Err)
}

func (e *ResultError) Unwrap() error { return e.Err }

// Worker owns one workspace and drives one logical task to completion.
type Worker struct {
	client *scheduler.Client
	ws     *workspace.Workspace
	base   resource.Request
	opts   Options

	jobID   string
	attempt int
}

// New builds a Worker over an existing workspace.
func New(client *scheduler.Client, ws *workspace.Workspace, base resource.Request, opts Options) *Worker {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff == (Backoff{}) {
		opts.Backoff = DefaultBackoff()
	}
	return &Worker{client: client, ws: ws, base: base, opts: opts}
}

// Run executes spec to a terminal Outcome. The payload is written on the
// first attempt only; retries resubmit the same scripts. Submission errors,
// invalid escalated requests and corrupt results are fatal immediately;
// scheduler-reported failure retries until the attempt budget is spent.
// Cancellation is observed at every poll boundary.
func (w *Worker) Run(ctx context.Context, spec task.Spec) Outcome {
	defer w.ws.Cleanup(w.opts.Keep)

	for w.attempt = 1; ; w.attempt++ {
		req := w.base
		if w.opts.Escalate != nil {
			req = w.opts.Escalate(w.attempt, w.base)
		}
		req, err := req.Normalize()
		if err != nil {
			return Outcome{Err: fmt.Errorf("attempt %d: %w", w.attempt, err), Attempts: w.attempt}
		}

		if w.attempt == 1 {
			p := task.Payload{Spec: spec, Env: w.opts.Env, Runner: w.opts.Runner, Bootstrap: w.opts.Bootstrap}
			if err := p.Write(w.ws); err != nil {
				return Outcome{Err: err, Attempts: w.attempt}
			}
		}

		id, err := w.client.Submit(ctx, req, w.ws.JobScript(), w.ws.StdoutFile(), w.ws.StderrFile())
		if err != nil {
			return Outcome{Err: err, Attempts: w.attempt}
		}
		w.jobID = id
		zap.L().Info("job submitted",
			zap.String("job", id), zap.String("task", spec.Name),
			zap.Int("attempt", w.attempt), zap.String("mem", req.Memory), zap.String("time", req.Time))

		acct, err := w.poll(ctx)
		if err != nil {
			return Outcome{
				Err:      fmt.Errorf("job %s: %w", id, err),
				JobID:    id,
				Attempts: w.attempt,
			}
		}

		if acct == scheduler.AcctSuccess {
			v, err := w.readResult()
			if err != nil {
				return Outcome{Err: err, JobID: id, Attempts: w.attempt}
			}
			zap.L().Info("job succeeded", zap.String("job", id), zap.Int("attempt", w.attempt))
			return Outcome{Value: v, JobID: id, Attempts: w.attempt}
		}

		if w.attempt >= w.opts.MaxAttempts {
			fail := &JobFailedError{
				JobID:    id,
				Attempts: w.attempt,
				Stdout:   readLog(w.ws.StdoutFile()),
				Stderr:   readLog(w.ws.StderrFile()),
			}
			zap.L().Error("job failed",
				zap.String("job", id), zap.Int("attempts", w.attempt),
				zap.String("job_stderr", fail.Stderr))
			return Outcome{Err: fail, JobID: id, Attempts: w.attempt}
		}
		zap.L().Warn("job failed, resubmitting",
			zap.String("job", id), zap.Int("attempt", w.attempt))
	}
}

// poll watches the submitted job until it resolves. The queue listing is the
// primary source: running keeps polling, a failed code resolves immediately,
// no line means the job may have finished, so accounting is consulted.
// Accounting unknown keeps polling; its verdict is terminal.
func (w *Worker) poll(ctx context.Context) (scheduler.AcctState, error) {
	b := w.opts.Backoff
	delay := b.Initial
	for {
		if err := sleep(ctx, delay); err != nil {
			return scheduler.AcctUnknown, err
		}
		if next := time.Duration(float64(delay) * b.Factor); next > b.Cap {
			delay = b.Cap
		} else {
			delay = next
		}

		switch w.client.CheckStatus(ctx, w.jobID) {
		case scheduler.QueueRunning:
			continue
		case scheduler.QueueFailed:
			zap.L().Warn("queue reports failed state", zap.String("job", w.jobID))
			return scheduler.AcctFailed, nil
		case scheduler.QueueUnknown:
			if err := sleep(ctx, b.UnknownPause); err != nil {
				return scheduler.AcctUnknown, err
			}
		}

		if acct := w.client.CheckAccounting(ctx, w.jobID); acct != scheduler.AcctUnknown {
			return acct, nil
		}
	}
}

func (w *Worker) readResult() (any, error) {
	path := w.ws.ResultFile()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &ResultError{Path: path, Err: err}
	}
	var res task.Result
	if err := codec.CBOR().Unmarshal(b, &res); err != nil {
		return nil, &ResultError{Path: path, Err: err}
	}
	return res.Value, nil
}

// readLog loads a captured job log for attachment to a failure; a missing
// log is simply empty.
func readLog(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(b)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
