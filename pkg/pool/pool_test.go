package pool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"sgeq/pkg/codec"
	"sgeq/pkg/resource"
	"sgeq/pkg/scheduler"
	"sgeq/pkg/task"
	"sgeq/pkg/worker"
)

// clusterFake plays the whole cluster: qsub "runs" the job by reading the
// params artifact and writing the result artifact, qstat never lists jobs,
// and qacct reports success only after a per-task number of polls, so task
// completion order is controlled by the test.
type clusterFake struct {
	mu          sync.Mutex
	polls       map[string]int // qacct calls remaining per task tag
	next        int
	tags        map[string]string // job id -> task tag
	inFlight    int
	maxInFlight int
}

func (c *clusterFake) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch name {
	case "qsub":
		script := args[len(args)-1]
		dir := filepath.Dir(script)
		spec, err := task.ReadSpec(filepath.Join(dir, "params.cbor"))
		if err != nil {
			return nil, nil, err
		}
		tag := spec.Args["tag"].(string)
		b, err := codec.CBOR().Marshal(task.Result{Value: tag})
		if err != nil {
			return nil, nil, err
		}
		if err := os.WriteFile(filepath.Join(dir, "result.cbor"), b, 0o644); err != nil {
			return nil, nil, err
		}
		c.next++
		id := strconv.Itoa(c.next)
		c.tags[id] = tag
		c.inFlight++
		if c.inFlight > c.maxInFlight {
			c.maxInFlight = c.inFlight
		}
		return []byte(fmt.Sprintf("Your job %s submitted\n", id)), nil, nil
	case "qstat":
		return nil, nil, nil
	case "qacct":
		tag := c.tags[args[1]]
		if c.polls[tag] > 0 {
			c.polls[tag]--
			if c.polls[tag] > 0 {
				return nil, nil, nil // not in accounting yet
			}
		}
		c.inFlight--
		return []byte("exit_status  0\n"), nil, nil
	}
	return nil, nil, fmt.Errorf("unexpected command %s", name)
}

func fastOpts() worker.Options {
	return worker.Options{
		MaxAttempts: 1,
		Env:         "base",
		Runner:      "sgeq",
		Backoff: worker.Backoff{
			Initial:      time.Millisecond,
			Factor:       1.1,
			Cap:          2 * time.Millisecond,
			UnknownPause: time.Millisecond,
		},
	}
}

func specsFor(tags ...string) []task.Spec {
	out := make([]task.Spec, len(tags))
	for i, tag := range tags {
		out[i] = task.Spec{Name: "echo", Args: map[string]any{"tag": tag}}
	}
	return out
}

func TestMapPreservesInputOrder(t *testing.T) {
	// completion order is reversed: "a" resolves last, "c" first
	fake := &clusterFake{
		polls: map[string]int{"a": 12, "b": 6, "c": 1},
		tags:  make(map[string]string),
	}
	p := New(scheduler.NewWithRunner(fake), resource.Default(), fastOpts(), 3, t.TempDir())

	out := p.Map(context.Background(), specsFor("a", "b", "c"))
	if len(out) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(out))
	}
	for i, want := range []string{"a", "b", "c"} {
		if out[i].Err != nil {
			t.Fatalf("task %d failed: %v", i, out[i].Err)
		}
		if out[i].Value != want {
			t.Fatalf("out[%d].Value = %v, want %q", i, out[i].Value, want)
		}
	}
}

func TestMapBoundsConcurrency(t *testing.T) {
	fake := &clusterFake{
		polls: map[string]int{"a": 3, "b": 3, "c": 3, "d": 3, "e": 3},
		tags:  make(map[string]string),
	}
	p := New(scheduler.NewWithRunner(fake), resource.Default(), fastOpts(), 2, t.TempDir())

	out := p.Map(context.Background(), specsFor("a", "b", "c", "d", "e"))
	for i := range out {
		if out[i].Err != nil {
			t.Fatalf("task %d failed: %v", i, out[i].Err)
		}
	}
	if fake.maxInFlight > 2 {
		t.Fatalf("concurrency bound exceeded: %d jobs in flight", fake.maxInFlight)
	}
}

func TestMapFailureIsIndependent(t *testing.T) {
	// job for tag "b" is rejected at submit time; siblings still finish
	fake := &rejectingFake{reject: "b", inner: &clusterFake{
		polls: map[string]int{"a": 1, "c": 1},
		tags:  make(map[string]string),
	}}
	p := New(scheduler.NewWithRunner(fake), resource.Default(), fastOpts(), 3, t.TempDir())

	out := p.Map(context.Background(), specsFor("a", "b", "c"))
	if out[0].Err != nil || out[2].Err != nil {
		t.Fatalf("siblings affected by failure: %v / %v", out[0].Err, out[2].Err)
	}
	if out[1].Err == nil {
		t.Fatalf("expected failure for rejected task")
	}
}

// rejectingFake fails qsub for one task tag and delegates the rest.
type rejectingFake struct {
	reject string
	inner  *clusterFake
}

func (r *rejectingFake) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	if name == "qsub" {
		script := args[len(args)-1]
		spec, err := task.ReadSpec(filepath.Join(filepath.Dir(script), "params.cbor"))
		if err != nil {
			return nil, nil, err
		}
		if spec.Args["tag"] == r.reject {
			return nil, []byte("Unable to run job"), fmt.Errorf("exit status 1")
		}
	}
	return r.inner.Run(ctx, name, args...)
}
