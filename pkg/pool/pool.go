// Package pool fans a sequence of tasks out across concurrently running
// workers, bounded to a fixed parallelism, and collects outcomes in input
// order.
package pool

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"sgeq/pkg/resource"
	"sgeq/pkg/scheduler"
	"sgeq/pkg/task"
	"sgeq/pkg/worker"
	"sgeq/pkg/workspace"
)

// Pool runs up to Size workers at once. Each task gets its own worker and
// workspace; nothing is shared between them, and one task's failure never
// cancels its siblings.
type Pool struct {
	client  *scheduler.Client
	base    resource.Request
	opts    worker.Options
	size    int
	scratch string
}

// New builds a Pool. size below 1 is treated as 1; scratch is the base
// directory workspaces are created under.
func New(client *scheduler.Client, base resource.Request, opts worker.Options, size int, scratch string) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{client: client, base: base, opts: opts, size: size, scratch: scratch}
}

// Map runs every spec to completion and returns one outcome per spec, in
// input order regardless of completion order. Tasks beyond the parallelism
// bound queue until a slot frees.
func (p *Pool) Map(ctx context.Context, specs []task.Spec) []worker.Outcome {
	out := make([]worker.Outcome, len(specs))
	sem := make(chan struct{}, p.size)
	var wg sync.WaitGroup

	zap.L().Info("mapping tasks", zap.Int("tasks", len(specs)), zap.Int("parallel", p.size))
	for i := range specs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			out[i] = p.runOne(ctx, specs[i])
		}(i)
	}
	wg.Wait()
	return out
}

func (p *Pool) runOne(ctx context.Context, spec task.Spec) worker.Outcome {
	ws, err := workspace.Create(p.scratch)
	if err != nil {
		return worker.Outcome{Err: err}
	}
	w := worker.New(p.client, ws, p.base, p.opts)
	return w.Run(ctx, spec)
}
