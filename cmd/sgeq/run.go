package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"sgeq/pkg/codec"
	"sgeq/pkg/pool"
	"sgeq/pkg/resource"
	"sgeq/pkg/scheduler"
	"sgeq/pkg/task"
	"sgeq/pkg/worker"
)

var runFlags struct {
	sets        []string
	jobs        int
	threads     int
	timeSpec    string
	memory      string
	gpu         bool
	keep        bool
	maxAttempts int
}

var runCmd = &cobra.Command{
	Use:   "run <task> [input...]",
	Short: "Run a registered task on the cluster, once per input",
	Long: `Submits one cluster job per input for the named task. With no inputs a
single job is submitted. Common arguments are set with --set key=value; each
input is passed to the handler as the "input" argument. Outcomes print as
JSON lines in input order.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		if _, ok := task.Lookup(name); !ok {
			return fmt.Errorf("unknown task %q (registered: %s)", name, strings.Join(task.Names(), ", "))
		}

		common := map[string]any{}
		for _, kv := range runFlags.sets {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return fmt.Errorf("bad --set %q, want key=value", kv)
			}
			common[k] = v
		}

		inputs := args[1:]
		specs := make([]task.Spec, 0, max(len(inputs), 1))
		buildSpec := func(input string, has bool) task.Spec {
			a := make(map[string]any, len(common)+1)
			for k, v := range common {
				a[k] = v
			}
			if has {
				a["input"] = input
			}
			return task.Spec{Name: name, Args: a, Deps: []string{name}}
		}
		if len(inputs) == 0 {
			specs = append(specs, buildSpec("", false))
		}
		for _, in := range inputs {
			specs = append(specs, buildSpec(in, true))
		}

		req, err := resource.New(
			pick(runFlags.threads, cfg.Job.Threads),
			pickStr(runFlags.timeSpec, cfg.Job.Time),
			pickStr(runFlags.memory, cfg.Job.Memory),
			runFlags.gpu || cfg.Job.GPU,
			cfg.Job.ParallelEnv,
		)
		if err != nil {
			return err
		}

		client, err := scheduler.New()
		if err != nil {
			return err
		}

		runner := cfg.Job.Runner
		if runner == "" {
			if runner, err = os.Executable(); err != nil {
				return fmt.Errorf("resolve runner path: %w", err)
			}
		}

		opts := worker.Options{
			MaxAttempts: pick(runFlags.maxAttempts, cfg.Job.MaxAttempts),
			Keep:        runFlags.keep || cfg.Scratch.Keep,
			Env:         cfg.Job.Env,
			Runner:      runner,
			Backoff: worker.Backoff{
				Initial:      time.Duration(cfg.Poll.InitialMS) * time.Millisecond,
				Factor:       cfg.Poll.Factor,
				Cap:          time.Duration(cfg.Poll.CapMS) * time.Millisecond,
				UnknownPause: time.Duration(cfg.Poll.UnknownPauseMS) * time.Millisecond,
			},
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		p := pool.New(client, req, opts, pick(runFlags.jobs, cfg.Pool.Size), cfg.Scratch.Dir)
		outcomes := p.Map(ctx, specs)

		failed := 0
		enc := codec.JSON()
		for i, out := range outcomes {
			line := map[string]any{"index": i, "job_id": out.JobID, "attempts": out.Attempts}
			if out.Err != nil {
				failed++
				line["error"] = out.Err.Error()
			} else {
				line["value"] = out.Value
			}
			b, err := enc.Marshal(line)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(b))
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d tasks failed", failed, len(outcomes))
		}
		return nil
	},
}

func pick(flag, fallback int) int {
	if flag > 0 {
		return flag
	}
	return fallback
}

func pickStr(flag, fallback string) string {
	if flag != "" {
		return flag
	}
	return fallback
}

func init() {
	runCmd.Flags().StringArrayVar(&runFlags.sets, "set", nil, "task argument as key=value (repeatable)")
	runCmd.Flags().IntVar(&runFlags.jobs, "jobs", 0, "max concurrently running jobs (default from config)")
	runCmd.Flags().IntVar(&runFlags.threads, "threads", 0, "threads per job")
	runCmd.Flags().StringVar(&runFlags.timeSpec, "time", "", "wall time: seconds or HH:MM:SS")
	runCmd.Flags().StringVar(&runFlags.memory, "mem", "", "per-thread memory, e.g. 6G")
	runCmd.Flags().BoolVar(&runFlags.gpu, "gpu", false, "request a GPU")
	runCmd.Flags().BoolVar(&runFlags.keep, "keep", false, "keep scratch directories")
	runCmd.Flags().IntVar(&runFlags.maxAttempts, "max-attempts", 0, "retry budget per job")
	rootCmd.AddCommand(runCmd)
}
