package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sgeq/pkg/codec"
	"sgeq/pkg/task"
)

var execFlags struct {
	params string
	result string
}

// execCmd is the remote-executor entry point: the generated submission
// script invokes it on the compute node. A non-zero exit makes the
// scheduler's accounting report the job as failed, which is what the
// submitting side polls for.
var execCmd = &cobra.Command{
	Use:   "exec",
	Short: "Execute a serialized task (invoked by the generated job script)",
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := task.ReadSpec(execFlags.params)
		if err != nil {
			return err
		}
		for _, dep := range spec.Deps {
			if _, ok := task.Lookup(dep); !ok {
				return fmt.Errorf("required task %q is not registered in this runner", dep)
			}
		}
		h, ok := task.Lookup(spec.Name)
		if !ok {
			return fmt.Errorf("unknown task %q (registered: %v)", spec.Name, task.Names())
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		zap.L().Info("executing task", zap.String("task", spec.Name))
		v, err := h(ctx, spec.Args)
		if err != nil {
			return fmt.Errorf("task %q: %w", spec.Name, err)
		}

		b, err := codec.CBOR().Marshal(task.Result{Value: v})
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		if err := os.WriteFile(execFlags.result, b, 0o644); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
		zap.L().Info("task finished", zap.String("task", spec.Name), zap.String("result", execFlags.result))
		return nil
	},
}

func init() {
	execCmd.Flags().StringVar(&execFlags.params, "params", "", "path of the serialized task parameters")
	execCmd.Flags().StringVar(&execFlags.result, "result", "", "path to write the result artifact")
	_ = execCmd.MarkFlagRequired("params")
	_ = execCmd.MarkFlagRequired("result")
	rootCmd.AddCommand(execCmd)
}
