package main

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/spf13/cobra"

	"sgeq/pkg/task"
)

// Built-in tasks available to both `run` and `exec`. Programs embedding the
// library register their own handlers the same way.
func init() {
	cobra.CheckErr(task.Register("echo", echoTask))
	cobra.CheckErr(task.Register("shell", shellTask))
}

// echoTask returns its input argument unchanged; a cluster smoke test.
func echoTask(_ context.Context, args map[string]any) (any, error) {
	return args["input"], nil
}

// shellTask runs a shell command; the per-input value, when present, is
// passed as $1. The combined output is the task result.
func shellTask(ctx context.Context, args map[string]any) (any, error) {
	command, _ := args["command"].(string)
	if command == "" {
		return nil, fmt.Errorf("shell task needs a command argument")
	}
	argv := []string{"-c", command, "sh"}
	if input, ok := args["input"].(string); ok {
		argv = append(argv, input)
	}
	out, err := exec.CommandContext(ctx, "sh", argv...).CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("shell task: %w (output: %s)", err, out)
	}
	return string(out), nil
}
