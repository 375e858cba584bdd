package task

import (
	"bytes"
	"fmt"
	"os"
	"text/template"

	"go.uber.org/zap"

	"sgeq/pkg/codec"
	"sgeq/pkg/workspace"
)

// DefaultBootstrap is the environment-activation preamble baked into the
// generated submission script when no site-specific template is supplied.
// It receives the same data as the job script template.
const DefaultBootstrap = `if command -v conda >/dev/null 2>&1; then
    eval "$(conda shell.bash hook)"
    conda activate {{.Env}}
fi`

const jobScriptText = `#!/bin/bash
export OMP_NUM_THREADS=1
{{.Bootstrap}}
exec /bin/sh {{.ExecScript}}
`

const execScriptText = `#!/bin/sh
exec {{.Runner}} exec --params {{.ParamsFile}} --result {{.ResultFile}}
`

// Payload produces the workspace artifacts for one job: the serialized task
// parameters, the executor script, and the submission wrapper the scheduler
// runs.
type Payload struct {
	Spec   Spec
	Env    string // environment identifier substituted into the bootstrap
	Runner string // path of the executor binary on the remote side
	// Bootstrap optionally overrides DefaultBootstrap for sites with their
	// own activation scheme.
	Bootstrap string
}

type scriptData struct {
	Env        string
	Runner     string
	Bootstrap  string
	ParamsFile string
	ResultFile string
	ExecScript string
}

// Write serializes the task parameters and renders both scripts into ws.
func (p Payload) Write(ws *workspace.Workspace) error {
	if _, err := os.Stat(ws.Dir); err != nil {
		return fmt.Errorf("payload: workspace missing: %w", err)
	}
	b, err := codec.CBOR().Marshal(p.Spec)
	if err != nil {
		return fmt.Errorf("payload: encode params: %w", err)
	}
	if err := os.WriteFile(ws.ParamsFile(), b, 0o644); err != nil {
		return fmt.Errorf("payload: write params: %w", err)
	}

	data := scriptData{
		Env:        p.Env,
		Runner:     p.Runner,
		ParamsFile: ws.ParamsFile(),
		ResultFile: ws.ResultFile(),
		ExecScript: ws.ExecScript(),
	}
	boot := p.Bootstrap
	if boot == "" {
		boot = DefaultBootstrap
	}
	rendered, err := render("bootstrap", boot, data)
	if err != nil {
		return err
	}
	data.Bootstrap = rendered

	if err := writeScript(ws.ExecScript(), execScriptText, data); err != nil {
		return err
	}
	if err := writeScript(ws.JobScript(), jobScriptText, data); err != nil {
		return err
	}
	zap.L().Debug("payload written",
		zap.String("task", p.Spec.Name), zap.String("dir", ws.Dir))
	return nil
}

func render(name, text string, data scriptData) (string, error) {
	t, err := template.New(name).Parse(text)
	if err != nil {
		return "", fmt.Errorf("payload: parse %s template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("payload: render %s: %w", name, err)
	}
	return buf.String(), nil
}

func writeScript(path, text string, data scriptData) error {
	s, err := render(path, text, data)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(s), 0o755); err != nil {
		return fmt.Errorf("payload: write %s: %w", path, err)
	}
	return nil
}

// ReadSpec decodes the parameter artifact written by Payload.Write. The
// remote executor calls this with the path it received on the command line.
func ReadSpec(path string) (Spec, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Spec{}, fmt.Errorf("payload: read params: %w", err)
	}
	var s Spec
	if err := codec.CBOR().Unmarshal(b, &s); err != nil {
		return Spec{}, fmt.Errorf("payload: decode params: %w", err)
	}
	return s, nil
}
