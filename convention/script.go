package convention

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/shibukawa/sqlconvention"
)

// ScriptRunner runs the before and after steps of a test.
type ScriptRunner interface {
	RunScript(ctx context.Context, path string) error
}

// ScriptError reports a failed before or after step.
type ScriptError struct {
	Path   string
	Phase  string
	Output string
	Err    error
}

func (e *ScriptError) Error() string {
	msg := fmt.Sprintf("%s: %s script %s: %v", sqlconvention.ErrScript, e.Phase, e.Path, e.Err)
	if e.Output != "" {
		msg += "\n" + e.Output
	}

	return msg
}

func (e *ScriptError) Unwrap() error { return e.Err }

func (e *ScriptError) Is(target error) bool { return target == sqlconvention.ErrScript }

// ExecScriptRunner executes scripts as external processes in their own directory.
type ExecScriptRunner struct {
	logger *zap.Logger
}

func NewExecScriptRunner(logger *zap.Logger) *ExecScriptRunner {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ExecScriptRunner{logger: logger}
}

func (r *ExecScriptRunner) RunScript(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, abs)
	cmd.Dir = filepath.Dir(abs)

	var output bytes.Buffer

	cmd.Stdout = &output
	cmd.Stderr = &output

	r.logger.Debug("running script", zap.String("path", abs))

	if err := cmd.Run(); err != nil {
		return &ScriptError{Path: path, Output: strings.TrimSpace(output.String()), Err: err}
	}

	return nil
}
