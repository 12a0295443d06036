package transport

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
)

// LocalExecutor runs commands on this machine through sh -c.
type LocalExecutor struct{}

// NewLocalExecutor returns a LocalExecutor.
func NewLocalExecutor() *LocalExecutor {
	return &LocalExecutor{}
}

// Execute implements Executor. host is ignored.
func (l *LocalExecutor) Execute(ctx context.Context, _ string, cmd string) Result {
	c := exec.CommandContext(ctx, "sh", "-c", cmd)
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		res.Success = true
		return res
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res
	}
	res.ExitCode = -1
	res.Err = err
	return res
}

// IsLocalhost implements Executor.
func (l *LocalExecutor) IsLocalhost(string) bool {
	return true
}

// ReadFile implements Executor.
func (l *LocalExecutor) ReadFile(_ context.Context, _ string, path string) ([]byte, error) {
	return os.ReadFile(path)
}

// WriteFile implements Executor.
func (l *LocalExecutor) WriteFile(_ context.Context, _ string, path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
