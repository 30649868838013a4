package marker

import (
	"context"
	"io"
	"os"
	"os/exec"
	"time"
)

// executor abstracts process execution for testing.
type executor interface {
	LookPath(file string) (string, error)
	Run(ctx context.Context, name string, args, env []string, stdout, stderr io.Writer) error
}

// osExecutor is the production executor backed by os/exec. The child gets
// the parent environment plus env; the parent environment is never changed.
type osExecutor struct{}

func (osExecutor) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

func (osExecutor) Run(ctx context.Context, name string, args, env []string, stdout, stderr io.Writer) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// a cancelled child that ignores SIGKILL on its pipes must not pin Wait
	cmd.WaitDelay = 5 * time.Second
	return cmd.Run()
}
