package strategies

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/StinkyLord/sbom-builder/internal/config"
)

// ErrToolFailed wraps every native tool failure: spawn errors, non-zero
// exits and timeouts alike.
var ErrToolFailed = errors.New("native tool failed")

// Runner executes a native dependency-listing tool and returns its stdout.
// On a non-zero exit the captured stdout is returned along with the error.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

// ExecRunner runs tools as child processes bounded by Timeout.
type ExecRunner struct {
	Timeout time.Duration
}

func (r *ExecRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = config.DefaultToolTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.WaitDelay = 5 * time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: %s timed out after %s", ErrToolFailed, name, timeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%w: %s %s: %v%s", ErrToolFailed, name, strings.Join(args, " "), err, stderrTail(stderr.String()))
		}
		return stdout.Bytes(), fmt.Errorf("%w: %s %s: %v%s", ErrToolFailed, name, strings.Join(args, " "), err, stderrTail(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// stderrTail keeps the last line of stderr for error messages.
func stderrTail(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	return ": " + strings.TrimSpace(lines[len(lines)-1])
}
