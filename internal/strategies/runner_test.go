package strategies

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecRunner_Stdout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	r := &ExecRunner{Timeout: 10 * time.Second}
	out, err := r.Run(context.Background(), t.TempDir(), "sh", "-c", "echo hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(out))
}

func TestExecRunner_NonZeroExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	r := &ExecRunner{Timeout: 10 * time.Second}
	out, err := r.Run(context.Background(), t.TempDir(), "sh", "-c", "echo '{}'; echo boom >&2; exit 3")
	require.ErrorIs(t, err, ErrToolFailed)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, "{}\n", string(out), "stdout is kept on a non-zero exit")
}

func TestExecRunner_Timeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	r := &ExecRunner{Timeout: 200 * time.Millisecond}
	start := time.Now()
	_, err := r.Run(context.Background(), t.TempDir(), "sh", "-c", "sleep 30")
	require.ErrorIs(t, err, ErrToolFailed)
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), 20*time.Second)
}

func TestExecRunner_MissingExecutable(t *testing.T) {
	r := &ExecRunner{}
	_, err := r.Run(context.Background(), t.TempDir(), "definitely-not-a-real-tool-xyz")
	require.ErrorIs(t, err, ErrToolFailed)
}
