package corerun

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests drive /bin/sh")
	}
}

func TestRun_Success(t *testing.T) {
	requireShell(t)

	out, err := Run(context.Background(), "/bin/sh", []string{"-c", "echo checked"}, 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, "checked\n", out)
}

func TestRun_NonZeroExit(t *testing.T) {
	requireShell(t)

	_, err := Run(context.Background(), "/bin/sh", []string{"-c", "echo broken config >&2; exit 3"}, 5*time.Second)
	var ce *ConvertError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, "CONVERT_FAILED", ce.AppError.Code)
	require.Contains(t, ce.AppError.Message, "3")
	require.Contains(t, ce.AppError.Snippet, "broken config")
}

func TestRun_StderrTailTruncated(t *testing.T) {
	requireShell(t)

	_, err := Run(context.Background(), "/bin/sh", []string{"-c", "yes error | head -c 1000 >&2; exit 1"}, 5*time.Second)
	var ce *ConvertError
	require.ErrorAs(t, err, &ce)
	require.LessOrEqual(t, len(ce.AppError.Snippet), 200)
}

func TestRun_Timeout(t *testing.T) {
	requireShell(t)

	start := time.Now()
	_, err := Run(context.Background(), "/bin/sh", []string{"-c", "sleep 30"}, 200*time.Millisecond)
	var ce *ConvertError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, "CONVERT_FAILED", ce.AppError.Code)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), 10*time.Second)
}

func TestRun_CallerCancellation(t *testing.T) {
	requireShell(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := Run(ctx, "/bin/sh", []string{"-c", "sleep 30"}, time.Minute)
	var ce *ConvertError
	require.ErrorAs(t, err, &ce)
	require.True(t, errors.Is(err, context.Canceled))
}

func TestRun_MissingBinary(t *testing.T) {
	_, err := Run(context.Background(), "/nonexistent/never-a-binary", nil, time.Second)
	var ce *ConvertError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, "CONVERT_FAILED", ce.AppError.Code)
	require.True(t, strings.Contains(ce.AppError.Message, "启动"), "message=%q", ce.AppError.Message)
}

func TestProcess_StartAndStop(t *testing.T) {
	requireShell(t)

	p, err := Start(context.Background(), "/bin/sh", []string{"-c", "sleep 30"})
	require.NoError(t, err)
	require.False(t, p.Exited())

	p.Stop()
	require.True(t, p.Exited())
}

func TestProcess_ExitedOnItsOwn(t *testing.T) {
	requireShell(t)

	p, err := Start(context.Background(), "/bin/sh", []string{"-c", "echo crash >&2; exit 1"})
	require.NoError(t, err)

	require.Eventually(t, p.Exited, 5*time.Second, 20*time.Millisecond)
	p.Stop()
	require.Contains(t, p.Stderr(), "crash")
}
