package corerun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/John-Robertt/submerge-go/internal/model"
)

// ConvertError carries a converter subprocess failure. Stderr is truncated so
// it can travel inside an AppError snippet without leaking whole logs.
type ConvertError struct {
	AppError model.AppError
	Cause    error
}

func (e *ConvertError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *ConvertError) Unwrap() error { return e.Cause }

// Run executes the converter binary once, bounded by timeout. The process is
// killed when the bound or the caller's context expires; non-zero exit
// surfaces as CONVERT_FAILED with the stderr tail attached.
func Run(ctx context.Context, binPath string, args []string, timeout time.Duration) (stdout string, err error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var outBuf, errBuf bytes.Buffer
	cmd := exec.CommandContext(ctx, binPath, args...)
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	// Give the process a short grace period between SIGKILL-on-cancel and
	// reaping, so buffers are flushed.
	cmd.WaitDelay = 2 * time.Second

	runErr := cmd.Run()
	if runErr == nil {
		return outBuf.String(), nil
	}

	if ctx.Err() != nil {
		return "", &ConvertError{
			AppError: model.AppError{
				Code:    "CONVERT_FAILED",
				Message: "转换内核执行超时",
				Stage:   "convert",
			},
			Cause: errors.Join(ctx.Err(), runErr),
		}
	}

	var ee *exec.ExitError
	if errors.As(runErr, &ee) {
		return "", &ConvertError{
			AppError: model.AppError{
				Code:    "CONVERT_FAILED",
				Message: fmt.Sprintf("转换内核退出码 %d", ee.ExitCode()),
				Stage:   "convert",
				Snippet: tail(errBuf.String(), 200),
			},
			Cause: runErr,
		}
	}

	return "", &ConvertError{
		AppError: model.AppError{
			Code:    "CONVERT_FAILED",
			Message: "启动转换内核失败",
			Stage:   "convert",
		},
		Cause: runErr,
	}
}

// Process is a long-running core instance (used by geo probing). A background
// goroutine reaps the child as soon as it exits, so a crashed core never
// lingers as a zombie.
type Process struct {
	cmd    *exec.Cmd
	stderr *bytes.Buffer
	done   chan struct{}
}

// Start launches the binary and leaves it running. The caller must Stop it.
func Start(ctx context.Context, binPath string, args []string) (*Process, error) {
	var errBuf bytes.Buffer
	cmd := exec.CommandContext(ctx, binPath, args...)
	cmd.Stderr = &errBuf
	cmd.WaitDelay = 2 * time.Second
	if err := cmd.Start(); err != nil {
		return nil, &ConvertError{
			AppError: model.AppError{
				Code:    "CONVERT_FAILED",
				Message: "启动转换内核失败",
				Stage:   "convert",
			},
			Cause: err,
		}
	}

	p := &Process{cmd: cmd, stderr: &errBuf, done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

// Exited reports whether the process already terminated on its own.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Stderr returns the tail of the captured stderr.
func (p *Process) Stderr() string { return tail(p.stderr.String(), 200) }

// Stop terminates the process: SIGTERM first, SIGKILL after a grace period.
func (p *Process) Stop() {
	if p == nil || p.cmd.Process == nil {
		return
	}
	select {
	case <-p.done:
		return
	default:
	}

	_ = p.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-p.done:
	case <-time.After(5 * time.Second):
		_ = p.cmd.Process.Kill()
		<-p.done
	}
}

func tail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}
