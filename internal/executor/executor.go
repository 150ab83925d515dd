// Package executor runs external commands with both output streams
// forwarded to a logger while they run and a wall clock limit enforced
// on every call.
package executor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultTimeout is the per command wall clock limit used when no
	// other value is configured.
	DefaultTimeout = 900 * time.Second

	levelTrace = slog.Level(-8)

	// single ref lines are short but pack progress lines can grow
	maxLineSize = 1024 * 1024
)

// Executor runs commands under a fixed per call timeout. The timeout
// is set once at construction and cannot be changed per call.
type Executor struct {
	timeout time.Duration
	log     *slog.Logger
}

// New returns an Executor enforcing the given per command timeout.
// Zero or negative timeout means DefaultTimeout.
func New(timeout time.Duration, log *slog.Logger) *Executor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Executor{timeout: timeout, log: log}
}

// Run runs given command with given arguments on given CWD and blocks
// until it exits. stdout lines are forwarded to the logger at info
// level and stderr lines at error level while the command runs, drained
// concurrently so neither stream can fill its pipe buffer. Both
// streams are fully read before the exit status is collected.
//
// On timeout the command is killed and the returned error wraps
// context.DeadlineExceeded, distinguishing it from a non-zero exit.
// The returned status is the command's exit code, 0 on success and -1
// when the command did not run to completion.
func (e *Executor) Run(ctx context.Context, log *slog.Logger, envs []string, cwd string, command string, args ...string) (int, error) {
	if log == nil {
		log = e.log
	}

	cmdStr := command + " " + strings.Join(args, " ")
	log.Log(ctx, levelTrace, "running command", "cwd", cwd, "cmd", cmdStr)

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, command, args...)
	// force kill git & child process 5 seconds after sending it sigterm
	// (when ctx is cancelled/timed out), this also unblocks the drain
	// goroutines if a grandchild keeps the pipes open
	cmd.WaitDelay = 5 * time.Second
	if cwd != "" {
		cmd.Dir = cwd
	}

	// If Env is nil, the new process uses the current process's environment.
	cmd.Env = []string{}
	if len(envs) > 0 {
		cmd.Env = append(cmd.Env, envs...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, fmt.Errorf("Run(%s): err:%w", cmdStr, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return -1, fmt.Errorf("Run(%s): err:%w", cmdStr, err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("Run(%s): err:%w", cmdStr, err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		forwardLines(ctx, log, slog.LevelInfo, stdout)
	}()
	go func() {
		defer wg.Done()
		forwardLines(ctx, log, slog.LevelError, stderr)
	}()

	// Wait must not be called until all reads from the pipes have
	// completed, it also guarantees no log line is reported after the
	// exit status
	wg.Wait()

	err = cmd.Wait()
	runTime := time.Since(start)

	if ctx.Err() == context.DeadlineExceeded {
		err = ctx.Err()
	}
	if err != nil {
		return exitCode(err), fmt.Errorf("Run(%s): err:%w", cmdStr, err)
	}

	log.Log(ctx, levelTrace, "command finished", "cmd", cmdStr, "time", runTime)

	return 0, nil
}

// forwardLines copies one output stream of a running command to the
// logger, one line per record, preserving the stream's emission order.
func forwardLines(ctx context.Context, log *slog.Logger, level slog.Level, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		log.Log(ctx, level, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		log.Error("unable to read command output", "err", err)
	}
}

// exitCode maps an error from Wait to the command's exit status, -1
// when the command did not run to completion (eg. killed on timeout).
func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
