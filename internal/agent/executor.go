package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// DefaultTimeout is the default per-run agent timeout.
const DefaultTimeout = 30 * time.Minute

// RunResult holds the outcome of a single CLI invocation.
type RunResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	TimedOut bool
}

// CommandFactory builds an *exec.Cmd for the given context, working directory
// and arguments. Tests inject a factory that re-executes the test binary.
type CommandFactory func(ctx context.Context, workDir string, name string, args ...string) *exec.Cmd

func defaultCommandFactory(ctx context.Context, workDir string, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = workDir
	return cmd
}

type runOptions struct {
	timeout        time.Duration
	commandFactory CommandFactory
	stdoutWriter   io.Writer
	env            []string
	usePTY         bool
}

// Option configures Run.
type Option func(*runOptions)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(o *runOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithCommandFactory injects a custom command factory.
func WithCommandFactory(f CommandFactory) Option {
	return func(o *runOptions) { o.commandFactory = f }
}

// WithStdoutWriter tees live output to w in addition to capturing it.
func WithStdoutWriter(w io.Writer) Option {
	return func(o *runOptions) { o.stdoutWriter = w }
}

// WithEnv appends KEY=VALUE pairs to the inherited environment.
func WithEnv(kv ...string) Option {
	return func(o *runOptions) { o.env = append(o.env, kv...) }
}

// WithPTY runs the process attached to a pseudo-terminal. Some agent CLIs
// only stream progress when they see a terminal. Stderr is merged into
// Stdout in this mode.
func WithPTY(enabled bool) Option {
	return func(o *runOptions) { o.usePTY = enabled }
}

// Run spawns name with args and captures its output. The process is killed
// when ctx ends or the timeout elapses. A non-zero exit is reported through
// RunResult.ExitCode; only launch failures return an error.
func Run(ctx context.Context, workDir, name string, args []string, opts ...Option) (*RunResult, error) {
	cfg := runOptions{
		timeout:        DefaultTimeout,
		commandFactory: defaultCommandFactory,
		stdoutWriter:   io.Discard,
	}
	for _, o := range opts {
		o(&cfg)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	cmd := cfg.commandFactory(ctx, workDir, name, args...)
	if len(cfg.env) > 0 {
		if cmd.Env == nil {
			cmd.Env = os.Environ()
		}
		cmd.Env = append(cmd.Env, cfg.env...)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	stdout := io.MultiWriter(&stdoutBuf, cfg.stdoutWriter)

	start := time.Now()
	var err error
	if cfg.usePTY {
		err = runWithPTY(cmd, stdout)
	} else {
		cmd.Stdout = stdout
		cmd.Stderr = &stderrBuf
		err = cmd.Run()
	}
	duration := time.Since(start)

	timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("run %s: %w", name, err)
		}
		exitCode = exitErr.ExitCode()
	}

	return &RunResult{
		ExitCode: exitCode,
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		Duration: duration,
		TimedOut: timedOut,
	}, nil
}

func runWithPTY(cmd *exec.Cmd, out io.Writer) error {
	f, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 50, Cols: 200})
	if err != nil {
		return err
	}
	defer f.Close()

	// Linux reports EIO on the master once the child side closes.
	if _, err := io.Copy(out, f); err != nil && !errors.Is(err, syscall.EIO) {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return fmt.Errorf("read pty: %w", err)
	}
	return cmd.Wait()
}
