// Package cli implements the coddy command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"coddy/internal/config"
	"coddy/internal/logging"
	"coddy/internal/trace"
)

// Exit codes returned through ExitError.
const (
	ExitFailure = 1
	// ExitRestart asks the supervisor to start the observer again.
	ExitRestart = 75
)

// ExitError carries a process exit code out of a command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps an error returned by Execute to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exit *ExitError
	if errors.As(err, &exit) {
		return exit.Code
	}
	return ExitFailure
}

// app is the per-invocation state shared by subcommands.
type app struct {
	configPath string

	cfg    *config.Config
	log    *logging.Logger
	tracer *trace.Provider
}

func (a *app) logger() *slog.Logger {
	if a.log == nil {
		return logging.Discard()
	}
	return a.log.Logger
}

// setup loads the configuration and builds the logger and tracer for
// component.
func (a *app) setup(ctx context.Context, component string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	log, err := logging.New(logging.Options{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		File:      cfg.LogFile(),
		Component: component,
	})
	if err != nil {
		return err
	}
	a.log = log

	a.tracer, err = trace.Setup(ctx, trace.Options{
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		_ = log.Close()
		return fmt.Errorf("tracing: %w", err)
	}
	return nil
}

func (a *app) close(ctx context.Context) {
	if err := a.tracer.Shutdown(ctx); err != nil {
		a.logger().Warn("trace shutdown failed", "error", err)
	}
	_ = a.log.Close()
}

// NewRootCmd builds the coddy command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "coddy",
		Short: "Issue-driven coding bot",
		Long: `coddy turns issues assigned to a bot account into pull requests.

The observer receives webhooks, keeps one record per issue, posts a plan
and waits for confirmation. The worker picks confirmed issues and runs the
agent until it opens a pull request, asks a question or runs out of
iterations.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default is ./"+config.DefaultFile+")")

	root.AddCommand(
		observerCmd(a),
		workerCmd(a),
		statusCmd(a),
		requeueCmd(a),
		checkCmd(a),
	)
	return root
}
