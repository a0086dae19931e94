package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"coddy/internal/observer"
)

func observerCmd(a *app) *cobra.Command {
	var reexec bool
	cmd := &cobra.Command{
		Use:   "observer",
		Short: "Receive webhooks, maintain records and post plans",
		Long: `Run the webhook server and the idle scheduler.

After a pull request is merged the observer pulls the default branch and
stops with exit code 75 so a supervisor can start the new build. With
--reexec it replaces itself instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := a.setup(ctx, "observer"); err != nil {
				return err
			}
			defer a.close(context.WithoutCancel(ctx))

			obs, err := a.buildObserver()
			if err != nil {
				return err
			}
			a.logger().Info("observer listening",
				"addr", a.cfg.Webhook.Addr,
				"path", a.cfg.Webhook.Path,
				"bot", a.cfg.Bot.Login,
				"idle", a.cfg.Scheduler.Idle)

			err = obs.Run(ctx)
			if errors.Is(err, observer.ErrRestart) {
				if reexec {
					return restartInPlace()
				}
				a.logger().Info("exiting for restart", "code", ExitRestart)
				return &ExitError{Code: ExitRestart, Err: err}
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&reexec, "reexec", false, "replace the process after a merge instead of exiting")
	return cmd
}

// restartInPlace re-executes the current binary with the same arguments.
func restartInPlace() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	return syscall.Exec(exe, os.Args, os.Environ())
}
