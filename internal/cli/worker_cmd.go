package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"coddy/internal/ralph"
)

func workerCmd(a *app) *cobra.Command {
	var (
		once  bool
		drain bool
	)
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Implement queued issues",
		Long: `Pick queued issues in issue-number order and run the implementation
loop for each.

By default the worker runs until interrupted, waking on record changes and
on its poll interval. --once processes a single issue; --drain processes
everything queued and exits. Issues a previous worker left in progress are
queued again at startup.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := a.setup(ctx, "worker"); err != nil {
				return err
			}
			defer a.close(context.WithoutCancel(ctx))

			w, err := a.buildWorker()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if once || drain {
				if err := w.Reclaim(ctx); err != nil {
					return err
				}
			}
			switch {
			case once:
				res, err := w.RunOnce(ctx)
				if err != nil {
					return err
				}
				if res == nil {
					fmt.Fprintln(out, "Nothing queued.")
					return nil
				}
				fmt.Fprintln(out, ralph.FormatResult(res))
				return nil
			case drain:
				summary, err := w.Drain(ctx)
				if err != nil {
					return err
				}
				remaining, err := w.Picker.Count(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, ralph.FormatSummary(summary, remaining))
				return nil
			default:
				return w.Run(ctx)
			}
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "process at most one queued issue and exit")
	cmd.Flags().BoolVar(&drain, "drain", false, "process every queued issue and exit")
	cmd.MarkFlagsMutuallyExclusive("once", "drain")
	return cmd
}
