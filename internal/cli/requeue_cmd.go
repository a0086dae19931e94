package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"coddy/internal/store"
)

func requeueCmd(a *app) *cobra.Command {
	var (
		repo  string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "requeue <issue-number>",
		Short: "Put a failed issue back in the queue",
		Long: `Move a failed issue back to queued so the worker picks it up again.

--force also accepts an issue stuck in progress, for when the worker that
owned it is gone.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			number, err := strconv.Atoi(args[0])
			if err != nil || number <= 0 {
				return fmt.Errorf("invalid issue number %q", args[0])
			}
			if err := a.setup(cmd.Context(), "requeue"); err != nil {
				return err
			}
			defer a.close(cmd.Context())

			if repo == "" {
				repo = a.cfg.Bot.Repository
			}
			if repo == "" {
				return errors.New("--repo is required when bot.repository is not configured")
			}
			is, err := requeue(cmd.Context(), a.store(), repo, number, force, time.Now())
			if err != nil {
				return err
			}
			a.logger().Info("issue requeued", "repo", is.Repo, "issue", is.Number)
			fmt.Fprintf(cmd.OutOrStdout(), "%s requeued\n", is.Key())
			return nil
		},
	}
	cmd.Flags().StringVar(&repo, "repo", "", "repository as owner/name (default bot.repository)")
	cmd.Flags().BoolVar(&force, "force", false, "also requeue an issue left in progress")
	return cmd
}

// requeue moves a failed record back to queued. With force an in_progress
// record is accepted too.
func requeue(ctx context.Context, s store.Store, repo string, number int, force bool, now time.Time) (*store.Issue, error) {
	return store.Update(ctx, s, repo, number, func(is *store.Issue) (bool, error) {
		switch {
		case is.Status == store.StatusFailed:
		case force && is.Status == store.StatusInProgress:
		case is.Status == store.StatusInProgress:
			return false, fmt.Errorf("%s is in_progress, use --force if its worker is gone", is.Key())
		default:
			return false, fmt.Errorf("%s is %s, only failed issues can be requeued", is.Key(), is.Status)
		}
		return true, is.SetStatus(store.StatusQueued, now)
	})
}
