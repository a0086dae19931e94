package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func checkCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and print the effective settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setup(cmd.Context(), "check"); err != nil {
				return err
			}
			defer a.close(cmd.Context())

			cfg := a.cfg
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			row := func(k string, v any) { fmt.Fprintf(tw, "%s\t%v\n", k, v) }
			row("data_dir", cfg.DataDir)
			row("bot.login", cfg.Bot.Login)
			row("bot.repository", orNone(cfg.Bot.Repository))
			row("bot.repo_dir", cfg.Bot.RepoDir)
			row("commits", cfg.Bot.CommitEnabled())
			row("github.token", maskSecret(cfg.GitHub.Token))
			row("webhook.addr", cfg.Webhook.Addr)
			row("webhook.secret", maskSecret(cfg.Webhook.Secret))
			row("scheduler.idle", cfg.Scheduler.Idle)
			row("scheduler.plan_on_assign", cfg.Scheduler.PlanOnAssign)
			row("worker.poll_interval", cfg.Worker.PollInterval)
			row("ralph.max_iterations", cfg.Ralph.MaxIterations)
			row("agent.kind", cfg.Agent.Kind)
			row("tracing", a.tracer.Enabled())
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration OK.")
			return nil
		},
	}
}

func maskSecret(secret string) string {
	if secret == "" {
		return "not set"
	}
	return "set"
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
