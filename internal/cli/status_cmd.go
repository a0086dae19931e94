package cli

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"coddy/internal/ui"
)

func statusCmd(a *app) *cobra.Command {
	var (
		watch   bool
		refresh time.Duration
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show tracked issues and worker progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setup(cmd.Context(), "status"); err != nil {
				return err
			}
			defer a.close(cmd.Context())

			load := ui.NewLoader(a.store(), a.cfg.DataDir, time.Now)
			if watch {
				p := tea.NewProgram(ui.NewModel(load, refresh), tea.WithAltScreen())
				_, err := p.Run()
				return err
			}
			snap, err := load(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), ui.Render(snap))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep refreshing in a full-screen view")
	cmd.Flags().DurationVar(&refresh, "refresh", ui.DefaultRefresh, "refresh interval for --watch")
	return cmd
}
