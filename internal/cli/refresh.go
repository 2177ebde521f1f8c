package cli

import (
	"context"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/erp/ingestion/internal/application/reporting"
	"github.com/erp/ingestion/internal/bootstrap"
	"github.com/erp/ingestion/internal/domain/warehouse"
)

func newRefreshCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh [view]",
		Short: "Refresh reporting materialized views",
		Long: `Refresh one materialized view, or every configured view when none is
named. Views are refreshed concurrently so readers are never blocked; a
view already being refreshed is rejected.`,
		Args: cobra.MaximumNArgs(1),
		ValidArgsFunction: func(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
			if len(args) > 0 {
				return nil, cobra.ShellCompDirectiveNoFileComp
			}
			return warehouse.AllViews, cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *bootstrap.Runtime) error {
				if len(args) == 1 {
					if err := rt.Refresh.RefreshView(ctx, args[0], warehouse.TriggerManual); err != nil {
						return err
					}
				} else if err := rt.Refresh.RefreshAll(ctx, warehouse.TriggerManual); err != nil {
					return err
				}

				statuses, err := rt.Refresh.Status(ctx)
				if err != nil {
					return err
				}
				if len(args) == 1 {
					for _, s := range statuses {
						if s.View == args[0] {
							statuses = []reporting.ViewStatus{s}
							break
						}
					}
				}
				return printViewStatuses(cmd, statuses)
			})
		},
	}
}

// printViewStatuses renders the state and last refresh of each view
func printViewStatuses(cmd *cobra.Command, statuses []reporting.ViewStatus) error {
	w := cmd.OutOrStdout()
	if wantJSON() {
		return renderJSON(w, statuses)
	}
	t := newTable(w, "View", "State", "Last Status", "Rows", "Duration", "Trigger", "Finished", "Data As Of", "Error")
	for _, s := range statuses {
		if s.LastRefresh == nil {
			t.AppendRow(table.Row{s.View, s.State, "-", "-", "-", "-", "-", formatTime(s.DataAsOf), "-"})
			continue
		}
		l := s.LastRefresh
		t.AppendRow(table.Row{
			s.View, s.State, l.Status, l.RowCount,
			l.Duration.Round(time.Millisecond).String(), l.TriggeredBy, formatTime(l.FinishedAt),
			formatTime(s.DataAsOf), orDash(l.ErrorMessage),
		})
	}
	t.Render()
	return nil
}
