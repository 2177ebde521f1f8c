package cli

import (
	"context"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/erp/ingestion/internal/application/reporting"
	"github.com/erp/ingestion/internal/bootstrap"
	"github.com/erp/ingestion/internal/domain/catalog"
)

type statusReport struct {
	Files map[catalog.FileStatus]int64 `json:"files"`
	Views []reporting.ViewStatus       `json:"views"`
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show catalog file counts and view refresh state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *bootstrap.Runtime) error {
				counts, err := rt.Files.CountByStatus(ctx)
				if err != nil {
					return err
				}
				views, err := rt.Refresh.Status(ctx)
				if err != nil {
					return err
				}

				w := cmd.OutOrStdout()
				if wantJSON() {
					return renderJSON(w, statusReport{Files: counts, Views: views})
				}

				t := newTable(w, "Status", "Files")
				var total int64
				for _, s := range catalog.AllFileStatuses {
					t.AppendRow(table.Row{s, counts[s]})
					total += counts[s]
				}
				t.AppendFooter(table.Row{"total", total})
				t.Render()
				return printViewStatuses(cmd, views)
			})
		},
	}
}
