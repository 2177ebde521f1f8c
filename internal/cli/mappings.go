package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/erp/ingestion/internal/bootstrap"
	"github.com/erp/ingestion/internal/infrastructure/fieldmap"
)

func newMappingsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mappings",
		Short: "Inspect and edit the learned mapping history",
	}
	cmd.AddCommand(newMappingsStatsCommand())
	cmd.AddCommand(newMappingsExportCommand())
	cmd.AddCommand(newMappingsDeleteCommand())
	cmd.AddCommand(newMappingsRulesCommand())
	return cmd
}

func newMappingsStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarise the mapping history",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *bootstrap.Runtime) error {
				stats, err := rt.History.Statistics(ctx)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if wantJSON() {
					return renderJSON(w, stats)
				}

				fmt.Fprintf(w, "%d mapping keys, %d field mappings, last updated %s\n",
					stats.TotalMappingKeys, stats.TotalFieldMappings, formatTime(stats.LastUpdated))
				platforms := make([]string, 0, len(stats.Platforms))
				for p := range stats.Platforms {
					platforms = append(platforms, p)
				}
				sort.Strings(platforms)
				t := newTable(w, "Platform", "Keys")
				for _, p := range platforms {
					t.AppendRow(table.Row{p, stats.Platforms[p]})
				}
				t.Render()
				return nil
			})
		},
	}
}

func newMappingsExportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Write the mapping history as YAML to stdout",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *bootstrap.Runtime) error {
				return fieldmap.ExportYAML(ctx, rt.History, cmd.OutOrStdout())
			})
		},
	}
}

func newMappingsDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <mapping-key> [field]",
		Short: "Forget one learned field, or a whole mapping key",
		Example: `  # Forget where order_amount comes from in Shopee order exports
  ingest mappings delete shopee:orders order_amount`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, field := args[0], ""
			if len(args) == 2 {
				field = args[1]
			}
			return withRuntime(cmd, func(ctx context.Context, rt *bootstrap.Runtime) error {
				deleted, err := rt.History.DeleteMapping(ctx, key, field)
				if err != nil {
					return err
				}
				if !deleted {
					return fmt.Errorf("no mapping history for %q", key+suffix(field))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", key+suffix(field))
				return nil
			})
		},
	}
}

func newMappingsRulesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "List the rule sets in the field mapping rules file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rules, err := fieldmap.LoadRules(cfg.Mapping.RulesFile)
			if err != nil {
				return err
			}
			return printRuleSets(cmd, cfg.Mapping.RulesFile, rules.RuleSets())
		},
	}
}

func printRuleSets(cmd *cobra.Command, path string, sets []fieldmap.RuleSetInfo) error {
	w := cmd.OutOrStdout()
	if wantJSON() {
		return renderJSON(w, sets)
	}
	fmt.Fprintf(w, "%s: %d rule sets\n", path, len(sets))
	t := newTable(w, "Platform", "Domain", "Granularity", "Fields")
	for _, s := range sets {
		t.AppendRow(table.Row{s.Platform, s.DataType, s.Granularity, s.Fields})
	}
	t.Render()
	return nil
}

func suffix(field string) string {
	if field == "" {
		return ""
	}
	return "." + field
}
