package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/erp/ingestion/internal/bootstrap"
	"github.com/erp/ingestion/internal/domain/mapping"
	"github.com/erp/ingestion/internal/infrastructure/fieldmap"
	"github.com/erp/ingestion/internal/infrastructure/tabular"
)

type suggestOptions struct {
	platform      string
	domain        string
	granularity   string
	targets       []string
	samples       int
	minConfidence float64
	verify        bool
	save          bool
}

type suggestion struct {
	fieldmap.Suggestion
	Missing     []string `json:"missing_references,omitempty"`
	VerifyError string   `json:"verify_error,omitempty"`
	Verified    bool     `json:"verified"`
}

type suggestReport struct {
	File        string       `json:"file"`
	Key         string       `json:"mapping_key"`
	RuleSet     string       `json:"rule_set,omitempty"`
	Rows        int          `json:"rows"`
	Suggestions []suggestion `json:"suggestions"`
	Unmapped    []string     `json:"unmapped_columns"`
	Saved       int          `json:"saved"`
}

func newSuggestCommand() *cobra.Command {
	opts := suggestOptions{}
	cmd := &cobra.Command{
		Use:   "suggest <file>",
		Short: "Suggest field mappings for an export from its headers and sample values",
		Long: `Run the mapping engine over one export. Headers are matched against the
target fields by name, synonym and learned history; columns whose header says
little are classified from their sample values. Foreign-key columns can be
checked against the warehouse dimensions with --verify.

Target fields default to the rule set the file's metadata resolves to.`,
		Example: `  # Suggest mappings for a file the scanner can route
  ingest suggest temp/outputs/shopee/main/my_store__1001/orders/weekly/orders.xlsx

  # Map an arbitrary sheet onto chosen fields and keep the confident answers
  ingest suggest ./export.csv --domain products --targets product_id,product_name,sales --save`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			return withRuntime(cmd, func(ctx context.Context, rt *bootstrap.Runtime) error {
				t, err := tabular.Open(path)
				if err != nil {
					return err
				}
				meta := mapping.FileMetadata{}
				if info := rt.Scanner.Analyze(path); info.Metadata != nil {
					meta = mapping.FileMetadata{
						Platform:    info.Metadata.Platform,
						DataType:    info.Metadata.DataType,
						Granularity: info.Metadata.Granularity,
					}
				}
				meta = opts.override(meta)

				report, err := suggestMappings(ctx, rt.Engine, rt.History, rt.Rules, t, meta, opts)
				if err != nil {
					return err
				}
				report.File = path
				return printSuggestReport(cmd, report)
			})
		},
	}
	cmd.Flags().StringVar(&opts.platform, "platform", "", "Platform override")
	cmd.Flags().StringVar(&opts.domain, "domain", "", "Data domain override")
	cmd.Flags().StringVar(&opts.granularity, "granularity", "", "Granularity override")
	cmd.Flags().StringSliceVar(&opts.targets, "targets", nil, "Target fields (default: the matching rule set)")
	cmd.Flags().IntVar(&opts.samples, "samples", 20, "Non-empty sample values read per column")
	cmd.Flags().Float64Var(&opts.minConfidence, "min-confidence", 0.8, "Lowest confidence --save keeps (0-1)")
	cmd.Flags().BoolVar(&opts.verify, "verify", false, "Check foreign-key samples against the dimensions")
	cmd.Flags().BoolVar(&opts.save, "save", false, "Store confident suggestions in the mapping history")
	return cmd
}

func (o suggestOptions) override(meta mapping.FileMetadata) mapping.FileMetadata {
	if o.platform != "" {
		meta.Platform = o.platform
	}
	if o.domain != "" {
		meta.DataType = o.domain
	}
	if o.granularity != "" {
		meta.Granularity = o.granularity
	}
	return meta
}

// suggestMappings seeds the engine with the learned history for the file's
// mapping key, then asks it for one suggestion per column.
func suggestMappings(ctx context.Context, engine *fieldmap.Engine, history mapping.HistoryStore, rules *fieldmap.Rules,
	t *tabular.Table, meta mapping.FileMetadata, opts suggestOptions) (*suggestReport, error) {
	report := &suggestReport{Key: mapping.GenerateKey(meta), Rows: t.Len(), Unmapped: []string{}}

	targets := opts.targets
	if len(targets) == 0 {
		fields, ruleSet := rules.Lookup(meta)
		targets, report.RuleSet = fields.Names(), ruleSet
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("no field rules for %s, pass --targets", report.Key)
	}

	domain := meta.Normalized().DataType
	if history != nil {
		learned, err := history.GetAllMappings(ctx, report.Key)
		if err != nil {
			return nil, fmt.Errorf("load mapping history: %w", err)
		}
		for field, column := range learned {
			engine.SaveMappingHistory(domain, fieldmap.Suggestion{
				SourceColumn: column,
				TargetField:  field,
				Confidence:   1,
				Type:         fieldmap.SuggestionLearned,
			})
		}
	}

	n := opts.samples
	if n <= 0 {
		n = 20
	}
	samples := make(map[string][]string, len(t.Headers))
	for _, h := range t.Headers {
		samples[h] = t.Sample(h, n)
	}

	mapped := make(map[string]bool)
	for _, s := range engine.GenerateMappingsWithSamples(t.Headers, samples, targets, domain) {
		out := suggestion{Suggestion: s}
		if opts.verify && s.ForeignKey != nil {
			missing, err := engine.VerifyForeignKey(ctx, s, samples[s.SourceColumn])
			if err != nil {
				out.VerifyError = err.Error()
			} else {
				out.Missing, out.Verified = missing, true
			}
		}
		report.Suggestions = append(report.Suggestions, out)
		mapped[s.SourceColumn] = true
	}
	for _, h := range t.Headers {
		if !mapped[h] {
			report.Unmapped = append(report.Unmapped, h)
		}
	}

	if opts.save && history != nil {
		saved, err := saveSuggestions(ctx, history, report, opts.minConfidence)
		if err != nil {
			return nil, err
		}
		report.Saved = saved
	}
	return report, nil
}

// saveSuggestions keeps the best column per field. Suggestions arrive best
// first; a foreign key with unknown sample values is not saved.
func saveSuggestions(ctx context.Context, history mapping.HistoryStore, report *suggestReport, threshold float64) (int, error) {
	columns := make(map[string]string)
	meta := make(map[string]mapping.FieldMeta)
	for _, s := range report.Suggestions {
		if s.Confidence < threshold || len(s.Missing) > 0 {
			continue
		}
		if _, taken := columns[s.TargetField]; taken {
			continue
		}
		columns[s.TargetField] = s.SourceColumn
		meta[s.TargetField] = mapping.FieldMeta{Confidence: s.Confidence * 100, Method: mapping.MethodUserConfirmed}
	}
	if len(columns) == 0 {
		return 0, nil
	}
	if err := history.SaveBatchMappings(ctx, report.Key, columns, meta); err != nil {
		return 0, fmt.Errorf("save mappings for %s: %w", report.Key, err)
	}
	return len(columns), nil
}

func printSuggestReport(cmd *cobra.Command, report *suggestReport) error {
	w := cmd.OutOrStdout()
	if wantJSON() {
		return renderJSON(w, report)
	}

	fmt.Fprintf(w, "%s: %d rows, mapping key %s", filepath.Base(report.File), report.Rows, report.Key)
	if report.RuleSet != "" {
		fmt.Fprintf(w, " (rules %s)", report.RuleSet)
	}
	fmt.Fprintln(w)

	t := newTable(w, "Column", "Field", "Confidence", "Type", "Reference")
	for _, s := range report.Suggestions {
		t.AppendRow(table.Row{s.SourceColumn, s.TargetField, formatScore(s.Confidence * 100), s.Type, referenceStatus(s)})
	}
	for _, col := range report.Unmapped {
		t.AppendRow(table.Row{col, "-", "-", "-", "-"})
	}
	t.Render()

	if report.Saved > 0 {
		fmt.Fprintf(w, "saved %d mappings under %s\n", report.Saved, report.Key)
	}
	return nil
}

func referenceStatus(s suggestion) string {
	switch {
	case s.ForeignKey == nil:
		return "-"
	case s.VerifyError != "":
		return "error: " + s.VerifyError
	case !s.Verified:
		return s.ForeignKey.TargetTable
	case len(s.Missing) == 0:
		return "ok"
	default:
		return fmt.Sprintf("%d unknown in %s", len(s.Missing), s.ForeignKey.TargetTable)
	}
}
