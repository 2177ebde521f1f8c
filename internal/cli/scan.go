package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/erp/ingestion/internal/application/ingestion"
	"github.com/erp/ingestion/internal/bootstrap"
	"github.com/erp/ingestion/internal/domain/catalog"
	"github.com/erp/ingestion/internal/infrastructure/granularity"
	"github.com/erp/ingestion/internal/infrastructure/logger"
	"github.com/erp/ingestion/internal/infrastructure/scanner"
)

type scanFlags struct {
	root        string
	hash        bool
	showInvalid bool
	platform    string
	domain      string
	inferred    bool
}

func (f *scanFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.root, "root", "", "Directory to scan (default: scanner.root)")
	cmd.Flags().BoolVar(&f.hash, "hash", false, "Hash file contents during the scan")
	cmd.Flags().BoolVar(&f.showInvalid, "invalid", false, "List rejected files with their reason")
}

func (f *scanFlags) bindFilters(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.platform, "platform", "", "Only list valid files of this platform")
	cmd.Flags().StringVar(&f.domain, "domain", "", "Only list valid files of this data domain")
	cmd.Flags().BoolVar(&f.inferred, "inferred", false, "Only list valid files without a manifest")
}

// filter narrows report to the valid files the filter flags select.
func (f *scanFlags) filter(report *scanner.ScanReport) *scanner.ScanReport {
	if f.platform != "" {
		report = scanner.NewScanReport(report.FilesByPlatform(f.platform))
	}
	if f.domain != "" {
		report = scanner.NewScanReport(report.FilesByDataType(f.domain))
	}
	if f.inferred {
		report = scanner.NewScanReport(report.FilesWithoutManifest())
	}
	return report
}

func (f *scanFlags) config(base scanner.Config) scanner.Config {
	if f.root != "" {
		base.Root = f.root
	}
	if f.hash {
		base.FastMode = false
	}
	return base
}

func newScanCommand() *cobra.Command {
	var flags scanFlags
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Classify the files under the collection root",
		Long: `Walk the collection root and report which files are valid inputs,
with the platform, data domain and granularity each one was routed to.
Nothing is written to the catalog.`,
		Example: `  # Scan the configured root
  ingest scan

  # Scan another tree and show why files were rejected
  ingest scan --root /data/exports --invalid

  # Which Shopee files were routed by path alone
  ingest scan --platform shopee --inferred`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log, err := logger.New(&logger.Config{Level: "warn", Format: "console", Output: "stderr"})
			if err != nil {
				return err
			}
			s := scanner.New(flags.config(scanner.Config{
				Root:        cfg.Scanner.Root,
				RootMarker:  cfg.Scanner.RootMarker,
				FastMode:    cfg.Scanner.FastMode,
				HashWorkers: cfg.Scanner.HashWorkers,
			}), scanner.WithLogger(log))

			report, err := s.ScanAndAnalyze(cmd.Context())
			if err != nil {
				return err
			}
			return printScanReport(cmd, flags.filter(report), flags.showInvalid)
		},
	}
	flags.bind(cmd)
	flags.bindFilters(cmd)
	return cmd
}

func printScanReport(cmd *cobra.Command, report *scanner.ScanReport, showInvalid bool) error {
	w := cmd.OutOrStdout()
	if wantJSON() {
		return renderJSON(w, report)
	}

	t := newTable(w, "File", "Platform", "Domain", "Granularity", "Shop", "Status")
	for _, f := range report.Files {
		if !f.Valid {
			if showInvalid {
				t.AppendRow(table.Row{filepath.Base(f.Path), "-", "-", "-", "-", "invalid: " + f.Reason})
			}
			continue
		}
		m := f.Metadata
		gran := granularity.DisplayName(catalog.Granularity(m.Granularity), "en")
		t.AppendRow(table.Row{filepath.Base(f.Path), m.Platform, m.DataType, orDash(gran), orDash(m.ShopSlug), m.Source})
	}
	t.AppendFooter(table.Row{
		fmt.Sprintf("%d files", report.Total),
		fmt.Sprintf("%d valid", report.Valid),
		fmt.Sprintf("%d invalid", report.Invalid),
		"",
		fmt.Sprintf("%d manifest", report.WithManifest),
		fmt.Sprintf("%d inferred", report.WithoutManifest),
	})
	t.Render()
	return nil
}

func newRegisterCommand() *cobra.Command {
	var flags scanFlags
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Scan the collection root and register new files as pending",
		Long: `Scan the collection root and add every valid file whose content hash is
not yet known to the catalog as pending. Re-running on the same tree
registers nothing.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *bootstrap.Runtime) error {
				s := rt.Scanner
				if flags.root != "" || flags.hash {
					s = scanner.New(flags.config(rt.Scanner.Config()), scanner.WithLogger(rt.Logger))
				}
				report, err := s.ScanAndAnalyze(ctx)
				if err != nil {
					return err
				}
				result, err := rt.Ingestion.RegisterScan(ctx, report)
				if err != nil {
					return err
				}
				return printRegisterResult(cmd, result)
			})
		},
	}
	flags.bind(cmd)
	return cmd
}

func printRegisterResult(cmd *cobra.Command, result *ingestion.RegisterResult) error {
	w := cmd.OutOrStdout()
	if wantJSON() {
		return renderJSON(w, result)
	}
	t := newTable(w, "Total", "Registered", "Duplicates", "Invalid", "Failed")
	t.AppendRow(table.Row{result.Total, result.Registered, result.Duplicates, result.Invalid, result.Failed})
	t.Render()

	if len(result.Errors) > 0 {
		e := newTable(w, "Path", "Error")
		for _, pe := range result.Errors {
			e.AppendRow(table.Row{pe.Path, pe.Message})
		}
		e.Render()
	}
	return nil
}
