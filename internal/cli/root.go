// Package cli provides the ingest command-line interface.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/erp/ingestion/internal/bootstrap"
	"github.com/erp/ingestion/internal/infrastructure/config"
)

// Version information (set at build time)
var Version = "dev"

var (
	cfgFile      string
	outputFormat string
)

// NewRootCmd creates the root command with every subcommand attached
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ingest",
		Short: "Catalog, map, validate and land collected platform exports",
		Long: `ingest drives the ingestion pipeline by hand.

It scans the collection directory, registers new files in the catalog,
processes pending files into the warehouse fact tables and refreshes the
reporting materialized views.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			switch outputFormat {
			case formatTable, formatJSON:
				return nil
			}
			return fmt.Errorf("unknown output format %q (want table or json)", outputFormat)
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.toml in ., ./config or /app)")
	root.PersistentFlags().StringVarP(&outputFormat, "output", "o", formatTable, "Output format (table|json)")
	_ = root.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{formatTable, formatJSON}, cobra.ShellCompDirectiveNoFileComp
	})

	root.AddCommand(newScanCommand())
	root.AddCommand(newRegisterCommand())
	root.AddCommand(newRunCommand())
	root.AddCommand(newRefreshCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newMappingsCommand())
	root.AddCommand(newSuggestCommand())
	root.AddCommand(newQuarantineCommand())
	return root
}

// Execute runs the root command
func Execute() error {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// withRuntime builds the full runtime for one command and closes it after fn
func withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *bootstrap.Runtime) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := bootstrap.New(ctx, bootstrap.Options{ConfigFile: cfgFile, ServiceName: "ingest-cli"})
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), bootstrap.ShutdownTimeout)
		defer cancel()
		_ = rt.Close(closeCtx)
	}()
	return fn(ctx, rt)
}

// loadConfig reads configuration without connecting to anything
func loadConfig() (*config.Config, error) {
	return config.LoadFile(cfgFile)
}
