package cli

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/erp/ingestion/internal/bootstrap"
	"github.com/erp/ingestion/internal/domain/catalog"
)

type quarantinedFile struct {
	*catalog.CatalogFile
	ArchiveKey  string `json:"archive_key"`
	Archived    *bool  `json:"archived,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
}

func newQuarantineCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quarantine",
		Short: "Inspect and requeue files that did not land",
	}
	cmd.AddCommand(newQuarantineListCommand())
	cmd.AddCommand(newQuarantineRequeueCommand())
	return cmd
}

func newQuarantineListCommand() *cobra.Command {
	var (
		limit  int
		status string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List quarantined (or failed) files with their first issues",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st := catalog.FileStatus(status)
			if st != catalog.FileStatusQuarantined && st != catalog.FileStatusError {
				return fmt.Errorf("unknown status %q (want quarantined or error)", status)
			}
			return withRuntime(cmd, func(ctx context.Context, rt *bootstrap.Runtime) error {
				files, err := rt.Files.FindAll(ctx, catalog.CatalogFileFilter{Status: &st, Limit: limit})
				if err != nil {
					return err
				}
				return printQuarantined(ctx, cmd, rt, files)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum files to list")
	cmd.Flags().StringVar(&status, "status", string(catalog.FileStatusQuarantined), "File status to list (quarantined|error)")
	return cmd
}

func printQuarantined(ctx context.Context, cmd *cobra.Command, rt *bootstrap.Runtime, files []*catalog.CatalogFile) error {
	out := make([]quarantinedFile, 0, len(files))
	for _, f := range files {
		q := quarantinedFile{CatalogFile: f, ArchiveKey: catalog.ArchiveKey(rt.Config.Storage.Prefix, f)}
		if rt.S3 != nil {
			q.Archived, q.DownloadURL = archiveLink(ctx, rt, q.ArchiveKey)
		}
		out = append(out, q)
	}

	w := cmd.OutOrStdout()
	if wantJSON() {
		return renderJSON(w, out)
	}

	t := newTable(w, "ID", "File", "Domain", "Quality", "Issues", "First Issue", "Archive")
	for _, q := range out {
		quality := "-"
		if q.QualityScore != nil {
			quality = formatScore(*q.QualityScore)
		}
		first := q.ErrorMessage
		if len(q.ValidationErrors) > 0 {
			e := q.ValidationErrors[0]
			first = fmt.Sprintf("row %d %s: %s", e.Row, e.Column, e.Message)
		}
		archive := q.ArchiveKey
		switch {
		case q.DownloadURL != "":
			archive = q.DownloadURL
		case q.Archived != nil && !*q.Archived:
			archive += " (missing)"
		}
		t.AppendRow(table.Row{q.ID, q.FileName, q.DataDomain, quality, len(q.ValidationErrors), orDash(first), archive})
	}
	t.Render()
	return nil
}

// archiveLink presigns a download for key when the object is in the bucket.
// A nil result means the bucket could not be asked.
func archiveLink(ctx context.Context, rt *bootstrap.Runtime, key string) (*bool, string) {
	exists, err := rt.S3.ObjectExists(ctx, key)
	if err != nil {
		rt.Logger.Warn("Failed to look up archive", zap.String("bucket", rt.S3.Bucket()), zap.String("key", key), zap.Error(err))
		return nil, ""
	}
	if !exists {
		return &exists, ""
	}
	link, _, err := rt.S3.DownloadURL(ctx, key)
	if err != nil {
		rt.Logger.Warn("Failed to presign archive link", zap.String("bucket", rt.S3.Bucket()), zap.String("key", key), zap.Error(err))
	}
	return &exists, link
}

func newQuarantineRequeueCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <file-id>",
		Short: "Send a quarantined or failed file back to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid file id %q: %w", args[0], err)
			}
			return withRuntime(cmd, func(ctx context.Context, rt *bootstrap.Runtime) error {
				file, err := rt.Ingestion.Requeue(ctx, id)
				if err != nil {
					return err
				}
				if wantJSON() {
					return renderJSON(cmd.OutOrStdout(), file)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) is %s\n", file.FileName, file.ID, file.Status)
				return nil
			})
		},
	}
}
