package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/ingestion/internal/application/ingestion"
	"github.com/erp/ingestion/internal/domain/catalog"
	"github.com/erp/ingestion/internal/infrastructure/fieldmap"
	"github.com/erp/ingestion/internal/infrastructure/scanner"
)

func TestRootCommand_RejectsUnknownOutput(t *testing.T) {
	prev := outputFormat
	t.Cleanup(func() { outputFormat = prev })

	root := NewRootCmd()
	root.SetArgs([]string{"run", "-o", "xml"})
	root.SetOut(&bytes.Buffer{})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown output format "xml"`)
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := NewRootCmd()
	names := make([]string, 0)
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"scan", "register", "run", "refresh", "status", "mappings", "suggest", "quarantine"} {
		assert.Contains(t, names, want)
	}
}

func withOutput(t *testing.T, format string) (*cobra.Command, *bytes.Buffer) {
	t.Helper()
	prev := outputFormat
	outputFormat = format
	t.Cleanup(func() { outputFormat = prev })

	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	return cmd, &buf
}

func scanReport() *scanner.ScanReport {
	return scanner.NewScanReport([]scanner.FileInfo{
		{
			Path:  "/data/temp/outputs/shopee/main/orders/weekly/orders.xlsx",
			Valid: true,
			Metadata: &scanner.Metadata{
				Platform:    "shopee",
				DataType:    "orders",
				Granularity: "weekly",
				ShopSlug:    "my_store",
				Source:      scanner.SourcePathInference,
			},
		},
		{Path: "/data/temp/outputs/~$orders.xlsx", Reason: scanner.ReasonJunk},
	})
}

func TestPrintScanReport(t *testing.T) {
	t.Run("table", func(t *testing.T) {
		cmd, buf := withOutput(t, formatTable)
		require.NoError(t, printScanReport(cmd, scanReport(), true))

		out := buf.String()
		assert.Contains(t, out, "orders.xlsx")
		assert.Contains(t, out, "my_store")
		assert.Contains(t, out, "Weekly")
		assert.Contains(t, out, "invalid: "+scanner.ReasonJunk)
		assert.Contains(t, strings.ToLower(out), "2 files")
	})

	t.Run("table hides invalid", func(t *testing.T) {
		cmd, buf := withOutput(t, formatTable)
		require.NoError(t, printScanReport(cmd, scanReport(), false))
		assert.NotContains(t, buf.String(), "invalid: ")
	})

	t.Run("json", func(t *testing.T) {
		cmd, buf := withOutput(t, formatJSON)
		require.NoError(t, printScanReport(cmd, scanReport(), false))

		var got scanner.ScanReport
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		assert.Equal(t, 2, got.Total)
		assert.Equal(t, 1, got.Valid)
	})
}

func TestPrintRunResult(t *testing.T) {
	result := &ingestion.RunResult{
		Picked:      2,
		Completed:   1,
		Quarantined: 1,
		RowsLanded:  40,
		Files: []ingestion.FileOutcome{
			{FileName: "a.csv", Status: catalog.FileStatusCompleted, Rows: 40, RowsLanded: 40, MappingScore: 92.5, QualityScore: 100},
			{FileName: "b.csv", Status: catalog.FileStatusQuarantined, Rows: 10, QualityScore: 60, Message: "quality below threshold"},
		},
	}

	cmd, buf := withOutput(t, formatTable)
	require.NoError(t, printRunResult(cmd, result))

	out := buf.String()
	assert.Contains(t, out, "a.csv")
	assert.Contains(t, out, "92.5")
	assert.Contains(t, out, "quality below threshold")
	assert.Contains(t, out, "picked 2: 1 completed, 1 quarantined, 0 failed, 0 skipped, 40 rows landed")
}

func TestSuffix(t *testing.T) {
	assert.Equal(t, "", suffix(""))
	assert.Equal(t, ".order_amount", suffix("order_amount"))
}

func TestPrintRuleSets(t *testing.T) {
	sets := []fieldmap.RuleSetInfo{
		{Platform: "generic", DataType: "orders", Granularity: "common", Fields: 4},
		{Platform: "shopee", DataType: "traffic", Granularity: "daily", Fields: 2},
	}

	t.Run("table", func(t *testing.T) {
		cmd, buf := withOutput(t, formatTable)
		require.NoError(t, printRuleSets(cmd, "rules.yaml", sets))

		out := buf.String()
		assert.Contains(t, out, "rules.yaml: 2 rule sets")
		assert.Contains(t, out, "traffic")
	})

	t.Run("json", func(t *testing.T) {
		cmd, buf := withOutput(t, formatJSON)
		require.NoError(t, printRuleSets(cmd, "rules.yaml", sets))

		var got []fieldmap.RuleSetInfo
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		assert.Equal(t, sets, got)
	})
}

func TestScanFlags_Filter(t *testing.T) {
	report := scanner.NewScanReport([]scanner.FileInfo{
		{Path: "a", Valid: true, Metadata: &scanner.Metadata{Platform: "shopee", DataType: "orders", Source: scanner.SourceManifest}},
		{Path: "b", Valid: true, Metadata: &scanner.Metadata{Platform: "shopee", DataType: "traffic", Source: scanner.SourcePathInference}},
		{Path: "c", Valid: true, Metadata: &scanner.Metadata{Platform: "lazada", DataType: "orders", Source: scanner.SourcePathInference}},
		{Path: "d", Reason: scanner.ReasonJunk},
	})

	assert.Same(t, report, (&scanFlags{}).filter(report))

	got := (&scanFlags{platform: "shopee", inferred: true}).filter(report)
	require.Len(t, got.Files, 1)
	assert.Equal(t, "b", got.Files[0].Path)
	assert.Equal(t, 1, got.WithoutManifest)

	got = (&scanFlags{domain: "orders"}).filter(report)
	assert.Equal(t, 2, got.Total)
	assert.Equal(t, 0, got.Invalid)
}
