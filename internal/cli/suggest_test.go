package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/ingestion/internal/domain/mapping"
	"github.com/erp/ingestion/internal/infrastructure/fieldmap"
	"github.com/erp/ingestion/internal/infrastructure/tabular"
)

const suggestRules = `
generic:
  orders:
    common:
      order_id: ["订单号", "order_no"]
      order_amount: ["订单金额", "total_amount"]
      shop_id: ["店铺ID"]
`

type staticReferences map[string]bool

func (r staticReferences) MissingValues(_ context.Context, _, _ string, values []string) ([]string, error) {
	var missing []string
	for _, v := range values {
		if !r[v] {
			missing = append(missing, v)
		}
	}
	return missing, nil
}

func newSuggestFixture(t *testing.T) (*fieldmap.Rules, *fieldmap.FileHistoryStore) {
	t.Helper()
	rules, err := fieldmap.ParseRules([]byte(suggestRules))
	require.NoError(t, err)
	history, err := fieldmap.NewFileHistoryStore(filepath.Join(t.TempDir(), "history.json"), nil)
	require.NoError(t, err)
	return rules, history
}

func ordersTable() *tabular.Table {
	return &tabular.Table{
		Headers: []string{"order_id", "总计", "备注"},
		Rows: []map[string]string{
			{"order_id": "SO-1", "总计": "120.50", "备注": "gift wrap"},
			{"order_id": "SO-2", "总计": "80.00", "备注": "leave at door"},
			{"order_id": "SO-3", "总计": "15.00", "备注": ""},
		},
	}
}

var tiktokOrders = mapping.FileMetadata{Platform: "tiktok", DataType: "orders"}

func TestSuggestMappings(t *testing.T) {
	ctx := context.Background()
	rules, history := newSuggestFixture(t)
	require.NoError(t, history.SaveMapping(ctx, "tiktok:orders", "order_amount", "总计", 90, mapping.MethodHistory))

	report, err := suggestMappings(ctx, fieldmap.NewEngine(), history, rules, ordersTable(), tiktokOrders, suggestOptions{})
	require.NoError(t, err)

	assert.Equal(t, "tiktok:orders", report.Key)
	assert.Equal(t, "generic.orders.common", report.RuleSet)
	assert.Equal(t, 3, report.Rows)
	assert.Equal(t, []string{"备注"}, report.Unmapped)
	assert.Zero(t, report.Saved)

	got := make(map[string]suggestion, len(report.Suggestions))
	for _, s := range report.Suggestions {
		got[s.SourceColumn] = s
	}
	require.Len(t, got, 2)

	assert.Equal(t, "order_id", got["order_id"].TargetField)
	assert.Equal(t, fieldmap.SuggestionExact, got["order_id"].Type)
	assert.InDelta(t, 1.0, got["order_id"].Confidence, 1e-9)

	assert.Equal(t, "order_amount", got["总计"].TargetField)
	assert.Equal(t, fieldmap.SuggestionLearned, got["总计"].Type)
}

func TestSuggestMappings_NoTargets(t *testing.T) {
	rules, history := newSuggestFixture(t)
	meta := mapping.FileMetadata{Platform: "tiktok", DataType: "traffic", Granularity: "daily"}

	_, err := suggestMappings(context.Background(), fieldmap.NewEngine(), history, rules, ordersTable(), meta, suggestOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pass --targets")
}

func TestSuggestMappings_Save(t *testing.T) {
	ctx := context.Background()
	rules, history := newSuggestFixture(t)
	require.NoError(t, history.SaveMapping(ctx, "tiktok:orders", "order_amount", "总计", 90, mapping.MethodHistory))

	opts := suggestOptions{save: true, minConfidence: 0.8}
	report, err := suggestMappings(ctx, fieldmap.NewEngine(), history, rules, ordersTable(), tiktokOrders, opts)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Saved)

	stored, err := history.GetAllMappings(ctx, "tiktok:orders")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"order_id": "order_id", "order_amount": "总计"}, stored)
}

func TestSuggestMappings_VerifyForeignKey(t *testing.T) {
	ctx := context.Background()
	rules, _ := newSuggestFixture(t)
	engine := fieldmap.NewEngine(fieldmap.WithReferenceChecker(staticReferences{"S1": true}))
	table := &tabular.Table{
		Headers: []string{"Store Code"},
		Rows:    []map[string]string{{"Store Code": "S1"}, {"Store Code": "S2"}},
	}

	opts := suggestOptions{targets: []string{"shop_ids"}, verify: true}
	report, err := suggestMappings(ctx, engine, nil, rules, table, tiktokOrders, opts)
	require.NoError(t, err)
	require.Len(t, report.Suggestions, 1)

	s := report.Suggestions[0]
	assert.Equal(t, fieldmap.SuggestionForeignKey, s.Type)
	assert.True(t, s.Verified)
	assert.Equal(t, []string{"S2"}, s.Missing)
	assert.Equal(t, "1 unknown in dim_shops", referenceStatus(s))
	assert.Empty(t, report.RuleSet)
}

func TestSaveSuggestions(t *testing.T) {
	ctx := context.Background()
	_, history := newSuggestFixture(t)

	report := &suggestReport{
		Key: "shopee:orders",
		Suggestions: []suggestion{
			{Suggestion: fieldmap.Suggestion{SourceColumn: "订单号", TargetField: "order_id", Confidence: 1}},
			{Suggestion: fieldmap.Suggestion{SourceColumn: "Order No", TargetField: "order_id", Confidence: 0.9}},
			{Suggestion: fieldmap.Suggestion{SourceColumn: "Amt", TargetField: "order_amount", Confidence: 0.5}},
			{Suggestion: fieldmap.Suggestion{SourceColumn: "Shop", TargetField: "shop_id", Confidence: 0.9}, Missing: []string{"S9"}},
		},
	}

	saved, err := saveSuggestions(ctx, history, report, 0.8)
	require.NoError(t, err)
	assert.Equal(t, 1, saved)

	stored, err := history.GetAllMappings(ctx, "shopee:orders")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"order_id": "订单号"}, stored)

	saved, err = saveSuggestions(ctx, history, &suggestReport{Key: "shopee:orders"}, 0.8)
	require.NoError(t, err)
	assert.Zero(t, saved)
}

func TestReferenceStatus(t *testing.T) {
	fk := &fieldmap.ForeignKeyInfo{TargetTable: "dim_shops", TargetField: "shop_id"}
	tests := []struct {
		name string
		in   suggestion
		want string
	}{
		{"plain column", suggestion{}, "-"},
		{"not verified", suggestion{Suggestion: fieldmap.Suggestion{ForeignKey: fk}}, "dim_shops"},
		{"verify failed", suggestion{Suggestion: fieldmap.Suggestion{ForeignKey: fk}, VerifyError: "no reference checker"}, "error: no reference checker"},
		{"all known", suggestion{Suggestion: fieldmap.Suggestion{ForeignKey: fk}, Verified: true}, "ok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, referenceStatus(tt.in))
		})
	}
}

func TestPrintSuggestReport(t *testing.T) {
	report := &suggestReport{
		File:    "/data/orders.csv",
		Key:     "tiktok:orders",
		RuleSet: "generic.orders.common",
		Rows:    3,
		Suggestions: []suggestion{
			{Suggestion: fieldmap.Suggestion{SourceColumn: "order_id", TargetField: "order_id", Confidence: 1, Type: fieldmap.SuggestionExact}},
		},
		Unmapped: []string{"备注"},
		Saved:    1,
	}

	t.Run("table", func(t *testing.T) {
		cmd, buf := withOutput(t, formatTable)
		require.NoError(t, printSuggestReport(cmd, report))

		out := buf.String()
		assert.Contains(t, out, "orders.csv: 3 rows, mapping key tiktok:orders (rules generic.orders.common)")
		assert.Contains(t, out, "100.0")
		assert.Contains(t, out, "备注")
		assert.Contains(t, out, "saved 1 mappings under tiktok:orders")
	})

	t.Run("json", func(t *testing.T) {
		cmd, buf := withOutput(t, formatJSON)
		require.NoError(t, printSuggestReport(cmd, report))

		var got map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		assert.Equal(t, "tiktok:orders", got["mapping_key"])
		assert.Equal(t, []any{"备注"}, got["unmapped_columns"])
	})
}
