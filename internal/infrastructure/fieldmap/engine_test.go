package fieldmap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReferences struct {
	table, column string
	known         map[string]bool
}

func (f *fakeReferences) MissingValues(_ context.Context, table, column string, values []string) ([]string, error) {
	f.table, f.column = table, column
	var missing []string
	for _, v := range values {
		if !f.known[v] {
			missing = append(missing, v)
		}
	}
	return missing, nil
}

func bySource(s []Suggestion) map[string]Suggestion {
	out := make(map[string]Suggestion, len(s))
	for _, x := range s {
		out[x.SourceColumn] = x
	}
	return out
}

func TestEngine_GenerateMappings(t *testing.T) {
	e := NewEngine()
	targets := []string{"order_id", "shop_id", "product_name"}

	got := e.GenerateMappings([]string{"订单号", "Shop", "product title", "Order_ID", "???"}, targets, "orders")
	require.Len(t, got, 4)

	m := bySource(got)
	assert.Equal(t, Suggestion{SourceColumn: "Order_ID", TargetField: "order_id", Confidence: 1, Type: SuggestionExact}, m["Order_ID"])
	assert.Equal(t, SuggestionSemantic, m["订单号"].Type)
	assert.Equal(t, "order_id", m["订单号"].TargetField)
	assert.Equal(t, SuggestionSemantic, m["Shop"].Type)
	assert.Equal(t, "shop_id", m["Shop"].TargetField)
	assert.Equal(t, SuggestionFuzzy, m["product title"].Type)
	assert.Equal(t, "product_name", m["product title"].TargetField)
	assert.InDelta(t, 2.0/3.0, m["product title"].Confidence, 1e-9)

	// best first, ties keep input order
	assert.Equal(t, "Order_ID", got[0].SourceColumn)
	assert.Equal(t, "订单号", got[1].SourceColumn)
	assert.Equal(t, "Shop", got[2].SourceColumn)
	assert.Equal(t, "product title", got[3].SourceColumn)
}

func TestEngine_ForeignKey(t *testing.T) {
	e := NewEngine()

	got := e.GenerateMappings([]string{"Store Code"}, []string{"shop_ids"}, "orders")
	require.Len(t, got, 1)

	s := got[0]
	assert.Equal(t, SuggestionForeignKey, s.Type)
	assert.Equal(t, "shop_ids", s.TargetField)
	assert.InDelta(t, 0.9, s.Confidence, 1e-9)
	require.NotNil(t, s.ForeignKey)
	assert.Equal(t, ForeignKeyInfo{
		TargetTable:     "dim_shops",
		TargetField:     "shop_id",
		ValidationQuery: "SELECT COUNT(*) FROM dim_shops WHERE shop_id = $1",
	}, *s.ForeignKey)
}

func TestEngine_VerifyForeignKey(t *testing.T) {
	refs := &fakeReferences{known: map[string]bool{"S1": true}}
	e := NewEngine(WithReferenceChecker(refs))

	s := e.GenerateMappings([]string{"Store Code"}, []string{"shop_ids"}, "orders")[0]
	require.NotNil(t, s.ForeignKey)
	missing, err := e.VerifyForeignKey(context.Background(), s, []string{"S1", "S2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"S2"}, missing)
	assert.Equal(t, "dim_shops", refs.table)
	assert.Equal(t, "shop_id", refs.column)

	_, err = e.VerifyForeignKey(context.Background(), Suggestion{SourceColumn: "x"}, nil)
	assert.Error(t, err)

	_, err = NewEngine().VerifyForeignKey(context.Background(), s, nil)
	assert.Error(t, err)
}

func TestEngine_LearnedMappings(t *testing.T) {
	e := NewEngine()
	targets := []string{"order_id", "shop_id", "product_name"}

	e.SaveMappingHistory("orders", Suggestion{SourceColumn: "Kode Toko", TargetField: "shop_id", Confidence: 0.95, Type: SuggestionFuzzy})
	e.SaveMappingHistory("orders", Suggestion{SourceColumn: "Kode Toko", TargetField: "order_id", Confidence: 0.65, Type: SuggestionFuzzy})
	e.SaveMappingHistory("products", Suggestion{SourceColumn: "Nama", TargetField: "product_name", Confidence: 0.9, Type: SuggestionSemantic})

	got := e.GenerateMappings([]string{"Kode Toko"}, targets, "orders")
	require.Len(t, got, 1)
	assert.Equal(t, SuggestionLearned, got[0].Type)
	assert.Equal(t, "shop_id", got[0].TargetField)
	assert.InDelta(t, 0.95, got[0].Confidence, 1e-9)

	other := e.GenerateMappings([]string{"Kode Toko"}, targets, "products")
	require.Len(t, other, 1)
	assert.NotEqual(t, SuggestionLearned, other[0].Type)

	stats := e.Statistics()
	assert.Equal(t, 2, stats.TotalMappings)
	assert.Equal(t, map[SuggestionType]int{SuggestionFuzzy: 2, SuggestionSemantic: 1}, stats.MappingTypes)
	assert.InDelta(t, (0.95+0.65+0.9)/3, stats.AverageConfidence, 1e-9)
}

func TestEngine_Statistics_Empty(t *testing.T) {
	stats := NewEngine().Statistics()
	assert.Zero(t, stats.TotalMappings)
	assert.Zero(t, stats.AverageConfidence)
	assert.Empty(t, stats.MappingTypes)
}

func TestEngine_GenerateMappingsWithSamples(t *testing.T) {
	e := NewEngine()
	samples := map[string][]string{
		"paytime":  {"2024-01-01 10:00:00", "2024-01-02 11:30:00", "2024-01-03 09:15:00"},
		"Order_ID": {"1001", "1002"},
	}

	got := e.GenerateMappingsWithSamples([]string{"paytime", "Order_ID"}, samples, []string{"created_at", "order_date", "order_id"}, "orders")
	require.Len(t, got, 2)

	m := bySource(got)
	assert.Equal(t, SuggestionExact, m["Order_ID"].Type)
	assert.Equal(t, Suggestion{SourceColumn: "paytime", TargetField: "created_at", Confidence: 0.7, Type: SuggestionContent}, m["paytime"])
}

func TestEngine_GenerateMappingsWithSamples_KeepsWeakHeaderMatch(t *testing.T) {
	e := NewEngine()

	// no samples, no content signal
	got := e.GenerateMappingsWithSamples([]string{"paytime"}, nil, []string{"created_at", "order_date"}, "orders")
	require.Len(t, got, 1)
	assert.Equal(t, SuggestionFuzzy, got[0].Type)
	assert.Equal(t, "created_at", got[0].TargetField)
}

func TestAnalyzeContent(t *testing.T) {
	tests := []struct {
		name    string
		column  string
		samples []string
		kind    ContentType
		suggest []string
		conf    float64
	}{
		{"empty", "x", nil, ContentUnknown, []string{}, 0},
		{"price", "Unit Price", []string{"$1,200.50", "99", "12.5"}, ContentNumeric, []string{"product_price"}, 0.7},
		{"amount", "订单金额", []string{"10", "20"}, ContentNumeric, []string{"order_amount"}, 0.7},
		{"date", "Order Date", []string{"2024-01-01", "02/01/2024"}, ContentDate, []string{"order_date"}, 0.7},
		{"names", "Shop Name", []string{"Alpha", "Beta"}, ContentText, []string{"product_name", "shop_name", "customer_name"}, 0.7},
		{"plain text", "Remark", []string{"a", "b"}, ContentText, []string{}, 0.7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := AnalyzeContent(tt.column, tt.samples)
			assert.Equal(t, tt.kind, a.Type)
			assert.Equal(t, tt.suggest, a.Suggestions)
			assert.InDelta(t, tt.conf, a.Confidence, 1e-9)
		})
	}
}

func TestAnalyzeContent_Patterns(t *testing.T) {
	a := AnalyzeContent("status", []string{"paid", "paid", "", "shipped"})
	assert.Equal(t, ContentPatterns{UniqueValues: 3, TotalValues: 4, NullCount: 1, AvgLength: 3.75}, a.Patterns)
	assert.Equal(t, []string{"status"}, a.Suggestions)
}
