package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFile(t *testing.T) *CatalogFile {
	t.Helper()
	f, err := NewCatalogFile("temp/outputs/shopee/acct/shop__1/orders/daily/a.xlsx", 1024, "abc")
	require.NoError(t, err)
	return f
}

func TestNewCatalogFile(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		size    int64
		hash    string
		wantErr string
	}{
		{name: "valid", path: "a/b.xlsx", size: 10, hash: "h"},
		{name: "empty path", path: "", size: 10, hash: "h", wantErr: "File path cannot be empty"},
		{name: "negative size", path: "a.csv", size: -1, hash: "h", wantErr: "File size cannot be negative"},
		{name: "missing hash", path: "a.csv", size: 1, hash: "", wantErr: "File hash is required for registration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewCatalogFile(tt.path, tt.size, tt.hash)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, FileStatusPending, f.Status)
			assert.Equal(t, LayerRaw, f.StorageLayer)
			assert.Equal(t, "b.xlsx", f.FileName)
			assert.Equal(t, 1, f.Version)
			assert.Equal(t, f.CreatedAt, f.FirstSeenAt)
		})
	}
}

func TestCatalogFile_HappyPath(t *testing.T) {
	f := newTestFile(t)

	require.NoError(t, f.StartProcessing())
	assert.Equal(t, FileStatusProcessing, f.Status)
	assert.Equal(t, LayerStaging, f.StorageLayer)
	assert.NotNil(t, f.LastProcessedAt)

	require.NoError(t, f.Complete(97.5))
	assert.Equal(t, FileStatusCompleted, f.Status)
	assert.Equal(t, LayerCurated, f.StorageLayer)
	require.NotNil(t, f.QualityScore)
	assert.InDelta(t, 97.5, *f.QualityScore, 0.001)
	assert.Equal(t, 3, f.Version)
	assert.True(t, f.Status.IsTerminal())
}

func TestCatalogFile_CompleteWithHeldRows(t *testing.T) {
	f := newTestFile(t)
	require.NoError(t, f.StartProcessing())

	issues := []IssueDetail{{Row: 1, Column: "order_amount", Type: "business_rule", Message: "must be positive", Value: "-5"}}
	require.NoError(t, f.CompleteWithHeldRows(50, issues, "1 rows held"))
	assert.Equal(t, FileStatusCompleted, f.Status)
	assert.Equal(t, LayerCurated, f.StorageLayer)
	assert.True(t, f.HasIssues())
	assert.Equal(t, "1 rows held", f.ErrorMessage)

	assert.Error(t, f.CompleteWithHeldRows(50, issues, "again"))
}

func TestCatalogFile_QuarantineAndRequeue(t *testing.T) {
	f := newTestFile(t)
	require.NoError(t, f.StartProcessing())

	issues := []IssueDetail{{Row: 2, Column: "order_amount", Type: "business_rule", Message: "must be positive", Value: "-5"}}
	require.NoError(t, f.Quarantine(40, issues, "1 blocking error"))
	assert.Equal(t, FileStatusQuarantined, f.Status)
	assert.Equal(t, LayerQuarantine, f.StorageLayer)
	assert.True(t, f.HasIssues())
	assert.Equal(t, "1 blocking error", f.ErrorMessage)

	require.NoError(t, f.Requeue())
	assert.Equal(t, FileStatusPending, f.Status)
	assert.Equal(t, LayerRaw, f.StorageLayer)
}

func TestCatalogFile_InvalidTransitions(t *testing.T) {
	f := newTestFile(t)

	assert.Error(t, f.Complete(100), "pending cannot complete")
	assert.Error(t, f.Requeue(), "pending cannot requeue")

	require.NoError(t, f.StartProcessing())
	assert.Error(t, f.StartProcessing(), "processing cannot restart")

	require.NoError(t, f.Complete(100))
	assert.Error(t, f.Fail("boom"))
	assert.Error(t, f.Requeue())
	assert.Equal(t, FileStatusCompleted, f.Status)
}

func TestCatalogFile_FailTruncatesMessage(t *testing.T) {
	f := newTestFile(t)
	require.NoError(t, f.StartProcessing())

	long := make([]rune, 600)
	for i := range long {
		long[i] = '错'
	}
	require.NoError(t, f.Fail(string(long)))
	assert.Equal(t, FileStatusError, f.Status)
	assert.Len(t, []rune(f.ErrorMessage), 500)
}

func TestCatalogFile_ValidationErrorsJSON(t *testing.T) {
	f := newTestFile(t)

	s, err := f.ValidationErrorsJSON()
	require.NoError(t, err)
	assert.Equal(t, "[]", s)

	f.ValidationErrors = []IssueDetail{{Row: 1, Column: "shop_id", Type: "required_field", Message: "missing"}}
	s, err = f.ValidationErrorsJSON()
	require.NoError(t, err)

	other := newTestFile(t)
	require.NoError(t, other.SetValidationErrorsFromJSON(s))
	assert.Equal(t, f.ValidationErrors, other.ValidationErrors)

	assert.Error(t, other.SetValidationErrorsFromJSON("{bad"))
	require.NoError(t, other.SetValidationErrorsFromJSON("null"))
	assert.Empty(t, other.ValidationErrors)
}

func TestDataDomain_IsTimeSeries(t *testing.T) {
	assert.True(t, DomainTraffic.IsTimeSeries())
	assert.True(t, DomainServices.IsTimeSeries())
	assert.True(t, DomainAnalytics.IsTimeSeries())
	assert.False(t, DomainOrders.IsTimeSeries())
	assert.False(t, DomainProducts.IsTimeSeries())
}

func TestIsKnownPlatform(t *testing.T) {
	assert.True(t, IsKnownPlatform("shopee"))
	assert.True(t, IsKnownPlatform("miaoshou"))
	assert.False(t, IsKnownPlatform("Shopee"))
	assert.False(t, IsKnownPlatform("ebay"))
}
