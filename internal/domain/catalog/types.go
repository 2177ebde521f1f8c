package catalog

// Granularity is the time bucket a metric row represents.
type Granularity string

const (
	GranularityDaily   Granularity = "daily"
	GranularityWeekly  Granularity = "weekly"
	GranularityMonthly Granularity = "monthly"
)

// IsValid checks if the granularity is one of the supported buckets
func (g Granularity) IsValid() bool {
	switch g {
	case GranularityDaily, GranularityWeekly, GranularityMonthly:
		return true
	}
	return false
}

// DataDomain is a category of business data carried by a collected file.
type DataDomain string

const (
	DomainOrders    DataDomain = "orders"
	DomainProducts  DataDomain = "products"
	DomainTraffic   DataDomain = "traffic"
	DomainServices  DataDomain = "services"
	DomainAnalytics DataDomain = "analytics"
	DomainInventory DataDomain = "inventory"
	DomainFinance   DataDomain = "finance"
)

// IsTimeSeries reports whether the schema of the domain varies by granularity.
func (d DataDomain) IsTimeSeries() bool {
	switch d {
	case DomainTraffic, DomainServices, DomainAnalytics:
		return true
	}
	return false
}

// StorageLayer tracks where a file's data currently lives.
type StorageLayer string

const (
	LayerRaw        StorageLayer = "raw"
	LayerStaging    StorageLayer = "staging"
	LayerCurated    StorageLayer = "curated"
	LayerQuarantine StorageLayer = "quarantine"
)

// KnownPlatforms is the allow-list used when classifying files by path.
var KnownPlatforms = []string{"miaoshou", "shopee", "tiktok", "amazon", "lazada"}

// IsKnownPlatform checks the path-structure allow-list.
func IsKnownPlatform(p string) bool {
	for _, known := range KnownPlatforms {
		if known == p {
			return true
		}
	}
	return false
}
