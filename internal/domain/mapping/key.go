package mapping

import (
	"strings"

	"github.com/erp/ingestion/internal/domain/catalog"
)

const (
	// GenericPlatform is the rule set used when no platform-specific one exists.
	GenericPlatform = "generic"
	// UnknownDataType is used when a file's data domain could not be determined.
	UnknownDataType = "unknown"
	// CommonGranularity is the rule bucket shared by all granularities.
	CommonGranularity = "common"
)

// FileMetadata is the subset of scanner output the mappers need.
type FileMetadata struct {
	Platform    string
	DataType    string
	Granularity string
}

// MetadataFromCatalog derives mapper metadata from a catalog file.
func MetadataFromCatalog(f *catalog.CatalogFile) FileMetadata {
	return FileMetadata{
		Platform:    f.Platform,
		DataType:    string(f.DataDomain),
		Granularity: string(f.Granularity),
	}
}

// Normalized fills defaults for missing platform and data type.
func (m FileMetadata) Normalized() FileMetadata {
	out := FileMetadata{
		Platform:    strings.ToLower(strings.TrimSpace(m.Platform)),
		DataType:    strings.ToLower(strings.TrimSpace(m.DataType)),
		Granularity: strings.ToLower(strings.TrimSpace(m.Granularity)),
	}
	if out.Platform == "" {
		out.Platform = GenericPlatform
	}
	if out.DataType == "" {
		out.DataType = UnknownDataType
	}
	return out
}

// RuleGranularity is the granularity bucket used for rule lookup: the real
// granularity for time-series domains, "common" otherwise.
func (m FileMetadata) RuleGranularity() string {
	n := m.Normalized()
	if catalog.DataDomain(n.DataType).IsTimeSeries() && n.Granularity != "" {
		return n.Granularity
	}
	return CommonGranularity
}

// GenerateKey builds "<platform>:<data_type>[_<granularity>]". Granularity is
// only part of the key for time-series domains, whose column layout differs
// per granularity.
func GenerateKey(meta FileMetadata) string {
	n := meta.Normalized()
	if g := meta.RuleGranularity(); g != CommonGranularity {
		return n.Platform + ":" + n.DataType + "_" + g
	}
	return n.Platform + ":" + n.DataType
}

// KeyPlatform returns the platform prefix of a mapping key.
func KeyPlatform(key string) (string, bool) {
	i := strings.Index(key, ":")
	if i < 0 {
		return "", false
	}
	return key[:i], true
}
