package scanner

// ScanReport summarizes one ScanAndAnalyze run
type ScanReport struct {
	Total           int        `json:"total"`
	Valid           int        `json:"valid"`
	Invalid         int        `json:"invalid"`
	WithManifest    int        `json:"with_manifest"`
	WithoutManifest int        `json:"without_manifest"`
	Files           []FileInfo `json:"files"`
}

// NewScanReport tallies the counters from files
func NewScanReport(files []FileInfo) *ScanReport {
	r := &ScanReport{Files: files}
	if r.Files == nil {
		r.Files = make([]FileInfo, 0)
	}
	for _, f := range r.Files {
		r.Total++
		if !f.Valid {
			r.Invalid++
			continue
		}
		r.Valid++
		if f.Metadata != nil && f.Metadata.Source == SourceManifest {
			r.WithManifest++
		} else {
			r.WithoutManifest++
		}
	}
	return r
}

// ValidFiles returns only the files classified as valid
func (r *ScanReport) ValidFiles() []FileInfo {
	return r.filter(func(*Metadata) bool { return true })
}

// FilesByPlatform returns valid files whose platform equals platform
func (r *ScanReport) FilesByPlatform(platform string) []FileInfo {
	return r.filter(func(m *Metadata) bool { return m.Platform == platform })
}

// FilesByDataType returns valid files whose data type equals dataType
func (r *ScanReport) FilesByDataType(dataType string) []FileInfo {
	return r.filter(func(m *Metadata) bool { return m.DataType == dataType })
}

// FilesWithoutManifest returns valid files whose metadata was inferred
func (r *ScanReport) FilesWithoutManifest() []FileInfo {
	return r.filter(func(m *Metadata) bool { return m.Source != SourceManifest })
}

func (r *ScanReport) filter(keep func(*Metadata) bool) []FileInfo {
	out := make([]FileInfo, 0)
	for _, f := range r.Files {
		if f.Valid && f.Metadata != nil && keep(f.Metadata) {
			out = append(out, f)
		}
	}
	return out
}
