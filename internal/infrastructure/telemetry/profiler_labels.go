package telemetry

import (
	"context"
	"sort"
	"strings"

	"github.com/grafana/pyroscope-go"
)

// Profiling label keys. Values must stay low-cardinality.
const (
	ProfilingLabelStage    = "stage"
	ProfilingLabelPlatform = "platform"
	ProfilingLabelDomain   = "data_domain"
	ProfilingLabelView     = "view"
)

// Pipeline stages used as profiling label values
const (
	StageScan     = "scan"
	StageMap      = "map"
	StageValidate = "validate"
	StageLand     = "land"
	StageRefresh  = "refresh"
)

// MaxLabelValueLength caps label values
const MaxLabelValueLength = 128

// highCardinalityLabels are dropped from profiling labels
var highCardinalityLabels = map[string]bool{
	"file_id":   true,
	"file_hash": true,
	"file_path": true,
	"run_id":    true,
	"trace_id":  true,
	"span_id":   true,
}

// WithProfilingLabels runs fn with labels attached to its CPU samples.
// Empty, high-cardinality or unusable labels are dropped.
func WithProfilingLabels(ctx context.Context, labels map[string]string, fn func(context.Context)) {
	pairs := sanitizeLabels(labels)
	if len(pairs) == 0 {
		fn(ctx)
		return
	}
	pyroscope.TagWrapper(ctx, pyroscope.Labels(pairs...), fn)
}

// StageLabels labels one pipeline stage for a platform and data domain.
// Empty values are omitted.
func StageLabels(stage, platform, domain string) map[string]string {
	labels := map[string]string{ProfilingLabelStage: stage}
	if platform != "" {
		labels[ProfilingLabelPlatform] = platform
	}
	if domain != "" {
		labels[ProfilingLabelDomain] = domain
	}
	return labels
}

// sanitizeLabels returns sorted key/value pairs with snake_case keys and
// truncated values.
func sanitizeLabels(labels map[string]string) []string {
	if len(labels) == 0 {
		return nil
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(labels)*2)
	for _, key := range keys {
		value := labels[key]
		key = sanitizeLabelKey(key)
		if key == "" || value == "" || highCardinalityLabels[key] {
			continue
		}
		if len(value) > MaxLabelValueLength {
			value = value[:MaxLabelValueLength]
		}
		pairs = append(pairs, key, value)
	}
	return pairs
}

func sanitizeLabelKey(key string) string {
	key = strings.ToLower(key)
	var b strings.Builder
	b.Grow(len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c == ' ' || c == '-':
			b.WriteByte('_')
		case (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_':
			b.WriteByte(c)
		}
	}
	return b.String()
}
