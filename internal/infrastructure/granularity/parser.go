// Package granularity infers the time bucket of a collected file from its
// path, its name or the date range it covers.
package granularity

import (
	"regexp"
	"strings"
	"time"

	"github.com/erp/ingestion/internal/domain/catalog"
)

// DateLayout is the layout of start/end dates accepted by ParseFromDateRange.
const DateLayout = "2006-01-02"

type keywordSet struct {
	granularity catalog.Granularity
	keywords    []string
}

// keywords are checked in this order; the first hit wins.
var keywords = []keywordSet{
	{catalog.GranularityDaily, []string{"daily", "day", "日", "每日", "日度"}},
	{catalog.GranularityWeekly, []string{"weekly", "week", "周", "每周", "周度"}},
	{catalog.GranularityMonthly, []string{"monthly", "month", "月", "每月", "月度"}},
}

type filenamePattern struct {
	granularity catalog.Granularity
	re          *regexp.Regexp
}

// Word characters follow Unicode semantics, so "日报" does not match "日"
// and "daily_sales" does not match "daily".
var filenamePatterns = buildFilenamePatterns()

func buildFilenamePatterns() []filenamePattern {
	const word = `\p{L}\p{M}\p{N}_`
	out := make([]filenamePattern, 0)
	for _, set := range keywords {
		for _, kw := range set.keywords {
			re := regexp.MustCompile(`(?:^|[^` + word + `])` + regexp.QuoteMeta(kw) + `(?:$|[^` + word + `])`)
			out = append(out, filenamePattern{granularity: set.granularity, re: re})
		}
	}
	return out
}

// ParseFromPath matches a keyword only when it is a whole path segment.
func ParseFromPath(filePath string) (catalog.Granularity, bool) {
	if filePath == "" {
		return "", false
	}
	segments := strings.FieldsFunc(strings.ToLower(filePath), func(r rune) bool {
		return r == '/' || r == '\\'
	})
	for _, set := range keywords {
		for _, kw := range set.keywords {
			for _, seg := range segments {
				if seg == kw {
					return set.granularity, true
				}
			}
		}
	}
	return "", false
}

// ParseFromFilename matches a keyword delimited by word boundaries.
func ParseFromFilename(filename string) (catalog.Granularity, bool) {
	if filename == "" {
		return "", false
	}
	lower := strings.ToLower(filename)
	for _, p := range filenamePatterns {
		if p.re.MatchString(lower) {
			return p.granularity, true
		}
	}
	return "", false
}

// ParseFromDateRange infers the bucket from the covered span: same day is
// daily, 1-7 days weekly, 20-35 days monthly. Anything else, including
// unparseable or reversed dates, is unresolved.
func ParseFromDateRange(startDate, endDate string) (catalog.Granularity, bool) {
	if startDate == "" || endDate == "" {
		return "", false
	}
	start, err := time.Parse(DateLayout, startDate)
	if err != nil {
		return "", false
	}
	end, err := time.Parse(DateLayout, endDate)
	if err != nil {
		return "", false
	}

	days := int(end.Sub(start).Hours() / 24)
	switch {
	case days == 0:
		return catalog.GranularityDaily, true
	case days >= 1 && days <= 7:
		return catalog.GranularityWeekly, true
	case days >= 20 && days <= 35:
		return catalog.GranularityMonthly, true
	}
	return "", false
}

// Parse resolves granularity by path, then filename, then date range, and
// falls back to def (daily when def is empty). It never fails.
func Parse(filePath, filename, startDate, endDate string, def catalog.Granularity) catalog.Granularity {
	if g, ok := ParseFromPath(filePath); ok {
		return g
	}
	if g, ok := ParseFromFilename(filename); ok {
		return g
	}
	if g, ok := ParseFromDateRange(startDate, endDate); ok {
		return g
	}
	if def == "" {
		return catalog.GranularityDaily
	}
	return def
}

// Validate reports whether s names a supported granularity.
func Validate(s string) bool {
	return catalog.Granularity(s).IsValid()
}

var displayNames = map[string]map[catalog.Granularity]string{
	"zh": {
		catalog.GranularityDaily:   "每日",
		catalog.GranularityWeekly:  "每周",
		catalog.GranularityMonthly: "每月",
	},
	"en": {
		catalog.GranularityDaily:   "Daily",
		catalog.GranularityWeekly:  "Weekly",
		catalog.GranularityMonthly: "Monthly",
	},
}

// DisplayName returns a label for g in lang ("zh" or "en"). Unknown languages
// use zh; unknown granularities are returned unchanged.
func DisplayName(g catalog.Granularity, lang string) string {
	names, ok := displayNames[lang]
	if !ok {
		names = displayNames["zh"]
	}
	if name, ok := names[g]; ok {
		return name
	}
	return string(g)
}
