package project

import "regexp"

// StabilityThresholds bounds what counts as a stable scrape relative to
// the stored baseline.
type StabilityThresholds struct {
	// IntersectionMin is the minimum share of baseline identifiers that
	// must reappear in the scrape.
	IntersectionMin float64

	// CountRatioMin and CountRatioMax bound the scraped count relative
	// to the baseline count.
	CountRatioMin float64
	CountRatioMax float64
}

// Stability compares one scrape against the stored baseline. A scrape is
// stable when it mostly re-observes the projects already tracked; a low
// intersection or a wildly different count signals parser drift or a
// degraded listing rather than real registry churn.
type Stability struct {
	IntersectionRatio float64 `json:"intersection_ratio"`
	CountRatio        float64 `json:"count_ratio"`
	Stable            bool    `json:"stable"`
	BaselineCount     int     `json:"baseline_count"`
	ScrapedCount      int     `json:"scraped_count"`
	IntersectionCount int     `json:"intersection_count"`
}

// EvaluateStability measures the scraped records against the previous
// snapshot. With an empty baseline nothing can be compared and the result
// is unstable.
func EvaluateStability(previous map[string]*Record, current []*Record, t StabilityThresholds) Stability {
	st := Stability{BaselineCount: len(previous), ScrapedCount: len(current)}
	if len(previous) == 0 {
		return st
	}

	for _, rec := range current {
		if _, ok := previous[rec.Identifier]; ok {
			st.IntersectionCount++
		}
	}
	st.IntersectionRatio = float64(st.IntersectionCount) / float64(len(previous))
	st.CountRatio = float64(len(current)) / float64(len(previous))
	st.Stable = st.IntersectionRatio >= t.IntersectionMin &&
		st.CountRatio >= t.CountRatioMin && st.CountRatio <= t.CountRatioMax
	return st
}

var registryIdentifierPattern = regexp.MustCompile(`^registry_\d{1,15}$`)

// ValidateIdentifierSchema reports whether every record carries a
// registry-derived identifier. A hash fallback means the detail URL no
// longer matched any known pattern, which is the earliest sign of a
// listing format change. Returns a sample of offending identifiers,
// capped at five.
func ValidateIdentifierSchema(records []*Record) (bool, []string) {
	var invalid []string
	for _, rec := range records {
		if !registryIdentifierPattern.MatchString(rec.Identifier) {
			if len(invalid) < 5 {
				invalid = append(invalid, rec.Identifier)
			}
		}
	}
	return len(invalid) == 0, invalid
}
