package model

import (
	"sort"
	"time"
)

// Contribution kinds known to the default weight table.
const (
	KindMergedChange  = "merged-change"
	KindResolvedIssue = "resolved-issue"
	KindReview        = "review"
)

// ContributionRecord is one normalized unit of external activity.
// DedupKey is the source-system unique id and is unique per account.
type ContributionRecord struct {
	AccountID  string
	Kind       string
	Weight     float64
	SourceTime time.Time
	DedupKey   string
}

// SortRecords orders records canonically by dedup key, then source time, kind and weight.
func SortRecords(records []ContributionRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.DedupKey != b.DedupKey {
			return a.DedupKey < b.DedupKey
		}
		if !a.SourceTime.Equal(b.SourceTime) {
			return a.SourceTime.Before(b.SourceTime)
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Weight < b.Weight
	})
}
