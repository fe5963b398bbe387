package domain

import (
	"fmt"
	"regexp"
	"time"
)

// Sort-key namespaces. Activities use plain date-prefixed keys so
// lexicographic ranges double as date ranges; every other record kind gets a
// non-date prefix that the activity regex rejects.
const (
	MappingPrefix  = "mapping#"
	ChecksumPrefix = "chksum#"
	InsightPrefix  = "insights#"
	DeletedPrefix  = "deleted#"
	RelatedPrefix  = "related_activity#"
)

// Date range sentinels covering every possible activity sort key.
const (
	MinDate = "0000-00-00"
	MaxDate = "9999-99-99"
)

// DateFormat is the ISO calendar-date layout used everywhere.
const DateFormat = "2006-01-02"

// activitySKPattern matches sort keys that begin with an ISO date. Checksum,
// mapping, insight, deleted and related records fall outside this pattern, so
// range scans over [MinDate, MaxDate] can filter them out reliably.
var activitySKPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)

// IsActivitySK reports whether sk belongs to a live transaction row.
func IsActivitySK(sk string) bool {
	return activitySKPattern.MatchString(sk)
}

// MappingSK builds the sort key for a description mapping. One mapping per
// (user, description): posting the same description overwrites the row.
func MappingSK(description string) string {
	return MappingPrefix + description
}

// ChecksumSK builds the sort key for a whole-file checksum record.
func ChecksumSK(checksum string) string {
	return ChecksumPrefix + checksum
}

// InsightSK builds the sort key for a monthly aggregate. month is YYYY-MM.
func InsightSK(month string) string {
	return InsightPrefix + month
}

// DeletedSK builds the sort key for a soft-deleted activity.
func DeletedSK(sk string) string {
	return DeletedPrefix + sk
}

// RelatedSK builds the sort key for a duplicate/opposite link between two
// activities.
func RelatedSK(sk, otherSK string) string {
	return fmt.Sprintf("%s%s#%s", RelatedPrefix, sk, otherSK)
}

// MonthOf extracts the YYYY-MM bucket from an ISO date. Malformed dates map
// to the empty month rather than panicking; callers skip those rows.
func MonthOf(date string) string {
	if len(date) < 7 {
		return ""
	}
	return date[:7]
}

// ParseDate parses an ISO calendar date.
func ParseDate(date string) (time.Time, error) {
	return time.Parse(DateFormat, date)
}
