// Package domain defines the record kinds stored in a user's partition and
// the rules that relate them: transactions keyed by date, description
// mappings that recategorize at read time, file checksums for idempotent
// uploads, and monthly insight aggregates.
package domain

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/rumor-ml/commons.systems/spendtrack/internal/store"
)

// UncategorizedCategory is the neutral category transactions fall back to
// when the mapping that categorized them is deleted.
const UncategorizedCategory = "others"

// DefaultSearchTerm stands in for transactions whose description is empty, so
// they remain findable.
const DefaultSearchTerm = "other"

// Activity is a single transaction. Amount keeps exact precision and
// serializes as a decimal string.
type Activity struct {
	SK          string          `json:"sk"`
	Date        string          `json:"date"`
	Account     string          `json:"account"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Amount      decimal.Decimal `json:"amount"`
	SearchTerm  string          `json:"search_term,omitempty"`

	// Read-time annotations from the mapping overlay. Never persisted.
	Dirty     bool     `json:"dirty,omitempty"`
	Predicted []string `json:"predicted_category,omitempty"`
}

// NewActivity builds an activity with a fresh date-prefixed sort key. An
// empty description falls back to the category and vice versa, so neither is
// left empty when the source supplies either.
func NewActivity(date, account, description, category string, amount decimal.Decimal) Activity {
	if description == "" {
		description = category
	}
	if category == "" {
		category = description
	}
	return Activity{
		SK:          date + uuid.NewString(),
		Date:        date,
		Account:     account,
		Description: description,
		Category:    category,
		Amount:      amount,
		SearchTerm:  NormalizeSearchTerm(description),
	}
}

var searchTermTransform = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeSearchTerm lowercases a description and strips diacritics so
// mapping lookups match accent-insensitively. Empty input maps to
// DefaultSearchTerm.
func NormalizeSearchTerm(description string) string {
	if description == "" {
		return DefaultSearchTerm
	}
	folded, _, err := transform.String(searchTermTransform, description)
	if err != nil {
		folded = description
	}
	return strings.ToLower(folded)
}

// MaskAccount keeps only the last four characters of an account number.
func MaskAccount(account string) string {
	if len(account) <= 4 {
		return account
	}
	return account[len(account)-4:]
}

// Mapping assigns a category to every transaction whose search term contains
// the mapping's description as a substring.
type Mapping struct {
	SK          string `json:"sk"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// NewMapping builds a mapping record. The description is normalized the same
// way activity search terms are, so matching stays case and accent
// insensitive.
func NewMapping(description, category string) Mapping {
	d := NormalizeSearchTerm(description)
	return Mapping{SK: MappingSK(d), Description: d, Category: category}
}

// Matches reports whether the mapping applies to the activity.
func (m Mapping) Matches(a Activity) bool {
	term := a.SearchTerm
	if term == "" {
		term = NormalizeSearchTerm(a.Description)
	}
	return m.Description != "" && strings.Contains(term, m.Description)
}

// ApplyMappings overlays mappings onto an activity at read time. The first
// matching mapping's category wins, every matching category lands in
// Predicted, and Dirty flags that at least one mapping matched. The stored
// record is never modified.
func ApplyMappings(a Activity, mappings []Mapping) Activity {
	for _, m := range mappings {
		if !m.Matches(a) {
			continue
		}
		if !a.Dirty {
			a.Category = m.Category
			a.Dirty = true
		}
		a.Predicted = append(a.Predicted, m.Category)
	}
	return a
}

// FileChecksum marks a previously ingested upload.
type FileChecksum struct {
	SK       string `json:"sk"`
	Checksum string `json:"checksum"`
	File     string `json:"file,omitempty"`
	Date     string `json:"date,omitempty"`
}

// Insight is the aggregate of one user-month: net amount per category.
type Insight struct {
	SK         string                     `json:"sk"`
	Month      string                     `json:"month"`
	Categories map[string]decimal.Decimal `json:"categories"`
}

// IsDuplicate reports whether two activities describe the same transaction:
// equal date, amount and description.
func IsDuplicate(a, b Activity) bool {
	return a.Date == b.Date && a.Description == b.Description && a.Amount.Equal(b.Amount)
}

// IsOpposite reports whether b cancels a: negated amount within a seven day
// window. An activity is never its own opposite.
func IsOpposite(a, b Activity) bool {
	if a.SK == b.SK {
		return false
	}
	if !a.Amount.Equal(b.Amount.Neg()) {
		return false
	}
	ad, err := ParseDate(a.Date)
	if err != nil {
		return false
	}
	bd, err := ParseDate(b.Date)
	if err != nil {
		return false
	}
	diff := ad.Sub(bd)
	if diff < 0 {
		diff = -diff
	}
	return diff <= 7*24*time.Hour
}

// ActivityRecord converts an activity into its stored form.
func ActivityRecord(user string, a Activity) store.Record {
	return store.Record{
		User:        user,
		SK:          a.SK,
		Date:        a.Date,
		Account:     a.Account,
		Description: a.Description,
		Category:    a.Category,
		Amount:      a.Amount,
		SearchTerm:  a.SearchTerm,
	}
}

// ActivityFromRecord converts a stored row back into an activity. Read-time
// annotations start out clear.
func ActivityFromRecord(r store.Record) Activity {
	return Activity{
		SK:          r.SK,
		Date:        r.Date,
		Account:     r.Account,
		Description: r.Description,
		Category:    r.Category,
		Amount:      r.Amount,
		SearchTerm:  r.SearchTerm,
	}
}

// MappingRecord converts a mapping into its stored form.
func MappingRecord(user string, m Mapping) store.Record {
	return store.Record{User: user, SK: m.SK, Description: m.Description, Category: m.Category}
}

// MappingFromRecord converts a stored row back into a mapping.
func MappingFromRecord(r store.Record) Mapping {
	m := Mapping{SK: r.SK, Description: r.Description, Category: r.Category}
	if m.Description == "" {
		m.Description = strings.TrimPrefix(r.SK, MappingPrefix)
	}
	return m
}

// ChecksumRecord converts a file checksum into its stored form.
func ChecksumRecord(user string, c FileChecksum) store.Record {
	return store.Record{User: user, SK: c.SK, Checksum: c.Checksum, File: c.File, Date: c.Date}
}

// InsightRecord converts an insight into its stored form.
func InsightRecord(user string, in Insight) store.Record {
	return store.Record{User: user, SK: in.SK, Month: in.Month, Categories: in.Categories}
}

// InsightFromRecord converts a stored row back into an insight.
func InsightFromRecord(r store.Record) Insight {
	in := Insight{SK: r.SK, Month: r.Month, Categories: r.Categories}
	if in.Month == "" {
		in.Month = strings.TrimPrefix(r.SK, InsightPrefix)
	}
	if in.Categories == nil {
		in.Categories = map[string]decimal.Decimal{}
	}
	return in
}
