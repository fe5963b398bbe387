// Package store defines the ordered keyed store that holds every record kind
// of the activities table, plus its Firestore, SQLite and in-memory
// implementations.
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when no record exists under (user, sk).
var ErrNotFound = errors.New("record not found")

// Record is one row of the activities table. The table is a single wide
// table: activities, mappings, file checksums, monthly insights, soft-deleted
// activities and related-activity links all live in one (user, sk) keyspace,
// distinguished by sk prefix. Fields that do not apply to a record kind stay
// zero-valued.
type Record struct {
	User        string
	SK          string
	Date        string
	Account     string
	Description string
	Category    string
	Amount      decimal.Decimal
	SearchTerm  string
	Checksum    string

	// File checksum fields
	File      string
	StartDate string
	EndDate   string

	// Mapping fields
	Priority  int
	CreatedAt string

	// Monthly insight fields
	Month      string
	Categories map[string]decimal.Decimal

	// Related-activity fields
	RelatedSK string
	Duplicate bool
	Opposite  bool
}

// Query selects a contiguous sk range within one user partition. Exactly one
// of Prefix or the Start/End pair should be set; Prefix is shorthand for the
// smallest range containing every key with that prefix.
type Query struct {
	Start      string
	End        string
	Prefix     string
	Limit      int    // 0 means no limit
	StartAfter string // continuation key: last sk of the previous page
	Descending bool
}

// Page is one page of query results. NextKey is empty when the scan is
// exhausted.
type Page struct {
	Items   []Record
	NextKey string
}

// Store is the keyed range store. Single-item writes are atomic; batch writes
// may apply partially, and callers sequence multi-item consistency
// themselves.
type Store interface {
	Get(ctx context.Context, user, sk string) (*Record, error)
	Put(ctx context.Context, rec Record) error
	// Delete removes a record and returns the old value, or ErrNotFound.
	Delete(ctx context.Context, user, sk string) (*Record, error)
	BatchPut(ctx context.Context, recs []Record) error
	BatchDelete(ctx context.Context, user string, sks []string) error
	Query(ctx context.Context, user string, q Query) (*Page, error)
}

// QueryAll follows continuation keys until the range is exhausted. Filtered
// reads must use this rather than a limited Query: a limited page can contain
// zero matches while later pages contain many.
func QueryAll(ctx context.Context, s Store, user string, q Query) ([]Record, error) {
	q.Limit = 0
	var all []Record
	for {
		page, err := s.Query(ctx, user, q)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Items...)
		if page.NextKey == "" {
			return all, nil
		}
		q.StartAfter = page.NextKey
	}
}

// PrefixRange converts a key prefix into an inclusive sk range. Appending
// 0xFF sorts after every printable continuation of the prefix.
func PrefixRange(prefix string) (start, end string) {
	return prefix, prefix + "\xff"
}
