// Package dedup detects re-uploaded files and duplicate or opposite
// transactions. Whole files are fingerprinted by content hash; individual
// transactions are compared by date, amount and description over a bounded
// date window.
package dedup

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/rumor-ml/commons.systems/spendtrack/internal/domain"
	"github.com/rumor-ml/commons.systems/spendtrack/internal/store"
)

// RelatedWindow bounds how far apart two transactions' dates may be while
// still counting as a duplicate/opposite pair.
const RelatedWindow = 7 * 24 * time.Hour

// Checksum fingerprints one uploaded file's raw bytes.
func Checksum(body []byte) string {
	sum := md5.Sum(body)
	return hex.EncodeToString(sum[:])
}

// SeenFile reports whether a file with this checksum was already ingested
// for the user.
func SeenFile(ctx context.Context, s store.Store, user, checksum string) (bool, error) {
	_, err := s.Get(ctx, user, domain.ChecksumSK(checksum))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check file checksum: %w", err)
}

// FindDuplicates returns the sort keys of existing activities that duplicate
// the candidate: equal date, amount and description.
func FindDuplicates(candidate domain.Activity, existing []domain.Activity) []string {
	var dups []string
	for _, e := range existing {
		if e.SK != candidate.SK && domain.IsDuplicate(candidate, e) {
			dups = append(dups, e.SK)
		}
	}
	return dups
}

// Related holds one existing activity's relationship to a query activity.
type Related struct {
	Activity  domain.Activity
	Duplicate bool
	Opposite  bool
}

// FindRelated scans the date window around an activity and classifies every
// stored activity in range by amount: equal amounts are duplicates, negated
// amounts are opposites (a charge and its refund, or a transfer pair). The
// queried activity itself is excluded by sort key.
func FindRelated(ctx context.Context, s store.Store, user string, a domain.Activity) ([]Related, error) {
	date, err := domain.ParseDate(a.Date)
	if err != nil {
		return nil, fmt.Errorf("invalid activity date %q: %w", a.Date, err)
	}
	start := date.Add(-RelatedWindow).Format(domain.DateFormat)
	end := date.Add(RelatedWindow).Format(domain.DateFormat) + "\xff"

	records, err := store.QueryAll(ctx, s, user, store.Query{Start: start, End: end})
	if err != nil {
		return nil, fmt.Errorf("failed to scan related window: %w", err)
	}

	var related []Related
	for _, r := range records {
		if !domain.IsActivitySK(r.SK) || r.SK == a.SK {
			continue
		}
		other := domain.ActivityFromRecord(r)
		rel := Related{
			Activity:  other,
			Duplicate: other.Amount.Equal(a.Amount),
			Opposite:  other.Amount.Equal(a.Amount.Neg()),
		}
		if rel.Duplicate || rel.Opposite {
			related = append(related, rel)
		}
	}
	return related, nil
}
