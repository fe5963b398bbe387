// Package query answers filtered, paginated reads over a user's activities,
// with the mapping overlay applied to every returned row.
package query

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/spendtrack/internal/dedup"
	"github.com/rumor-ml/commons.systems/spendtrack/internal/domain"
	"github.com/rumor-ml/commons.systems/spendtrack/internal/mappings"
	"github.com/rumor-ml/commons.systems/spendtrack/internal/store"
)

// Params are the composable activity filters. Zero values mean "no filter".
type Params struct {
	Size        int
	NextKey     string
	StartDate   string
	EndDate     string
	Description string
	Account     string
	AmountMin   *decimal.Decimal
	AmountMax   *decimal.Decimal
	Categories  []string
	Exclude     bool
	IsDirty     *bool
}

// filtered reports whether any filter requires post-scan filtering. Filtered
// queries must scan the full range before truncating: a limited page could
// hold zero matches while later pages hold many.
func (p Params) filtered() bool {
	return p.Description != "" || p.Account != "" || p.AmountMin != nil ||
		p.AmountMax != nil || len(p.Categories) > 0 || p.IsDirty != nil
}

// Result is one page of activities. Count is the full pre-truncation match
// count for filtered queries, the page size otherwise.
type Result struct {
	Data    []domain.Activity `json:"data"`
	Count   int               `json:"count"`
	NextKey string            `json:"LastEvaluatedKey,omitempty"`
}

// Service reads activities.
type Service struct {
	store store.Store
}

// NewService creates a query service.
func NewService(s store.Store) *Service {
	return &Service{store: s}
}

// List returns activities matching the params, newest first, overlaid with
// the user's mappings.
func (s *Service) List(ctx context.Context, user string, p Params) (*Result, error) {
	start, end := p.StartDate, p.EndDate
	if start == "" {
		start = domain.MinDate
	}
	if end == "" {
		end = domain.MaxDate
	}

	all, err := mappings.FetchAll(ctx, s.store, user)
	if err != nil {
		return nil, err
	}

	if !p.filtered() {
		return s.listPage(ctx, user, start, end, p, all)
	}
	if len(p.Categories) > 0 {
		return s.listByCategory(ctx, user, start, end, p, all)
	}
	return s.listFiltered(ctx, user, start, end, p, all)
}

// listPage serves plain date-range pagination through the store's native
// limit and continuation key.
func (s *Service) listPage(ctx context.Context, user, start, end string, p Params, all []domain.Mapping) (*Result, error) {
	page, err := s.store.Query(ctx, user, store.Query{
		Start:      start,
		End:        end,
		Limit:      p.Size,
		StartAfter: p.NextKey,
		Descending: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query activities: %w", err)
	}

	res := &Result{Data: overlayActivities(page.Items, all), NextKey: page.NextKey}
	res.Count = len(res.Data)
	return res, nil
}

// listFiltered scans the full range, filters on stored fields, overlays, and
// truncates last.
func (s *Service) listFiltered(ctx context.Context, user, start, end string, p Params, all []domain.Mapping) (*Result, error) {
	records, err := s.scanRange(ctx, user, start, end)
	if err != nil {
		return nil, err
	}

	var matched []domain.Activity
	for _, r := range records {
		if p.Description != "" && !strings.Contains(r.SearchTerm, strings.ToLower(p.Description)) {
			continue
		}
		if p.Account != "" && r.Account != p.Account {
			continue
		}
		// Amount bounds compare stored amounts; the overlay never
		// changes an amount.
		if p.AmountMin != nil && r.Amount.LessThan(*p.AmountMin) {
			continue
		}
		if p.AmountMax != nil && r.Amount.GreaterThan(*p.AmountMax) {
			continue
		}
		a := domain.ApplyMappings(domain.ActivityFromRecord(r), all)
		if p.IsDirty != nil && a.Dirty != *p.IsDirty {
			continue
		}
		matched = append(matched, a)
	}

	res := &Result{Data: matched, Count: len(matched)}
	if p.Size > 0 && len(res.Data) > p.Size {
		res.Data = res.Data[:p.Size]
	}
	return res, nil
}

// listByCategory matches on effective category: either the stored category is
// in the requested set, or a mapping targeting one of the requested
// categories matches the row's search term. Exclude inverts the whole check.
// Results sort by amount descending; Count reports every match, not just the
// returned page.
func (s *Service) listByCategory(ctx context.Context, user, start, end string, p Params, all []domain.Mapping) (*Result, error) {
	records, err := s.scanRange(ctx, user, start, end)
	if err != nil {
		return nil, err
	}

	requested := map[string]bool{}
	for _, c := range p.Categories {
		requested[c] = true
	}
	var categoryMappings []domain.Mapping
	for _, m := range all {
		if requested[m.Category] {
			categoryMappings = append(categoryMappings, m)
		}
	}

	var matched []domain.Activity
	for _, r := range records {
		inCategory := requested[r.Category]
		if !inCategory {
			for _, m := range categoryMappings {
				if strings.Contains(r.SearchTerm, m.Description) {
					inCategory = true
					break
				}
			}
		}
		if inCategory == p.Exclude {
			continue
		}
		matched = append(matched, domain.ApplyMappings(domain.ActivityFromRecord(r), all))
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Amount.GreaterThan(matched[j].Amount)
	})

	res := &Result{Data: matched, Count: len(matched)}
	if p.Size > 0 && len(res.Data) > p.Size {
		res.Data = res.Data[:p.Size]
	}
	return res, nil
}

// Related classifies stored activities around one activity as duplicates or
// opposites. Returns store.ErrNotFound when the sort key does not exist.
func (s *Service) Related(ctx context.Context, user, sk string) ([]dedup.Related, error) {
	rec, err := s.store.Get(ctx, user, sk)
	if err != nil {
		return nil, err
	}
	return dedup.FindRelated(ctx, s.store, user, domain.ActivityFromRecord(*rec))
}

// EmptyDescription returns activities whose description is empty, for manual
// cleanup flows.
func (s *Service) EmptyDescription(ctx context.Context, user string, size int) ([]domain.Activity, error) {
	if size <= 0 {
		size = 10
	}
	records, err := s.scanRange(ctx, user, domain.MinDate, domain.MaxDate)
	if err != nil {
		return nil, err
	}
	var out []domain.Activity
	for _, r := range records {
		if r.Description != "" {
			continue
		}
		out = append(out, domain.ActivityFromRecord(r))
		if len(out) == size {
			break
		}
	}
	return out, nil
}

// Deleted lists soft-deleted activities.
func (s *Service) Deleted(ctx context.Context, user string) ([]domain.Activity, error) {
	records, err := store.QueryAll(ctx, s.store, user, store.Query{Prefix: domain.DeletedPrefix})
	if err != nil {
		return nil, fmt.Errorf("failed to list deleted activities: %w", err)
	}
	out := make([]domain.Activity, 0, len(records))
	for _, r := range records {
		a := domain.ActivityFromRecord(r)
		a.SK = strings.TrimPrefix(r.SK, domain.DeletedPrefix)
		out = append(out, a)
	}
	return out, nil
}

// FileChecks lists the user's ingested file checksums. A positive size
// truncates the result.
func (s *Service) FileChecks(ctx context.Context, user string, size int) ([]store.Record, error) {
	records, err := store.QueryAll(ctx, s.store, user, store.Query{Prefix: domain.ChecksumPrefix})
	if err != nil {
		return nil, fmt.Errorf("failed to list file checksums: %w", err)
	}
	if size > 0 && len(records) > size {
		records = records[:size]
	}
	return records, nil
}

// scanRange exhaustively reads activity rows in a date range, newest first.
func (s *Service) scanRange(ctx context.Context, user, start, end string) ([]store.Record, error) {
	records, err := store.QueryAll(ctx, s.store, user, store.Query{Start: start, End: end, Descending: true})
	if err != nil {
		return nil, fmt.Errorf("failed to scan activities: %w", err)
	}
	out := records[:0]
	for _, r := range records {
		if domain.IsActivitySK(r.SK) {
			out = append(out, r)
		}
	}
	return out, nil
}

func overlayActivities(records []store.Record, all []domain.Mapping) []domain.Activity {
	out := make([]domain.Activity, 0, len(records))
	for _, r := range records {
		if !domain.IsActivitySK(r.SK) {
			continue
		}
		out = append(out, domain.ApplyMappings(domain.ActivityFromRecord(r), all))
	}
	return out
}
