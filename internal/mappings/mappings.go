// Package mappings manages the description to category rules of one user.
package mappings

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rumor-ml/commons.systems/spendtrack/internal/domain"
	"github.com/rumor-ml/commons.systems/spendtrack/internal/store"
)

// Service is the mapping CRUD layer on top of the keyed store.
type Service struct {
	store store.Store
	now   func() time.Time
}

// NewService creates a mapping service.
func NewService(s store.Store) *Service {
	return &Service{store: s, now: time.Now}
}

// FetchAll returns every mapping of a user in fetch order, following store
// pagination until exhausted. Fetch order is what breaks ties when several
// mappings match one activity.
func FetchAll(ctx context.Context, s store.Store, user string) ([]domain.Mapping, error) {
	records, err := store.QueryAll(ctx, s, user, store.Query{Prefix: domain.MappingPrefix})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch mappings: %w", err)
	}
	mappings := make([]domain.Mapping, 0, len(records))
	for _, r := range records {
		mappings = append(mappings, domain.MappingFromRecord(r))
	}
	return mappings, nil
}

// FetchAll returns every mapping of the user.
func (s *Service) FetchAll(ctx context.Context, user string) ([]domain.Mapping, error) {
	return FetchAll(ctx, s.store, user)
}

// Upsert stores a mapping. One mapping exists per (user, description):
// posting the same description replaces the category and priority but keeps
// the original creation time, so group ordering reflects when the rule first
// appeared.
func (s *Service) Upsert(ctx context.Context, user, description, category string, priority int) (domain.Mapping, error) {
	if description == "" || category == "" {
		return domain.Mapping{}, fmt.Errorf("mapping requires description and category")
	}
	m := domain.NewMapping(description, category)
	rec := domain.MappingRecord(user, m)
	rec.Priority = priority
	rec.CreatedAt = s.now().UTC().Format(time.RFC3339)
	if old, err := s.store.Get(ctx, user, rec.SK); err == nil {
		if old.CreatedAt != "" {
			rec.CreatedAt = old.CreatedAt
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.Mapping{}, fmt.Errorf("failed to read existing mapping: %w", err)
	}
	if err := s.store.Put(ctx, rec); err != nil {
		return domain.Mapping{}, fmt.Errorf("failed to store mapping: %w", err)
	}
	return m, nil
}

// Delete removes a mapping by its description match key.
func (s *Service) Delete(ctx context.Context, user, description string) error {
	sk := domain.MappingSK(domain.NormalizeSearchTerm(description))
	if _, err := s.store.Delete(ctx, user, sk); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to delete mapping: %w", err)
	}
	return nil
}

// Entry is one description rule inside a group.
type Entry struct {
	Description string `json:"description"`
	Priority    int    `json:"priority"`
	SK          string `json:"sk"`
}

// Group is one category with every description rule mapped to it.
type Group struct {
	Category     string  `json:"category"`
	Descriptions []Entry `json:"descriptions"`
}

// Grouped returns the user's mappings grouped by category. Groups are
// ordered by their most recently created mapping, newest first, with the
// category name breaking timestamp ties.
func (s *Service) Grouped(ctx context.Context, user string) ([]Group, error) {
	records, err := store.QueryAll(ctx, s.store, user, store.Query{Prefix: domain.MappingPrefix})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch mappings: %w", err)
	}
	byCategory := map[string][]Entry{}
	latest := map[string]string{}
	for _, r := range records {
		byCategory[r.Category] = append(byCategory[r.Category], Entry{
			Description: r.Description,
			Priority:    r.Priority,
			SK:          r.SK,
		})
		if r.CreatedAt > latest[r.Category] {
			latest[r.Category] = r.CreatedAt
		}
	}
	groups := make([]Group, 0, len(byCategory))
	for category, descriptions := range byCategory {
		groups = append(groups, Group{Category: category, Descriptions: descriptions})
	}
	sort.Slice(groups, func(i, j int) bool {
		if latest[groups[i].Category] != latest[groups[j].Category] {
			return latest[groups[i].Category] > latest[groups[j].Category]
		}
		return groups[i].Category < groups[j].Category
	})
	return groups, nil
}
