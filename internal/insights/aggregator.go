// Package insights maintains and serves per-user-per-month category
// aggregates. The aggregator consumes change batches from the store's feed;
// the reader answers aggregate queries from source rows.
package insights

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/spendtrack/internal/dedup"
	"github.com/rumor-ml/commons.systems/spendtrack/internal/domain"
	"github.com/rumor-ml/commons.systems/spendtrack/internal/store"
)

// Aggregator applies change batches to the stored monthly aggregates and
// keeps stored categories in line with mapping changes.
type Aggregator struct {
	store store.Store
}

// NewAggregator creates an aggregator.
func NewAggregator(s store.Store) *Aggregator {
	return &Aggregator{store: s}
}

// monthKey addresses one (user, month) aggregate.
type monthKey struct {
	user  string
	month string
}

// Process applies one change batch. Mapping changes rewrite stored activity
// categories; activity changes are summed into per-month category deltas and
// applied with one read-modify-write per affected (user, month). The update
// is read-then-write, not atomic: concurrent batches can race, and the
// reconcile job corrects any drift.
func (a *Aggregator) Process(ctx context.Context, events []store.Event) error {
	deltas := map[monthKey]map[string]decimal.Decimal{}

	add := func(user, month, category string, amount decimal.Decimal) {
		if month == "" {
			return
		}
		key := monthKey{user: user, month: month}
		if deltas[key] == nil {
			deltas[key] = map[string]decimal.Decimal{}
		}
		deltas[key][category] = deltas[key][category].Add(amount)
	}

	for _, ev := range events {
		switch {
		case strings.HasPrefix(ev.SK, domain.MappingPrefix):
			if err := a.processMapping(ctx, ev); err != nil {
				return err
			}
		case domain.IsActivitySK(ev.SK):
			switch ev.Type {
			case store.EventInsert:
				add(ev.User, domain.MonthOf(ev.New.Date), ev.New.Category, ev.New.Amount)
				a.recordRelated(ctx, ev.User, *ev.New)
			case store.EventModify:
				add(ev.User, domain.MonthOf(ev.Old.Date), ev.Old.Category, ev.Old.Amount.Neg())
				add(ev.User, domain.MonthOf(ev.New.Date), ev.New.Category, ev.New.Amount)
			case store.EventRemove:
				add(ev.User, domain.MonthOf(ev.Old.Date), ev.Old.Category, ev.Old.Amount.Neg())
			}
		}
	}

	for key, categories := range deltas {
		if err := a.applyMonth(ctx, key, categories); err != nil {
			return err
		}
	}
	return nil
}

// processMapping reacts to mapping changes. Insert and modify rewrite the
// stored category of every matching activity (the one place stored
// categories are rewritten; reads get the same answer immediately through
// the overlay). Delete reverts previously matched activities to the neutral
// category.
func (a *Aggregator) processMapping(ctx context.Context, ev store.Event) error {
	switch ev.Type {
	case store.EventInsert, store.EventModify:
		m := domain.MappingFromRecord(*ev.New)
		return a.rewriteCategories(ctx, ev.User, m.Description, m.Category)
	case store.EventRemove:
		m := domain.MappingFromRecord(*ev.Old)
		return a.rewriteCategories(ctx, ev.User, m.Description, domain.UncategorizedCategory)
	}
	return nil
}

// rewriteCategories sets the stored category of every activity whose search
// term contains description. The writes emit their own modify events, which
// carry the aggregate adjustments.
func (a *Aggregator) rewriteCategories(ctx context.Context, user, description, category string) error {
	records, err := store.QueryAll(ctx, a.store, user, store.Query{Start: domain.MinDate, End: domain.MaxDate})
	if err != nil {
		return fmt.Errorf("failed to scan activities for recategorization: %w", err)
	}
	for _, r := range records {
		if !domain.IsActivitySK(r.SK) || !strings.Contains(r.SearchTerm, description) {
			continue
		}
		if r.Category == category {
			continue
		}
		r.Category = category
		if err := a.store.Put(ctx, r); err != nil {
			return fmt.Errorf("failed to recategorize %s: %w", r.SK, err)
		}
	}
	return nil
}

// applyMonth folds one month's deltas into the stored aggregate.
func (a *Aggregator) applyMonth(ctx context.Context, key monthKey, categories map[string]decimal.Decimal) error {
	in := domain.Insight{SK: domain.InsightSK(key.month), Month: key.month, Categories: map[string]decimal.Decimal{}}
	rec, err := a.store.Get(ctx, key.user, in.SK)
	if err == nil {
		in = domain.InsightFromRecord(*rec)
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to read insight %s: %w", in.SK, err)
	}

	for category, delta := range categories {
		in.Categories[category] = in.Categories[category].Add(delta)
	}

	if err := a.store.Put(ctx, domain.InsightRecord(key.user, in)); err != nil {
		return fmt.Errorf("failed to write insight %s: %w", in.SK, err)
	}
	return nil
}

// recordRelated persists duplicate/opposite links for a new activity.
// Best-effort: failures are logged and never fail the batch.
func (a *Aggregator) recordRelated(ctx context.Context, user string, rec store.Record) {
	activity := domain.ActivityFromRecord(rec)
	related, err := dedup.FindRelated(ctx, a.store, user, activity)
	if err != nil {
		log.Printf("ERROR: failed to find related activities for %s: %v", rec.SK, err)
		return
	}
	for _, rel := range related {
		link := store.Record{
			User:      user,
			SK:        domain.RelatedSK(rec.SK, rel.Activity.SK),
			RelatedSK: rel.Activity.SK,
			Date:      rec.Date,
			Duplicate: rel.Duplicate,
			Opposite:  rel.Opposite,
		}
		if err := a.store.Put(ctx, link); err != nil {
			log.Printf("ERROR: failed to record related activity %s: %v", link.SK, err)
		}
	}
}
