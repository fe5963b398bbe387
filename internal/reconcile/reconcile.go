// Package reconcile recomputes monthly aggregates and mapped categories from
// source rows. The incremental aggregator is read-then-write and can drift
// under concurrent batches; this job is the periodic correction, run from
// cmd/reconcile or on a schedule.
package reconcile

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/spendtrack/internal/domain"
	"github.com/rumor-ml/commons.systems/spendtrack/internal/mappings"
	"github.com/rumor-ml/commons.systems/spendtrack/internal/store"
)

// UserLister enumerates user partitions. Every store implementation in this
// repo provides it.
type UserLister interface {
	Users(ctx context.Context) ([]string, error)
}

// Job fixes stored categories that drifted from their mappings and rewrites
// every monthly insight from the source activity rows.
type Job struct {
	store store.Store
	users UserLister
}

// NewJob creates a reconcile job.
func NewJob(s store.Store, users UserLister) *Job {
	return &Job{store: s, users: users}
}

// Run reconciles every user. Per-user failures are logged and do not stop
// the sweep; the first error is reported at the end.
func (j *Job) Run(ctx context.Context) error {
	users, err := j.users.Users(ctx)
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	var firstErr error
	for _, user := range users {
		if err := j.ReconcileUser(ctx, user); err != nil {
			log.Printf("ERROR: failed to reconcile user %s: %v", user, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// ReconcileUser fixes one user's categories and recomputes their monthly
// aggregates.
func (j *Job) ReconcileUser(ctx context.Context, user string) error {
	all, err := mappings.FetchAll(ctx, j.store, user)
	if err != nil {
		return err
	}

	records, err := store.QueryAll(ctx, j.store, user, store.Query{Start: domain.MinDate, End: domain.MaxDate})
	if err != nil {
		return fmt.Errorf("failed to scan activities: %w", err)
	}

	byMonth := map[string]map[string]decimal.Decimal{}
	fixed := 0
	for _, r := range records {
		if !domain.IsActivitySK(r.SK) {
			continue
		}

		// First matching mapping wins, the same tie-break as the read
		// overlay.
		for _, m := range all {
			if !strings.Contains(r.SearchTerm, m.Description) {
				continue
			}
			if r.Category != m.Category {
				r.Category = m.Category
				if err := j.store.Put(ctx, r); err != nil {
					return fmt.Errorf("failed to fix category of %s: %w", r.SK, err)
				}
				fixed++
			}
			break
		}

		month := domain.MonthOf(r.Date)
		if month == "" {
			continue
		}
		if byMonth[month] == nil {
			byMonth[month] = map[string]decimal.Decimal{}
		}
		byMonth[month][r.Category] = byMonth[month][r.Category].Add(r.Amount)
	}

	for month, categories := range byMonth {
		in := domain.Insight{SK: domain.InsightSK(month), Month: month, Categories: categories}
		if err := j.store.Put(ctx, domain.InsightRecord(user, in)); err != nil {
			return fmt.Errorf("failed to write insight %s: %w", in.SK, err)
		}
	}
	log.Printf("reconciled user %s: %d categories fixed, %d months recomputed", user, fixed, len(byMonth))
	return nil
}
