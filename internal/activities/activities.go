// Package activities covers the single-row write operations on transactions:
// soft delete, bulk delete, and field-level patch.
package activities

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/spendtrack/internal/domain"
	"github.com/rumor-ml/commons.systems/spendtrack/internal/store"
)

// ErrBadPatch marks patch bodies the caller got wrong: empty, malformed
// JSON, or touching an immutable field.
var ErrBadPatch = errors.New("bad patch body")

// Service mutates individual activity rows.
type Service struct {
	store store.Store
}

// NewService creates an activities service.
func NewService(s store.Store) *Service {
	return &Service{store: s}
}

// SoftDelete removes one activity and keeps a copy under a deleted# key for
// audit and undo. Returns store.ErrNotFound for unknown keys.
func (s *Service) SoftDelete(ctx context.Context, user, sk string) error {
	old, err := s.store.Delete(ctx, user, sk)
	if err != nil {
		return err
	}

	kept := *old
	kept.SK = domain.DeletedSK(sk)
	if err := s.store.Put(ctx, kept); err != nil {
		return fmt.Errorf("failed to keep soft-deleted copy of %s: %w", sk, err)
	}
	return nil
}

// DeleteAll hard-deletes every record in the user's partition: activities,
// checksums, mappings, insights and previously soft-deleted rows. No soft
// copies are kept; this is the account wipe, intentionally asymmetric with
// single deletes. Returns the number of deleted records.
func (s *Service) DeleteAll(ctx context.Context, user string) (int, error) {
	records, err := store.QueryAll(ctx, s.store, user, store.Query{Start: "\x00", End: "\xff\xff"})
	if err != nil {
		return 0, fmt.Errorf("failed to scan records for deletion: %w", err)
	}

	sks := make([]string, 0, len(records))
	for _, r := range records {
		sks = append(sks, r.SK)
	}
	if err := s.store.BatchDelete(ctx, user, sks); err != nil {
		return 0, fmt.Errorf("failed to delete records: %w", err)
	}
	log.Printf("deleted all %d records for user %s", len(sks), user)
	return len(sks), nil
}

// patch is the accepted merge-patch body. sk, user and date are immutable
// (the date is embedded in the sort key); fields left out of the body keep
// their stored value.
type patch struct {
	Date        *string          `json:"date"`
	Account     *string          `json:"account"`
	Description *string          `json:"description"`
	Category    *string          `json:"category"`
	Amount      *decimal.Decimal `json:"amount"`
}

// Patch merge-patches one activity. The search term is rederived when the
// description changes, keeping mapping matches consistent.
func (s *Service) Patch(ctx context.Context, user, sk string, body []byte) error {
	if len(body) == 0 {
		return fmt.Errorf("%w: missing body content", ErrBadPatch)
	}
	var p patch
	if err := json.Unmarshal(body, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPatch, err)
	}

	rec, err := s.store.Get(ctx, user, sk)
	if err != nil {
		return err
	}

	updated := *rec
	if p.Date != nil {
		return fmt.Errorf("%w: date is immutable, delete and re-add instead", ErrBadPatch)
	}
	if p.Account != nil {
		updated.Account = *p.Account
	}
	if p.Description != nil {
		updated.Description = *p.Description
		updated.SearchTerm = domain.NormalizeSearchTerm(*p.Description)
	}
	if p.Category != nil {
		updated.Category = *p.Category
	}
	if p.Amount != nil {
		updated.Amount = *p.Amount
	}

	if err := s.store.Put(ctx, updated); err != nil {
		return fmt.Errorf("failed to store patched activity: %w", err)
	}
	return nil
}
