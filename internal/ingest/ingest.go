// Package ingest orchestrates one upload: parse, dedup-check, mapping
// overlay, persist. Preview runs the same pipeline without writing anything.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/rumor-ml/commons.systems/spendtrack/internal/blob"
	"github.com/rumor-ml/commons.systems/spendtrack/internal/dedup"
	"github.com/rumor-ml/commons.systems/spendtrack/internal/domain"
	"github.com/rumor-ml/commons.systems/spendtrack/internal/mappings"
	"github.com/rumor-ml/commons.systems/spendtrack/internal/parse"
	"github.com/rumor-ml/commons.systems/spendtrack/internal/store"
)

// ErrBadInput marks failures caused by the upload itself rather than the
// backend: an empty body or an unknown format tag.
var ErrBadInput = errors.New("bad upload input")

// Service runs upload previews and commits.
type Service struct {
	store   store.Store
	blobs   blob.Store
	formats *parse.Registry
	now     func() time.Time
}

// NewService creates an ingest service.
func NewService(s store.Store, b blob.Store, formats *parse.Registry) *Service {
	return &Service{store: s, blobs: b, formats: formats, now: time.Now}
}

// PreviewRow is one parsed activity with its duplicate annotations.
type PreviewRow struct {
	domain.Activity
	DuplicateOf []string `json:"duplicate_to,omitempty"`
}

// Preview is the non-persisting result of parsing an upload.
type Preview struct {
	Rows    []PreviewRow `json:"data"`
	Skipped int          `json:"skipped"`
}

// Commit is the result of a persisted upload.
type Commit struct {
	Key       string `json:"key,omitempty"`
	Count     int    `json:"count"`
	Skipped   int    `json:"skipped"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// Preview parses the body and annotates each row with the mapping overlay
// and the sort keys of existing duplicates, without writing anything. Rows
// come back sorted by date descending.
func (s *Service) Preview(ctx context.Context, user, format string, body []byte) (*Preview, error) {
	res, err := s.parseBody(ctx, format, body)
	if err != nil {
		return nil, err
	}

	all, err := mappings.FetchAll(ctx, s.store, user)
	if err != nil {
		return nil, err
	}

	existing, err := s.existingBetween(ctx, user, res.StartDate, res.EndDate)
	if err != nil {
		return nil, err
	}

	rows := make([]PreviewRow, 0, len(res.Activities))
	for _, a := range res.Activities {
		rows = append(rows, PreviewRow{
			Activity:    domain.ApplyMappings(a, all),
			DuplicateOf: dedup.FindDuplicates(a, existing),
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Date > rows[j].Date })

	return &Preview{Rows: rows, Skipped: res.Skipped}, nil
}

// Commit parses and persists the upload: every activity row plus a trailing
// file checksum record, then the raw body to blob storage. Re-uploading a
// file with a known checksum is a success no-op.
func (s *Service) Commit(ctx context.Context, user, format string, body []byte) (*Commit, error) {
	res, err := s.parseBody(ctx, format, body)
	if err != nil {
		return nil, err
	}

	checksum := dedup.Checksum(body)
	seen, err := dedup.SeenFile(ctx, s.store, user, checksum)
	if err != nil {
		return nil, err
	}
	if seen {
		log.Printf("skipping duplicate file for user %s, checksum %s", user, checksum)
		return &Commit{Duplicate: true, Skipped: res.Skipped}, nil
	}

	key := blob.ObjectKey(user, format, s.now())

	recs := make([]store.Record, 0, len(res.Activities)+1)
	for _, a := range res.Activities {
		rec := domain.ActivityRecord(user, a)
		rec.Checksum = checksum
		recs = append(recs, rec)
	}
	recs = append(recs, store.Record{
		User:      user,
		SK:        domain.ChecksumSK(checksum),
		Checksum:  checksum,
		File:      key,
		Date:      s.now().Format(domain.DateFormat),
		StartDate: res.StartDate,
		EndDate:   res.EndDate,
	})

	if err := s.store.BatchPut(ctx, recs); err != nil {
		return nil, fmt.Errorf("failed to persist upload: %w", err)
	}

	if err := s.blobs.Put(ctx, key, body); err != nil {
		return nil, fmt.Errorf("failed to store raw upload: %w", err)
	}
	log.Printf("stored upload for user %s: %d rows, %d skipped, key %s", user, len(res.Activities), res.Skipped, key)

	return &Commit{Key: key, Count: len(res.Activities), Skipped: res.Skipped}, nil
}

func (s *Service) parseBody(ctx context.Context, format string, body []byte) (*parse.Result, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: missing body content or input format", ErrBadInput)
	}
	p, err := s.formats.Lookup(format)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadInput, err)
	}
	return p.Parse(ctx, bytes.NewReader(body))
}

// existingBetween fetches stored activities in the parsed date bounds, for
// duplicate annotation. An empty parse (inverted bounds) scans nothing.
func (s *Service) existingBetween(ctx context.Context, user, start, end string) ([]domain.Activity, error) {
	if start > end {
		return nil, nil
	}
	records, err := store.QueryAll(ctx, s.store, user, store.Query{Start: start, End: end + "\xff"})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch existing activities: %w", err)
	}
	existing := make([]domain.Activity, 0, len(records))
	for _, r := range records {
		if !domain.IsActivitySK(r.SK) {
			continue
		}
		existing = append(existing, domain.ActivityFromRecord(r))
	}
	return existing, nil
}
