package ingest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/spendtrack/internal/blob"
	"github.com/rumor-ml/commons.systems/spendtrack/internal/domain"
	"github.com/rumor-ml/commons.systems/spendtrack/internal/parse"
	"github.com/rumor-ml/commons.systems/spendtrack/internal/store"
)

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

const cap1Body = "Transaction Date,Posted Date,Card No.,Description,Category,Debit,Credit\n" +
	"2023-02-25,2023-02-27,0733,RAMEN DANBO ROBSON,Dining,20.47,\n" +
	"2023-02-26,2023-02-28,0733,SAFEWAY #2345,,35.00,\n"

func newService(t *testing.T) (*Service, *store.Memory, *blob.Memory) {
	t.Helper()
	mem := store.NewMemory()
	blobs := blob.NewMemory()
	svc := NewService(mem, blobs, parse.NewRegistry())
	svc.now = func() time.Time { return time.Date(2023, 3, 1, 12, 0, 0, 0, time.UTC) }
	return svc, mem, blobs
}

func storedActivities(t *testing.T, mem *store.Memory, user string) []store.Record {
	t.Helper()
	all, err := store.QueryAll(context.Background(), mem, user, store.Query{Start: domain.MinDate, End: domain.MaxDate})
	if err != nil {
		t.Fatal(err)
	}
	var acts []store.Record
	for _, r := range all {
		if domain.IsActivitySK(r.SK) {
			acts = append(acts, r)
		}
	}
	return acts
}

func TestCommitPersistsRowsChecksumAndBlob(t *testing.T) {
	ctx := context.Background()
	svc, mem, blobs := newService(t)

	res, err := svc.Commit(ctx, "u1", "cap1", []byte(cap1Body))
	if err != nil {
		t.Fatal(err)
	}
	if res.Count != 2 || res.Duplicate {
		t.Fatalf("commit = %+v, want 2 rows, not duplicate", res)
	}
	if !strings.HasPrefix(res.Key, "u1/cap1/2023-03-01") {
		t.Errorf("blob key = %q", res.Key)
	}

	acts := storedActivities(t, mem, "u1")
	if len(acts) != 2 {
		t.Fatalf("stored %d activities, want 2", len(acts))
	}
	for _, a := range acts {
		if a.Checksum == "" {
			t.Errorf("activity %s missing checksum reference", a.SK)
		}
	}

	chk, err := store.QueryAll(ctx, mem, "u1", store.Query{Prefix: domain.ChecksumPrefix})
	if err != nil {
		t.Fatal(err)
	}
	if len(chk) != 1 {
		t.Fatalf("stored %d checksum records, want 1", len(chk))
	}
	if chk[0].StartDate != "2023-02-25" || chk[0].EndDate != "2023-02-26" {
		t.Errorf("checksum date bounds = %s..%s", chk[0].StartDate, chk[0].EndDate)
	}

	if _, err := blobs.Get(ctx, res.Key); err != nil {
		t.Errorf("raw body not in blob store: %v", err)
	}
}

func TestCommitIdempotentReupload(t *testing.T) {
	ctx := context.Background()
	svc, mem, _ := newService(t)

	if _, err := svc.Commit(ctx, "u1", "cap1", []byte(cap1Body)); err != nil {
		t.Fatal(err)
	}
	res, err := svc.Commit(ctx, "u1", "cap1", []byte(cap1Body))
	if err != nil {
		t.Fatalf("re-upload should succeed as no-op, got %v", err)
	}
	if !res.Duplicate {
		t.Error("second commit should report duplicate")
	}

	if acts := storedActivities(t, mem, "u1"); len(acts) != 2 {
		t.Errorf("stored %d activities after re-upload, want 2", len(acts))
	}
	chk, _ := store.QueryAll(ctx, mem, "u1", store.Query{Prefix: domain.ChecksumPrefix})
	if len(chk) != 1 {
		t.Errorf("stored %d checksum records after re-upload, want 1", len(chk))
	}
}

func TestCommitEmptyBody(t *testing.T) {
	svc, _, _ := newService(t)
	if _, err := svc.Commit(context.Background(), "u1", "cap1", nil); err == nil {
		t.Fatal("expected error for empty body")
	}
}

func TestPreviewAnnotatesWithoutWriting(t *testing.T) {
	ctx := context.Background()
	svc, mem, blobs := newService(t)

	// Pre-existing duplicate of the second upload row, and a mapping that
	// should overlay the first.
	dup := domain.NewActivity("2023-02-26", "0733", "SAFEWAY #2345", "", mustDecimal("35.00"))
	if err := mem.Put(ctx, domain.ActivityRecord("u1", dup)); err != nil {
		t.Fatal(err)
	}
	m := domain.NewMapping("ramen", "Restaurants")
	if err := mem.Put(ctx, domain.MappingRecord("u1", m)); err != nil {
		t.Fatal(err)
	}

	preview, err := svc.Preview(ctx, "u1", "cap1", []byte(cap1Body))
	if err != nil {
		t.Fatal(err)
	}
	if len(preview.Rows) != 2 {
		t.Fatalf("preview rows = %d, want 2", len(preview.Rows))
	}

	// Sorted date descending: SAFEWAY (02-26) first.
	first, second := preview.Rows[0], preview.Rows[1]
	if first.Date != "2023-02-26" {
		t.Errorf("rows not sorted date descending: %s first", first.Date)
	}
	if len(first.DuplicateOf) != 1 || first.DuplicateOf[0] != dup.SK {
		t.Errorf("duplicate annotation = %v, want [%s]", first.DuplicateOf, dup.SK)
	}
	if second.Category != "Restaurants" || !second.Dirty {
		t.Errorf("mapping overlay not applied in preview: %+v", second.Activity)
	}

	if acts := storedActivities(t, mem, "u1"); len(acts) != 1 {
		t.Errorf("preview wrote activities: %d stored, want the 1 pre-existing", len(acts))
	}
	if keys := blobs.Keys(); len(keys) != 0 {
		t.Errorf("preview wrote blobs: %v", keys)
	}
}

func TestCommitUnparseableFileSucceedsEmpty(t *testing.T) {
	svc, mem, _ := newService(t)
	res, err := svc.Commit(context.Background(), "u1", "cap1", []byte("garbage\nrows\n"))
	if err != nil {
		t.Fatalf("unparseable file should still succeed: %v", err)
	}
	if res.Count != 0 || res.Skipped != 1 {
		t.Errorf("commit = %+v, want 0 rows and 1 skipped", res)
	}
	if acts := storedActivities(t, mem, "u1"); len(acts) != 0 {
		t.Errorf("stored %d activities, want 0", len(acts))
	}
}
