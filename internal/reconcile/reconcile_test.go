package reconcile

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/spendtrack/internal/domain"
	"github.com/rumor-ml/commons.systems/spendtrack/internal/store"
)

func amt(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestReconcileFixesCategoriesAndInsights(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	rows := []store.Record{
		// Stored category drifted from its mapping.
		{User: "u1", SK: "2022-11-01a", Date: "2022-11-01", Description: "SAFEWAY #1", SearchTerm: "safeway #1", Category: "SAFEWAY #1", Amount: amt("-40")},
		{User: "u1", SK: "2022-11-02b", Date: "2022-11-02", Description: "SHELL", SearchTerm: "shell", Category: "gas", Amount: amt("-60")},
		{User: "u1", SK: "2022-12-01c", Date: "2022-12-01", Description: "SAFEWAY #2", SearchTerm: "safeway #2", Category: "groceries", Amount: amt("-30")},
	}
	for _, r := range rows {
		if err := mem.Put(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	if err := mem.Put(ctx, domain.MappingRecord("u1", domain.NewMapping("safeway", "groceries"))); err != nil {
		t.Fatal(err)
	}
	// A stale aggregate that the recompute must overwrite.
	stale := domain.Insight{SK: domain.InsightSK("2022-11"), Month: "2022-11",
		Categories: map[string]decimal.Decimal{"bogus": amt("999")}}
	if err := mem.Put(ctx, domain.InsightRecord("u1", stale)); err != nil {
		t.Fatal(err)
	}

	job := NewJob(mem, mem)
	if err := job.Run(ctx); err != nil {
		t.Fatal(err)
	}

	fixed, err := mem.Get(ctx, "u1", "2022-11-01a")
	if err != nil {
		t.Fatal(err)
	}
	if fixed.Category != "groceries" {
		t.Errorf("category = %q, want groceries", fixed.Category)
	}

	rec, err := mem.Get(ctx, "u1", domain.InsightSK("2022-11"))
	if err != nil {
		t.Fatal(err)
	}
	nov := domain.InsightFromRecord(*rec)
	if !nov.Categories["groceries"].Equal(amt("-40")) || !nov.Categories["gas"].Equal(amt("-60")) {
		t.Errorf("2022-11 = %v", nov.Categories)
	}
	if _, ok := nov.Categories["bogus"]; ok {
		t.Error("stale category survived recompute")
	}

	rec, err = mem.Get(ctx, "u1", domain.InsightSK("2022-12"))
	if err != nil {
		t.Fatal(err)
	}
	dec := domain.InsightFromRecord(*rec)
	if !dec.Categories["groceries"].Equal(amt("-30")) {
		t.Errorf("2022-12 = %v", dec.Categories)
	}
}

func TestReconcileSweepsAllUsers(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	for _, user := range []string{"u1", "u2"} {
		if err := mem.Put(ctx, store.Record{User: user, SK: "2022-11-01a", Date: "2022-11-01", Category: "c", Amount: amt("1")}); err != nil {
			t.Fatal(err)
		}
	}

	if err := NewJob(mem, mem).Run(ctx); err != nil {
		t.Fatal(err)
	}

	for _, user := range []string{"u1", "u2"} {
		if _, err := mem.Get(ctx, user, domain.InsightSK("2022-11")); err != nil {
			t.Errorf("user %s insight missing: %v", user, err)
		}
	}
}
