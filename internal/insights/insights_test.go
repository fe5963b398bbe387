package insights

import (
	"context"
	"testing"
	"time"

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

func insert(user string, rec store.Record) store.Event {
	r := rec
	return store.Event{Type: store.EventInsert, User: user, SK: rec.SK, New: &r}
}

func getInsight(t *testing.T, mem *store.Memory, user, month string) domain.Insight {
	t.Helper()
	rec, err := mem.Get(context.Background(), user, domain.InsightSK(month))
	if err != nil {
		t.Fatalf("insight %s missing: %v", month, err)
	}
	return domain.InsightFromRecord(*rec)
}

func TestAggregatorIncrementalUpdate(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	agg := NewAggregator(mem)

	// Existing aggregate: 2022-11 catA = 5.
	seed := domain.Insight{SK: domain.InsightSK("2022-11"), Month: "2022-11",
		Categories: map[string]decimal.Decimal{"catA": amt("5")}}
	if err := mem.Put(ctx, domain.InsightRecord("u1", seed)); err != nil {
		t.Fatal(err)
	}

	events := []store.Event{
		insert("u1", store.Record{User: "u1", SK: "2022-11-01a", Date: "2022-11-01", Category: "catA", Amount: amt("10")}),
		insert("u1", store.Record{User: "u1", SK: "2022-11-02b", Date: "2022-11-02", Category: "catB", Amount: amt("10")}),
		insert("u1", store.Record{User: "u1", SK: "2022-12-01c", Date: "2022-12-01", Category: "catA", Amount: amt("10")}),
	}
	if err := agg.Process(ctx, events); err != nil {
		t.Fatal(err)
	}

	nov := getInsight(t, mem, "u1", "2022-11")
	if !nov.Categories["catA"].Equal(amt("15")) || !nov.Categories["catB"].Equal(amt("10")) {
		t.Errorf("2022-11 = %v, want catA 15, catB 10", nov.Categories)
	}
	dec := getInsight(t, mem, "u1", "2022-12")
	if !dec.Categories["catA"].Equal(amt("10")) {
		t.Errorf("2022-12 = %v, want catA 10", dec.Categories)
	}
}

func TestAggregatorModifyMovesContribution(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	agg := NewAggregator(mem)

	old := store.Record{User: "u1", SK: "2022-11-01a", Date: "2022-11-01", Category: "catA", Amount: amt("10")}
	updated := old
	updated.Category = "catB"
	updated.Amount = amt("25")

	if err := agg.Process(ctx, []store.Event{insert("u1", old)}); err != nil {
		t.Fatal(err)
	}
	ev := store.Event{Type: store.EventModify, User: "u1", SK: old.SK, Old: &old, New: &updated}
	if err := agg.Process(ctx, []store.Event{ev}); err != nil {
		t.Fatal(err)
	}

	in := getInsight(t, mem, "u1", "2022-11")
	if !in.Categories["catA"].Equal(amt("0")) {
		t.Errorf("catA = %s, want 0 after contribution moved", in.Categories["catA"])
	}
	if !in.Categories["catB"].Equal(amt("25")) {
		t.Errorf("catB = %s, want 25", in.Categories["catB"])
	}
}

func TestAggregatorRemoveSubtracts(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	agg := NewAggregator(mem)

	rec := store.Record{User: "u1", SK: "2022-11-01a", Date: "2022-11-01", Category: "catA", Amount: amt("10")}
	if err := agg.Process(ctx, []store.Event{insert("u1", rec)}); err != nil {
		t.Fatal(err)
	}
	r := rec
	if err := agg.Process(ctx, []store.Event{{Type: store.EventRemove, User: "u1", SK: rec.SK, Old: &r}}); err != nil {
		t.Fatal(err)
	}

	in := getInsight(t, mem, "u1", "2022-11")
	if !in.Categories["catA"].Equal(amt("0")) {
		t.Errorf("catA = %s, want 0 after delete", in.Categories["catA"])
	}
}

func TestAggregatorMappingRewritesCategories(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	agg := NewAggregator(mem)

	a := domain.NewActivity("2022-11-01", "0733", "SAFEWAY #2345", "", amt("-42"))
	other := domain.NewActivity("2022-11-02", "0733", "SHELL", "gas", amt("-60"))
	if err := mem.Put(ctx, domain.ActivityRecord("u1", a)); err != nil {
		t.Fatal(err)
	}
	if err := mem.Put(ctx, domain.ActivityRecord("u1", other)); err != nil {
		t.Fatal(err)
	}

	m := domain.NewMapping("safeway", "groceries")
	mrec := domain.MappingRecord("u1", m)
	if err := agg.Process(ctx, []store.Event{insert("u1", mrec)}); err != nil {
		t.Fatal(err)
	}

	got, err := mem.Get(ctx, "u1", a.SK)
	if err != nil {
		t.Fatal(err)
	}
	if got.Category != "groceries" {
		t.Errorf("stored category = %q, want groceries", got.Category)
	}
	untouched, _ := mem.Get(ctx, "u1", other.SK)
	if untouched.Category != "gas" {
		t.Errorf("non-matching activity rewritten: %q", untouched.Category)
	}

	// Deleting the mapping reverts matched activities to the neutral
	// category.
	ev := store.Event{Type: store.EventRemove, User: "u1", SK: mrec.SK, Old: &mrec}
	if err := agg.Process(ctx, []store.Event{ev}); err != nil {
		t.Fatal(err)
	}
	got, _ = mem.Get(ctx, "u1", a.SK)
	if got.Category != domain.UncategorizedCategory {
		t.Errorf("category after mapping delete = %q, want %q", got.Category, domain.UncategorizedCategory)
	}
}

func TestAggregatorRecordsRelated(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	agg := NewAggregator(mem)

	existing := store.Record{User: "u1", SK: "2022-11-03aaa", Date: "2022-11-03", Description: "TRANSFER", SearchTerm: "transfer", Category: "x", Amount: amt("500")}
	if err := mem.Put(ctx, existing); err != nil {
		t.Fatal(err)
	}

	incoming := store.Record{User: "u1", SK: "2022-11-05bbb", Date: "2022-11-05", Description: "TRANSFER BACK", SearchTerm: "transfer back", Category: "x", Amount: amt("-500")}
	if err := agg.Process(ctx, []store.Event{insert("u1", incoming)}); err != nil {
		t.Fatal(err)
	}

	links, err := store.QueryAll(ctx, mem, "u1", store.Query{Prefix: domain.RelatedPrefix})
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 1 {
		t.Fatalf("related links = %d, want 1", len(links))
	}
	if links[0].RelatedSK != existing.SK || !links[0].Opposite {
		t.Errorf("unexpected link: %+v", links[0])
	}
}

func TestReaderGroupsAndDefaults(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	reader := NewReader(mem)
	reader.now = func() time.Time { return time.Date(2022, 11, 30, 0, 0, 0, 0, time.UTC) }

	rows := []store.Record{
		{User: "u1", SK: "2022-11-05a", Date: "2022-11-05", Description: "SAFEWAY", SearchTerm: "safeway", Category: "groceries", Amount: amt("-40")},
		{User: "u1", SK: "2022-11-10b", Date: "2022-11-10", Description: "SAFEWAY 2", SearchTerm: "safeway 2", Category: "groceries", Amount: amt("-60")},
		{User: "u1", SK: "2022-11-12c", Date: "2022-11-12", Description: "PAYROLL", SearchTerm: "payroll", Category: "income", Amount: amt("2000")},
	}
	for _, r := range rows {
		if err := mem.Put(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	periods, err := reader.Get(ctx, "u1", Params{AllCategories: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(periods) != 1 {
		t.Fatalf("periods = %d, want 1", len(periods))
	}
	sums := map[string]decimal.Decimal{}
	for _, c := range periods[0].Categories {
		sums[c.Category] = c.Amount
	}
	if !sums["groceries"].Equal(amt("-100")) || !sums["income"].Equal(amt("2000")) {
		t.Errorf("category sums = %v", sums)
	}

	// No category selection collapses to one "all" bucket.
	periods, err = reader.Get(ctx, "u1", Params{})
	if err != nil {
		t.Fatal(err)
	}
	if len(periods[0].Categories) != 1 || periods[0].Categories[0].Category != "all" {
		t.Fatalf("unexpected grouping: %+v", periods[0].Categories)
	}
	if !periods[0].Categories[0].Amount.Equal(amt("1900")) {
		t.Errorf("all sum = %s, want 1900", periods[0].Categories[0].Amount)
	}

	// Excluding negatives keeps only income.
	periods, err = reader.Get(ctx, "u1", Params{ExcludeNegative: true})
	if err != nil {
		t.Fatal(err)
	}
	if !periods[0].Categories[0].Amount.Equal(amt("2000")) {
		t.Errorf("exclude_negative sum = %s, want 2000", periods[0].Categories[0].Amount)
	}
}

func TestReaderMonthlyBreakdown(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	reader := NewReader(mem)

	rows := []store.Record{
		{User: "u1", SK: "2022-11-05a", Date: "2022-11-05", Category: "catA", Amount: amt("10")},
		{User: "u1", SK: "2022-12-05b", Date: "2022-12-05", Category: "catA", Amount: amt("20")},
	}
	for _, r := range rows {
		if err := mem.Put(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	periods, err := reader.Get(ctx, "u1", Params{
		StartingDate:     "2022-11-01",
		EndingDate:       "2022-12-31",
		MonthlyBreakdown: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(periods) != 2 {
		t.Fatalf("periods = %d, want 2", len(periods))
	}
	if periods[0].StartDate != "2022-11-01" || periods[0].EndDate != "2022-11-30" {
		t.Errorf("first period = %s..%s", periods[0].StartDate, periods[0].EndDate)
	}
	if !periods[0].Categories[0].Amount.Equal(amt("10")) || !periods[1].Categories[0].Amount.Equal(amt("20")) {
		t.Errorf("per-month sums wrong: %+v", periods)
	}
}

func TestReaderOverlayAppliesMappings(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	reader := NewReader(mem)

	if err := mem.Put(ctx, store.Record{User: "u1", SK: "2022-11-05a", Date: "2022-11-05",
		Description: "SAFEWAY #1", SearchTerm: "safeway #1", Category: "SAFEWAY #1", Amount: amt("-40")}); err != nil {
		t.Fatal(err)
	}
	if err := mem.Put(ctx, domain.MappingRecord("u1", domain.NewMapping("safeway", "groceries"))); err != nil {
		t.Fatal(err)
	}

	periods, err := reader.Get(ctx, "u1", Params{StartingDate: "2022-11-01", EndingDate: "2022-11-30", AllCategories: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(periods[0].Categories) != 1 || periods[0].Categories[0].Category != "groceries" {
		t.Errorf("overlay not applied: %+v", periods[0].Categories)
	}
}
