package insights

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/spendtrack/internal/domain"
	"github.com/rumor-ml/commons.systems/spendtrack/internal/mappings"
	"github.com/rumor-ml/commons.systems/spendtrack/internal/store"
)

// Params select the insight window and grouping.
type Params struct {
	StartingDate     string
	EndingDate       string
	AllCategories    bool
	Categories       []string
	ExcludeNegative  bool
	MonthlyBreakdown bool
}

// CategoryAmount is one category's summed signed amount.
type CategoryAmount struct {
	Category string          `json:"category"`
	Amount   decimal.Decimal `json:"amount"`
}

// Period is one reported window with its category sums.
type Period struct {
	StartDate  string           `json:"start_date"`
	EndDate    string           `json:"end_date"`
	Categories []CategoryAmount `json:"categories"`
}

// Reader answers insight queries from source activity rows, with the mapping
// overlay applied, so results never depend on aggregate freshness.
type Reader struct {
	store store.Store
	now   func() time.Time
}

// NewReader creates an insight reader.
func NewReader(s store.Store) *Reader {
	return &Reader{store: s, now: time.Now}
}

// Get sums activities per category over the requested window. The window
// defaults to the thirty days ending today. MonthlyBreakdown splits the
// window on calendar month boundaries.
func (r *Reader) Get(ctx context.Context, user string, p Params) ([]Period, error) {
	ending := p.EndingDate
	if ending == "" {
		ending = r.now().Format(domain.DateFormat)
	}
	starting := p.StartingDate
	if starting == "" {
		end, err := domain.ParseDate(ending)
		if err != nil {
			return nil, fmt.Errorf("invalid ending date %q: %w", ending, err)
		}
		starting = end.AddDate(0, 0, -30).Format(domain.DateFormat)
	}

	periods, err := breakdownPeriods(starting, ending, p.MonthlyBreakdown)
	if err != nil {
		return nil, err
	}

	records, err := store.QueryAll(ctx, r.store, user, store.Query{Start: starting, End: ending + "\xff"})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch activities: %w", err)
	}
	all, err := mappings.FetchAll(ctx, r.store, user)
	if err != nil {
		return nil, err
	}

	var activities []domain.Activity
	for _, rec := range records {
		if !domain.IsActivitySK(rec.SK) {
			continue
		}
		if p.ExcludeNegative && !rec.Amount.IsPositive() {
			continue
		}
		activities = append(activities, domain.ApplyMappings(domain.ActivityFromRecord(rec), all))
	}

	out := make([]Period, 0, len(periods))
	for _, period := range periods {
		var window []domain.Activity
		for _, a := range activities {
			if a.Date >= period[0] && a.Date <= period[1] {
				window = append(window, a)
			}
		}
		out = append(out, Period{
			StartDate:  period[0],
			EndDate:    period[1],
			Categories: groupByCategory(window, p.AllCategories, p.Categories),
		})
	}
	return out, nil
}

// breakdownPeriods returns the [start, end] date pairs to report. Without a
// monthly breakdown the whole window is one period.
func breakdownPeriods(starting, ending string, monthly bool) ([][2]string, error) {
	if !monthly {
		return [][2]string{{starting, ending}}, nil
	}

	start, err := domain.ParseDate(starting)
	if err != nil {
		return nil, fmt.Errorf("invalid starting date %q: %w", starting, err)
	}
	end, err := domain.ParseDate(ending)
	if err != nil {
		return nil, fmt.Errorf("invalid ending date %q: %w", ending, err)
	}

	var periods [][2]string
	cur := start
	for !cur.After(end) {
		next := time.Date(cur.Year(), cur.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
		periodEnd := next.AddDate(0, 0, -1)
		if periodEnd.After(end) {
			periodEnd = end
		}
		periods = append(periods, [2]string{cur.Format(domain.DateFormat), periodEnd.Format(domain.DateFormat)})
		cur = next
	}
	return periods, nil
}

// groupByCategory sums amounts per effective category. allCategories reports
// every category seen; an empty category list collapses everything into one
// "all" bucket; otherwise only the requested categories are reported.
func groupByCategory(activities []domain.Activity, allCategories bool, categories []string) []CategoryAmount {
	sums := map[string]decimal.Decimal{}
	switch {
	case allCategories:
		for _, a := range activities {
			sums[a.Category] = sums[a.Category].Add(a.Amount)
		}
	case len(categories) == 0:
		total := decimal.Decimal{}
		for _, a := range activities {
			total = total.Add(a.Amount)
		}
		sums["all"] = total
	default:
		requested := map[string]bool{}
		for _, c := range categories {
			requested[c] = true
		}
		for _, a := range activities {
			if requested[a.Category] {
				sums[a.Category] = sums[a.Category].Add(a.Amount)
			}
		}
	}

	out := make([]CategoryAmount, 0, len(sums))
	for category, amount := range sums {
		out = append(out, CategoryAmount{Category: category, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}
