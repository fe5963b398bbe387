package parse

import (
	"context"
	"strings"
	"testing"
)

func parseAll(t *testing.T, p Parser, body string) *Result {
	t.Helper()
	res, err := p.Parse(context.Background(), strings.NewReader(body))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return res
}

func TestCap1Parse(t *testing.T) {
	body := "Transaction Date,Posted Date,Card No.,Description,Category,Debit,Credit\n" +
		"2023-02-25,2023-02-27,0733,RAMEN DANBO ROBSON,Dining,20.47,\n" +
		"2023-02-26,2023-02-28,0733,PAYMENT RECEIVED,Payment,,150.00\n"

	res := parseAll(t, NewCap1Parser(), body)
	if len(res.Activities) != 2 {
		t.Fatalf("parsed %d activities, want 2", len(res.Activities))
	}

	a := res.Activities[0]
	if a.Date != "2023-02-25" || a.Account != "0733" || a.Description != "RAMEN DANBO ROBSON" || a.Category != "Dining" {
		t.Errorf("unexpected first activity: %+v", a)
	}
	if a.Amount.String() != "20.47" {
		t.Errorf("amount = %s, want 20.47", a.Amount)
	}

	// Credit column negates.
	if got := res.Activities[1].Amount.String(); got != "-150" {
		t.Errorf("credit amount = %s, want -150", got)
	}

	if res.StartDate != "2023-02-25" || res.EndDate != "2023-02-26" {
		t.Errorf("date bounds = %s..%s", res.StartDate, res.EndDate)
	}
}

func TestCap1ShortRowSkipped(t *testing.T) {
	body := "h1,h2,h3,h4,h5,h6,h7\n2023-02-25,2023-02-27,0733\n"
	res := parseAll(t, NewCap1Parser(), body)
	if len(res.Activities) != 0 || res.Skipped != 1 {
		t.Errorf("got %d activities, %d skipped; want 0 and 1", len(res.Activities), res.Skipped)
	}
}

func TestRBCParse(t *testing.T) {
	body := "Account Type,Account Number,Transaction Date,Cheque Number,Description 1,Description 2,CAD$,USD$\n" +
		"Savings,07702-5084629,7/5/2023,,WEB TRF,FIND&SAVE FROM PDA,69.00,\n" +
		"Savings,07702-5084629,7/6/2023,,FX PLACEHOLDER,USD POSTING,,12.00\n" +
		"Savings,07702-5084629,7/7/2023,,ZERO ROW,NOOP,0,\n"

	res := parseAll(t, NewRBCParser(), body)
	if len(res.Activities) != 1 {
		t.Fatalf("parsed %d activities, want 1 (empty and zero amounts skipped)", len(res.Activities))
	}

	a := res.Activities[0]
	if a.Date != "2023-07-05" {
		t.Errorf("date = %s, want 2023-07-05", a.Date)
	}
	if a.Account != "4629-Savings" {
		t.Errorf("account = %s, want 4629-Savings", a.Account)
	}
	if a.Description != "FIND&SAVE FROM PDA" {
		t.Errorf("description = %q", a.Description)
	}
	if a.Amount.String() != "-69" {
		t.Errorf("amount = %s, want -69 (sign flipped)", a.Amount)
	}
	if res.Skipped != 2 {
		t.Errorf("skipped = %d, want 2", res.Skipped)
	}
}

func TestTDParse(t *testing.T) {
	// No header marker; the header row drops out when its date fails to
	// parse.
	body := "Date,Description,Debit,Credit,Balance\n" +
		"7/5/2023,SEND E-TFR,30.00,,100.00\n" +
		"7/6/2023,PAYROLL DEP,,2000.00,2100.00\n"

	res := parseAll(t, NewTDParser(), body)
	if len(res.Activities) != 2 {
		t.Fatalf("parsed %d activities, want 2", len(res.Activities))
	}
	if res.Skipped != 1 {
		t.Errorf("skipped = %d, want 1 (header row)", res.Skipped)
	}

	first := res.Activities[0]
	if first.Date != "2023-07-05" || first.Account != "td" || first.Description != "SEND E-TFR" {
		t.Errorf("unexpected first activity: %+v", first)
	}
	if first.Amount.String() != "30" {
		t.Errorf("debit amount = %s, want 30", first.Amount)
	}
	if got := res.Activities[1].Amount.String(); got != "-2000" {
		t.Errorf("credit amount = %s, want -2000", got)
	}
}

func TestGenericParse(t *testing.T) {
	body := `{"data": [
		{"date": "2023-01-02", "account": "1234", "description": "RENT", "category": "housing", "amount": "-1500.00"},
		{"date": "bogus", "account": "1234", "description": "BAD", "category": "", "amount": "1"}
	]}`

	res := parseAll(t, NewGenericParser(), body)
	if len(res.Activities) != 1 || res.Skipped != 1 {
		t.Fatalf("got %d activities, %d skipped; want 1 and 1", len(res.Activities), res.Skipped)
	}
	a := res.Activities[0]
	if a.Category != "housing" || a.Amount.String() != "-1500" {
		t.Errorf("unexpected activity: %+v", a)
	}
}

func TestGenericParseBadBody(t *testing.T) {
	if _, err := NewGenericParser().Parse(context.Background(), strings.NewReader("not json")); err == nil {
		t.Fatal("expected error for malformed body")
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	for _, format := range []string{"cap1", "rbc", "td", "ofx", "default", ""} {
		if _, err := r.Lookup(format); err != nil {
			t.Errorf("Lookup(%q) failed: %v", format, err)
		}
	}
	if _, err := r.Lookup("unknown"); err == nil {
		t.Error("expected error for unknown format")
	}
}
