package parse

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/spendtrack/internal/domain"
)

// rowFunc converts one delimited row into an activity. Returning ok=false
// drops the row (header, filler, or malformed).
type rowFunc func(row []string) (domain.Activity, bool)

// csvParser drives a rowFunc over a comma-delimited body. Stateless and safe
// for concurrent use.
type csvParser struct {
	name       string
	skipHeader bool
	parseRow   rowFunc
}

func (p *csvParser) Name() string { return p.name }

func (p *csvParser) Parse(ctx context.Context, r io.Reader) (*Result, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s content: %w", p.name, err)
	}

	res := newResult()
	for i, row := range rows {
		if i == 0 && p.skipHeader {
			continue
		}
		if len(row) == 0 || (len(row) == 1 && strings.TrimSpace(row[0]) == "") {
			continue
		}
		a, ok := p.parseRow(row)
		if !ok {
			log.Printf("WARNING: skipping %s row %d: %s", p.name, i+1, strings.Join(row, ","))
			res.Skipped++
			continue
		}
		res.add(a)
	}
	return res, nil
}

// NewCap1Parser parses credit card exports laid out as
// date, posted date, card number, description, category, debit, credit.
// The debit column carries the amount when present; otherwise the credit
// column does, negated.
func NewCap1Parser() Parser {
	return &csvParser{name: "cap1", skipHeader: true, parseRow: cap1Row}
}

func cap1Row(row []string) (domain.Activity, bool) {
	if len(row) < 6 {
		return domain.Activity{}, false
	}
	date, err := reformatDate(row[0], "2006-01-02")
	if err != nil {
		return domain.Activity{}, false
	}
	amount, err := amountFromPair(row[5], row, 6)
	if err != nil {
		return domain.Activity{}, false
	}
	return domain.NewActivity(date, row[2], row[3], row[4], amount), true
}

// NewRBCParser parses bank statement exports laid out as
// account type, account number, date, cheque number, description 1,
// description 2, amount. The amount column encodes expenses as positive, so
// it is negated. Rows with an empty or zero amount are filler (e.g. foreign
// currency placeholders) and are skipped.
func NewRBCParser() Parser {
	return &csvParser{name: "rbc", skipHeader: true, parseRow: rbcRow}
}

func rbcRow(row []string) (domain.Activity, bool) {
	if len(row) < 7 {
		return domain.Activity{}, false
	}
	if row[6] == "" || row[6] == "0" {
		return domain.Activity{}, false
	}
	date, err := reformatDate(row[2], "1/2/2006")
	if err != nil {
		return domain.Activity{}, false
	}
	amount, err := decimal.NewFromString(row[6])
	if err != nil {
		return domain.Activity{}, false
	}
	account := domain.MaskAccount(row[1]) + "-" + row[0]
	return domain.NewActivity(date, account, row[5], row[4], amount.Neg()), true
}

// NewTDParser parses single-account exports laid out as
// date, description, debit, credit. There is no header marker, so the header
// row falls out naturally when its date fails to parse.
func NewTDParser() Parser {
	return &csvParser{name: "td", skipHeader: false, parseRow: tdRow}
}

func tdRow(row []string) (domain.Activity, bool) {
	if len(row) < 3 {
		return domain.Activity{}, false
	}
	date, err := reformatDate(row[0], "1/2/2006")
	if err != nil {
		return domain.Activity{}, false
	}
	amount, err := amountFromPair(row[2], row, 3)
	if err != nil {
		return domain.Activity{}, false
	}
	return domain.NewActivity(date, "td", row[1], "", amount), true
}

// reformatDate parses a date in the source layout and renders it ISO.
func reformatDate(s, layout string) (string, error) {
	t, err := time.Parse(layout, strings.TrimSpace(s))
	if err != nil {
		return "", err
	}
	return t.Format(domain.DateFormat), nil
}

// amountFromPair reads the primary amount column, falling back to the
// negated secondary column when the primary is empty. Exporters that split
// debits and credits into two columns leave exactly one populated.
func amountFromPair(primary string, row []string, secondary int) (decimal.Decimal, error) {
	if primary != "" {
		return decimal.NewFromString(primary)
	}
	if len(row) <= secondary {
		return decimal.Decimal{}, fmt.Errorf("missing amount columns")
	}
	d, err := decimal.NewFromString(row[secondary])
	if err != nil {
		return decimal.Decimal{}, err
	}
	return d.Neg(), nil
}
