package parse

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/spendtrack/internal/domain"
)

// genericParser handles uploads whose rows are already structured. The body
// is a JSON object with a "data" array of row objects; this is the path used
// when no format tag is supplied (manual entry, or a client that parsed the
// export itself).
type genericParser struct{}

// NewGenericParser returns the structured JSON parser.
func NewGenericParser() Parser {
	return &genericParser{}
}

func (p *genericParser) Name() string { return "default" }

type genericRow struct {
	Date        string          `json:"date"`
	Account     string          `json:"account"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Amount      decimal.Decimal `json:"amount"`
}

func (p *genericParser) Parse(ctx context.Context, r io.Reader) (*Result, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var body struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode upload body: %w", err)
	}

	res := newResult()
	for i, raw := range body.Data {
		var row genericRow
		if err := json.Unmarshal(raw, &row); err != nil {
			log.Printf("WARNING: skipping row %d: %v", i, err)
			res.Skipped++
			continue
		}
		if _, err := domain.ParseDate(row.Date); err != nil {
			log.Printf("WARNING: skipping row %d: invalid date %q", i, row.Date)
			res.Skipped++
			continue
		}
		res.add(domain.NewActivity(row.Date, row.Account, row.Description, row.Category, row.Amount))
	}
	return res, nil
}
