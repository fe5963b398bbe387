package parse

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/spendtrack/internal/domain"
)

// ofxParser handles OFX/QFX downloads. Bank and credit card statements are
// supported; the account comes from the statement itself, masked to its last
// four characters.
type ofxParser struct{}

// NewOFXParser returns the OFX/QFX parser.
func NewOFXParser() Parser {
	return &ofxParser{}
}

func (p *ofxParser) Name() string { return "ofx" }

func (p *ofxParser) Parse(ctx context.Context, r io.Reader) (*Result, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX content: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	resp, err := ofxgo.ParseResponse(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file (%d bytes): %w", len(content), err)
	}

	res := newResult()
	switch {
	case len(resp.CreditCard) > 0:
		stmt, ok := resp.CreditCard[0].(*ofxgo.CCStatementResponse)
		if !ok {
			return nil, fmt.Errorf("unexpected credit card statement type %T", resp.CreditCard[0])
		}
		p.collect(res, domain.MaskAccount(stmt.CCAcctFrom.AcctID.String()), stmt.BankTranList)
	case len(resp.Bank) > 0:
		stmt, ok := resp.Bank[0].(*ofxgo.StatementResponse)
		if !ok {
			return nil, fmt.Errorf("unexpected bank statement type %T", resp.Bank[0])
		}
		p.collect(res, domain.MaskAccount(stmt.BankAcctFrom.AcctID.String()), stmt.BankTranList)
	default:
		return nil, fmt.Errorf("no bank or credit card statement found in OFX file (creditcard: %d, bank: %d)",
			len(resp.CreditCard), len(resp.Bank))
	}
	return res, nil
}

func (p *ofxParser) collect(res *Result, account string, list *ofxgo.TransactionList) {
	if list == nil {
		return
	}
	for i, txn := range list.Transactions {
		a, ok := p.extract(account, txn)
		if !ok {
			log.Printf("WARNING: skipping OFX transaction at index %d", i)
			res.Skipped++
			continue
		}
		res.add(a)
	}
}

func (p *ofxParser) extract(account string, txn ofxgo.Transaction) (domain.Activity, bool) {
	date := txn.DtPosted.Time
	if date.IsZero() {
		date = txn.DtUser.Time
	}
	if date.IsZero() {
		return domain.Activity{}, false
	}

	description := strings.TrimSpace(txn.Name.String())
	if description == "" {
		description = strings.TrimSpace(txn.Memo.String())
	}
	if description == "" {
		return domain.Activity{}, false
	}

	// Amounts come out of ofxgo as rationals; statement values always have
	// a finite decimal expansion.
	amount, err := decimal.NewFromString(txn.TrnAmt.Rat.FloatString(2))
	if err != nil {
		return domain.Activity{}, false
	}

	return domain.NewActivity(date.Format(domain.DateFormat), account, description, "", amount), true
}
