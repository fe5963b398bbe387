// Package parse converts uploaded bank and credit card export files into
// canonical activities. Each exporter format gets its own stateless parser;
// callers pick one by format tag.
package parse

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/rumor-ml/commons.systems/spendtrack/internal/domain"
)

// Parser converts one upload body into activities.
type Parser interface {
	// Name returns the format tag (e.g. "cap1", "rbc").
	Name() string

	// Parse extracts activities from the raw upload body. Malformed rows
	// are dropped and counted, never abort the batch.
	Parse(ctx context.Context, r io.Reader) (*Result, error)
}

// Result is the outcome of parsing one upload.
type Result struct {
	Activities []domain.Activity

	// Skipped counts rows dropped as malformed or deliberately filtered.
	Skipped int

	// StartDate and EndDate bound the parsed rows' dates. When no row
	// parsed they hold the inverted sentinels (start > end).
	StartDate string
	EndDate   string
}

func newResult() *Result {
	return &Result{StartDate: domain.MaxDate, EndDate: domain.MinDate}
}

// add appends an activity and widens the date bounds.
func (res *Result) add(a domain.Activity) {
	if a.Date < res.StartDate {
		res.StartDate = a.Date
	}
	if a.Date > res.EndDate {
		res.EndDate = a.Date
	}
	res.Activities = append(res.Activities, a)
}

// Registry maps format tags to parsers.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry creates a registry with all built-in parsers. The empty format
// tag maps to the structured JSON parser used when the caller uploads
// already-parsed rows.
func NewRegistry() *Registry {
	r := &Registry{parsers: map[string]Parser{}}
	for _, p := range []Parser{
		NewCap1Parser(),
		NewRBCParser(),
		NewTDParser(),
		NewOFXParser(),
	} {
		r.Register(p)
	}
	generic := NewGenericParser()
	r.parsers[""] = generic
	r.Register(generic)
	return r
}

// Register adds a custom parser.
func (r *Registry) Register(p Parser) {
	r.parsers[p.Name()] = p
}

// Lookup returns the parser for a format tag.
func (r *Registry) Lookup(format string) (Parser, error) {
	p, ok := r.parsers[format]
	if !ok {
		return nil, fmt.Errorf("no parser registered for format %q", format)
	}
	return p, nil
}

// Formats returns the registered format tags, sorted.
func (r *Registry) Formats() []string {
	names := make([]string, 0, len(r.parsers))
	for name := range r.parsers {
		if name == "" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
