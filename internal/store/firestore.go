package store

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Firestore is the production Store. Each user partition is a subcollection
// keyed by sk, so lexicographic sk ranges map directly onto ordered field
// queries.
type Firestore struct {
	client     *firestore.Client
	authClient *auth.Client
	collection string
}

// NewFirestore creates a Firestore-backed store and the Firebase auth client
// that shares its app.
func NewFirestore(ctx context.Context, projectID, collection string) (*Firestore, error) {
	conf := &firebase.Config{ProjectID: projectID}
	app, err := firebase.NewApp(ctx, conf)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	authClient, err := app.Auth(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create Auth client: %w", err)
	}

	return &Firestore{client: client, authClient: authClient, collection: collection}, nil
}

// Auth returns the Firebase auth client for the middleware.
func (f *Firestore) Auth() *auth.Client {
	return f.authClient
}

// Close closes the underlying client.
func (f *Firestore) Close() error {
	return f.client.Close()
}

// doc is the Firestore representation of a Record. Amounts are stored as
// exact decimal strings, never floats.
type doc struct {
	User        string            `firestore:"user" json:"user"`
	SK          string            `firestore:"sk" json:"sk"`
	Date        string            `firestore:"date,omitempty" json:"date,omitempty"`
	Account     string            `firestore:"account,omitempty" json:"account,omitempty"`
	Description string            `firestore:"description,omitempty" json:"description,omitempty"`
	Category    string            `firestore:"category,omitempty" json:"category,omitempty"`
	Amount      string            `firestore:"amount,omitempty" json:"amount,omitempty"`
	SearchTerm  string            `firestore:"search_term,omitempty" json:"search_term,omitempty"`
	Checksum    string            `firestore:"chksum,omitempty" json:"chksum,omitempty"`
	File        string            `firestore:"file,omitempty" json:"file,omitempty"`
	StartDate   string            `firestore:"start_date,omitempty" json:"start_date,omitempty"`
	EndDate     string            `firestore:"end_date,omitempty" json:"end_date,omitempty"`
	Priority    int               `firestore:"priority,omitempty" json:"priority,omitempty"`
	CreatedAt   string            `firestore:"created_at,omitempty" json:"created_at,omitempty"`
	Month       string            `firestore:"month,omitempty" json:"month,omitempty"`
	Categories  map[string]string `firestore:"categories,omitempty" json:"categories,omitempty"`
	RelatedSK   string            `firestore:"related_sk,omitempty" json:"related_sk,omitempty"`
	Duplicate   bool              `firestore:"duplicate,omitempty" json:"duplicate,omitempty"`
	Opposite    bool              `firestore:"opposite,omitempty" json:"opposite,omitempty"`
}

func toDoc(rec Record) doc {
	d := doc{
		User:        rec.User,
		SK:          rec.SK,
		Date:        rec.Date,
		Account:     rec.Account,
		Description: rec.Description,
		Category:    rec.Category,
		SearchTerm:  rec.SearchTerm,
		Checksum:    rec.Checksum,
		File:        rec.File,
		StartDate:   rec.StartDate,
		EndDate:     rec.EndDate,
		Priority:    rec.Priority,
		CreatedAt:   rec.CreatedAt,
		Month:       rec.Month,
		RelatedSK:   rec.RelatedSK,
		Duplicate:   rec.Duplicate,
		Opposite:    rec.Opposite,
	}
	if !rec.Amount.IsZero() {
		d.Amount = rec.Amount.String()
	}
	if rec.Categories != nil {
		d.Categories = make(map[string]string, len(rec.Categories))
		for cat, amt := range rec.Categories {
			d.Categories[cat] = amt.String()
		}
	}
	return d
}

func fromDoc(d doc) (Record, error) {
	rec := Record{
		User:        d.User,
		SK:          d.SK,
		Date:        d.Date,
		Account:     d.Account,
		Description: d.Description,
		Category:    d.Category,
		SearchTerm:  d.SearchTerm,
		Checksum:    d.Checksum,
		File:        d.File,
		StartDate:   d.StartDate,
		EndDate:     d.EndDate,
		Priority:    d.Priority,
		CreatedAt:   d.CreatedAt,
		Month:       d.Month,
		RelatedSK:   d.RelatedSK,
		Duplicate:   d.Duplicate,
		Opposite:    d.Opposite,
	}
	if d.Amount != "" {
		amt, err := decimal.NewFromString(d.Amount)
		if err != nil {
			return rec, fmt.Errorf("invalid stored amount %q: %w", d.Amount, err)
		}
		rec.Amount = amt
	}
	if d.Categories != nil {
		rec.Categories = make(map[string]decimal.Decimal, len(d.Categories))
		for cat, amt := range d.Categories {
			dec, err := decimal.NewFromString(amt)
			if err != nil {
				return rec, fmt.Errorf("invalid stored amount %q for category %s: %w", amt, cat, err)
			}
			rec.Categories[cat] = dec
		}
	}
	return rec, nil
}

func (f *Firestore) records(user string) *firestore.CollectionRef {
	return f.client.Collection(f.collection).Doc(user).Collection("records")
}

// Get implements Store.
func (f *Firestore) Get(ctx context.Context, user, sk string) (*Record, error) {
	snap, err := f.records(user).Doc(sk).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", sk, err)
	}

	var d doc
	if err := snap.DataTo(&d); err != nil {
		return nil, fmt.Errorf("failed to parse record %s: %w", sk, err)
	}
	rec, err := fromDoc(d)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Put implements Store.
func (f *Firestore) Put(ctx context.Context, rec Record) error {
	_, err := f.records(rec.User).Doc(rec.SK).Set(ctx, toDoc(rec))
	if err != nil {
		return fmt.Errorf("failed to put record %s: %w", rec.SK, err)
	}
	return nil
}

// Delete implements Store. The old value is read first so the caller can
// soft-delete it; the read and delete are not atomic.
func (f *Firestore) Delete(ctx context.Context, user, sk string) (*Record, error) {
	old, err := f.Get(ctx, user, sk)
	if err != nil {
		return nil, err
	}
	if _, err := f.records(user).Doc(sk).Delete(ctx); err != nil {
		return nil, fmt.Errorf("failed to delete record %s: %w", sk, err)
	}
	return old, nil
}

// BatchPut implements Store using BulkWriter. The writer retries transient
// per-item failures itself; a batch may still apply partially on hard
// failure.
func (f *Firestore) BatchPut(ctx context.Context, recs []Record) error {
	bw := f.client.BulkWriter(ctx)
	for _, rec := range recs {
		if _, err := bw.Set(f.records(rec.User).Doc(rec.SK), toDoc(rec)); err != nil {
			return fmt.Errorf("failed to enqueue record %s: %w", rec.SK, err)
		}
	}
	bw.End()
	return nil
}

// BatchDelete implements Store.
func (f *Firestore) BatchDelete(ctx context.Context, user string, sks []string) error {
	bw := f.client.BulkWriter(ctx)
	for _, sk := range sks {
		if _, err := bw.Delete(f.records(user).Doc(sk)); err != nil {
			return fmt.Errorf("failed to enqueue delete %s: %w", sk, err)
		}
	}
	bw.End()
	return nil
}

// Users returns every user partition, from the collection's document IDs.
func (f *Firestore) Users(ctx context.Context) ([]string, error) {
	iter := f.client.Collection(f.collection).DocumentRefs(ctx)
	var users []string
	for {
		ref, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list users: %w", err)
		}
		users = append(users, ref.ID)
	}
	return users, nil
}

// Query implements Store.
func (f *Firestore) Query(ctx context.Context, user string, q Query) (*Page, error) {
	start, end := q.Start, q.End
	if q.Prefix != "" {
		start, end = PrefixRange(q.Prefix)
	}

	dir := firestore.Asc
	if q.Descending {
		dir = firestore.Desc
	}
	query := f.records(user).
		Where("sk", ">=", start).
		Where("sk", "<=", end).
		OrderBy("sk", dir)
	if q.StartAfter != "" {
		query = query.StartAfter(q.StartAfter)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	page := &Page{}
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate records for user %s: %w", user, err)
		}

		var d doc
		if err := snap.DataTo(&d); err != nil {
			return nil, fmt.Errorf("failed to parse record: %w", err)
		}
		rec, err := fromDoc(d)
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, rec)
	}

	if q.Limit > 0 && len(page.Items) == q.Limit {
		page.NextKey = page.Items[len(page.Items)-1].SK
	}
	return page, nil
}
