package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLite is a file-backed Store for local development. Records are stored as
// JSON documents under a (user, sk) primary key; range scans ride on the
// index order.
type SQLite struct {
	db       *sql.DB
	notifier Notifier
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS records (
	user TEXT NOT NULL,
	sk   TEXT NOT NULL,
	data TEXT NOT NULL,
	PRIMARY KEY (user, sk)
);
`

// NewSQLite opens (creating if needed) a SQLite store at path.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store at %s: %w", path, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create records table: %w", err)
	}
	return &SQLite{db: db}, nil
}

// SetNotifier attaches a change-feed consumer, giving local mode the same
// change events the production deployment gets from its store stream.
func (s *SQLite) SetNotifier(n Notifier) {
	s.notifier = n
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) get(ctx context.Context, user, sk string) (*Record, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM records WHERE user = ? AND sk = ?", user, sk).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", sk, err)
	}

	var d doc
	if err := json.Unmarshal([]byte(data), &d); err != nil {
		return nil, fmt.Errorf("failed to parse record %s: %w", sk, err)
	}
	rec, err := fromDoc(d)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Get implements Store.
func (s *SQLite) Get(ctx context.Context, user, sk string) (*Record, error) {
	return s.get(ctx, user, sk)
}

func (s *SQLite) put(ctx context.Context, rec Record) (Event, error) {
	old, err := s.get(ctx, rec.User, rec.SK)
	if err != nil && err != ErrNotFound {
		return Event{}, err
	}

	data, err := json.Marshal(toDoc(rec))
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal record %s: %w", rec.SK, err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO records (user, sk, data) VALUES (?, ?, ?) ON CONFLICT (user, sk) DO UPDATE SET data = excluded.data",
		rec.User, rec.SK, string(data))
	if err != nil {
		return Event{}, fmt.Errorf("failed to put record %s: %w", rec.SK, err)
	}
	return eventFor(old, rec), nil
}

// Put implements Store.
func (s *SQLite) Put(ctx context.Context, rec Record) error {
	ev, err := s.put(ctx, rec)
	if err != nil {
		return err
	}
	if s.notifier != nil {
		s.notifier.Notify(ctx, []Event{ev})
	}
	return nil
}

// Delete implements Store.
func (s *SQLite) Delete(ctx context.Context, user, sk string) (*Record, error) {
	old, err := s.get(ctx, user, sk)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM records WHERE user = ? AND sk = ?", user, sk); err != nil {
		return nil, fmt.Errorf("failed to delete record %s: %w", sk, err)
	}
	if s.notifier != nil {
		s.notifier.Notify(ctx, []Event{removeEvent(*old)})
	}
	return old, nil
}

// BatchPut implements Store. Writes apply item by item, so a failure can
// leave the batch partially applied, matching the contract.
func (s *SQLite) BatchPut(ctx context.Context, recs []Record) error {
	events := make([]Event, 0, len(recs))
	for _, rec := range recs {
		ev, err := s.put(ctx, rec)
		if err != nil {
			return err
		}
		events = append(events, ev)
	}
	if s.notifier != nil && len(events) > 0 {
		s.notifier.Notify(ctx, events)
	}
	return nil
}

// BatchDelete implements Store.
func (s *SQLite) BatchDelete(ctx context.Context, user string, sks []string) error {
	var events []Event
	for _, sk := range sks {
		old, err := s.get(ctx, user, sk)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx,
			"DELETE FROM records WHERE user = ? AND sk = ?", user, sk); err != nil {
			return fmt.Errorf("failed to delete record %s: %w", sk, err)
		}
		events = append(events, removeEvent(*old))
	}
	if s.notifier != nil && len(events) > 0 {
		s.notifier.Notify(ctx, events)
	}
	return nil
}

// Users returns every user partition with at least one record, sorted.
func (s *SQLite) Users(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT user FROM records ORDER BY user")
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var user string
		if err := rows.Scan(&user); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// Query implements Store.
func (s *SQLite) Query(ctx context.Context, user string, q Query) (*Page, error) {
	start, end := q.Start, q.End
	if q.Prefix != "" {
		start, end = PrefixRange(q.Prefix)
	}

	stmt := "SELECT data FROM records WHERE user = ? AND sk >= ? AND sk <= ?"
	args := []interface{}{user, start, end}
	if q.StartAfter != "" {
		if q.Descending {
			stmt += " AND sk < ?"
		} else {
			stmt += " AND sk > ?"
		}
		args = append(args, q.StartAfter)
	}
	if q.Descending {
		stmt += " ORDER BY sk DESC"
	} else {
		stmt += " ORDER BY sk ASC"
	}
	if q.Limit > 0 {
		stmt += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records for user %s: %w", user, err)
	}
	defer rows.Close()

	page := &Page{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		var d doc
		if err := json.Unmarshal([]byte(data), &d); err != nil {
			return nil, fmt.Errorf("failed to parse record: %w", err)
		}
		rec, err := fromDoc(d)
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records for user %s: %w", user, err)
	}

	if q.Limit > 0 && len(page.Items) == q.Limit {
		page.NextKey = page.Items[len(page.Items)-1].SK
	}
	return page, nil
}
