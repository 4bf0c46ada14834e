package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// ErrNotFound is returned when no report has the requested id.
var ErrNotFound = errors.New("report not found")

// Store is an append-only collection of reports keyed by id.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the SQLite database at path. Use ":memory:"
// for a throwaway store.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open report store: %w", err)
	}
	// a single connection keeps ":memory:" databases alive and serializes writers
	db.SetMaxOpenConns(1)

	queries := []string{
		`CREATE TABLE IF NOT EXISTS reports (
			id TEXT PRIMARY KEY,
			test_suite TEXT NOT NULL,
			generated_at TEXT NOT NULL,
			total_tests INTEGER NOT NULL,
			passed INTEGER NOT NULL,
			success_rate REAL NOT NULL,
			meets_target INTEGER NOT NULL,
			body TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS reports_generated_at ON reports (generated_at);`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			db.Close()
			return nil, fmt.Errorf("init report store: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append stores r. Ids are unique; appending the same id twice fails.
func (s *Store) Append(ctx context.Context, r *Report) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	query := `INSERT INTO reports (id, test_suite, generated_at, total_tests, passed, success_rate, meets_target, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		r.ID,
		r.TestSuite,
		r.GeneratedAt.UTC().Format(time.RFC3339Nano),
		r.Summary.TotalTests,
		r.Summary.Passed,
		r.Summary.SuccessRate,
		r.MVPTargets.Meets80PercentTarget,
		string(body),
	)
	if err != nil {
		return fmt.Errorf("append report %s: %w", r.ID, err)
	}
	return nil
}

// Get returns the report with id.
func (s *Store) Get(ctx context.Context, id string) (*Report, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM reports WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get report %s: %w", id, err)
	}
	var r Report
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", id, err)
	}
	return &r, nil
}

// List returns the newest reports first. limit <= 0 lists all.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `SELECT id, test_suite, generated_at, total_tests, passed, success_rate, meets_target
		FROM reports ORDER BY generated_at DESC, id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var generated string
		if err := rows.Scan(&e.ID, &e.TestSuite, &generated, &e.TotalTests, &e.Passed, &e.SuccessRate, &e.Meets); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, generated); err == nil {
			e.GeneratedAt = t
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
