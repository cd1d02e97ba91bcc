package harness

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// createRunsTableSQL creates the run ledger table.
const createRunsTableSQL = `
CREATE TABLE IF NOT EXISTS runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at INTEGER NOT NULL,
    elapsed_ns INTEGER NOT NULL,
    target TEXT NOT NULL,
    transport TEXT NOT NULL,
    concurrency INTEGER NOT NULL,
    requests INTEGER NOT NULL,
    throughput REAL NOT NULL,
    outcome TEXT NOT NULL,
    failure_kind TEXT,
    failure_detail TEXT
)`

// Run outcomes.
const (
	OutcomePassed = "passed"
	OutcomeFailed = "failed"
)

// LedgerEntry is one recorded harness run.
type LedgerEntry struct {
	ID            int64
	Start         time.Time
	Elapsed       time.Duration
	Target        string
	Transport     string
	Concurrency   int
	Requests      int
	Throughput    float64
	Outcome       string
	FailureKind   string
	FailureDetail string
}

// NewLedgerEntry builds the entry for a run that ended with rep or err.
func NewLedgerEntry(target, transport string, concurrency int, start time.Time, rep *Report, err error) LedgerEntry {
	e := LedgerEntry{
		Start:       start,
		Target:      target,
		Transport:   transport,
		Concurrency: concurrency,
		Outcome:     OutcomePassed,
	}
	if rep != nil {
		e.Start = rep.Start
		e.Elapsed = rep.Elapsed
		e.Requests = rep.Requests
		e.Throughput = rep.Throughput
	}
	if err != nil {
		e.Outcome = OutcomeFailed
		e.Elapsed = time.Since(start)
		e.FailureDetail = err.Error()
		var f *Failure
		if stderrors.As(err, &f) {
			e.FailureKind = string(f.Kind)
		}
	}
	return e
}

// Ledger appends run summaries to a SQLite database.
type Ledger struct {
	db *sql.DB
}

// OpenLedger opens or creates the ledger at path.
func OpenLedger(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // Single writer

	if _, err := db.Exec(createRunsTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: failed to initialize schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Record appends e and returns its row id.
func (l *Ledger) Record(ctx context.Context, e LedgerEntry) (int64, error) {
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO runs (
			started_at, elapsed_ns, target, transport, concurrency,
			requests, throughput, outcome, failure_kind, failure_detail
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Start.UnixNano(), int64(e.Elapsed), e.Target, e.Transport, e.Concurrency,
		e.Requests, e.Throughput, e.Outcome, nullString(e.FailureKind), nullString(e.FailureDetail),
	)
	if err != nil {
		return 0, fmt.Errorf("ledger: failed to record run: %w", err)
	}
	return res.LastInsertId()
}

// Entries returns all recorded runs, oldest first.
func (l *Ledger) Entries(ctx context.Context) ([]LedgerEntry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, started_at, elapsed_ns, target, transport, concurrency,
		       requests, throughput, outcome, failure_kind, failure_detail
		FROM runs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to query runs: %w", err)
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		var (
			e            LedgerEntry
			startedAt    int64
			elapsed      int64
			kind, detail sql.NullString
		)
		if err := rows.Scan(&e.ID, &startedAt, &elapsed, &e.Target, &e.Transport, &e.Concurrency,
			&e.Requests, &e.Throughput, &e.Outcome, &kind, &detail); err != nil {
			return nil, fmt.Errorf("ledger: failed to scan run: %w", err)
		}
		e.Start = time.Unix(0, startedAt)
		e.Elapsed = time.Duration(elapsed)
		e.FailureKind = kind.String
		e.FailureDetail = detail.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
