// Package sqlite implements the case store on a local SQLite file, the
// default backend queried read-only by the dashboard and analytics jobs.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/jurisdata/lawnet-ingest/internal/ingest"
)

// SchemaSQL is the single source of truth for the case schema. Every case
// record field is an independently queryable column because downstream
// classification and clustering read individual fields.
const SchemaSQL = `
CREATE TABLE IF NOT EXISTS court_cases (
	reference TEXT PRIMARY KEY,
	court TEXT NOT NULL,
	year INTEGER NOT NULL,
	case_number TEXT NOT NULL,
	case_name TEXT,
	plaintiff TEXT,
	defendant TEXT,
	coram TEXT NOT NULL DEFAULT '[]',
	counsel TEXT NOT NULL DEFAULT '{}',
	outcome TEXT,
	area_of_law TEXT,
	decision_date TEXT,
	full_text TEXT NOT NULL CHECK(length(full_text) > 0),
	fetched_at DATETIME NOT NULL,
	source_url TEXT NOT NULL,
	extraction_complete INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_court_cases_court_year ON court_cases(court, year);
CREATE INDEX IF NOT EXISTS idx_court_cases_complete ON court_cases(extraction_complete);
`

const caseColumns = `reference, court, year, case_number, case_name, plaintiff, defendant,
	coram, counsel, outcome, area_of_law, decision_date, full_text,
	fetched_at, source_url, extraction_complete`

// Store implements ingest.CaseStore backed by a SQLite file.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at path and ensures
// the schema exists. WAL mode lets dashboard readers run concurrently with
// the ingest writer; the busy timeout serializes racing writers.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create store dir %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if _, err := db.Exec(SchemaSQL); err != nil {
		db.Close() //nolint:errcheck // open failed, best-effort cleanup
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Exists checks for a record by primary key without loading it.
func (s *Store) Exists(ctx context.Context, reference string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM court_cases WHERE reference = ? LIMIT 1", reference,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, wrapStoreErr(reference, err)
	}
	return true, nil
}

// Get returns the full record or ingest.ErrNotFound.
func (s *Store) Get(ctx context.Context, reference string) (ingest.CaseRecord, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+caseColumns+" FROM court_cases WHERE reference = ?", reference)
	rec, err := scanCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ingest.CaseRecord{}, ingest.ErrNotFound
	}
	if err != nil {
		return ingest.CaseRecord{}, wrapStoreErr(reference, err)
	}
	return rec, nil
}

// Upsert writes the record as one transaction. An existing record with
// force=false is skipped without a write; otherwise the row is replaced
// wholesale, never merged field-by-field.
func (s *Store) Upsert(ctx context.Context, rec ingest.CaseRecord, force bool) (ingest.UpsertStatus, error) {
	coramJSON, counselJSON, err := encodeCollections(rec)
	if err != nil {
		return "", wrapStoreErr(rec.Reference, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", wrapStoreErr(rec.Reference, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var one int
	err = tx.QueryRowContext(ctx,
		"SELECT 1 FROM court_cases WHERE reference = ? LIMIT 1", rec.Reference,
	).Scan(&one)
	exists := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", wrapStoreErr(rec.Reference, err)
	}
	if exists && !force {
		return ingest.UpsertSkipped, nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO court_cases (
			reference, court, year, case_number, case_name, plaintiff, defendant,
			coram, counsel, outcome, area_of_law, decision_date, full_text,
			fetched_at, source_url, extraction_complete
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(reference) DO UPDATE SET
			court=excluded.court,
			year=excluded.year,
			case_number=excluded.case_number,
			case_name=excluded.case_name,
			plaintiff=excluded.plaintiff,
			defendant=excluded.defendant,
			coram=excluded.coram,
			counsel=excluded.counsel,
			outcome=excluded.outcome,
			area_of_law=excluded.area_of_law,
			decision_date=excluded.decision_date,
			full_text=excluded.full_text,
			fetched_at=excluded.fetched_at,
			source_url=excluded.source_url,
			extraction_complete=excluded.extraction_complete,
			created_at=CURRENT_TIMESTAMP`,
		rec.Reference, rec.Court, rec.Year, rec.CaseNumber,
		nullable(rec.CaseName), nullable(rec.Plaintiff), nullable(rec.Defendant),
		coramJSON, counselJSON,
		nullable(rec.Outcome), nullable(rec.AreaOfLaw), nullable(rec.DecisionDate),
		rec.FullText, rec.FetchedAt.UTC(), rec.SourceURL, rec.ExtractionComplete,
	)
	if err != nil {
		return "", wrapStoreErr(rec.Reference, err)
	}
	if err := tx.Commit(); err != nil {
		return "", wrapStoreErr(rec.Reference, err)
	}
	if exists {
		return ingest.UpsertOverwritten, nil
	}
	return ingest.UpsertCreated, nil
}

// Recent lists the newest records by fetch time.
func (s *Store) Recent(ctx context.Context, limit int) ([]ingest.CaseRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+caseColumns+" FROM court_cases ORDER BY fetched_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, wrapStoreErr("", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	var out []ingest.CaseRecord
	for rows.Next() {
		rec, err := scanCase(rows)
		if err != nil {
			return nil, wrapStoreErr("", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreErr("", err)
	}
	return out, nil
}

// Stats aggregates record counts for the dashboard.
func (s *Store) Stats(ctx context.Context) (ingest.CaseStats, error) {
	var stats ingest.CaseStats
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(extraction_complete), 0) FROM court_cases",
	).Scan(&stats.Total, &stats.Complete)
	if err != nil {
		return ingest.CaseStats{}, wrapStoreErr("", err)
	}
	stats.Degraded = stats.Total - stats.Complete
	return stats, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCase(row scanner) (ingest.CaseRecord, error) {
	var rec ingest.CaseRecord
	var caseName, plaintiff, defendant sql.NullString
	var outcome, areaOfLaw, decisionDate sql.NullString
	var coramJSON, counselJSON string
	err := row.Scan(
		&rec.Reference, &rec.Court, &rec.Year, &rec.CaseNumber,
		&caseName, &plaintiff, &defendant,
		&coramJSON, &counselJSON,
		&outcome, &areaOfLaw, &decisionDate,
		&rec.FullText, &rec.FetchedAt, &rec.SourceURL, &rec.ExtractionComplete,
	)
	if err != nil {
		return ingest.CaseRecord{}, err
	}
	rec.CaseName = caseName.String
	rec.Plaintiff = plaintiff.String
	rec.Defendant = defendant.String
	rec.Outcome = outcome.String
	rec.AreaOfLaw = areaOfLaw.String
	rec.DecisionDate = decisionDate.String
	if err := json.Unmarshal([]byte(coramJSON), &rec.Coram); err != nil {
		return ingest.CaseRecord{}, fmt.Errorf("decode coram: %w", err)
	}
	if err := json.Unmarshal([]byte(counselJSON), &rec.Counsel); err != nil {
		return ingest.CaseRecord{}, fmt.Errorf("decode counsel: %w", err)
	}
	rec.FetchedAt = rec.FetchedAt.UTC()
	return rec, nil
}

func encodeCollections(rec ingest.CaseRecord) (coram string, counsel string, err error) {
	coramBytes, err := json.Marshal(orEmptySlice(rec.Coram))
	if err != nil {
		return "", "", fmt.Errorf("encode coram: %w", err)
	}
	counselBytes, err := json.Marshal(orEmptyMap(rec.Counsel))
	if err != nil {
		return "", "", fmt.Errorf("encode counsel: %w", err)
	}
	return string(coramBytes), string(counselBytes), nil
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// wrapStoreErr maps driver errors onto the store error taxonomy.
func wrapStoreErr(reference string, err error) error {
	kind := ingest.StoreIOFailure
	var serr sqlite3.Error
	if errors.As(err, &serr) && serr.Code == sqlite3.ErrConstraint {
		kind = ingest.StoreConstraintViolation
	}
	return &ingest.StoreError{Kind: kind, Reference: reference, Err: err}
}
