// Package postgres implements the case store on PostgreSQL, for
// deployments where analytics readers share a database server instead of
// the local SQLite file.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jurisdata/lawnet-ingest/internal/ingest"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS court_cases (
	reference TEXT PRIMARY KEY,
	court TEXT NOT NULL,
	year INTEGER NOT NULL,
	case_number TEXT NOT NULL,
	case_name TEXT,
	plaintiff TEXT,
	defendant TEXT,
	coram JSONB NOT NULL DEFAULT '[]',
	counsel JSONB NOT NULL DEFAULT '{}',
	outcome TEXT,
	area_of_law TEXT,
	decision_date TEXT,
	full_text TEXT NOT NULL CHECK(length(full_text) > 0),
	fetched_at TIMESTAMPTZ NOT NULL,
	source_url TEXT NOT NULL,
	extraction_complete BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ DEFAULT NOW()
)`

const caseColumns = `reference, court, year, case_number, case_name, plaintiff, defendant,
	coram, counsel, outcome, area_of_law, decision_date, full_text,
	fetched_at, source_url, extraction_complete`

// DB is the subset of pgxpool.Pool the store uses; pgxmock satisfies it in
// tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Store implements ingest.CaseStore backed by PostgreSQL.
type Store struct {
	db DB
}

// Open connects to Postgres, verifies the connection, and ensures the
// schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: pool}, nil
}

// NewWithDB constructs a store from an existing pool (primarily for testing).
func NewWithDB(db DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	s.db.Close()
	return nil
}

// Exists checks for a record by primary key without loading it.
func (s *Store) Exists(ctx context.Context, reference string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM court_cases WHERE reference = $1)", reference,
	).Scan(&exists)
	if err != nil {
		return false, wrapStoreErr(reference, err)
	}
	return exists, nil
}

// Get returns the full record or ingest.ErrNotFound.
func (s *Store) Get(ctx context.Context, reference string) (ingest.CaseRecord, error) {
	row := s.db.QueryRow(ctx,
		"SELECT "+caseColumns+" FROM court_cases WHERE reference = $1", reference)
	rec, err := scanCase(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ingest.CaseRecord{}, ingest.ErrNotFound
	}
	if err != nil {
		return ingest.CaseRecord{}, wrapStoreErr(reference, err)
	}
	return rec, nil
}

// Upsert writes the record in one transaction, skipping when the reference
// exists and force is false.
func (s *Store) Upsert(ctx context.Context, rec ingest.CaseRecord, force bool) (ingest.UpsertStatus, error) {
	coramJSON, err := json.Marshal(orEmptySlice(rec.Coram))
	if err != nil {
		return "", wrapStoreErr(rec.Reference, fmt.Errorf("encode coram: %w", err))
	}
	counselJSON, err := json.Marshal(orEmptyMap(rec.Counsel))
	if err != nil {
		return "", wrapStoreErr(rec.Reference, fmt.Errorf("encode counsel: %w", err))
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return "", wrapStoreErr(rec.Reference, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	var exists bool
	err = tx.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM court_cases WHERE reference = $1)", rec.Reference,
	).Scan(&exists)
	if err != nil {
		return "", wrapStoreErr(rec.Reference, err)
	}
	if exists && !force {
		return ingest.UpsertSkipped, nil
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO court_cases (
			reference, court, year, case_number, case_name, plaintiff, defendant,
			coram, counsel, outcome, area_of_law, decision_date, full_text,
			fetched_at, source_url, extraction_complete
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
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
			created_at=NOW()`,
		rec.Reference, rec.Court, rec.Year, rec.CaseNumber,
		rec.CaseName, rec.Plaintiff, rec.Defendant,
		coramJSON, counselJSON,
		rec.Outcome, rec.AreaOfLaw, rec.DecisionDate,
		rec.FullText, rec.FetchedAt.UTC(), rec.SourceURL, rec.ExtractionComplete,
	)
	if err != nil {
		return "", wrapStoreErr(rec.Reference, err)
	}
	if err := tx.Commit(ctx); err != nil {
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
	rows, err := s.db.Query(ctx,
		"SELECT "+caseColumns+" FROM court_cases ORDER BY fetched_at DESC LIMIT $1", limit)
	if err != nil {
		return nil, wrapStoreErr("", err)
	}
	defer rows.Close()

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

// Stats aggregates record counts.
func (s *Store) Stats(ctx context.Context) (ingest.CaseStats, error) {
	var stats ingest.CaseStats
	err := s.db.QueryRow(ctx,
		"SELECT COUNT(*), COUNT(*) FILTER (WHERE extraction_complete) FROM court_cases",
	).Scan(&stats.Total, &stats.Complete)
	if err != nil {
		return ingest.CaseStats{}, wrapStoreErr("", err)
	}
	stats.Degraded = stats.Total - stats.Complete
	return stats, nil
}

func scanCase(row pgx.Row) (ingest.CaseRecord, error) {
	var rec ingest.CaseRecord
	var caseName, plaintiff, defendant *string
	var outcome, areaOfLaw, decisionDate *string
	var coramJSON, counselJSON []byte
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
	rec.CaseName = deref(caseName)
	rec.Plaintiff = deref(plaintiff)
	rec.Defendant = deref(defendant)
	rec.Outcome = deref(outcome)
	rec.AreaOfLaw = deref(areaOfLaw)
	rec.DecisionDate = deref(decisionDate)
	if err := json.Unmarshal(coramJSON, &rec.Coram); err != nil {
		return ingest.CaseRecord{}, fmt.Errorf("decode coram: %w", err)
	}
	if err := json.Unmarshal(counselJSON, &rec.Counsel); err != nil {
		return ingest.CaseRecord{}, fmt.Errorf("decode counsel: %w", err)
	}
	rec.FetchedAt = rec.FetchedAt.UTC()
	return rec, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
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

// wrapStoreErr maps pgx errors onto the store error taxonomy.
func wrapStoreErr(reference string, err error) error {
	kind := ingest.StoreIOFailure
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		kind = ingest.StoreConstraintViolation
	}
	return &ingest.StoreError{Kind: kind, Reference: reference, Err: err}
}
