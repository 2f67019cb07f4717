// Package store is the DuckDB staging layer for parsed registry records.
//
// DuckDB does not support concurrent writers, so the store exposes a single
// writer role: every mutation goes through one mutex and one pooled
// connection, and the exporter acquires the same exclusivity before reading.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/thaistat/poplake/parser"

	_ "github.com/duckdb/duckdb-go/v2"
)

// ConflictPolicy decides what happens when the same (data_year, cc_code) key
// is loaded twice without an intervening reset.
type ConflictPolicy string

const (
	// ConflictReplace deterministically replaces the existing row.
	ConflictReplace ConflictPolicy = "replace"
	// ConflictReject keeps the existing row and reports ErrDuplicateKey.
	ConflictReject ConflictPolicy = "reject"
)

// ResetMode decides how re-ingestion clears stale rows.
type ResetMode string

const (
	// ResetPerYear deletes one year's rows right before that year is
	// reloaded, leaving other years untouched on partial re-runs.
	ResetPerYear ResetMode = "per-year"
	// ResetRecreate drops and recreates the whole table at open, the
	// original whole-store behavior.
	ResetRecreate ResetMode = "recreate"
)

// ErrDuplicateKey reports a rejected duplicate (data_year, cc_code) load.
var ErrDuplicateKey = errors.New("duplicate (data_year, cc_code) key")

// Options configures the staging store.
type Options struct {
	Path       string // database file; empty opens an in-memory store
	OnConflict ConflictPolicy
	Reset      ResetMode
}

// Store wraps the single shared DuckDB handle.
type Store struct {
	db     *sql.DB
	opts   Options
	logger *zap.Logger

	// mu is the serialization point for the single writer role. ExportAll
	// takes it too, so exports never observe a half-written year.
	mu sync.Mutex
}

// Open opens (or creates) the staging database and ensures the schema.
func Open(opts Options, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("duckdb", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open DuckDB: %w", err)
	}

	// DuckDB doesn't handle concurrent writes well - use single connection
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping DuckDB: %w", err)
	}

	s := &Store{db: db, opts: opts, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("staging store ready",
		zap.String("path", displayPath(opts.Path)),
		zap.String("on_conflict", string(opts.OnConflict)),
		zap.String("reset", string(opts.Reset)))
	return s, nil
}

func displayPath(path string) string {
	if path == "" {
		return ":memory:"
	}
	return path
}

// initSchema creates the staging table. In recreate mode any previous
// contents are discarded here, at process start.
func (s *Store) initSchema() error {
	create := "CREATE TABLE IF NOT EXISTS"
	if s.opts.Reset == ResetRecreate {
		create = "CREATE OR REPLACE TABLE"
	}

	_, err := s.db.Exec(create + ` thai_population (
		data_year INTEGER,
		yymm TEXT,
		cc_code INTEGER,
		cc_desc TEXT,
		rcode_code TEXT,
		rcode_desc TEXT,
		ccaatt_code TEXT,
		ccaatt_desc TEXT,
		ccaattmm_code TEXT,
		ccaattmm_desc TEXT,
		male INTEGER,
		female INTEGER,
		total INTEGER,
		house INTEGER,
		PRIMARY KEY (data_year, cc_code)
	)`)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// InsertRecord writes one record under the store's writer role.
func (s *Store) InsertRecord(rec parser.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(rec)
}

// InsertYear loads one year's records under a single hold of the writer
// role. In per-year reset mode the year's existing rows are deleted first,
// making a re-run replace rather than collide. A failed record never aborts
// its siblings; per-record errors come back alongside the loaded count. The
// returned error is reserved for store-level failures that make the year
// (or the store) unusable.
func (s *Store) InsertYear(year int, recs []parser.Record) (int, []error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.Reset == ResetPerYear {
		if _, err := s.db.Exec("DELETE FROM thai_population WHERE data_year = ?", year); err != nil {
			return 0, nil, fmt.Errorf("failed to reset year %d: %w", year, err)
		}
	}

	loaded := 0
	var recordErrs []error
	for _, rec := range recs {
		if err := s.insertLocked(rec); err != nil {
			recordErrs = append(recordErrs, err)
			continue
		}
		loaded++
	}
	return loaded, recordErrs, nil
}

func (s *Store) insertLocked(rec parser.Record) error {
	stmt := "INSERT INTO"
	if s.opts.OnConflict == ConflictReplace {
		stmt = "INSERT OR REPLACE INTO"
	}

	_, err := s.db.Exec(stmt+` thai_population
		(data_year, yymm, cc_code, cc_desc, rcode_code, rcode_desc,
		 ccaatt_code, ccaatt_desc, ccaattmm_code, ccaattmm_desc,
		 male, female, total, house)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.DataYear,
		rec.YYMM,
		rec.CCCode,
		rec.CCDesc,
		rec.RegionCode,
		rec.RegionDesc,
		rec.DistrictCode,
		rec.DistrictDesc,
		rec.SubdistrictCode,
		rec.SubdistrictDesc,
		rec.Male,
		rec.Female,
		rec.Total,
		rec.House,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("%w: year %d code %d", ErrDuplicateKey, rec.DataYear, rec.CCCode)
		}
		return fmt.Errorf("failed to insert (%d, %d): %w", rec.DataYear, rec.CCCode, err)
	}
	return nil
}

func isConstraintViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "constraint") || strings.Contains(msg, "duplicate key")
}

// ResetYear deletes one year's rows ahead of re-ingestion.
func (s *Store) ResetYear(year int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM thai_population WHERE data_year = ?", year); err != nil {
		return fmt.Errorf("failed to reset year %d: %w", year, err)
	}
	return nil
}

// CountByYear returns the number of staged rows for one year.
func (s *Store) CountByYear(year int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM thai_population WHERE data_year = ?", year,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count year %d: %w", year, err)
	}
	return count, nil
}

// YearSummary aggregates one staged year.
type YearSummary struct {
	Year   int
	Rows   int
	Male   int64
	Female int64
	Total  int64
	House  int64
}

// YearSummaries returns per-year aggregates for every staged year, ascending.
func (s *Store) YearSummaries() ([]YearSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT data_year, COUNT(*), SUM(male), SUM(female), SUM(total), SUM(house)
		FROM thai_population
		GROUP BY data_year
		ORDER BY data_year`)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize store: %w", err)
	}
	defer rows.Close()

	var summaries []YearSummary
	for rows.Next() {
		var y YearSummary
		if err := rows.Scan(&y.Year, &y.Rows, &y.Male, &y.Female, &y.Total, &y.House); err != nil {
			return nil, fmt.Errorf("failed to scan year summary: %w", err)
		}
		summaries = append(summaries, y)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to summarize store: %w", err)
	}
	return summaries, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
