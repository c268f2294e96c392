package db

import (
	"database/sql"
	"errors"
	"fmt"
)

// CFEntry matches the cf_entries table: one cached convolution function
// and its weight kernel for an (antenna-pair class, PA bucket, frequency).
type CFEntry struct {
	BaselineClass    int
	PABucket         int
	FreqIndex        int
	PARad            float64
	Sampling         int
	CFPath           string
	WtPath           string // empty when no weight kernel was cached
	CreatedUnixNanos int64
}

// AvgPBRecord matches the avgpb_images table.
type AvgPBRecord struct {
	Qualifier        string
	Path             string
	RunID            string
	NX, NY           int
	NPol, NChan      int
	CreatedUnixNanos int64
}

// FlushRecord matches the cache_flushes table.
type FlushRecord struct {
	FlushID          int64
	RunID            string
	FlushedUnixNanos int64
	CFEntries        int
	AvgPBImages      int
	Hits             int
	Misses           int
}

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// UpsertCFEntry inserts or replaces a CF index row.
func (db *DB) UpsertCFEntry(e CFEntry) error {
	var wt sql.NullString
	if e.WtPath != "" {
		wt = sql.NullString{String: e.WtPath, Valid: true}
	}
	_, err := db.Exec(`
		INSERT INTO cf_entries (baseline_class, pa_bucket, freq_index, pa_rad, sampling, cf_path, wt_path, created_unix_nanos)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (baseline_class, pa_bucket, freq_index) DO UPDATE SET
			pa_rad = excluded.pa_rad,
			sampling = excluded.sampling,
			cf_path = excluded.cf_path,
			wt_path = excluded.wt_path,
			created_unix_nanos = excluded.created_unix_nanos`,
		e.BaselineClass, e.PABucket, e.FreqIndex, e.PARad, e.Sampling, e.CFPath, wt, e.CreatedUnixNanos)
	if err != nil {
		return fmt.Errorf("failed to upsert cf entry: %w", err)
	}
	return nil
}

// ListCFEntries returns every CF row for a baseline class and frequency,
// ordered by PA bucket.
func (db *DB) ListCFEntries(baselineClass, freqIndex int) ([]CFEntry, error) {
	rows, err := db.Query(`
		SELECT baseline_class, pa_bucket, freq_index, pa_rad, sampling, cf_path, wt_path, created_unix_nanos
		FROM cf_entries
		WHERE baseline_class = ? AND freq_index = ?
		ORDER BY pa_bucket`, baselineClass, freqIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to query cf entries: %w", err)
	}
	defer rows.Close()

	var out []CFEntry
	for rows.Next() {
		var e CFEntry
		var wt sql.NullString
		if err := rows.Scan(&e.BaselineClass, &e.PABucket, &e.FreqIndex, &e.PARad, &e.Sampling, &e.CFPath, &wt, &e.CreatedUnixNanos); err != nil {
			return nil, fmt.Errorf("failed to scan cf entry: %w", err)
		}
		e.WtPath = wt.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountCFEntries returns the number of cached CF rows.
func (db *DB) CountCFEntries() (int, error) {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM cf_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count cf entries: %w", err)
	}
	return n, nil
}

// UpsertAvgPB inserts or replaces the sensitivity image record for a qualifier.
func (db *DB) UpsertAvgPB(r AvgPBRecord) error {
	_, err := db.Exec(`
		INSERT INTO avgpb_images (qualifier, path, run_id, nx, ny, npol, nchan, created_unix_nanos)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (qualifier) DO UPDATE SET
			path = excluded.path,
			run_id = excluded.run_id,
			nx = excluded.nx,
			ny = excluded.ny,
			npol = excluded.npol,
			nchan = excluded.nchan,
			created_unix_nanos = excluded.created_unix_nanos`,
		r.Qualifier, r.Path, r.RunID, r.NX, r.NY, r.NPol, r.NChan, r.CreatedUnixNanos)
	if err != nil {
		return fmt.Errorf("failed to upsert avgpb record: %w", err)
	}
	return nil
}

// GetAvgPB returns the sensitivity image record for a qualifier or ErrNotFound.
func (db *DB) GetAvgPB(qualifier string) (*AvgPBRecord, error) {
	var r AvgPBRecord
	err := db.QueryRow(`
		SELECT qualifier, path, run_id, nx, ny, npol, nchan, created_unix_nanos
		FROM avgpb_images WHERE qualifier = ?`, qualifier).
		Scan(&r.Qualifier, &r.Path, &r.RunID, &r.NX, &r.NY, &r.NPol, &r.NChan, &r.CreatedUnixNanos)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query avgpb record: %w", err)
	}
	return &r, nil
}

// CountAvgPB returns the number of cached sensitivity images.
func (db *DB) CountAvgPB() (int, error) {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM avgpb_images`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count avgpb records: %w", err)
	}
	return n, nil
}

// RecordFlush appends a cache flush summary and returns its ID.
func (db *DB) RecordFlush(r FlushRecord) (int64, error) {
	res, err := db.Exec(`
		INSERT INTO cache_flushes (run_id, flushed_unix_nanos, cf_entries, avgpb_images, hits, misses)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.RunID, r.FlushedUnixNanos, r.CFEntries, r.AvgPBImages, r.Hits, r.Misses)
	if err != nil {
		return 0, fmt.Errorf("failed to record flush: %w", err)
	}
	return res.LastInsertId()
}

// ListFlushes returns the flush summaries of a run in insertion order.
func (db *DB) ListFlushes(runID string) ([]FlushRecord, error) {
	rows, err := db.Query(`
		SELECT flush_id, run_id, flushed_unix_nanos, cf_entries, avgpb_images, hits, misses
		FROM cache_flushes WHERE run_id = ? ORDER BY flush_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query flushes: %w", err)
	}
	defer rows.Close()

	var out []FlushRecord
	for rows.Next() {
		var r FlushRecord
		if err := rows.Scan(&r.FlushID, &r.RunID, &r.FlushedUnixNanos, &r.CFEntries, &r.AvgPBImages, &r.Hits, &r.Misses); err != nil {
			return nil, fmt.Errorf("failed to scan flush: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
