package rag

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteVecIndex is an embedded, file-persisted vector index backed by the
// sqlite-vec extension's vec0 virtual table. sqlite-vec has no native
// inverted-file index in this binding's version, so the "ivf" index kind
// runs the same brute-force KNN search vec0 always performs; the kind
// label is kept for config compatibility and Stats() reporting.
type SQLiteVecIndex struct {
	path string
	dims int
	kind string
	db   *sql.DB
}

func NewSQLiteVecIndex(path string, dims int, kind string) (*SQLiteVecIndex, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("rag: open sqlite-vec db %s: %w", path, err)
	}
	idx := &SQLiteVecIndex{path: path, dims: dims, kind: kind, db: db}
	if err := idx.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *SQLiteVecIndex) ensureSchema() error {
	stmts := []string{
		fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS vec_items USING vec0(embedding float[%d])`, idx.dims),
		`CREATE TABLE IF NOT EXISTS rag_documents (
			id TEXT PRIMARY KEY,
			vec_rowid INTEGER,
			text TEXT,
			metadata TEXT
		)`,
	}
	for _, s := range stmts {
		if _, err := idx.db.Exec(s); err != nil {
			return fmt.Errorf("rag: create schema: %w", err)
		}
	}
	return nil
}

func (idx *SQLiteVecIndex) Dimensions() int   { return idx.dims }
func (idx *SQLiteVecIndex) IndexKind() string { return idx.kind }
func (idx *SQLiteVecIndex) Close() error      { return idx.db.Close() }

// Add inserts or replaces each record's embedding and metadata. An existing
// row for the same ID has its stale vec0 row deleted first, since vec0 has
// no upsert of its own.
func (idx *SQLiteVecIndex) Add(ctx context.Context, records []Record) error {
	for _, r := range records {
		if len(r.Embedding) != idx.dims {
			slog.Warn("rag: embedding dimension mismatch, skipping", "id", r.ID, "got", len(r.Embedding), "want", idx.dims)
			continue
		}
		blob, err := vec.SerializeFloat32(r.Embedding)
		if err != nil {
			return fmt.Errorf("rag: serialize embedding for %s: %w", r.ID, err)
		}
		metaJSON, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("rag: marshal metadata for %s: %w", r.ID, err)
		}

		var existingRowID sql.NullInt64
		_ = idx.db.QueryRowContext(ctx, `SELECT vec_rowid FROM rag_documents WHERE id = ?`, r.ID).Scan(&existingRowID)
		if existingRowID.Valid {
			if _, err := idx.db.ExecContext(ctx, `DELETE FROM vec_items WHERE rowid = ?`, existingRowID.Int64); err != nil {
				return fmt.Errorf("rag: delete stale embedding for %s: %w", r.ID, err)
			}
		}

		res, err := idx.db.ExecContext(ctx, `INSERT INTO vec_items(embedding) VALUES (?)`, blob)
		if err != nil {
			return fmt.Errorf("rag: insert embedding for %s: %w", r.ID, err)
		}
		rowID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("rag: read inserted rowid for %s: %w", r.ID, err)
		}

		if _, err := idx.db.ExecContext(ctx,
			`INSERT INTO rag_documents (id, vec_rowid, text, metadata) VALUES (?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET vec_rowid = excluded.vec_rowid, text = excluded.text, metadata = excluded.metadata`,
			r.ID, rowID, r.Text, string(metaJSON)); err != nil {
			return fmt.Errorf("rag: upsert document row for %s: %w", r.ID, err)
		}
	}
	return nil
}

// SimilaritySearch runs a vec0 KNN query and joins results back to their
// text/metadata row. Results are already ordered by ascending distance;
// filtering trims to k after an over-fetch of 2k (spec §4.6).
func (idx *SQLiteVecIndex) SimilaritySearch(ctx context.Context, queryVec []float32, k int, filter func(SearchResult) bool) ([]SearchResult, error) {
	if len(queryVec) != idx.dims {
		return nil, fmt.Errorf("rag: query embedding dimension mismatch: got %d want %d", len(queryVec), idx.dims)
	}
	fetch := k
	if filter != nil {
		fetch = k * 2
	}
	blob, err := vec.SerializeFloat32(queryVec)
	if err != nil {
		return nil, fmt.Errorf("rag: serialize query embedding: %w", err)
	}

	rows, err := idx.db.QueryContext(ctx,
		`SELECT rowid, distance FROM vec_items WHERE embedding MATCH ? AND k = ? ORDER BY distance`,
		blob, fetch)
	if err != nil {
		return nil, fmt.Errorf("rag: vec0 search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var rowID int64
		var distance float64
		if err := rows.Scan(&rowID, &distance); err != nil {
			return nil, err
		}
		var id, text, metaJSON string
		if err := idx.db.QueryRowContext(ctx,
			`SELECT id, text, metadata FROM rag_documents WHERE vec_rowid = ?`, rowID).
			Scan(&id, &text, &metaJSON); err != nil {
			continue
		}
		var meta map[string]any
		_ = json.Unmarshal([]byte(metaJSON), &meta)

		result := SearchResult{
			ID:         id,
			Text:       text,
			Metadata:   meta,
			Distance:   distance,
			Similarity: 1.0 / (1.0 + distance),
		}
		if filter != nil && !filter(result) {
			continue
		}
		out = append(out, result)
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

func (idx *SQLiteVecIndex) AllRecords(ctx context.Context) ([]Record, error) {
	rows, err := idx.db.QueryContext(ctx, `SELECT id, text, metadata FROM rag_documents`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var id, text, metaJSON string
		if err := rows.Scan(&id, &text, &metaJSON); err != nil {
			return nil, err
		}
		var meta map[string]any
		_ = json.Unmarshal([]byte(metaJSON), &meta)
		out = append(out, Record{ID: id, Text: text, Metadata: meta})
	}
	return out, nil
}

func (idx *SQLiteVecIndex) Stats(ctx context.Context) (Stats, error) {
	var count int
	if err := idx.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rag_documents`).Scan(&count); err != nil {
		return Stats{}, err
	}
	return Stats{IndexKind: idx.kind, Dimensions: idx.dims, DocumentCount: count}, nil
}

// Save writes a sidecar schema file alongside the sqlite database file, so
// the index is persisted as the two files the contract calls for: the
// database itself (vectors + metadata) and the schema sidecar used to
// sanity-check dimensions/kind on Load (spec §4.6 "Persistence").
func (idx *SQLiteVecIndex) Save(ctx context.Context) error {
	stats, err := idx.Stats(ctx)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(idx.path+".meta.json", data, 0o644)
}

func (idx *SQLiteVecIndex) Load(ctx context.Context) error {
	data, err := os.ReadFile(idx.path + ".meta.json")
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var stats Stats
	if err := json.Unmarshal(data, &stats); err != nil {
		return err
	}
	if stats.Dimensions != 0 && stats.Dimensions != idx.dims {
		return fmt.Errorf("rag: index dimension mismatch: file has %d, configured %d", stats.Dimensions, idx.dims)
	}
	if stats.IndexKind != "" && stats.IndexKind != idx.kind {
		slog.Warn("rag: index kind mismatch between sidecar and configuration", "file", stats.IndexKind, "configured", idx.kind)
	}
	return nil
}
