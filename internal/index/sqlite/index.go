// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ykarulin/telegram-laws-of-the-game/internal/index"
	lawserr "github.com/ykarulin/telegram-laws-of-the-game/pkg/errors"
)

func init() {
	sqlite_vec.Auto()
}

// Compile-time interface check.
var _ index.Index = (*Index)(nil)

// overfetchFactor widens the KNN candidate set when a document-name filter is
// applied, since vec0 cannot filter on companion metadata itself.
const overfetchFactor = 4

// Index implements index.Index backed by SQLite with sqlite-vec.
type Index struct {
	db         *sql.DB
	dimensions int
}

// New opens (or creates) a SQLite database at dbPath and initialises the
// vec0 virtual table and the companion chunk metadata table.
func New(dbPath string, dimensions int) (*Index, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, lawserr.Wrapf(err, lawserr.CodeIndexStoreFailure, "opening sqlite db")
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, lawserr.Wrapf(err, lawserr.CodeIndexStoreFailure, "pinging sqlite db")
	}

	if err := migrate(db, dimensions); err != nil {
		_ = db.Close()
		return nil, lawserr.Wrapf(err, lawserr.CodeIndexStoreFailure, "migrating index tables")
	}

	return &Index{db: db, dimensions: dimensions}, nil
}

func migrate(db *sql.DB, dimensions int) error {
	vecDDL := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS chunk_vectors USING vec0(id TEXT PRIMARY KEY, embedding float[%d] distance_metric=cosine)`,
		dimensions,
	)
	if _, err := db.Exec(vecDDL); err != nil {
		return fmt.Errorf("creating chunk_vectors virtual table: %w", err)
	}

	const metaDDL = `
CREATE TABLE IF NOT EXISTS chunk_meta (
	id            TEXT PRIMARY KEY,
	document_name TEXT NOT NULL,
	section       TEXT NOT NULL DEFAULT '',
	text          TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chunk_meta_document ON chunk_meta(document_name)`
	if _, err := db.Exec(metaDDL); err != nil {
		return fmt.Errorf("creating chunk_meta table: %w", err)
	}

	return nil
}

// Add inserts or replaces chunks and their metadata.
func (x *Index) Add(ctx context.Context, chunks []index.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return lawserr.Wrapf(err, lawserr.CodeIndexStoreFailure, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	for _, chunk := range chunks {
		if len(chunk.Vector) != x.dimensions {
			return lawserr.Errorf(lawserr.CodeIndexStoreFailure,
				"chunk %s has %d dimensions, index expects %d", chunk.ID, len(chunk.Vector), x.dimensions)
		}

		blob, err := sqlite_vec.SerializeFloat32(chunk.Vector)
		if err != nil {
			return lawserr.Wrapf(err, lawserr.CodeIndexStoreFailure, "serializing embedding for chunk %s", chunk.ID)
		}

		// vec0 does not support ON CONFLICT; delete first for upsert.
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunk_vectors WHERE id = ?`, chunk.ID); err != nil {
			return lawserr.Wrapf(err, lawserr.CodeIndexStoreFailure, "deleting existing vector %s", chunk.ID)
		}

		if _, err := tx.ExecContext(ctx, `INSERT INTO chunk_vectors(id, embedding) VALUES (?, ?)`, chunk.ID, blob); err != nil {
			return lawserr.Wrapf(err, lawserr.CodeIndexStoreFailure, "inserting vector %s", chunk.ID)
		}

		const metaQ = `INSERT INTO chunk_meta(id, document_name, section, text) VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET document_name = excluded.document_name, section = excluded.section, text = excluded.text`
		if _, err := tx.ExecContext(ctx, metaQ, chunk.ID, chunk.DocumentName, chunk.Section, chunk.Text); err != nil {
			return lawserr.Wrapf(err, lawserr.CodeIndexStoreFailure, "upserting chunk metadata %s", chunk.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return lawserr.Wrapf(err, lawserr.CodeIndexStoreFailure, "committing chunk insert")
	}
	return nil
}

// Search performs a k-nearest-neighbor search. vec0 reports cosine distance
// (lower = more similar); results carry similarity = 1 - distance so callers
// see scores in [0, 1] with higher meaning closer.
func (x *Index) Search(ctx context.Context, vector []float32, limit int, minScore float64, documentNames []string) ([]index.RetrievedChunk, error) {
	if limit <= 0 {
		return nil, nil
	}

	blob, err := sqlite_vec.SerializeFloat32(vector)
	if err != nil {
		return nil, lawserr.Wrapf(err, lawserr.CodeIndexSearchFailure, "serializing query vector")
	}

	// Metadata filtering happens after the KNN pass, so widen the candidate
	// set when a document restriction is in play.
	k := limit
	if len(documentNames) > 0 {
		k = limit * overfetchFactor
	}

	const q = `SELECT m.document_name, m.section, m.text, v.distance
FROM chunk_vectors v
JOIN chunk_meta m ON m.id = v.id
WHERE v.embedding MATCH ? AND k = ?
ORDER BY v.distance`

	rows, err := x.db.QueryContext(ctx, q, blob, k)
	if err != nil {
		return nil, lawserr.Wrapf(err, lawserr.CodeIndexSearchFailure, "searching chunks")
	}
	defer func() { _ = rows.Close() }()

	allowed := make(map[string]bool, len(documentNames))
	for _, name := range documentNames {
		allowed[name] = true
	}

	var results []index.RetrievedChunk
	for rows.Next() {
		var chunk index.RetrievedChunk
		var distance float64

		if err := rows.Scan(&chunk.DocumentName, &chunk.Section, &chunk.Text, &distance); err != nil {
			return nil, lawserr.Wrapf(err, lawserr.CodeIndexSearchFailure, "scanning search result")
		}

		chunk.Score = 1 - distance
		if chunk.Score < minScore {
			continue
		}
		if len(allowed) > 0 && !allowed[chunk.DocumentName] {
			continue
		}

		results = append(results, chunk)
		if len(results) == limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, lawserr.Wrapf(err, lawserr.CodeIndexSearchFailure, "iterating search results")
	}

	return results, nil
}

// DocumentNames returns the distinct names of all indexed documents.
func (x *Index) DocumentNames(ctx context.Context) ([]string, error) {
	rows, err := x.db.QueryContext(ctx, `SELECT DISTINCT document_name FROM chunk_meta ORDER BY document_name`)
	if err != nil {
		return nil, lawserr.Wrapf(err, lawserr.CodeIndexCatalogFailure, "listing document names")
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, lawserr.Wrapf(err, lawserr.CodeIndexCatalogFailure, "scanning document name")
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, lawserr.Wrapf(err, lawserr.CodeIndexCatalogFailure, "iterating document names")
	}

	return names, nil
}

// Close closes the underlying database connection.
func (x *Index) Close() error {
	return x.db.Close()
}
