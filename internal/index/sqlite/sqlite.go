// Package sqlite serves nearest-neighbour queries from a persisted SQLite
// vector file. The file holds a table vectors(row INTEGER PRIMARY KEY,
// embedding BLOB) with little-endian float32 embeddings and an optional
// meta(key, value) table recording the embedding model and dimension.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"

	_ "github.com/mattn/go-sqlite3"

	"github.com/spigell/biz-matcher/internal/index"
)

var _ index.Index = (*Index)(nil)

// Index holds every vector of the file in memory and searches them exhaustively.
type Index struct {
	rows      []int
	vectors   [][]float32
	dimension int
	model     string
}

// Open loads the whole index file. The file is opened read-only.
func Open(ctx context.Context, path string) (*Index, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("index file: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}
	defer db.Close()

	idx := &Index{}
	if err := idx.loadMeta(ctx, db); err != nil {
		return nil, err
	}
	if err := idx.loadVectors(ctx, db); err != nil {
		return nil, err
	}
	return idx, nil
}

func (i *Index) loadMeta(ctx context.Context, db *sql.DB) error {
	var name string
	err := db.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'meta'`).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading schema: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err != nil {
		return fmt.Errorf("reading meta: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return fmt.Errorf("scanning meta: %w", err)
		}
		switch key {
		case "model":
			i.model = value
		case "dimension":
			d, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("meta dimension %q: %w", value, err)
			}
			i.dimension = d
		}
	}
	return rows.Err()
}

func (i *Index) loadVectors(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, `SELECT row, embedding FROM vectors ORDER BY row`)
	if err != nil {
		return fmt.Errorf("reading vectors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			row  int
			blob []byte
		)
		if err := rows.Scan(&row, &blob); err != nil {
			return fmt.Errorf("scanning vector: %w", err)
		}
		vec, err := index.DecodeVector(blob)
		if err != nil {
			return fmt.Errorf("row %d: %w", row, err)
		}
		if i.dimension == 0 {
			i.dimension = len(vec)
		}
		if len(vec) != i.dimension {
			return fmt.Errorf("row %d: dimension %d, expected %d", row, len(vec), i.dimension)
		}
		i.rows = append(i.rows, row)
		i.vectors = append(i.vectors, vec)
	}
	return rows.Err()
}

// Len is the number of stored vectors.
func (i *Index) Len() int { return len(i.rows) }

// Dimension is the vector width, zero for an empty index without meta.
func (i *Index) Dimension() int { return i.dimension }

// Model is the embedding model recorded in meta, if any.
func (i *Index) Model() string { return i.model }

// Search returns the min(k, Len) nearest vectors by squared L2 distance.
func (i *Index) Search(ctx context.Context, vector []float32, k int) ([]index.Hit, error) {
	if k < 1 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if len(i.rows) == 0 {
		return []index.Hit{}, nil
	}
	if len(vector) != i.dimension {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(vector), i.dimension)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hits := make([]index.Hit, len(i.rows))
	for n, vec := range i.vectors {
		hits[n] = index.Hit{Row: i.rows[n], Distance: index.SquaredL2(vector, vec)}
	}
	index.SortHits(hits)

	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

func (i *Index) Close() error { return nil }
