package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"pivflow/pkg/pipeline"
)

// Store records displacement runs in a SQLite database. Each run gets a uuid
// and a row in piv_runs; its grid points land in piv_vectors.
type Store struct {
	*sql.DB
}

// RunMeta describes one pipeline invocation.
type RunMeta struct {
	// FrameA and FrameB are the input file names
	FrameA string
	FrameB string

	// Width and Height are the frame dimensions in pixels
	Width  int
	Height int

	// Passes summarizes the pass plan, e.g. "64/32,32/16"
	Passes string
}

// Open opens or creates the result database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening result database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS piv_runs (
			run_id TEXT PRIMARY KEY,
			created TIMESTAMP,
			frame_a TEXT,
			frame_b TEXT,
			width INTEGER,
			height INTEGER,
			passes TEXT,
			grid_rows INTEGER,
			grid_cols INTEGER
		);
		CREATE TABLE IF NOT EXISTS piv_vectors (
			run_id TEXT,
			x DOUBLE,
			y DOUBLE,
			u DOUBLE,
			v DOUBLE,
			valid INTEGER,
			s2n DOUBLE,
			FOREIGN KEY(run_id) REFERENCES piv_runs(run_id)
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating result schema: %w", err)
	}

	return &Store{db}, nil
}

// SaveResult records a run and its vectors in one transaction and returns
// the generated run id.
func (s *Store) SaveResult(meta RunMeta, res *pipeline.Result) (string, error) {
	runID := uuid.NewString()

	tx, err := s.Begin()
	if err != nil {
		return "", fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO piv_runs (run_id, created, frame_a, frame_b, width, height, passes, grid_rows, grid_cols)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, time.Now().UTC(), meta.FrameA, meta.FrameB, meta.Width, meta.Height,
		meta.Passes, res.Grid.Rows, res.Grid.Cols)
	if err != nil {
		return "", fmt.Errorf("error recording run: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO piv_vectors (run_id, x, y, u, v, valid, s2n) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("error preparing vector insert: %w", err)
	}
	defer stmt.Close()

	for i := 0; i < res.Grid.Rows; i++ {
		for j := 0; j < res.Grid.Cols; j++ {
			idx := i*res.Grid.Cols + j
			valid := 0
			if res.Valid[idx] {
				valid = 1
			}
			if _, err := stmt.Exec(runID, res.Grid.X[j], res.Grid.Y[i],
				res.U[idx], res.V[idx], valid, res.Quality[idx]); err != nil {
				return "", fmt.Errorf("error recording vector: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("error committing run: %w", err)
	}
	return runID, nil
}

// VectorCount returns the number of stored vectors for a run.
func (s *Store) VectorCount(runID string) (int, error) {
	var count int
	err := s.QueryRow(`SELECT COUNT(*) FROM piv_vectors WHERE run_id = ?`, runID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("error counting vectors: %w", err)
	}
	return count, nil
}
