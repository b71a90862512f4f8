// Package store persists displacement results, either as a plain ASCII
// table (one record per grid point) or in a SQLite database keyed by run.
package store

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"pivflow/pkg/pipeline"
)

// WriteText writes one whitespace-separated record per grid point:
// x y u v valid s2n. Records are ordered row-major, matching the field
// layout.
func WriteText(w io.Writer, res *pipeline.Result) error {
	bw := bufio.NewWriter(w)

	if _, err := fmt.Fprintln(bw, "# x y u v valid s2n"); err != nil {
		return fmt.Errorf("error writing header: %w", err)
	}

	for i := 0; i < res.Grid.Rows; i++ {
		for j := 0; j < res.Grid.Cols; j++ {
			idx := i*res.Grid.Cols + j
			valid := 0
			if res.Valid[idx] {
				valid = 1
			}
			_, err := fmt.Fprintf(bw, "%.4f %.4f %.6f %.6f %d %.4f\n",
				res.Grid.X[j], res.Grid.Y[i], res.U[idx], res.V[idx], valid, res.Quality[idx])
			if err != nil {
				return fmt.Errorf("error writing record: %w", err)
			}
		}
	}
	return bw.Flush()
}

// SaveText writes the result table to a file, creating the directory if
// needed.
func SaveText(path string, res *pipeline.Result) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating output file: %w", err)
	}
	defer f.Close()

	if err := WriteText(f, res); err != nil {
		return err
	}
	return f.Close()
}
