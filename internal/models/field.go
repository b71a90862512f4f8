package models

import "math"

// Frame is a single grayscale image stored as a 1D array in row-major order.
// Intensities are normalized to the 0-1 range at load time. A Frame handed to
// the pipeline is never mutated; every processing step works on copies.
type Frame struct {
	// Data is the pixel data in row-major order
	Data []float64

	// Width and Height are the frame dimensions in pixels
	Width  int
	Height int
}

// NewFrame allocates a zero-filled frame with the given dimensions.
func NewFrame(width, height int) *Frame {
	return &Frame{
		Data:   make([]float64, width*height),
		Width:  width,
		Height: height,
	}
}

// At returns the intensity at pixel (x, y).
func (f *Frame) At(x, y int) float64 {
	return f.Data[y*f.Width+x]
}

// Set stores the intensity at pixel (x, y).
func (f *Frame) Set(x, y int, v float64) {
	f.Data[y*f.Width+x] = v
}

// Clone returns a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	out := NewFrame(f.Width, f.Height)
	copy(out.Data, f.Data)
	return out
}

// Grid holds the window-center coordinates of an interrogation grid.
// X varies along the column axis and Y along the row axis, both strictly
// increasing. The grid shape is a pure function of frame shape, window size
// and overlap, so a Grid is recomputed fresh for every pass.
type Grid struct {
	// X holds the center x coordinate for each column
	X []float64

	// Y holds the center y coordinate for each row
	Y []float64

	// Rows and Cols are the grid shape
	Rows int
	Cols int
}

// NumPoints returns the total number of grid points.
func (g *Grid) NumPoints() int {
	return g.Rows * g.Cols
}

// Field is a sparse displacement field over a grid, one (u, v) sample per
// grid point plus a per-entry validity flag. The validity channel is what
// distinguishes "excluded / not computed" from "computed as zero"; arithmetic
// on a field never silently coerces an invalid entry to a number.
type Field struct {
	// U and V are the displacement components in row-major grid order
	U []float64
	V []float64

	// Valid marks entries that carry a computed value. A nil Valid slice
	// means the field has no validity channel at all (see FieldFromArrays);
	// components that require validity semantics reject such fields.
	Valid []bool

	// Rows and Cols mirror the grid shape the field was computed on
	Rows int
	Cols int
}

// NewField allocates a zero displacement field with all entries valid.
func NewField(rows, cols int) *Field {
	n := rows * cols
	fld := &Field{
		U:     make([]float64, n),
		V:     make([]float64, n),
		Valid: make([]bool, n),
		Rows:  rows,
		Cols:  cols,
	}
	for i := range fld.Valid {
		fld.Valid[i] = true
	}
	return fld
}

// FieldFromArrays wraps plain displacement arrays without a validity channel.
// The result is only suitable for components that do not depend on validity;
// validation and the multipass carry-forward path reject it with a
// ContractError.
func FieldFromArrays(u, v []float64, rows, cols int) *Field {
	return &Field{U: u, V: v, Rows: rows, Cols: cols}
}

// HasValidity reports whether the field carries a per-entry validity channel.
func (f *Field) HasValidity() bool {
	return f.Valid != nil
}

// Len returns the number of entries in the field.
func (f *Field) Len() int {
	return f.Rows * f.Cols
}

// Clone returns a deep copy of the field.
func (f *Field) Clone() *Field {
	out := &Field{
		U:    append([]float64(nil), f.U...),
		V:    append([]float64(nil), f.V...),
		Rows: f.Rows,
		Cols: f.Cols,
	}
	if f.Valid != nil {
		out.Valid = append([]bool(nil), f.Valid...)
	}
	return out
}

// MarkInvalid flags entry i as excluded. The numeric value is left in place
// so replacement can still inspect it, but consumers must treat it as absent.
func (f *Field) MarkInvalid(i int) {
	if f.Valid != nil {
		f.Valid[i] = false
	}
}

// InvalidCount returns the number of flagged entries. Fields without a
// validity channel report zero.
func (f *Field) InvalidCount() int {
	count := 0
	for _, ok := range f.Valid {
		if !ok {
			count++
		}
	}
	return count
}

// Finite reports whether entry i holds finite u and v values.
func (f *Field) Finite(i int) bool {
	return !math.IsNaN(f.U[i]) && !math.IsInf(f.U[i], 0) &&
		!math.IsNaN(f.V[i]) && !math.IsInf(f.V[i], 0)
}

// Deformation is a dense per-pixel displacement field obtained by
// interpolating a sparse Field over every pixel of a frame. It lives only
// between a pass's validated field and the next pass's window deformation.
type Deformation struct {
	// Ut and Vt are the per-pixel displacement components, frame-shaped
	Ut []float64
	Vt []float64

	// Width and Height are the frame dimensions
	Width  int
	Height int
}
