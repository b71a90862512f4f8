// Package pipeline drives the iterative multipass displacement estimation.
// Each pass partitions the frames into interrogation windows, deforms the
// frame pair by the accumulated displacement estimate, correlates the
// residual motion and folds it back into the estimate. The numerical
// packages below this one stay silent and side-effect free; progress
// reporting goes through the Observer and boundary logging through zerolog.
package pipeline

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"pivflow/internal/models"
	"pivflow/pkg/correlate"
	"pivflow/pkg/deform"
	"pivflow/pkg/grid"
	"pivflow/pkg/interpolation"
	"pivflow/pkg/mask"
	"pivflow/pkg/validate"
)

// Correlator estimates per-window displacements for a pair of window stacks.
// The default implementation is correlate.FFTCorrelator; alternatives (e.g. a
// direct spatial correlator) plug in through WithCorrelator.
type Correlator interface {
	Correlate(stackA, stackB *correlate.Stack) (du, dv, quality []float64, err error)
}

// Observer receives the completed field of every pass. Implementations must
// not mutate the arguments; the pipeline hands out its working state.
type Observer interface {
	PassCompleted(pass int, g *models.Grid, fld *models.Field, quality []float64)
}

// ValidationTiming selects which passes run the outlier test.
type ValidationTiming int

const (
	// ValidateAllPasses runs validation and replacement on every pass.
	ValidateAllPasses ValidationTiming = iota

	// ValidateFirstPass validates only the first pass; later passes keep
	// the raw correlation result.
	ValidateFirstPass

	// ValidateNever disables validation entirely.
	ValidateNever
)

// ParseValidationTiming converts a configuration string into a
// ValidationTiming.
func ParseValidationTiming(s string) (ValidationTiming, error) {
	switch s {
	case "", "all":
		return ValidateAllPasses, nil
	case "first":
		return ValidateFirstPass, nil
	case "never":
		return ValidateNever, nil
	default:
		return 0, &models.ConfigError{Reason: fmt.Sprintf("validation timing is not valid: %q", s)}
	}
}

// Pipeline is an immutable multipass run plan. Construct it with New, then
// call Run once per frame pair; a Pipeline holds no per-pair state and is
// safe to reuse.
type Pipeline struct {
	passes     []models.PassConfig
	correlator Correlator
	observer   Observer
	staticMask []bool
	dynMask    *mask.DynamicConfig
	timing     ValidationTiming
	log        zerolog.Logger
}

// Result is the final displacement field at the resolution of the last pass.
type Result struct {
	// Grid holds the window centers of the last pass
	Grid *models.Grid

	// U and V are the displacement components in row-major grid order
	U []float64
	V []float64

	// Valid marks entries that survived validation and replacement
	Valid []bool

	// Quality is the last pass's signal-to-noise score per grid point
	Quality []float64

	// GridMask marks grid points excluded by the pixel mask; nil when the
	// run used no masking
	GridMask []bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithCorrelator replaces the default FFT correlator.
func WithCorrelator(c Correlator) Option {
	return func(p *Pipeline) { p.correlator = c }
}

// WithObserver registers a per-pass observer.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

// WithStaticMask excludes the flagged frame pixels from every pass. The slice
// must be frame-shaped; its length is checked against the frames at Run.
func WithStaticMask(m []bool) Option {
	return func(p *Pipeline) { p.staticMask = m }
}

// WithDynamicMask enables intensity-based masking per frame pair.
func WithDynamicMask(cfg *mask.DynamicConfig) Option {
	return func(p *Pipeline) { p.dynMask = cfg }
}

// WithValidationTiming selects which passes validate and replace.
func WithValidationTiming(t ValidationTiming) Option {
	return func(p *Pipeline) { p.timing = t }
}

// WithLogger attaches a boundary logger. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(p *Pipeline) { p.log = log }
}

// New builds a pipeline for the given ordered pass list. Every pass config is
// checked here, before any frame is touched, so a bad configuration can never
// produce partial output.
func New(passes []models.PassConfig, opts ...Option) (*Pipeline, error) {
	if len(passes) == 0 {
		return nil, &models.ConfigError{Reason: "at least one pass is required"}
	}
	for i, pc := range passes {
		if err := checkPass(pc); err != nil {
			return nil, fmt.Errorf("pass %d: %w", i, err)
		}
	}

	p := &Pipeline{
		passes:     append([]models.PassConfig(nil), passes...),
		correlator: &correlate.FFTCorrelator{},
		timing:     ValidateAllPasses,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func checkPass(pc models.PassConfig) error {
	if pc.WindowSize <= 0 {
		return &models.ConfigError{Reason: fmt.Sprintf("window size must be positive, got %d", pc.WindowSize)}
	}
	if pc.Overlap < 0 || pc.Overlap >= pc.WindowSize {
		return &models.ConfigError{Reason: fmt.Sprintf("overlap %d is out of range for window size %d", pc.Overlap, pc.WindowSize)}
	}
	switch pc.Method {
	case models.DeformSymmetric, models.DeformSecondImage:
	default:
		return &models.ConfigError{Reason: fmt.Sprintf("deformation method is not valid: %v", pc.Method)}
	}
	switch pc.Validation {
	case models.ValidationNone, models.ValidationSig2Noise, models.ValidationLocalMedian,
		models.ValidationGlobalVelocity, models.ValidationGlobalStd:
	default:
		return &models.ConfigError{Reason: fmt.Sprintf("validation method is not valid: %v", pc.Validation)}
	}
	if pc.FieldOrder < 0 || pc.ResampleOrder < 0 {
		return &models.ConfigError{Reason: "interpolation orders must not be negative"}
	}
	return nil
}

// Run estimates the displacement field between frameA and frameB. The input
// frames are never mutated. Passes run strictly in order; only window
// correlation inside a pass is parallel.
func (p *Pipeline) Run(frameA, frameB *models.Frame) (*Result, error) {
	if frameA.Width != frameB.Width || frameA.Height != frameB.Height {
		return nil, &models.ContractError{
			Reason: fmt.Sprintf("frame shapes differ: %dx%d vs %dx%d",
				frameA.Width, frameA.Height, frameB.Width, frameB.Height),
		}
	}
	if p.staticMask != nil && len(p.staticMask) != frameA.Width*frameA.Height {
		return nil, &models.ConfigError{
			Reason: fmt.Sprintf("static mask has %d entries for a %dx%d frame",
				len(p.staticMask), frameA.Width, frameA.Height),
		}
	}

	maskedA, maskedB, pixelMask, err := mask.Build(frameA, frameB, p.staticMask, p.dynMask)
	if err != nil {
		return nil, fmt.Errorf("building mask: %w", err)
	}

	var (
		prevGrid *models.Grid
		prevFld  *models.Field
		quality  []float64
		gridMask []bool
	)

	for passIdx, pc := range p.passes {
		started := time.Now()

		g, err := grid.Partition(frameA.Width, frameA.Height, pc.WindowSize, pc.Overlap)
		if err != nil {
			return nil, fmt.Errorf("pass %d: %w", passIdx, err)
		}

		// Carry the previous field onto the new grid as the initial
		// estimate; the first pass starts from rest.
		var estimate *models.Field
		if passIdx == 0 {
			estimate = models.NewField(g.Rows, g.Cols)
		} else {
			estimate, err = ResampleField(prevGrid, prevFld, g)
			if err != nil {
				return nil, fmt.Errorf("pass %d: %w", passIdx, err)
			}
		}

		winA, winB := maskedA, maskedB
		if passIdx > 0 {
			def, err := interpolation.Densify(frameA.Width, frameA.Height, g, estimate, pc.FieldOrder)
			if err != nil {
				return nil, fmt.Errorf("pass %d: densifying estimate: %w", passIdx, err)
			}
			winA, winB, err = deform.Deform(maskedA, maskedB, def, pc.Method, pc.ResampleOrder)
			if err != nil {
				return nil, fmt.Errorf("pass %d: %w", passIdx, err)
			}
		}

		stackA := correlate.ExtractWindows(winA, g, pc.WindowSize)
		stackB := correlate.ExtractWindows(winB, g, pc.WindowSize)
		du, dv, q, err := p.correlator.Correlate(stackA, stackB)
		if err != nil {
			return nil, fmt.Errorf("pass %d: correlating: %w", passIdx, err)
		}

		fld := models.NewField(g.Rows, g.Cols)
		for i := range fld.U {
			fld.U[i] = estimate.U[i] + du[i]
			fld.V[i] = estimate.V[i] + dv[i]
		}

		gridMask = nil
		if pixelMask != nil {
			gridMask = mask.ProjectToGrid(pixelMask, g, pc.WindowSize, frameA.Width, frameA.Height)
			mask.ApplyToField(fld, gridMask)
		}

		invalid := 0
		if p.validatesPass(passIdx) {
			invalid, err = validate.Validate(fld, q, pc.Validation, pc.Threshold)
			if err != nil {
				return nil, fmt.Errorf("pass %d: validating: %w", passIdx, err)
			}
			if err := validate.Replace(fld, pc.ReplaceKernel, pc.ReplaceIterations); err != nil {
				return nil, fmt.Errorf("pass %d: replacing outliers: %w", passIdx, err)
			}
		}
		if pc.Smooth {
			if err := validate.Smooth(fld, pc.SmoothPenalty); err != nil {
				return nil, fmt.Errorf("pass %d: smoothing: %w", passIdx, err)
			}
		}

		// Masked grid points stay excluded whatever replacement did.
		if gridMask != nil {
			mask.ApplyToField(fld, gridMask)
		}

		p.log.Debug().
			Int("pass", passIdx).
			Int("window", pc.WindowSize).
			Int("overlap", pc.Overlap).
			Int("rows", g.Rows).
			Int("cols", g.Cols).
			Int("invalid", invalid).
			Dur("elapsed", time.Since(started)).
			Msg("pass completed")

		if p.observer != nil {
			p.observer.PassCompleted(passIdx, g, fld, q)
		}

		prevGrid, prevFld, quality = g, fld, q
	}

	return &Result{
		Grid:     prevGrid,
		U:        prevFld.U,
		V:        prevFld.V,
		Valid:    prevFld.Valid,
		Quality:  quality,
		GridMask: gridMask,
	}, nil
}

func (p *Pipeline) validatesPass(passIdx int) bool {
	switch p.timing {
	case ValidateAllPasses:
		return true
	case ValidateFirstPass:
		return passIdx == 0
	default:
		return false
	}
}

// ResampleField interpolates a field from one grid onto another with
// validity-aware bilinear weights: invalid source entries carry no weight,
// and a target point whose surrounding cell has no valid corner comes out
// invalid instead of zero. The source field must carry a validity channel.
func ResampleField(src *models.Grid, fld *models.Field, dst *models.Grid) (*models.Field, error) {
	if !fld.HasValidity() {
		return nil, &models.ContractError{
			Reason: "carried displacement field has no validity channel",
		}
	}
	if fld.Rows != src.Rows || fld.Cols != src.Cols {
		return nil, &models.ContractError{
			Reason: fmt.Sprintf("field shape %dx%d does not match grid %dx%d",
				fld.Rows, fld.Cols, src.Rows, src.Cols),
		}
	}

	out := models.NewField(dst.Rows, dst.Cols)
	for i := 0; i < dst.Rows; i++ {
		ry, fy := locate(src.Y, dst.Y[i])
		for j := 0; j < dst.Cols; j++ {
			cx, fx := locate(src.X, dst.X[j])
			idx := i*dst.Cols + j

			sumU, sumV, sumW := 0.0, 0.0, 0.0
			for _, c := range [4][3]float64{
				{0, 0, (1 - fy) * (1 - fx)},
				{0, 1, (1 - fy) * fx},
				{1, 0, fy * (1 - fx)},
				{1, 1, fy * fx},
			} {
				si := ry + int(c[0])
				sj := cx + int(c[1])
				if si >= src.Rows {
					si = src.Rows - 1
				}
				if sj >= src.Cols {
					sj = src.Cols - 1
				}
				w := c[2]
				sIdx := si*src.Cols + sj
				if w == 0 || !fld.Valid[sIdx] || !fld.Finite(sIdx) {
					continue
				}
				sumU += w * fld.U[sIdx]
				sumV += w * fld.V[sIdx]
				sumW += w
			}

			if sumW == 0 {
				out.MarkInvalid(idx)
				continue
			}
			out.U[idx] = sumU / sumW
			out.V[idx] = sumV / sumW
		}
	}
	return out, nil
}

// locate finds the cell index and fractional position of coordinate v within
// the strictly increasing axis xs, clamped to the hull.
func locate(xs []float64, v float64) (int, float64) {
	if len(xs) == 1 || v <= xs[0] {
		return 0, 0
	}
	last := len(xs) - 1
	if v >= xs[last] {
		return last - 1, 1
	}
	lo := 0
	for lo < last-1 && xs[lo+1] <= v {
		lo++
	}
	return lo, (v - xs[lo]) / (xs[lo+1] - xs[lo])
}
