// Package validate flags displacement outliers, replaces flagged entries
// from their valid neighborhood and optionally smooths the field. All
// operations require a field with a per-entry validity channel; a plain
// numeric field cannot distinguish "computed zero" from "excluded" and is
// rejected outright.
package validate

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"pivflow/internal/models"
)

// Validate applies the selected outlier test and flags failing entries.
// Non-finite values coming out of correlation or interpolation are always
// flagged regardless of method. It returns the total number of invalid
// entries after the test. Entries that are already invalid stay invalid;
// valid entries are only re-flagged by the test itself.
func Validate(fld *models.Field, quality []float64, method models.ValidationMethod, threshold float64) (int, error) {
	if !fld.HasValidity() {
		return 0, &models.ContractError{
			Reason: "displacement field has no validity channel; outliers cannot be marked",
		}
	}

	for i := range fld.U {
		if !fld.Finite(i) {
			fld.MarkInvalid(i)
		}
	}

	switch method {
	case models.ValidationNone:
		// Only the finiteness sweep above.
	case models.ValidationSig2Noise:
		validateSig2Noise(fld, quality, threshold)
	case models.ValidationLocalMedian:
		validateLocalMedian(fld, threshold)
	case models.ValidationGlobalVelocity:
		validateGlobalVelocity(fld, threshold)
	case models.ValidationGlobalStd:
		validateGlobalStd(fld, threshold)
	default:
		return 0, &models.ConfigError{Reason: "unknown validation method"}
	}

	return fld.InvalidCount(), nil
}

func validateSig2Noise(fld *models.Field, quality []float64, threshold float64) {
	if quality == nil {
		return
	}
	for i := range fld.U {
		if fld.Valid[i] && quality[i] < threshold {
			fld.MarkInvalid(i)
		}
	}
}

func validateGlobalVelocity(fld *models.Field, threshold float64) {
	for i := range fld.U {
		if !fld.Valid[i] {
			continue
		}
		if math.Hypot(fld.U[i], fld.V[i]) > threshold {
			fld.MarkInvalid(i)
		}
	}
}

// validateGlobalStd flags entries more than threshold standard deviations
// away from the global mean of either component, computed over valid entries.
func validateGlobalStd(fld *models.Field, threshold float64) {
	var us, vs []float64
	for i := range fld.U {
		if fld.Valid[i] {
			us = append(us, fld.U[i])
			vs = append(vs, fld.V[i])
		}
	}
	if len(us) < 2 {
		return
	}

	meanU, stdU := stat.MeanStdDev(us, nil)
	meanV, stdV := stat.MeanStdDev(vs, nil)

	for i := range fld.U {
		if !fld.Valid[i] {
			continue
		}
		if stdU > 0 && math.Abs(fld.U[i]-meanU) > threshold*stdU {
			fld.MarkInvalid(i)
			continue
		}
		if stdV > 0 && math.Abs(fld.V[i]-meanV) > threshold*stdV {
			fld.MarkInvalid(i)
		}
	}
}

// validateLocalMedian flags entries deviating from the median of their valid
// 3x3 neighborhood by more than the threshold in either component.
func validateLocalMedian(fld *models.Field, threshold float64) {
	flagged := make([]bool, fld.Len())

	for i := 0; i < fld.Rows; i++ {
		for j := 0; j < fld.Cols; j++ {
			idx := i*fld.Cols + j
			if !fld.Valid[idx] {
				continue
			}

			var nu, nv []float64
			for di := -1; di <= 1; di++ {
				ni := i + di
				if ni < 0 || ni >= fld.Rows {
					continue
				}
				for dj := -1; dj <= 1; dj++ {
					if di == 0 && dj == 0 {
						continue
					}
					nj := j + dj
					if nj < 0 || nj >= fld.Cols {
						continue
					}
					nIdx := ni*fld.Cols + nj
					if fld.Valid[nIdx] && fld.Finite(nIdx) {
						nu = append(nu, fld.U[nIdx])
						nv = append(nv, fld.V[nIdx])
					}
				}
			}
			if len(nu) < 3 {
				continue
			}

			if math.Abs(fld.U[idx]-median(nu)) > threshold ||
				math.Abs(fld.V[idx]-median(nv)) > threshold {
				flagged[idx] = true
			}
		}
	}

	for i, f := range flagged {
		if f {
			fld.MarkInvalid(i)
		}
	}
}

// median returns the median of values, sorting a copy.
func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[i] > sorted[j] {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}
	if len(sorted)%2 == 0 {
		return (sorted[len(sorted)/2-1] + sorted[len(sorted)/2]) / 2
	}
	return sorted[len(sorted)/2]
}

// Replace fills invalid entries with the mean of their valid neighbors
// within the kernel radius, iterating up to maxIterations so freshly filled
// entries can seed their neighbors in the next sweep. An entry with no valid
// neighbor in range after the final iteration remains invalid; it is never
// silently zeroed. Filled entries become valid.
func Replace(fld *models.Field, kernelSize, maxIterations int) error {
	if !fld.HasValidity() {
		return &models.ContractError{
			Reason: "displacement field has no validity channel; nothing to replace",
		}
	}
	if kernelSize < 1 {
		kernelSize = 1
	}
	if maxIterations < 1 {
		maxIterations = 1
	}

	for iter := 0; iter < maxIterations; iter++ {
		filled := replaceSweep(fld, kernelSize)
		if filled == 0 {
			break
		}
	}
	return nil
}

// replaceSweep performs one local-mean fill pass and returns how many
// entries were filled. Fills are computed against the field state at sweep
// entry, so the order of traversal does not matter.
func replaceSweep(fld *models.Field, radius int) int {
	type fill struct {
		idx  int
		u, v float64
	}
	var fills []fill

	for i := 0; i < fld.Rows; i++ {
		for j := 0; j < fld.Cols; j++ {
			idx := i*fld.Cols + j
			if fld.Valid[idx] {
				continue
			}

			sumU, sumV := 0.0, 0.0
			count := 0
			for di := -radius; di <= radius; di++ {
				ni := i + di
				if ni < 0 || ni >= fld.Rows {
					continue
				}
				for dj := -radius; dj <= radius; dj++ {
					nj := j + dj
					if nj < 0 || nj >= fld.Cols {
						continue
					}
					nIdx := ni*fld.Cols + nj
					if nIdx == idx || !fld.Valid[nIdx] || !fld.Finite(nIdx) {
						continue
					}
					sumU += fld.U[nIdx]
					sumV += fld.V[nIdx]
					count++
				}
			}
			if count > 0 {
				fills = append(fills, fill{idx, sumU / float64(count), sumV / float64(count)})
			}
		}
	}

	for _, f := range fills {
		fld.U[f.idx] = f.u
		fld.V[f.idx] = f.v
		fld.Valid[f.idx] = true
	}
	return len(fills)
}

// Smooth relaxes each valid entry toward the mean of its valid 3x3
// neighborhood: v' = (1-a)*v + a*mean, with a = penalty/(1+penalty). The
// validity flags are untouched; an input that was valid stays valid and an
// excluded entry stays excluded.
func Smooth(fld *models.Field, penalty float64) error {
	if !fld.HasValidity() {
		return &models.ContractError{
			Reason: "displacement field has no validity channel; smoothing would mix excluded entries",
		}
	}
	if penalty <= 0 {
		return nil
	}
	alpha := penalty / (1 + penalty)

	newU := append([]float64(nil), fld.U...)
	newV := append([]float64(nil), fld.V...)

	for i := 0; i < fld.Rows; i++ {
		for j := 0; j < fld.Cols; j++ {
			idx := i*fld.Cols + j
			if !fld.Valid[idx] {
				continue
			}

			sumU, sumV := 0.0, 0.0
			count := 0
			for di := -1; di <= 1; di++ {
				ni := i + di
				if ni < 0 || ni >= fld.Rows {
					continue
				}
				for dj := -1; dj <= 1; dj++ {
					if di == 0 && dj == 0 {
						continue
					}
					nj := j + dj
					if nj < 0 || nj >= fld.Cols {
						continue
					}
					nIdx := ni*fld.Cols + nj
					if fld.Valid[nIdx] && fld.Finite(nIdx) {
						sumU += fld.U[nIdx]
						sumV += fld.V[nIdx]
						count++
					}
				}
			}
			if count == 0 {
				continue
			}
			newU[idx] = (1-alpha)*fld.U[idx] + alpha*sumU/float64(count)
			newV[idx] = (1-alpha)*fld.V[idx] + alpha*sumV/float64(count)
		}
	}

	fld.U = newU
	fld.V = newV
	return nil
}
