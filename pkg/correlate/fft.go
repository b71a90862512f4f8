package correlate

import (
	"gonum.org/v1/gonum/dsp/fourier"
)

// fft2 performs a 2D Fast Fourier Transform of a square complex array in
// place, rows first and then columns. The inverse transform is unnormalized;
// peak location in a correlation plane is scale invariant, so no
// normalization pass is needed.
func fft2(data []complex128, size int, inverse bool) {
	fft := fourier.NewCmplxFFT(size)

	row := make([]complex128, size)
	out := make([]complex128, size)

	// Row-wise transform.
	for i := 0; i < size; i++ {
		copy(row, data[i*size:(i+1)*size])
		if inverse {
			fft.Sequence(out, row)
		} else {
			fft.Coefficients(out, row)
		}
		copy(data[i*size:(i+1)*size], out)
	}

	// Column-wise transform.
	col := make([]complex128, size)
	for j := 0; j < size; j++ {
		for i := 0; i < size; i++ {
			col[i] = data[i*size+j]
		}
		if inverse {
			fft.Sequence(out, col)
		} else {
			fft.Coefficients(out, col)
		}
		for i := 0; i < size; i++ {
			data[i*size+j] = out[i]
		}
	}
}

// crossCorrelate computes the circular cross-correlation plane of two
// equally sized square windows. The plane value at (m, n) measures the match
// between window a and window b shifted by (m, n), indices interpreted
// modulo the window size.
func crossCorrelate(a, b []float64, size int) []float64 {
	n := size * size
	fa := make([]complex128, n)
	fb := make([]complex128, n)
	for i := 0; i < n; i++ {
		fa[i] = complex(a[i], 0)
		fb[i] = complex(b[i], 0)
	}

	fft2(fa, size, false)
	fft2(fb, size, false)

	// Cross spectrum: conj(A) * B.
	for i := 0; i < n; i++ {
		re := real(fa[i])*real(fb[i]) + imag(fa[i])*imag(fb[i])
		im := real(fa[i])*imag(fb[i]) - imag(fa[i])*real(fb[i])
		fa[i] = complex(re, im)
	}

	fft2(fa, size, true)

	corr := make([]float64, n)
	for i := 0; i < n; i++ {
		corr[i] = real(fa[i])
	}
	return corr
}
