package kernels

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/mat"

	"github.com/Kier73/CHIMERA-VPU/internal/shared"
)

var (
	errNilBuffer   = errors.New("nil data buffer")
	errMissingInB  = errors.New("secondary input buffer required")
	errMissingDims = errors.New("GEMM dimensions required")
)

// InstallNative seeds the library with the reference kernel set. Each kernel
// reports cycle cost as an arithmetic-operation estimate and Hamming weights
// of the bytes it read and wrote.
func InstallNative(lib *Library) {
	lib.RegisterNative(shared.OpSAXPYStandard, saxpyStandard)
	lib.RegisterNative(shared.OpGEMMNaive, gemmNaive)
	lib.RegisterNative(shared.OpGEMMFluxAdaptive, gemmFluxAdaptive)
	lib.RegisterNative(shared.OpConvDirect, convDirect)
	lib.RegisterNative(shared.OpFFTForward, fftForward)
	lib.RegisterNative(shared.OpElementWiseMultiply, elementWiseMultiply)
	lib.RegisterNative(shared.OpFFTInverse, fftInverse)
}

// saxpyStandard computes y = alpha*x + y in place over the output buffer.
func saxpyStandard(a Args) (shared.FluxReport, error) {
	var report shared.FluxReport
	if a.In == nil || a.Out == nil {
		return report, errNilBuffer
	}
	if a.In.Elems == 0 {
		return report, nil
	}
	x := a.In.Float32s()
	y := a.Out.Float32s()
	if x == nil || y == nil {
		return report, errors.New("SAXPY requires float32 buffers")
	}
	report.HWInCost = BufferWeight(a.In) + BufferWeight(a.Out)

	alpha := a.Task.AlphaOrDefault()
	n := len(x)
	if len(y) < n {
		n = len(y)
	}
	for i := 0; i < n; i++ {
		y[i] = alpha*x[i] + y[i]
	}
	a.Out.StoreFloat32s(y)

	report.HWOutCost = BufferWeight(a.Out)
	report.CycleCost = uint64(n) * 2
	return report, nil
}

// gemmNaive computes C = A*B with the triple loop.
func gemmNaive(a Args) (shared.FluxReport, error) {
	var report shared.FluxReport
	t := a.Task
	if t.InA == nil || t.InB == nil {
		return report, errMissingInB
	}
	if t.Dims == nil {
		return report, errMissingDims
	}
	m, n, k := t.Dims.M, t.Dims.N, t.Dims.K
	if m <= 0 || n <= 0 || k <= 0 {
		return report, nil
	}
	A := t.InA.Float32s()
	B := t.InB.Float32s()
	if len(A) < m*k || len(B) < k*n {
		return report, errors.New("GEMM input buffers shorter than dimensions")
	}
	report.HWInCost = BufferWeight(t.InA) + BufferWeight(t.InB)

	C := make([]float32, m*n)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			var acc float32
			for p := 0; p < k; p++ {
				acc += A[i*k+p] * B[p*n+j]
			}
			C[i*n+j] = acc
		}
	}
	a.Out.StoreFloat32s(C)

	report.HWOutCost = BufferWeight(a.Out)
	report.CycleCost = uint64(m) * uint64(n) * uint64(k) * 2
	return report, nil
}

// gemmFluxAdaptive computes C = A*B through a dense solver but accounts cycles
// by the population of A, modeling a kernel that skips silent lanes.
func gemmFluxAdaptive(a Args) (shared.FluxReport, error) {
	var report shared.FluxReport
	t := a.Task
	if t.InA == nil || t.InB == nil {
		return report, errMissingInB
	}
	if t.Dims == nil {
		return report, errMissingDims
	}
	m, n, k := t.Dims.M, t.Dims.N, t.Dims.K
	if m <= 0 || n <= 0 || k <= 0 {
		return report, nil
	}
	A32 := t.InA.Float32s()
	B32 := t.InB.Float32s()
	if len(A32) < m*k || len(B32) < k*n {
		return report, errors.New("GEMM input buffers shorter than dimensions")
	}
	report.HWInCost = BufferWeight(t.InA) + BufferWeight(t.InB)

	aData := make([]float64, m*k)
	var nnz uint64
	for i, v := range A32[:m*k] {
		aData[i] = float64(v)
		if v != 0 {
			nnz++
		}
	}
	bData := make([]float64, k*n)
	for i, v := range B32[:k*n] {
		bData[i] = float64(v)
	}

	var c mat.Dense
	c.Mul(mat.NewDense(m, k, aData), mat.NewDense(k, n, bData))

	raw := c.RawMatrix().Data
	C := make([]float32, m*n)
	for i := range C {
		C[i] = float32(raw[i])
	}
	a.Out.StoreFloat32s(C)

	report.HWOutCost = BufferWeight(a.Out)
	report.CycleCost = nnz * uint64(n) * 2
	return report, nil
}

// convDirect computes the time-domain convolution of the signal with the
// response in Task.InB, truncated to the signal length.
func convDirect(a Args) (shared.FluxReport, error) {
	var report shared.FluxReport
	if a.In == nil || a.Out == nil {
		return report, errNilBuffer
	}
	if a.In.Elems == 0 {
		return report, nil
	}
	x := a.In.Samples()
	if x == nil {
		return report, errors.New("CONV_DIRECT requires a numeric input buffer")
	}
	h := a.Task.InB.Samples()
	if h == nil {
		return report, errMissingInB
	}
	report.HWInCost = BufferWeight(a.In) + BufferWeight(a.Task.InB)

	out := make([]float64, len(x))
	for i := range out {
		var acc float64
		for j, hv := range h {
			if i-j < 0 {
				break
			}
			acc += hv * x[i-j]
		}
		out[i] = acc
	}
	a.Out.StoreFloat64s(out)

	report.HWOutCost = BufferWeight(a.Out)
	report.CycleCost = uint64(len(x)) * uint64(len(h)) * 2
	return report, nil
}

// fftForward writes the real-to-complex spectrum of the input as interleaved
// (re, im) float64 pairs, n/2+1 bins.
func fftForward(a Args) (shared.FluxReport, error) {
	var report shared.FluxReport
	if a.In == nil || a.Out == nil {
		return report, errNilBuffer
	}
	x := a.In.Samples()
	if len(x) < 2 {
		return report, nil
	}
	report.HWInCost = BufferWeight(a.In)

	ft := fourier.NewFFT(len(x))
	coeff := ft.Coefficients(nil, x)
	a.Out.StoreFloat64s(interleave(coeff))

	report.HWOutCost = BufferWeight(a.Out)
	report.CycleCost = fftCycles(len(x))
	return report, nil
}

// elementWiseMultiply multiplies an interleaved spectrum by the spectrum of
// Task.InB, bin by bin. Used as the middle step of the frequency-domain
// convolution path.
func elementWiseMultiply(a Args) (shared.FluxReport, error) {
	var report shared.FluxReport
	if a.In == nil || a.Out == nil {
		return report, errNilBuffer
	}
	spec := deinterleave(a.In.Float64s())
	if len(spec) == 0 {
		return report, nil
	}
	h := a.Task.InB.Samples()
	if h == nil {
		return report, errMissingInB
	}
	report.HWInCost = BufferWeight(a.In) + BufferWeight(a.Task.InB)

	// The response is transformed at the signal's length so bin counts line up.
	n := a.Task.InA.Elems
	if n < 2 {
		return report, nil
	}
	padded := make([]float64, n)
	copy(padded, h)
	hSpec := fourier.NewFFT(n).Coefficients(nil, padded)

	out := make([]complex128, len(spec))
	for i := range spec {
		if i < len(hSpec) {
			out[i] = spec[i] * hSpec[i]
		}
	}
	a.Out.StoreFloat64s(interleave(out))

	report.HWOutCost = BufferWeight(a.Out)
	report.CycleCost = uint64(len(spec)) * 6
	return report, nil
}

// fftInverse transforms an interleaved spectrum back to the time domain,
// scaled by 1/n, and stores the result in the output buffer.
func fftInverse(a Args) (shared.FluxReport, error) {
	var report shared.FluxReport
	if a.In == nil || a.Out == nil {
		return report, errNilBuffer
	}
	n := a.Task.InA.Elems
	if n < 2 {
		return report, nil
	}
	coeff := deinterleave(a.In.Float64s())
	want := n/2 + 1
	if len(coeff) < want {
		coeff = append(coeff, make([]complex128, want-len(coeff))...)
	}
	report.HWInCost = BufferWeight(a.In)

	seq := fourier.NewFFT(n).Sequence(nil, coeff[:want])
	inv := 1.0 / float64(n)
	for i := range seq {
		seq[i] *= inv
	}
	a.Out.StoreFloat64s(seq)

	report.HWOutCost = BufferWeight(a.Out)
	report.CycleCost = fftCycles(n)
	return report, nil
}

func interleave(c []complex128) []float64 {
	out := make([]float64, 2*len(c))
	for i, v := range c {
		out[2*i] = real(v)
		out[2*i+1] = imag(v)
	}
	return out
}

func deinterleave(f []float64) []complex128 {
	out := make([]complex128, len(f)/2)
	for i := range out {
		out[i] = complex(f[2*i], f[2*i+1])
	}
	return out
}

func fftCycles(n int) uint64 {
	if n < 2 {
		return 0
	}
	return uint64(float64(n) * math.Log2(float64(n)) * 5)
}
